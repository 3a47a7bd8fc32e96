package samsungtv

import (
	"fmt"
	"net"
)

// sendMagicPacket broadcasts a wake-on-LAN magic packet for the given MAC:
// six 0xFF bytes followed by the MAC repeated sixteen times, on UDP port 9.
func sendMagicPacket(mac string) error {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return fmt.Errorf("samsungtv: invalid MAC %q: %w", mac, err)
	}

	packet := make([]byte, 0, 6+16*len(hw))
	for i := 0; i < 6; i++ {
		packet = append(packet, 0xFF)
	}
	for i := 0; i < 16; i++ {
		packet = append(packet, hw...)
	}

	conn, err := net.Dial("udp", "255.255.255.255:9")
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Write(packet)
	return err
}
