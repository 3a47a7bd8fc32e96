package samsungtv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSendMagicPacketRejectsBadMAC(t *testing.T) {
	assert.Error(t, sendMagicPacket("not-a-mac"))
	assert.Error(t, sendMagicPacket(""))
}
