package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Broadcast fan-out drops clients whose send buffer is full, mutating the
// client map while ClientCount readers run; both sides must stay consistent
// under concurrent traffic.
func TestHubBroadcastDropsSlowClients(t *testing.T) {
	h := NewHub()
	go h.Run()

	// a client with no buffer cannot keep up and gets dropped on the first
	// broadcast; the buffered one survives
	slow := &Client{hub: h, send: make(chan []byte), remoteAddr: "slow"}
	fast := &Client{hub: h, send: make(chan []byte, 16), remoteAddr: "fast"}
	h.register <- slow
	h.register <- fast
	require.Eventually(t, func() bool { return h.ClientCount() == 2 },
		time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			h.ClientCount()
		}
	}()
	for i := 0; i < 10; i++ {
		h.BroadcastState("living_room", map[string]string{"state": "playing"})
	}
	<-done

	require.Eventually(t, func() bool { return h.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, fast.send, "surviving client must have received events")
}
