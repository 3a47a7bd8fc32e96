package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceFromTopic(t *testing.T) {
	cases := []struct {
		topic  string
		device string
		ok     bool
	}{
		{"tv_control/living_room/set", "living_room", true},
		{"tv_control/bedroom-tv/set", "bedroom-tv", true},
		{"tv_control//set", "", false},
		{"tv_control/a/b/set", "", false},
		{"tv_control/living_room/state", "", false},
		{"other/living_room/set", "", false},
		{"tv_control/set", "", false},
	}
	for _, tc := range cases {
		device, ok := DeviceFromTopic("tv_control", tc.topic)
		assert.Equal(t, tc.ok, ok, tc.topic)
		assert.Equal(t, tc.device, device, tc.topic)
	}
}
