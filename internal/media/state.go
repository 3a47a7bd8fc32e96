// Package media holds the generic media-player domain shared by the device
// adapters: the state vocabulary, capability flags, alias tables and the
// availability guard that wraps every transport call.
package media

// State is the generic playback/power state exposed to the host.
type State string

const (
	StateOff     State = "off"
	StateIdle    State = "idle"
	StateStandby State = "standby"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateOn      State = "on"
)

// phases translates a device-reported phase string to a generic State.
var phases = map[string]State{
	"off":     StateOff,
	"idle":    StateIdle,
	"standby": StateStandby,
	"playing": StatePlaying,
	"paused":  StatePaused,
}

// ParsePhase maps a device-native phase string to the generic vocabulary.
// An unrecognized phase reports ok=false; callers treat that as a broken
// connection, not as a new state.
func ParsePhase(phase string) (State, bool) {
	s, ok := phases[phase]
	return s, ok
}
