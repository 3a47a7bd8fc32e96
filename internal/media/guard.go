package media

import (
	"errors"

	"github.com/rs/zerolog/log"
)

// ErrNotReady signals that a device was unreachable at setup time. The host
// should retry setup later; it is distinct from run-time unavailability,
// which the poll cycle retries on its own.
var ErrNotReady = errors.New("device not ready")

// Guard tracks transport availability for one device proxy. While the proxy
// is unavailable, guarded calls are skipped (a deliberate no-op, not an
// error) unless they carry the override flag used by the poll cycle to
// attempt reconnection. A call failing with a transport-level error closes
// the transport exactly once and marks the proxy unavailable; the guard
// never retries.
type Guard struct {
	name      string
	available bool
	fatal     func(error) bool
	close     func()
}

// NewGuard returns a guard that starts available. fatal classifies errors as
// transport failures; close shuts the transport down after one.
func NewGuard(name string, fatal func(error) bool, close func()) *Guard {
	return &Guard{name: name, available: true, fatal: fatal, close: close}
}

// Available reports whether the last transport interaction succeeded.
func (g *Guard) Available() bool { return g.available }

// SetAvailable overrides the availability flag, used by the poll cycle after
// an explicit reconnect attempt or an unrecognized device state.
func (g *Guard) SetAvailable(ok bool) { g.available = ok }

// Run executes fn under the guard. The bool reports whether fn ran and
// succeeded; a skipped call and a failed call both report false with the
// zero value.
func Run[T any](g *Guard, override bool, fn func() (T, error)) (T, bool) {
	var zero T
	if !g.available && !override {
		return zero, false
	}

	v, err := fn()
	if err == nil {
		return v, true
	}

	if g.fatal == nil || g.fatal(err) {
		log.Error().Err(err).Str("device", g.name).
			Msg("Transport call failed, reconnecting on next update")
		if g.close != nil {
			g.close()
		}
		g.available = false
	} else {
		log.Warn().Err(err).Str("device", g.name).Msg("Command failed")
	}
	return zero, false
}
