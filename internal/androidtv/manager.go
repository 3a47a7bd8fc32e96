package androidtv

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager holds the Android TV / Fire TV proxies by name. Devices register
// from background setup goroutines while the poll loop and request handlers
// read, so access is locked.
type Manager struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{devices: make(map[string]*Device)}
}

// Add registers a device.
func (m *Manager) Add(d *Device) {
	m.mu.Lock()
	m.devices[d.Name()] = d
	m.mu.Unlock()
	log.Info().Str("device", d.Name()).Msg("Added Android TV device")
}

// Get returns a device by name, nil when unknown.
func (m *Manager) Get(name string) *Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.devices[name]
}

// All returns a snapshot of every registered device.
func (m *Manager) All() map[string]*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Device, len(m.devices))
	for name, d := range m.devices {
		out[name] = d
	}
	return out
}

// Command dispatches an ad-hoc ADB command to every named device and returns
// the responses by device name. Unknown names are skipped; an empty target
// list addresses every device.
func (m *Manager) Command(ctx context.Context, targets []string, cmd string) map[string]string {
	devices := m.All()

	out := make(map[string]string)
	if len(targets) == 0 {
		for name := range devices {
			targets = append(targets, name)
		}
	}
	for _, name := range targets {
		d, ok := devices[name]
		if !ok {
			continue
		}
		resp := d.Command(ctx, cmd)
		out[name] = resp
		if resp != "" {
			log.Info().Str("device", name).Str("command", cmd).Str("output", resp).
				Msg("ADB command output")
		}
	}
	return out
}
