package samsungtv

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager holds the Samsung TV proxies by name. Locked like the Android
// manager so registration never races the poll loop.
type Manager struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{devices: make(map[string]*Device)}
}

// Add registers a TV.
func (m *Manager) Add(d *Device) {
	m.mu.Lock()
	m.devices[d.Name()] = d
	m.mu.Unlock()
	log.Info().Str("device", d.Name()).Msg("Added Samsung TV")
}

// Get returns a TV by name, nil when unknown.
func (m *Manager) Get(name string) *Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.devices[name]
}

// All returns a snapshot of every registered TV.
func (m *Manager) All() map[string]*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Device, len(m.devices))
	for name, d := range m.devices {
		out[name] = d
	}
	return out
}
