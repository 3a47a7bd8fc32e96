package androidtv

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCommandTargets(t *testing.T) {
	m := NewManager()
	for _, name := range []string{"den", "bedroom"} {
		ft := &fakeTransport{shellOut: name + " ok"}
		d, err := New(Config{Name: name, Host: "10.0.0.20", Port: 5555}, ft)
		require.NoError(t, err)
		require.NoError(t, d.Setup(context.Background()))
		m.Add(d)
	}

	// empty target list addresses every device
	out := m.Command(context.Background(), nil, "echo hi")
	assert.Len(t, out, 2)
	assert.Equal(t, "den ok", out["den"])

	// unknown names are skipped, not errors
	out = m.Command(context.Background(), []string{"den", "garage"}, "echo hi")
	assert.Len(t, out, 1)
	assert.Contains(t, out, "den")
}

// Devices that are slow to boot register from a background retry goroutine
// while the poll loop is already iterating, so the registry must tolerate
// concurrent Add and read traffic.
func TestManagerConcurrentRegistration(t *testing.T) {
	m := NewManager()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			d, err := New(Config{
				Name: fmt.Sprintf("tv-%d", i),
				Host: "10.0.0.20",
				Port: 5555,
			}, &fakeTransport{})
			if err != nil {
				t.Error(err)
				return
			}
			m.Add(d)
		}
	}()

	for i := 0; i < 100; i++ {
		for name, d := range m.All() {
			assert.Equal(t, name, d.Name())
		}
		m.Get("tv-50")
		m.Command(context.Background(), nil, "echo hi")
	}
	wg.Wait()

	assert.Len(t, m.All(), 100)
}
