package media

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errTransport = errors.New("connection dropped")

func newTestGuard(closed *int) *Guard {
	return NewGuard("test",
		func(err error) bool { return errors.Is(err, errTransport) },
		func() { *closed++ })
}

func TestGuardSkipsWhileUnavailable(t *testing.T) {
	var closed int
	g := newTestGuard(&closed)
	g.SetAvailable(false)

	ran := false
	out, ok := Run(g, false, func() (string, error) {
		ran = true
		return "hello", nil
	})

	assert.False(t, ran, "call should be skipped while unavailable")
	assert.False(t, ok)
	assert.Empty(t, out)
	assert.Zero(t, closed)
}

func TestGuardOverrideRunsWhileUnavailable(t *testing.T) {
	var closed int
	g := newTestGuard(&closed)
	g.SetAvailable(false)

	out, ok := Run(g, true, func() (string, error) { return "hello", nil })

	assert.True(t, ok)
	assert.Equal(t, "hello", out)
}

func TestGuardTransportFailureClosesOnce(t *testing.T) {
	var closed int
	g := newTestGuard(&closed)

	_, ok := Run(g, false, func() (string, error) { return "", errTransport })

	assert.False(t, ok)
	assert.False(t, g.Available())
	assert.Equal(t, 1, closed, "exactly one close per failing call")
}

func TestGuardNonTransportFailureKeepsAvailable(t *testing.T) {
	var closed int
	g := newTestGuard(&closed)

	_, ok := Run(g, false, func() (string, error) {
		return "", errors.New("command exited 1")
	})

	assert.False(t, ok)
	assert.True(t, g.Available())
	assert.Zero(t, closed)
}

func TestGuardSuccessReturnsResult(t *testing.T) {
	var closed int
	g := newTestGuard(&closed)

	out, ok := Run(g, false, func() (int, error) { return 42, nil })

	assert.True(t, ok)
	assert.Equal(t, 42, out)
	assert.True(t, g.Available())
}
