package androidtv

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tv_control/internal/media"
)

// fakeTransport scripts the transport side of a device for tests.
type fakeTransport struct {
	connectErr error
	stateErr   error
	shellErr   error
	keyErr     error

	state    DeviceState
	props    map[string]string
	shellOut string
	mediated bool

	connects int
	closes   int
	keys     []int
	launched []string
	stopped  []string
	shells   []string
}

func (f *fakeTransport) Connect(ctx context.Context) error { f.connects++; return f.connectErr }
func (f *fakeTransport) Close()                            { f.closes++ }
func (f *fakeTransport) ServerMediated() bool              { return f.mediated }

func (f *fakeTransport) State(ctx context.Context, includeApps bool) (*DeviceState, error) {
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	st := f.state
	if !includeApps {
		st.RunningApps = nil
	}
	return &st, nil
}

func (f *fakeTransport) SendKey(ctx context.Context, keycode int) error {
	if f.keyErr != nil {
		return f.keyErr
	}
	f.keys = append(f.keys, keycode)
	return nil
}

func (f *fakeTransport) LaunchApp(ctx context.Context, id string) error {
	f.launched = append(f.launched, id)
	return nil
}

func (f *fakeTransport) StopApp(ctx context.Context, id string) error {
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeTransport) Shell(ctx context.Context, cmd string) (string, error) {
	f.shells = append(f.shells, cmd)
	return f.shellOut, f.shellErr
}

func (f *fakeTransport) Properties(ctx context.Context) (map[string]string, error) {
	if f.props == nil {
		return map[string]string{"serialno": "SER123", "manufacturer": "Sony", "model": "Bravia"}, nil
	}
	return f.props, nil
}

func newTestDevice(t *testing.T, ft *fakeTransport, mutate func(*Config)) *Device {
	t.Helper()
	cfg := Config{Name: "Living Room TV", Host: "10.0.0.20", Port: 5555, GetSources: true}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := New(cfg, ft)
	require.NoError(t, err)
	require.NoError(t, d.Setup(context.Background()))
	return d
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{Port: 5555},
		{Host: "10.0.0.20"},
		{Host: "10.0.0.20", Port: 70000},
		{Host: "10.0.0.20", Port: 5555, DeviceClass: "roku"},
	}
	for i, cfg := range bad {
		assert.Error(t, cfg.Validate(), fmt.Sprintf("case %d", i))
	}
	good := Config{Host: "10.0.0.20", Port: 5555, DeviceClass: ClassFireTV}
	assert.NoError(t, good.Validate())
}

func TestSetupResolvesDeviceClass(t *testing.T) {
	ft := &fakeTransport{props: map[string]string{"serialno": "FT1", "manufacturer": "Amazon"}}
	d := newTestDevice(t, ft, nil)

	assert.Equal(t, "FT1", d.UniqueID())
	assert.False(t, d.Features().Supports(media.FeatureVolumeStep),
		"Fire TV must not report volume control")

	ft2 := &fakeTransport{}
	d2 := newTestDevice(t, ft2, nil)
	assert.True(t, d2.Features().Supports(media.FeatureVolumeStep))
}

func TestSetupUnreachable(t *testing.T) {
	ft := &fakeTransport{connectErr: errors.New("no route to host")}
	d, err := New(Config{Host: "10.0.0.20", Port: 5555}, ft)
	require.NoError(t, err)

	err = d.Setup(context.Background())
	assert.ErrorIs(t, err, media.ErrNotReady)
}

func TestUpdateMapsPhase(t *testing.T) {
	ft := &fakeTransport{state: DeviceState{
		Phase:       "playing",
		CurrentApp:  "com.netflix.ninja",
		RunningApps: []string{"com.netflix.ninja", "com.unknown.app"},
		Muted:       true,
		VolumeLevel: 0.4,
	}}
	d := newTestDevice(t, ft, nil)

	d.Update(context.Background())

	assert.Equal(t, media.StatePlaying, d.State())
	assert.Equal(t, "Netflix", d.Source())
	assert.Equal(t, []string{"Netflix", "com.unknown.app"}, d.SourceList())
	assert.True(t, d.Muted())
	assert.InDelta(t, 0.4, d.VolumeLevel(), 0.001)
}

func TestUpdateNoRunningApps(t *testing.T) {
	ft := &fakeTransport{state: DeviceState{Phase: "idle"}}
	d := newTestDevice(t, ft, nil)

	d.Update(context.Background())

	assert.Equal(t, media.StateIdle, d.State())
	assert.Nil(t, d.SourceList())
}

func TestUpdateUnrecognizedPhase(t *testing.T) {
	ft := &fakeTransport{state: DeviceState{Phase: "playing"}}
	d := newTestDevice(t, ft, nil)
	d.Update(context.Background())
	require.Equal(t, media.StatePlaying, d.State())

	ft.state.Phase = "garbled"
	d.Update(context.Background())

	assert.False(t, d.Available())
	assert.Equal(t, media.StatePlaying, d.State(), "state must survive a bad read")
}

func TestUpdateTransportErrorMarksUnavailable(t *testing.T) {
	ft := &fakeTransport{stateErr: fmt.Errorf("%w: device offline", ErrConnection)}
	d := newTestDevice(t, ft, nil)

	d.Update(context.Background())

	assert.False(t, d.Available())
	assert.Equal(t, 1, ft.closes)
}

func TestUpdateReconnectDirect(t *testing.T) {
	ft := &fakeTransport{state: DeviceState{Phase: "playing"}}
	d := newTestDevice(t, ft, nil)

	// drop the connection
	ft.stateErr = fmt.Errorf("%w: closed", ErrConnection)
	d.Update(context.Background())
	require.False(t, d.Available())
	ft.stateErr = nil

	// first cycle after reconnect: available again but no state query yet
	before := d.State()
	d.Update(context.Background())
	assert.True(t, d.Available())
	assert.Equal(t, before, d.State())

	// second cycle reads state as usual
	d.Update(context.Background())
	assert.Equal(t, media.StatePlaying, d.State())
}

func TestUpdateReconnectServerMediated(t *testing.T) {
	ft := &fakeTransport{state: DeviceState{Phase: "paused"}, mediated: true}
	d := newTestDevice(t, ft, nil)

	ft.stateErr = fmt.Errorf("%w: closed", ErrConnection)
	d.Update(context.Background())
	require.False(t, d.Available())
	ft.stateErr = nil

	// the server relays the connection, so the same cycle may query state
	d.Update(context.Background())
	assert.True(t, d.Available())
	assert.Equal(t, media.StatePaused, d.State())
}

func TestUpdateReconnectStillDown(t *testing.T) {
	ft := &fakeTransport{state: DeviceState{Phase: "idle"}}
	d := newTestDevice(t, ft, nil)

	ft.stateErr = fmt.Errorf("%w: closed", ErrConnection)
	d.Update(context.Background())
	require.False(t, d.Available())

	ft.connectErr = errors.New("no route to host")
	d.Update(context.Background())
	assert.False(t, d.Available())
}

func TestSelectSourceLaunchesApp(t *testing.T) {
	ft := &fakeTransport{}
	d := newTestDevice(t, ft, nil)

	d.SelectSource(context.Background(), "Netflix")

	assert.Equal(t, []string{"com.netflix.ninja"}, ft.launched)
	assert.Empty(t, ft.stopped)
}

func TestSelectSourceStopSigil(t *testing.T) {
	ft := &fakeTransport{}
	d := newTestDevice(t, ft, nil)

	d.SelectSource(context.Background(), "!Netflix")
	d.SelectSource(context.Background(), "! com.unknown.app")

	assert.Empty(t, ft.launched)
	assert.Equal(t, []string{"com.netflix.ninja", "com.unknown.app"}, ft.stopped)
}

func TestSelectSourceAliasOverride(t *testing.T) {
	ft := &fakeTransport{}
	d := newTestDevice(t, ft, func(cfg *Config) {
		cfg.Apps = map[string]string{"com.netflix.ninja": "Movies"}
	})

	d.SelectSource(context.Background(), "Movies")

	assert.Equal(t, []string{"com.netflix.ninja"}, ft.launched)
}

func TestCommandKeyName(t *testing.T) {
	ft := &fakeTransport{shellOut: "ignored"}
	d := newTestDevice(t, ft, nil)

	// seed a leftover response, a key command must clear it
	d.Command(context.Background(), "getprop ro.product.model")
	require.NotEmpty(t, d.LastResponse())

	out := d.Command(context.Background(), "HOME")

	assert.Empty(t, out)
	assert.Empty(t, d.LastResponse())
	assert.Equal(t, []int{Keys["HOME"]}, ft.keys)
}

func TestCommandShell(t *testing.T) {
	ft := &fakeTransport{shellOut: "  Bravia 4K\n"}
	d := newTestDevice(t, ft, nil)

	out := d.Command(context.Background(), "getprop ro.product.model")

	assert.Equal(t, "Bravia 4K", out)
	assert.Equal(t, "Bravia 4K", d.LastResponse())
	assert.Contains(t, ft.shells, "getprop ro.product.model")
}

func TestCommandGetProperties(t *testing.T) {
	ft := &fakeTransport{props: map[string]string{"serialno": "SER9"}}
	d := newTestDevice(t, ft, nil)

	out := d.Command(context.Background(), "GET_PROPERTIES")

	assert.Contains(t, out, "SER9")
	assert.Equal(t, out, d.LastResponse())
	assert.Empty(t, ft.shells, "GET_PROPERTIES must not hit the shell")
}

func TestCommandUnmappedKeyFallsThroughToShell(t *testing.T) {
	ft := &fakeTransport{shellOut: "done"}
	d := newTestDevice(t, ft, nil)

	out := d.Command(context.Background(), "KEY_DOES_NOT_EXIST")

	assert.Equal(t, "done", out)
	assert.Contains(t, ft.shells, "KEY_DOES_NOT_EXIST")
	assert.Empty(t, ft.keys)
}

func TestCommandsSkippedWhileUnavailable(t *testing.T) {
	ft := &fakeTransport{stateErr: fmt.Errorf("%w: closed", ErrConnection)}
	d := newTestDevice(t, ft, nil)
	d.Update(context.Background())
	require.False(t, d.Available())

	d.Play(context.Background())
	d.SelectSource(context.Background(), "Netflix")
	out := d.Command(context.Background(), "HOME")

	assert.Empty(t, ft.keys)
	assert.Empty(t, ft.launched)
	assert.Empty(t, out)
}

func TestTurnOnOffOverrideCommands(t *testing.T) {
	ft := &fakeTransport{}
	d := newTestDevice(t, ft, func(cfg *Config) {
		cfg.TurnOnCommand = "input keyevent 26"
		cfg.TurnOffCommand = "reboot -p"
	})

	d.TurnOn(context.Background())
	d.TurnOff(context.Background())

	assert.Equal(t, []string{"input keyevent 26", "reboot -p"}, ft.shells)
	assert.Empty(t, ft.keys)
}

func TestTurnOnOffDefaultKeys(t *testing.T) {
	ft := &fakeTransport{}
	d := newTestDevice(t, ft, nil)

	d.TurnOn(context.Background())
	d.TurnOff(context.Background())

	assert.Equal(t, []int{keyWakeup, keySleep}, ft.keys)
}

func TestParseDetectionRules(t *testing.T) {
	rules, err := ParseDetectionRules(
		`{"com.netflix.ninja": ["standby", {"playing": {"media_session_state": 3}}]}`)
	require.NoError(t, err)
	require.Len(t, rules["com.netflix.ninja"], 2)
	assert.Equal(t, "standby", rules["com.netflix.ninja"][0].State)
	assert.Equal(t, 3, rules["com.netflix.ninja"][1].MediaSessionState)

	_, err = ParseDetectionRules(`{"a": ["bogus"]}`)
	assert.Error(t, err)

	_, err = ParseDetectionRules(`{"a": [{"playing": {"unknown_field": 1}}]}`)
	assert.Error(t, err)

	rules, err = ParseDetectionRules("")
	require.NoError(t, err)
	assert.Nil(t, rules)
}
