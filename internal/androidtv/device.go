package androidtv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"tv_control/internal/media"
)

const (
	ClassAuto      = "auto"
	ClassAndroidTV = "androidtv"
	ClassFireTV    = "firetv"
)

const supportAndroidTV = media.FeaturePause | media.FeaturePlay | media.FeatureStop |
	media.FeaturePreviousTrack | media.FeatureNextTrack | media.FeatureTurnOn |
	media.FeatureTurnOff | media.FeatureSelectSource | media.FeatureVolumeStep |
	media.FeatureVolumeMute

// Fire TV sticks have no absolute volume control over ADB.
const supportFireTV = media.FeaturePause | media.FeaturePlay | media.FeatureStop |
	media.FeaturePreviousTrack | media.FeatureNextTrack | media.FeatureTurnOn |
	media.FeatureTurnOff | media.FeatureSelectSource

// Config describes one Android TV / Fire TV device.
type Config struct {
	Name        string
	Host        string
	Port        int
	DeviceClass string            // auto, androidtv or firetv
	GetSources  bool              // poll the running-app list
	Apps        map[string]string // package -> display name overrides
	// Optional raw shell commands replacing the default power key events.
	TurnOnCommand  string
	TurnOffCommand string
}

// Validate rejects malformed configuration before any device is touched.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("androidtv: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("androidtv: port %d out of range", c.Port)
	}
	switch c.DeviceClass {
	case "", ClassAuto, ClassAndroidTV, ClassFireTV:
	default:
		return fmt.Errorf("androidtv: unknown device class %q", c.DeviceClass)
	}
	return nil
}

// ParseDetectionRules parses and validates the declarative state-detection
// override JSON: {"app.id": ["standby", {"playing": {"media_session_state": 3}}]}.
func ParseDetectionRules(raw string) (map[string][]DetectionRule, error) {
	if raw == "" {
		return nil, nil
	}
	var parsed map[string][]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("androidtv: invalid state detection rules: %w", err)
	}
	rules := make(map[string][]DetectionRule, len(parsed))
	for app, entries := range parsed {
		for _, entry := range entries {
			var state string
			if err := json.Unmarshal(entry, &state); err == nil {
				if _, ok := media.ParsePhase(state); !ok {
					return nil, fmt.Errorf("androidtv: invalid state %q in rules for %s", state, app)
				}
				rules[app] = append(rules[app], DetectionRule{State: state})
				continue
			}
			var cond map[string]map[string]int
			if err := json.Unmarshal(entry, &cond); err != nil {
				return nil, fmt.Errorf("androidtv: invalid rule for %s: %w", app, err)
			}
			for state, fields := range cond {
				if _, ok := media.ParsePhase(state); !ok {
					return nil, fmt.Errorf("androidtv: invalid state %q in rules for %s", state, app)
				}
				rule := DetectionRule{State: state}
				for field, val := range fields {
					switch field {
					case "media_session_state":
						rule.MediaSessionState = val
					case "wake_lock_size":
						rule.WakeLockSize = val
					default:
						return nil, fmt.Errorf("androidtv: unknown rule field %q for %s", field, app)
					}
				}
				rules[app] = append(rules[app], rule)
			}
		}
	}
	return rules, nil
}

// Device is the in-process proxy for one Android TV / Fire TV.
type Device struct {
	cfg       Config
	transport Transport
	guard     *media.Guard
	apps      *media.AliasMap
	features  media.Feature

	mu       sync.Mutex // serializes commands and polls on this device
	uniqueID string
	props    map[string]string
	state    media.State
	current  string
	sources  []string
	muted    bool
	volume   float64
	response string // last ad-hoc command output, trimmed
}

// New builds a device proxy on the given transport.
func New(cfg Config, t Transport) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "Android TV"
	}
	d := &Device{
		cfg:       cfg,
		transport: t,
		apps:      media.NewAliasMap(Apps, cfg.Apps),
		features:  supportAndroidTV,
	}
	d.guard = media.NewGuard(cfg.Name, d.isTransportErr, t.Close)
	return d, nil
}

func (d *Device) isTransportErr(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, context.DeadlineExceeded)
}

// Setup connects for the first time and reads the device identity. An
// unreachable device reports media.ErrNotReady so the host can retry setup
// later instead of registering a dead proxy.
func (d *Device) Setup(ctx context.Context) error {
	if err := d.transport.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", media.ErrNotReady, d.cfg.Name, err)
	}
	props, err := d.transport.Properties(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", media.ErrNotReady, d.cfg.Name, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.props = props
	d.uniqueID = props["serialno"]
	if d.cfg.DeviceClass == "" || d.cfg.DeviceClass == ClassAuto {
		if strings.EqualFold(props["manufacturer"], "Amazon") {
			d.cfg.DeviceClass = ClassFireTV
		} else {
			d.cfg.DeviceClass = ClassAndroidTV
		}
	}
	if d.cfg.DeviceClass == ClassFireTV {
		d.features = supportFireTV
	}
	log.Info().Str("device", d.cfg.Name).Str("class", d.cfg.DeviceClass).
		Str("model", props["model"]).Msg("Android TV device ready")
	return nil
}

// ========== Poll Cycle ==========

// Update refreshes the state snapshot. When the device is unavailable it
// attempts exactly one reconnect; on a fresh direct connection the state
// query waits until the next cycle.
func (d *Device) Update(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	media.Run(d.guard, true, func() (struct{}, error) {
		return struct{}{}, d.update(ctx)
	})
}

func (d *Device) update(ctx context.Context) error {
	if !d.guard.Available() {
		if err := d.transport.Connect(ctx); err != nil {
			// still unreachable, retry on the next cycle
			return nil
		}
		d.guard.SetAvailable(true)
		if !d.transport.ServerMediated() {
			// don't issue queries on a connection this fresh
			return nil
		}
	}

	st, err := d.transport.State(ctx, d.cfg.GetSources)
	if err != nil {
		return err
	}

	state, ok := media.ParsePhase(st.Phase)
	if !ok {
		// an unknown phase means the connection is lying to us, not that
		// the device grew a new state
		log.Warn().Str("device", d.cfg.Name).Str("phase", st.Phase).
			Msg("Unrecognized device state, marking unavailable")
		d.guard.SetAvailable(false)
		return nil
	}
	d.state = state
	d.current = st.CurrentApp

	if d.features.Supports(media.FeatureVolumeStep) {
		d.muted = st.Muted
		d.volume = st.VolumeLevel
	}

	if len(st.RunningApps) > 0 {
		sources := make([]string, 0, len(st.RunningApps))
		for _, id := range st.RunningApps {
			sources = append(sources, d.apps.Name(id))
		}
		d.sources = sources
	} else {
		d.sources = nil
	}
	return nil
}

// ========== Command Dispatch ==========

// sendKey issues one key event under the guard.
func (d *Device) sendKey(ctx context.Context, keycode int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	media.Run(d.guard, false, func() (struct{}, error) {
		return struct{}{}, d.transport.SendKey(ctx, keycode)
	})
}

// Play sends the play key.
func (d *Device) Play(ctx context.Context) { d.sendKey(ctx, keyPlay) }

// Pause sends the pause key.
func (d *Device) Pause(ctx context.Context) { d.sendKey(ctx, keyPause) }

// PlayPause toggles playback.
func (d *Device) PlayPause(ctx context.Context) { d.sendKey(ctx, keyPlayPause) }

// Stop stops playback.
func (d *Device) Stop(ctx context.Context) { d.sendKey(ctx, keyStop) }

// NextTrack skips forward.
func (d *Device) NextTrack(ctx context.Context) { d.sendKey(ctx, keyNext) }

// PreviousTrack skips backward.
func (d *Device) PreviousTrack(ctx context.Context) { d.sendKey(ctx, keyPrevious) }

// VolumeUp raises the volume one step.
func (d *Device) VolumeUp(ctx context.Context) { d.sendKey(ctx, keyVolumeUp) }

// VolumeDown lowers the volume one step.
func (d *Device) VolumeDown(ctx context.Context) { d.sendKey(ctx, keyVolumeDown) }

// MuteVolume toggles mute.
func (d *Device) MuteVolume(ctx context.Context) { d.sendKey(ctx, keyMute) }

// TurnOn wakes the device, or runs the configured override command.
func (d *Device) TurnOn(ctx context.Context) {
	if d.cfg.TurnOnCommand != "" {
		d.mu.Lock()
		defer d.mu.Unlock()
		media.Run(d.guard, false, func() (string, error) {
			return d.transport.Shell(ctx, d.cfg.TurnOnCommand)
		})
		return
	}
	d.sendKey(ctx, keyWakeup)
}

// TurnOff sleeps the device, or runs the configured override command.
func (d *Device) TurnOff(ctx context.Context) {
	if d.cfg.TurnOffCommand != "" {
		d.mu.Lock()
		defer d.mu.Unlock()
		media.Run(d.guard, false, func() (string, error) {
			return d.transport.Shell(ctx, d.cfg.TurnOffCommand)
		})
		return
	}
	d.sendKey(ctx, keySleep)
}

// SelectSource launches the app behind a source name. A "!" prefix closes
// the app instead of launching it.
func (d *Device) SelectSource(ctx context.Context, source string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	media.Run(d.guard, false, func() (struct{}, error) {
		if !strings.HasPrefix(source, "!") {
			return struct{}{}, d.transport.LaunchApp(ctx, d.apps.ID(source))
		}
		name := strings.TrimLeft(strings.TrimPrefix(source, "!"), " \t")
		return struct{}{}, d.transport.StopApp(ctx, d.apps.ID(name))
	})
}

// Command runs an ad-hoc ADB command: a symbolic key name becomes a key
// event, GET_PROPERTIES dumps the cached device identity, anything else runs
// as a literal shell command. The trimmed output is kept as the last
// diagnostic response.
func (d *Device) Command(ctx context.Context, cmd string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out, _ := media.Run(d.guard, false, func() (string, error) {
		return d.command(ctx, cmd)
	})
	return out
}

func (d *Device) command(ctx context.Context, cmd string) (string, error) {
	if keycode, ok := Keys[cmd]; ok {
		if err := d.transport.SendKey(ctx, keycode); err != nil {
			return "", err
		}
		d.response = ""
		return "", nil
	}

	if cmd == "GET_PROPERTIES" {
		props, err := d.transport.Properties(ctx)
		if err != nil {
			return "", err
		}
		d.props = props
		d.response = fmt.Sprintf("%v", props)
		return d.response, nil
	}

	out, err := d.transport.Shell(ctx, cmd)
	if err != nil {
		return "", err
	}
	d.response = strings.TrimSpace(out)
	return d.response, nil
}

// ========== Accessors ==========

// Name returns the configured display name.
func (d *Device) Name() string { return d.cfg.Name }

// UniqueID returns the device serial captured at setup.
func (d *Device) UniqueID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uniqueID
}

// Available reports whether the ADB connection is intact.
func (d *Device) Available() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.guard.Available()
}

// State returns the last polled generic state.
func (d *Device) State() media.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Source returns the display name of the foregrounded app.
func (d *Device) Source() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.apps.Name(d.current)
}

// SourceList returns display names of the running apps, nil when none were
// seen on the last poll.
func (d *Device) SourceList() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sources
}

// VolumeLevel returns the last polled volume in 0..1.
func (d *Device) VolumeLevel() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

// Muted reports the last polled mute flag.
func (d *Device) Muted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

// LastResponse returns the last ad-hoc command output, empty when the last
// command produced none.
func (d *Device) LastResponse() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.response
}

// Features returns the capability set resolved at setup.
func (d *Device) Features() media.Feature {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.features
}

// Snapshot is the JSON view of a device exposed to the host surfaces.
type Snapshot struct {
	Name        string      `json:"name"`
	UniqueID    string      `json:"unique_id,omitempty"`
	Available   bool        `json:"available"`
	State       media.State `json:"state,omitempty"`
	AppID       string      `json:"app_id,omitempty"`
	Source      string      `json:"source,omitempty"`
	SourceList  []string    `json:"source_list,omitempty"`
	VolumeLevel float64     `json:"volume_level"`
	Muted       bool        `json:"muted"`
	ADBResponse string      `json:"adb_response,omitempty"`
}

// Snapshot returns the current state snapshot.
func (d *Device) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		Name:        d.cfg.Name,
		UniqueID:    d.uniqueID,
		Available:   d.guard.Available(),
		State:       d.state,
		AppID:       d.current,
		Source:      d.apps.Name(d.current),
		SourceList:  d.sources,
		VolumeLevel: d.volume,
		Muted:       d.muted,
		ADBResponse: d.response,
	}
}
