package samsungtv

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tv_control/internal/media"
)

// Commands other than these are suppressed while a power-off is settling.
const powerOffWindow = 15 * time.Second

const (
	commandKey    = "send_key"
	commandRunApp = "run_app"
)

// Media types accepted by PlayMedia.
const (
	MediaTypeChannel = "channel"
	MediaTypeApp     = "app"
	MediaTypeKey     = "send_key"
)

const (
	defaultPort     = 8001
	defaultTimeout  = 4 * time.Second
	defaultSources  = `{"TV": "KEY_TV", "HDMI": "KEY_HDMI"}`
	pingTimeout     = 1 * time.Second
	sendRetries     = 1
)

const supportSamsungTV = media.FeaturePause | media.FeaturePlay | media.FeaturePlayMedia |
	media.FeaturePreviousTrack | media.FeatureNextTrack | media.FeatureTurnOff |
	media.FeatureSelectSource | media.FeatureVolumeStep | media.FeatureVolumeMute

// Config describes one Samsung TV.
type Config struct {
	Name string
	Host string
	Port int
	MAC  string // enables wake-on-LAN power on
	UUID string

	Timeout      time.Duration
	UpdateMethod string // "default" (probe key) or "ping" (HTTP presence)
	PingURL      string // overrides the default ping endpoint

	Sources string // JSON: display name -> remote key
	Apps    string // JSON: display name -> app id; fetched from the TV when empty
}

// Device is the in-process proxy for one Samsung TV.
type Device struct {
	cfg     Config
	remote  Remote
	sources map[string]string
	http    *http.Client
	now     func() time.Time

	mu            sync.Mutex // serializes commands and polls on this device
	apps          map[string]string
	muted         bool
	playing       bool
	state         media.State
	endOfPowerOff time.Time

	jobs chan func()
	done chan struct{}
}

// New builds a TV proxy on the given remote channel. Malformed alias JSON is
// rejected here; it never marks a device unavailable.
func New(cfg Config, r Remote) (*Device, error) {
	if cfg.Host == "" {
		return nil, errors.New("samsungtv: host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("samsungtv: port %d out of range", cfg.Port)
	}
	if cfg.Name == "" {
		cfg.Name = "Samsung TV Remote"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	switch cfg.UpdateMethod {
	case "", "default", "ping":
	default:
		return nil, fmt.Errorf("samsungtv: unknown update method %q", cfg.UpdateMethod)
	}
	if cfg.Sources == "" {
		cfg.Sources = defaultSources
	}

	d := &Device{
		cfg:    cfg,
		remote: r,
		http:   &http.Client{Timeout: pingTimeout},
		now:    time.Now,
		// assume the TV starts out playing, like a freshly tuned set
		playing: true,
		jobs:    make(chan func(), 16),
		done:    make(chan struct{}),
	}
	if err := json.Unmarshal([]byte(cfg.Sources), &d.sources); err != nil {
		return nil, fmt.Errorf("samsungtv: invalid source list JSON: %w", err)
	}
	if cfg.Apps != "" {
		if err := json.Unmarshal([]byte(cfg.Apps), &d.apps); err != nil {
			return nil, fmt.Errorf("samsungtv: invalid app list JSON: %w", err)
		}
	}

	go d.worker()
	return d, nil
}

// worker drains fire-and-forget jobs one at a time.
func (d *Device) worker() {
	for {
		select {
		case fn := <-d.jobs:
			fn()
		case <-d.done:
			return
		}
	}
}

// dispatch submits fn to the device worker without waiting for it to run.
func (d *Device) dispatch(fn func()) {
	select {
	case d.jobs <- fn:
	case <-d.done:
	}
}

// Shutdown stops the worker and drops the remote channel.
func (d *Device) Shutdown() {
	close(d.done)
	d.remote.Close()
}

// wsChannel reports whether the configured port speaks the v2 WebSocket
// protocol (as opposed to the legacy 55000 remote).
func (d *Device) wsChannel() bool {
	return d.cfg.Port == 8001 || d.cfg.Port == 8002
}

// poweringOff reports whether a power-off is still settling. The window
// clears itself once the deadline passes; nothing resets it explicitly.
func (d *Device) poweringOff() bool {
	return !d.endOfPowerOff.IsZero() && d.now().Before(d.endOfPowerOff)
}

// send pushes one payload at the TV and absorbs transport failures. While a
// power-off is settling only power keys go through; everything else is a
// deliberate no-op. Reports whether the command was accepted for sending.
func (d *Device) send(payload, kind string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendLocked(payload, kind)
}

func (d *Device) sendLocked(payload, kind string) bool {
	if d.poweringOff() && payload != "KEY_POWER" && payload != "KEY_POWEROFF" && payload != "KEY_POWERON" {
		log.Info().Str("device", d.cfg.Name).Str("payload", payload).
			Msg("TV is powering off, not sending command")
		return false
	}

	status := media.StateOn
	for attempt := 0; attempt <= sendRetries; attempt++ {
		var err error
		if kind == commandRunApp {
			err = d.remote.RunApp(payload)
		} else {
			err = d.remote.SendKey(payload)
		}
		if err == nil {
			break
		}
		if isResetErr(err) {
			// stale channel; reconnect on the next attempt
			log.Debug().Err(err).Str("device", d.cfg.Name).Msg("Remote channel reset")
			d.remote.Close()
			continue
		}
		d.remote.Close()
		if isTimeoutErr(err) {
			// the TV answered late, so it is on
			log.Debug().Err(err).Str("device", d.cfg.Name).Str("payload", payload).
				Msg("Remote channel timeout")
			break
		}
		log.Debug().Err(err).Str("device", d.cfg.Name).Msg("Remote channel error")
		status = media.StateOff
		break
	}
	d.state = status

	if d.poweringOff() {
		d.state = media.StateOff
	}
	return true
}

// ========== Poll Cycle ==========

// Update refreshes the power state, either by pinging the TV's REST endpoint
// or by sending a probe key. Any successful ping means on; any failure means
// off — the protocol gives nothing finer.
func (d *Device) Update() {
	if d.wsChannel() && d.cfg.UpdateMethod == "ping" {
		pingURL := fmt.Sprintf("http://%s:8001/api/v2/", d.cfg.Host)
		if d.cfg.PingURL != "" {
			pingURL = d.cfg.PingURL
		}
		state := media.StateOn
		resp, err := d.http.Get(pingURL)
		if err != nil {
			state = media.StateOff
		} else {
			resp.Body.Close()
		}

		d.mu.Lock()
		d.state = state
		if d.poweringOff() {
			d.state = media.StateOff
		}
		d.mu.Unlock()
		return
	}
	d.send("KEY", commandKey)
}

// ========== Command Dispatch ==========

// TurnOn wakes the TV over the network when a MAC is configured, otherwise
// it tries the power-on key.
func (d *Device) TurnOn() {
	if d.cfg.MAC != "" {
		if err := sendMagicPacket(d.cfg.MAC); err != nil {
			log.Warn().Err(err).Str("device", d.cfg.Name).Msg("Wake-on-LAN failed")
			return
		}
		d.Update()
		return
	}
	d.send("KEY_POWERON", commandKey)
}

// TurnOff powers the TV down and opens the cooldown window that keeps
// follow-up commands from waking it back up. A second power-off inside the
// window leaves the original deadline in place.
func (d *Device) TurnOff() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.poweringOff() {
		d.endOfPowerOff = d.now().Add(powerOffWindow)
	}

	if d.wsChannel() {
		d.sendLocked("KEY_POWER", commandKey)
	} else {
		d.sendLocked("KEY_POWEROFF", commandKey)
	}

	// drop the session right away for instant UI feedback; the close is
	// best effort
	if err := d.remote.Close(); err != nil {
		log.Debug().Err(err).Str("device", d.cfg.Name).Msg("Could not close remote session")
	}
	d.state = media.StateOff
}

// VolumeUp raises the volume one step.
func (d *Device) VolumeUp() { d.send("KEY_VOLUP", commandKey) }

// VolumeDown lowers the volume one step.
func (d *Device) VolumeDown() { d.send("KEY_VOLDOWN", commandKey) }

// MuteVolume toggles mute.
func (d *Device) MuteVolume() {
	if d.send("KEY_MUTE", commandKey) {
		d.mu.Lock()
		d.muted = !d.muted
		d.mu.Unlock()
	}
}

// Play resumes playback.
func (d *Device) Play() {
	d.mu.Lock()
	d.playing = true
	d.mu.Unlock()
	d.send("KEY_PLAY", commandKey)
}

// Pause pauses playback.
func (d *Device) Pause() {
	d.mu.Lock()
	d.playing = false
	d.mu.Unlock()
	d.send("KEY_PAUSE", commandKey)
}

// PlayPause toggles between Play and Pause based on the last known mode.
func (d *Device) PlayPause() {
	d.mu.Lock()
	playing := d.playing
	d.mu.Unlock()
	if playing {
		d.Pause()
	} else {
		d.Play()
	}
}

// NextTrack skips forward.
func (d *Device) NextTrack() { d.send("KEY_FF", commandKey) }

// PreviousTrack skips backward.
func (d *Device) PreviousTrack() { d.send("KEY_REWIND", commandKey) }

// SelectSource resolves a display name against the source and app tables and
// fires the matching call on the device worker. An unmapped name passes
// through as a raw key, so native identifiers work without an alias.
func (d *Device) SelectSource(source string) {
	d.dispatch(func() {
		if key, ok := d.sources[source]; ok {
			d.send(key, commandKey)
			return
		}
		apps := d.appTable()
		if id, ok := apps[source]; ok {
			d.send(id, commandRunApp)
			return
		}
		d.send(source, commandKey)
	})
}

// PlayMedia tunes a channel, launches an app or sends a raw key. Invalid
// requests are rejected here without touching the TV.
func (d *Device) PlayMedia(mediaType, mediaID string) error {
	switch mediaType {
	case MediaTypeChannel:
		if mediaID == "" {
			return errors.New("samsungtv: media ID must be a positive integer")
		}
		for _, digit := range mediaID {
			if digit < '0' || digit > '9' {
				return errors.New("samsungtv: media ID must be a positive integer")
			}
		}
		d.dispatch(func() {
			for _, digit := range mediaID {
				d.send("KEY_"+string(digit), commandKey)
			}
			d.send("KEY_ENTER", commandKey)
		})
	case MediaTypeApp:
		if mediaID == "" {
			return errors.New("samsungtv: media ID must be an app id")
		}
		d.dispatch(func() { d.send(mediaID, commandRunApp) })
	case MediaTypeKey:
		if mediaID == "" {
			return errors.New(`samsungtv: media ID must be a key (ex: "KEY_HOME")`)
		}
		d.dispatch(func() { d.send(mediaID, commandKey) })
	default:
		return fmt.Errorf("samsungtv: unsupported media type %q", mediaType)
	}
	return nil
}

// appTable returns the display-name -> app-id table, asking the TV for its
// installed apps the first time when none was configured.
func (d *Device) appTable() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.apps != nil {
		return d.apps
	}
	installed, err := d.remote.Apps()
	if err != nil {
		log.Debug().Err(err).Str("device", d.cfg.Name).Msg("Could not list installed apps")
		return nil
	}
	d.apps = make(map[string]string, len(installed))
	for _, app := range installed {
		if app.Name != "" && app.ID != "" {
			d.apps[app.Name] = app.ID
		}
	}
	log.Debug().Int("count", len(d.apps)).Str("device", d.cfg.Name).
		Msg("Fetched installed app list")
	return d.apps
}

// ========== Accessors ==========

// Name returns the configured display name.
func (d *Device) Name() string { return d.cfg.Name }

// UniqueID returns the configured device UUID.
func (d *Device) UniqueID() string { return d.cfg.UUID }

// State returns the last known power state.
func (d *Device) State() media.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Muted reports the last known mute flag.
func (d *Device) Muted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

// SourceList returns the configured source names plus the TV's app names.
func (d *Device) SourceList() []string {
	apps := d.appTable()
	d.mu.Lock()
	defer d.mu.Unlock()
	list := make([]string, 0, len(d.sources)+len(apps))
	for name := range d.sources {
		list = append(list, name)
	}
	for name := range apps {
		list = append(list, name)
	}
	return list
}

// Features returns the capability set; power on needs a configured MAC.
func (d *Device) Features() media.Feature {
	if d.cfg.MAC != "" {
		return supportSamsungTV | media.FeatureTurnOn
	}
	return supportSamsungTV
}

// Snapshot is the JSON view of a TV exposed to the host surfaces.
type Snapshot struct {
	Name       string      `json:"name"`
	UniqueID   string      `json:"unique_id,omitempty"`
	State      media.State `json:"state,omitempty"`
	Muted      bool        `json:"muted"`
	SourceList []string    `json:"source_list,omitempty"`
}

// Snapshot returns the current state snapshot. It does not touch the TV.
func (d *Device) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := make([]string, 0, len(d.sources)+len(d.apps))
	for name := range d.sources {
		list = append(list, name)
	}
	for name := range d.apps {
		list = append(list, name)
	}

	return Snapshot{
		Name:       d.cfg.Name,
		UniqueID:   d.cfg.UUID,
		State:      d.state,
		Muted:      d.muted,
		SourceList: list,
	}
}
