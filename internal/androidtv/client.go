// Package androidtv controls Android TV and Fire TV devices over ADB. The
// Client shells out to the adb binary, either straight at the device or
// through a remote ADB server; the Device proxy on top of it translates
// generic media-player intents into key events and shell commands.
package androidtv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrConnection marks a failure of the ADB channel itself, as opposed to a
// command that reached the device and failed there.
var ErrConnection = errors.New("adb connection error")

// connectionFailures are adb stderr fragments that mean the channel is gone.
var connectionFailures = []string{
	"device offline",
	"device not found",
	"no devices",
	"cannot connect",
	"connection refused",
	"connection reset",
	"broken pipe",
	"protocol fault",
	"closed",
}

// DeviceState is one poll of the device.
type DeviceState struct {
	Phase       string   // device-native phase: off, idle, standby, playing, paused
	CurrentApp  string   // foregrounded package
	RunningApps []string // packages with running processes
	Muted       bool
	VolumeLevel float64 // 0..1
}

// DetectionRule overrides phase detection for one app. When State is the
// only field set the rule matches unconditionally; otherwise the polled
// media-session state and wake-lock count must match.
type DetectionRule struct {
	State             string
	MediaSessionState int // 0 matches any
	WakeLockSize      int // 0 matches any
}

func (r DetectionRule) matches(mediaSession, wakeLocks int) bool {
	if r.MediaSessionState != 0 && r.MediaSessionState != mediaSession {
		return false
	}
	if r.WakeLockSize != 0 && r.WakeLockSize != wakeLocks {
		return false
	}
	return true
}

// Transport is the ADB wire channel a Device drives. Errors classified as
// transport failures make the availability guard close the channel and mark
// the device unavailable.
type Transport interface {
	Connect(ctx context.Context) error
	Close()
	State(ctx context.Context, includeApps bool) (*DeviceState, error)
	SendKey(ctx context.Context, keycode int) error
	LaunchApp(ctx context.Context, id string) error
	StopApp(ctx context.Context, id string) error
	Shell(ctx context.Context, cmd string) (string, error)
	Properties(ctx context.Context) (map[string]string, error)
	// ServerMediated reports whether commands go through an ADB server. A
	// fresh direct connection defers state queries to the next poll cycle;
	// a server-mediated one does not need to.
	ServerMediated() bool
}

// Client drives a device through the adb binary. A zero timeout defaults to
// 10 seconds per command.
type Client struct {
	addr       string // host:port of the device
	serverAddr string // optional host:port of a remote ADB server
	keyPath    string // optional ADB key file for auth
	timeout    time.Duration
	rules      map[string][]DetectionRule

	mu sync.Mutex // serializes adb invocations for this device
}

// NewClient creates an ADB client for the given device address. serverAddr
// may be empty for a direct connection.
func NewClient(addr, serverAddr, keyPath string, rules map[string][]DetectionRule) *Client {
	return &Client{
		addr:       addr,
		serverAddr: serverAddr,
		keyPath:    keyPath,
		timeout:    10 * time.Second,
		rules:      rules,
	}
}

// ServerMediated reports whether a remote ADB server relays the connection.
func (c *Client) ServerMediated() bool {
	return c.serverAddr != ""
}

// exec runs an adb command and returns its trimmed stdout.
func (c *Client) exec(ctx context.Context, args ...string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	full := make([]string, 0, len(args)+6)
	if c.serverAddr != "" {
		host, port, ok := strings.Cut(c.serverAddr, ":")
		if !ok {
			port = "5037"
		}
		full = append(full, "-H", host, "-P", port)
	}
	full = append(full, "-s", c.addr)
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, "adb", full...)
	if c.keyPath != "" {
		cmd.Env = append(os.Environ(), "ADB_VENDOR_KEYS="+c.keyPath)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", c.classify(ctx, err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// classify wraps channel-level failures in ErrConnection so the guard can
// tell them apart from commands that merely failed on the device.
func (c *Client) classify(ctx context.Context, err error, output string) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s timed out: %v", ErrConnection, c.addr, ctx.Err())
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		// adb itself would not start or was killed
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	low := strings.ToLower(output)
	for _, frag := range connectionFailures {
		if strings.Contains(low, frag) {
			return fmt.Errorf("%w: %s", ErrConnection, strings.TrimSpace(output))
		}
	}
	return fmt.Errorf("adb command failed: %v, output: %s", err, strings.TrimSpace(output))
}

// shell runs a shell command on the device.
func (c *Client) shell(ctx context.Context, cmd string) (string, error) {
	return c.exec(ctx, "shell", cmd)
}

// Connect establishes (or re-establishes) the connection to the device.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.exec(ctx, "connect", c.addr); err != nil {
		return err
	}
	out, err := c.exec(ctx, "get-state")
	if err != nil {
		return err
	}
	if !strings.Contains(out, "device") {
		return fmt.Errorf("%w: %s state %q", ErrConnection, c.addr, out)
	}
	return nil
}

// Close drops the connection. Best effort; never reports an error.
func (c *Client) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	c.exec(ctx, "disconnect", c.addr)
}

// Shell runs a raw shell command on the device.
func (c *Client) Shell(ctx context.Context, cmd string) (string, error) {
	return c.shell(ctx, cmd)
}

// SendKey injects a key event.
func (c *Client) SendKey(ctx context.Context, keycode int) error {
	_, err := c.shell(ctx, fmt.Sprintf("input keyevent %d", keycode))
	return err
}

// LaunchApp starts an app by package name.
func (c *Client) LaunchApp(ctx context.Context, id string) error {
	_, err := c.shell(ctx, fmt.Sprintf("monkey -p %s -c android.intent.category.LAUNCHER 1", id))
	return err
}

// StopApp force-stops an app by package name.
func (c *Client) StopApp(ctx context.Context, id string) error {
	_, err := c.shell(ctx, fmt.Sprintf("am force-stop %s", id))
	return err
}

// Properties returns identifying device properties.
func (c *Client) Properties(ctx context.Context) (map[string]string, error) {
	out, err := c.shell(ctx,
		"getprop ro.product.manufacturer; getprop ro.product.model; "+
			"getprop ro.serialno; getprop ro.build.version.release")
	if err != nil {
		return nil, err
	}
	lines := strings.Split(out, "\n")
	get := func(i int) string {
		if i < len(lines) {
			return strings.TrimSpace(lines[i])
		}
		return ""
	}
	return map[string]string{
		"manufacturer": get(0),
		"model":        get(1),
		"serialno":     get(2),
		"sw_version":   get(3),
	}, nil
}

// State polls the device and derives its native phase.
func (c *Client) State(ctx context.Context, includeApps bool) (*DeviceState, error) {
	st := &DeviceState{}

	power, err := c.shell(ctx, "dumpsys power | grep -E 'mWakefulness=|Locks: size='")
	if err != nil {
		return nil, err
	}
	screenOn := strings.Contains(power, "Awake")
	dozing := strings.Contains(power, "Dozing") || strings.Contains(power, "Dreaming")
	wakeLocks := grepInt(power, "size=")

	focus, err := c.shell(ctx, "dumpsys window windows | grep mCurrentFocus")
	if err != nil {
		return nil, err
	}
	st.CurrentApp = parseCurrentApp(focus)

	session, err := c.shell(ctx, "dumpsys media_session | grep -m 1 'state=PlaybackState'")
	if err != nil {
		return nil, err
	}
	mediaSession := grepInt(session, "state=PlaybackState {state=")

	st.Phase = c.phase(st.CurrentApp, screenOn, dozing, mediaSession, wakeLocks)

	if includeApps {
		apps, err := c.shell(ctx, "ps -A -o NAME | grep -E '^[a-z]+(\\.[a-zA-Z0-9_]+)+$'")
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(apps, "\n") {
			if pkg := strings.TrimSpace(line); pkg != "" {
				st.RunningApps = append(st.RunningApps, pkg)
			}
		}
	}

	audio, err := c.shell(ctx, "dumpsys audio | grep -A 4 STREAM_MUSIC")
	if err != nil {
		return nil, err
	}
	st.Muted, st.VolumeLevel = parseAudio(audio)

	return st, nil
}

// phase derives the native phase string, applying any configured detection
// rules for the foregrounded app first.
func (c *Client) phase(app string, screenOn, dozing bool, mediaSession, wakeLocks int) string {
	if !screenOn {
		return "off"
	}
	if dozing {
		return "standby"
	}
	for _, rule := range c.rules[app] {
		if rule.matches(mediaSession, wakeLocks) {
			return rule.State
		}
	}
	switch mediaSession {
	case 3:
		return "playing"
	case 2:
		return "paused"
	}
	if wakeLocks > 2 {
		return "playing"
	}
	return "idle"
}

// parseCurrentApp extracts the package from a mCurrentFocus dump line, e.g.
// "mCurrentFocus=Window{abc u0 com.netflix.ninja/...MainActivity}".
func parseCurrentApp(focus string) string {
	idx := strings.LastIndex(focus, " ")
	if idx < 0 {
		return ""
	}
	app := strings.TrimSuffix(focus[idx+1:], "}")
	if slash := strings.Index(app, "/"); slash >= 0 {
		app = app[:slash]
	}
	return app
}

// parseAudio pulls the mute flag and a 0..1 volume level out of the
// STREAM_MUSIC block of a dumpsys audio dump.
func parseAudio(audio string) (muted bool, level float64) {
	var current, max float64
	for _, line := range strings.Split(audio, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Muted:"):
			muted = strings.Contains(line, "true")
		case strings.HasPrefix(line, "Max:"):
			max, _ = strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "Max:")), 64)
		case strings.HasPrefix(line, "Current:"):
			// take the last "(type): N" entry on the line
			if idx := strings.LastIndex(line, ":"); idx >= 0 {
				v := strings.Trim(strings.TrimSpace(line[idx+1:]), ",")
				current, _ = strconv.ParseFloat(v, 64)
			}
		}
	}
	if max > 0 {
		level = current / max
	}
	return muted, level
}

// grepInt returns the integer following the first occurrence of prefix.
func grepInt(s, prefix string) int {
	idx := strings.Index(s, prefix)
	if idx < 0 {
		return 0
	}
	rest := s[idx+len(prefix):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(rest[:end])
	return n
}
