// Package samsungtv controls Samsung smart TVs over the vendor v2 remote
// protocol: a WebSocket channel for key presses and app launches plus the
// REST endpoint used for presence pings.
package samsungtv

import (
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected is returned when a frame cannot be written because the
// channel is down and could not be re-opened.
var ErrNotConnected = errors.New("samsungtv: remote channel not connected")

// App is one installed TV application.
type App struct {
	ID   string `json:"appId"`
	Name string `json:"name"`
}

// Remote is the vendor control channel a Device drives.
type Remote interface {
	SendKey(key string) error
	RunApp(appID string) error
	Apps() ([]App, error)
	Close() error
}

// channelMessage is the envelope of frames on the remote channel.
type channelMessage struct {
	Event string `json:"event"`
	Data  struct {
		Token string `json:"token"`
		Data  []App  `json:"data"`
	} `json:"data"`
}

// WSRemote implements Remote over the TV's WebSocket channel. Port 8001 is
// the plain channel; 8002 is TLS and hands out an auth token on the first
// connect, persisted to tokenFile for later sessions.
type WSRemote struct {
	name      string
	host      string
	port      int
	timeout   time.Duration
	keyDelay  time.Duration
	tokenFile string

	mu    sync.Mutex
	token string
	conn  *websocket.Conn
}

// NewWSRemote creates a remote channel client. tokenFile may be empty when
// the TV does not require token auth (port 8001).
func NewWSRemote(name, host string, port int, timeout time.Duration, tokenFile string) *WSRemote {
	if timeout == 0 {
		timeout = 4 * time.Second
	}
	if tokenFile != "" {
		if _, err := os.Stat(tokenFile); err != nil {
			// first pairing: the user has to accept the prompt on the TV
			timeout = 30 * time.Second
		}
	}
	r := &WSRemote{
		name:      name,
		host:      host,
		port:      port,
		timeout:   timeout,
		keyDelay:  500 * time.Millisecond,
		tokenFile: tokenFile,
	}
	if tokenFile != "" {
		if raw, err := os.ReadFile(tokenFile); err == nil {
			r.token = strings.TrimSpace(string(raw))
		}
	}
	return r
}

// endpoint builds the channel URL for the configured port.
func (r *WSRemote) endpoint() string {
	scheme := "ws"
	if r.port == 8002 {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", r.host, r.port),
		Path:   "/api/v2/channels/samsung.remote.control",
	}
	q := u.Query()
	q.Set("name", base64.StdEncoding.EncodeToString([]byte(r.name)))
	if r.token != "" {
		q.Set("token", r.token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// connect opens the channel and waits for the ms.channel.connect handshake,
// capturing and persisting the auth token when the TV hands one out.
func (r *WSRemote) connect() error {
	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: r.timeout,
		// TVs serve a self-signed certificate on 8002
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	conn, _, err := dialer.Dial(r.endpoint(), nil)
	if err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(r.timeout))
	var msg channelMessage
	if err := conn.ReadJSON(&msg); err != nil {
		conn.Close()
		return err
	}
	if msg.Event != "ms.channel.connect" {
		conn.Close()
		return fmt.Errorf("samsungtv: unexpected handshake event %q", msg.Event)
	}
	if msg.Data.Token != "" && msg.Data.Token != r.token {
		r.token = msg.Data.Token
		if r.tokenFile != "" {
			if err := os.WriteFile(r.tokenFile, []byte(r.token), 0o600); err != nil {
				log.Warn().Err(err).Str("host", r.host).Msg("Could not persist TV auth token")
			}
		}
	}

	r.conn = conn
	log.Debug().Str("host", r.host).Int("port", r.port).Msg("Samsung remote channel connected")
	return nil
}

// write sends one frame, opening the channel first if needed.
func (r *WSRemote) write(v any) error {
	if err := r.connect(); err != nil {
		return err
	}
	r.conn.SetWriteDeadline(time.Now().Add(r.timeout))
	return r.conn.WriteJSON(v)
}

// SendKey presses one remote key.
func (r *WSRemote) SendKey(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload := map[string]any{
		"method": "ms.remote.control",
		"params": map[string]string{
			"Cmd":          "Click",
			"DataOfCmd":    key,
			"Option":       "false",
			"TypeOfRemote": "SendRemoteKey",
		},
	}
	if err := r.write(payload); err != nil {
		return err
	}
	// the TV drops keys that arrive back to back
	time.Sleep(r.keyDelay)
	return nil
}

// RunApp launches an installed app by id.
func (r *WSRemote) RunApp(appID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload := map[string]any{
		"method": "ms.channel.emit",
		"params": map[string]any{
			"event": "ed.apps.launch",
			"to":    "host",
			"data": map[string]string{
				"action_type": "DEEP_LINK",
				"appId":       appID,
			},
		},
	}
	return r.write(payload)
}

// Apps lists the installed apps over the channel.
func (r *WSRemote) Apps() ([]App, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload := map[string]any{
		"method": "ms.channel.emit",
		"params": map[string]any{
			"event": "ed.installedApp.get",
			"to":    "host",
		},
	}
	if err := r.write(payload); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(r.timeout)
	for time.Now().Before(deadline) {
		r.conn.SetReadDeadline(deadline)
		var msg channelMessage
		if err := r.conn.ReadJSON(&msg); err != nil {
			return nil, err
		}
		if msg.Event == "ed.installedApp.get" {
			return msg.Data.Data, nil
		}
	}
	return nil, fmt.Errorf("samsungtv: no app list from %s", r.host)
}

// Close drops the channel. Best effort.
func (r *WSRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

// isTimeoutErr reports whether the TV accepted the connection but did not
// answer in time; a late answer still proves the TV is on.
func isTimeoutErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isResetErr reports a stale channel worth one reconnect-and-retry.
func isResetErr(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return websocket.IsUnexpectedCloseError(err)
}
