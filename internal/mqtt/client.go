// Package mqtt bridges the device proxies onto an MQTT broker: retained
// state topics for every poll snapshot and a command topic per device.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// CommandHandler is called with the device name and the command payload of
// an incoming <prefix>/<device>/set message.
type CommandHandler func(device, command string)

// Config holds MQTT connection settings.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string // defaults to "tv_control"
}

// Client publishes device state and receives device commands.
type Client struct {
	client  paho.Client
	prefix  string
	mu      sync.RWMutex
	handler CommandHandler

	connected bool
}

// NewClient creates an MQTT client. Connect must be called before use.
func NewClient(cfg Config) *Client {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "tv_control"
	}
	c := &Client{prefix: prefix}

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client paho.Client) {
		log.Info().Msg("MQTT connected")
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.subscribeCommands()
	})

	opts.SetConnectionLostHandler(func(client paho.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	})

	c.client = paho.NewClient(opts)
	return c
}

// Connect starts the MQTT connection.
func (c *Client) Connect() error {
	token := c.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connect failed: %w", err)
	}
	return nil
}

// SetCommandHandler sets the callback for incoming device commands.
func (c *Client) SetCommandHandler(handler CommandHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// subscribeCommands subscribes to the per-device command topic.
func (c *Client) subscribeCommands() {
	topic := c.prefix + "/+/set"
	token := c.client.Subscribe(topic, 1, c.handleCommand)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("MQTT subscribe failed")
		return
	}
	log.Info().Str("topic", topic).Msg("Subscribed to MQTT command topic")
}

// handleCommand forwards a <prefix>/<device>/set message to the handler.
func (c *Client) handleCommand(client paho.Client, msg paho.Message) {
	device, ok := DeviceFromTopic(c.prefix, msg.Topic())
	if !ok {
		return
	}
	command := strings.TrimSpace(string(msg.Payload()))
	if command == "" {
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		return
	}
	log.Debug().Str("device", device).Str("command", command).Msg("MQTT command received")
	handler(device, command)
}

// DeviceFromTopic extracts the device name from a <prefix>/<device>/set
// topic.
func DeviceFromTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	device, ok := strings.CutSuffix(rest, "/set")
	if !ok || device == "" || strings.Contains(device, "/") {
		return "", false
	}
	return device, true
}

// PublishState publishes a device state snapshot, retained so late
// subscribers see the latest state.
func (c *Client) PublishState(device string, snapshot any) {
	if !c.IsConnected() {
		return
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		log.Error().Err(err).Str("device", device).Msg("Failed to marshal state snapshot")
		return
	}
	topic := fmt.Sprintf("%s/%s/state", c.prefix, device)
	c.client.Publish(topic, 0, true, payload)
}

// IsConnected returns the connection status.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Disconnect closes the MQTT connection.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}
