package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tv_control/internal/androidtv"
	"tv_control/internal/media"
	"tv_control/internal/mqtt"
	"tv_control/internal/samsungtv"
	"tv_control/internal/websocket"
)

// setupRetryInterval is how often a device that was unreachable at startup
// gets another setup attempt.
const setupRetryInterval = 30 * time.Second

type Config struct {
	Port         string
	PollInterval time.Duration
	DataDir      string

	// Android TV / Fire TV settings
	AndroidDevices  []AndroidDeviceConfig
	ADBServer       string // host:port of a remote ADB server (optional)
	ADBKey          string // ADB key file for direct connections (optional)
	AndroidApps     map[string]string
	DetectionRules  map[string][]androidtv.DetectionRule
	GetSources      bool
	TurnOnCommand   string
	TurnOffCommand  string

	// Samsung TV settings
	SamsungTVs          []SamsungTVConfig
	SamsungSources      string
	SamsungApps         string
	SamsungUpdateMethod string
	SamsungPingURL      string

	// MQTT settings
	MQTTHost     string
	MQTTPort     int
	MQTTUsername string
	MQTTPassword string
	MQTTPrefix   string
}

// AndroidDeviceConfig is one ANDROIDTV_DEVICES entry.
type AndroidDeviceConfig struct {
	Name  string
	Host  string
	Port  int
	Class string
}

// SamsungTVConfig is one SAMSUNG_TVS entry.
type SamsungTVConfig struct {
	Name string
	Host string
	Port int
	MAC  string
}

var (
	appConfig   Config
	androidMgr  = androidtv.NewManager()
	samsungMgr  = samsungtv.NewManager()
	hub         = websocket.NewHub()
	mqttClient  *mqtt.Client
)

func main() {
	// Load .env file if present (for local dev)
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if getEnv("LOG_LEVEL", "") == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	appConfig = cfg

	// Android TV / Fire TV devices
	for _, devCfg := range cfg.AndroidDevices {
		setupAndroidDevice(devCfg)
	}

	// Samsung TVs
	for _, tvCfg := range cfg.SamsungTVs {
		tokenFile := ""
		if tvCfg.Port == 8002 {
			tokenFile = filepath.Join(cfg.DataDir, "token-"+tvCfg.Host+".txt")
		}
		remote := samsungtv.NewWSRemote(tvCfg.Name, tvCfg.Host, tvCfg.Port, 0, tokenFile)
		tv, err := samsungtv.New(samsungtv.Config{
			Name:         tvCfg.Name,
			Host:         tvCfg.Host,
			Port:         tvCfg.Port,
			MAC:          tvCfg.MAC,
			UpdateMethod: cfg.SamsungUpdateMethod,
			PingURL:      cfg.SamsungPingURL,
			Sources:      cfg.SamsungSources,
			Apps:         cfg.SamsungApps,
		}, remote)
		if err != nil {
			log.Fatal().Err(err).Str("device", tvCfg.Name).Msg("Invalid Samsung TV configuration")
		}
		samsungMgr.Add(tv)
	}

	// MQTT bridge
	if cfg.MQTTHost != "" {
		mqttClient = mqtt.NewClient(mqtt.Config{
			Host:        cfg.MQTTHost,
			Port:        cfg.MQTTPort,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			ClientID:    "tv_control",
			TopicPrefix: cfg.MQTTPrefix,
		})
		mqttClient.SetCommandHandler(dispatchCommand)
		if err := mqttClient.Connect(); err != nil {
			log.Warn().Err(err).Msg("MQTT broker unreachable, continuing without it")
		}
	} else {
		log.Info().Msg("MQTT not configured (optional)")
	}

	go hub.Run()
	go pollLoop(cfg.PollInterval)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/devices", handleDevices)
	r.Post("/api/androidtv/command", handleADBCommand)
	r.Post("/api/androidtv/{name}/source", handleAndroidSource)
	r.Post("/api/androidtv/{name}/{action}", handleAndroidAction)
	r.Post("/api/samsung/{name}/play_media", handleSamsungPlayMedia)
	r.Post("/api/samsung/{name}/source", handleSamsungSource)
	r.Post("/api/samsung/{name}/{action}", handleSamsungAction)
	r.Get("/ws", hub.ServeWS)

	addr := ":" + cfg.Port
	log.Info().Str("addr", addr).Msg("tv_control listening")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}
}

// setupAndroidDevice builds and registers one ADB device. A device that is
// not ready yet is retried in the background until setup succeeds; commands
// only reach devices that completed setup.
func setupAndroidDevice(devCfg AndroidDeviceConfig) {
	addr := fmt.Sprintf("%s:%d", devCfg.Host, devCfg.Port)
	client := androidtv.NewClient(addr, appConfig.ADBServer, appConfig.ADBKey, appConfig.DetectionRules)
	dev, err := androidtv.New(androidtv.Config{
		Name:           devCfg.Name,
		Host:           devCfg.Host,
		Port:           devCfg.Port,
		DeviceClass:    devCfg.Class,
		GetSources:     appConfig.GetSources,
		Apps:           appConfig.AndroidApps,
		TurnOnCommand:  appConfig.TurnOnCommand,
		TurnOffCommand: appConfig.TurnOffCommand,
	}, client)
	if err != nil {
		log.Fatal().Err(err).Str("device", devCfg.Name).Msg("Invalid Android TV configuration")
	}

	go func() {
		for {
			ctx, cancel := contextWithTimeout()
			err := dev.Setup(ctx)
			cancel()
			if err == nil {
				androidMgr.Add(dev)
				return
			}
			log.Warn().Err(err).Str("device", devCfg.Name).
				Msgf("Device not ready, retrying in %s", setupRetryInterval)
			time.Sleep(setupRetryInterval)
		}
	}()
}

// pollLoop drives the poll cycle for every device and fans the snapshots out
// to the WebSocket hub and MQTT.
func pollLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		for name, dev := range androidMgr.All() {
			ctx, cancel := contextWithTimeout()
			dev.Update(ctx)
			cancel()
			publishState(name, dev.Snapshot())
		}
		for name, tv := range samsungMgr.All() {
			tv.Update()
			publishState(name, tv.Snapshot())
		}
	}
}

func publishState(name string, snapshot any) {
	hub.BroadcastState(name, snapshot)
	if mqttClient != nil {
		mqttClient.PublishState(name, snapshot)
	}
}

// dispatchCommand handles an MQTT command for a named device. Android
// devices accept the full ad-hoc command vocabulary; Samsung TVs accept the
// generic actions plus raw remote keys.
func dispatchCommand(device, command string) {
	if dev := androidMgr.Get(device); dev != nil {
		ctx, cancel := contextWithTimeout()
		defer cancel()
		if !runAndroidAction(ctx, dev, command) {
			dev.Command(ctx, command)
		}
		publishState(device, dev.Snapshot())
		return
	}
	if tv := samsungMgr.Get(device); tv != nil {
		if !runSamsungAction(tv, command) {
			if err := tv.PlayMedia(samsungtv.MediaTypeKey, command); err != nil {
				log.Warn().Err(err).Str("device", device).Msg("Rejected MQTT command")
			}
		}
		publishState(device, tv.Snapshot())
		return
	}
	log.Warn().Str("device", device).Msg("MQTT command for unknown device")
}

// ========== HTTP Handlers ==========

func handleDevices(w http.ResponseWriter, r *http.Request) {
	android := make([]androidtv.Snapshot, 0)
	for _, dev := range androidMgr.All() {
		android = append(android, dev.Snapshot())
	}
	samsung := make([]samsungtv.Snapshot, 0)
	for _, tv := range samsungMgr.All() {
		samsung = append(samsung, tv.Snapshot())
	}
	writeJSON(w, map[string]any{
		"androidtv": android,
		"samsungtv": samsung,
	})
}

// handleADBCommand is the cross-entity command service: one command string
// dispatched to every targeted Android device.
func handleADBCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entities []string `json:"entities"`
		Command  string   `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		http.Error(w, "command is required", http.StatusBadRequest)
		return
	}
	responses := androidMgr.Command(r.Context(), req.Entities, req.Command)
	writeJSON(w, map[string]any{"responses": responses})
}

func handleAndroidSource(w http.ResponseWriter, r *http.Request) {
	dev := androidMgr.Get(chi.URLParam(r, "name"))
	if dev == nil {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	var req struct {
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Source == "" {
		http.Error(w, "source is required", http.StatusBadRequest)
		return
	}
	dev.SelectSource(r.Context(), req.Source)
	writeJSON(w, dev.Snapshot())
}

func handleAndroidAction(w http.ResponseWriter, r *http.Request) {
	dev := androidMgr.Get(chi.URLParam(r, "name"))
	if dev == nil {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	action := chi.URLParam(r, "action")
	if isVolumeAction(action) && !dev.Features().Supports(media.FeatureVolumeStep) {
		http.Error(w, "device does not support volume control", http.StatusBadRequest)
		return
	}
	if !runAndroidAction(r.Context(), dev, action) {
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	writeJSON(w, dev.Snapshot())
}

func handleSamsungSource(w http.ResponseWriter, r *http.Request) {
	tv := samsungMgr.Get(chi.URLParam(r, "name"))
	if tv == nil {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	var req struct {
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Source == "" {
		http.Error(w, "source is required", http.StatusBadRequest)
		return
	}
	tv.SelectSource(req.Source)
	writeJSON(w, tv.Snapshot())
}

func handleSamsungPlayMedia(w http.ResponseWriter, r *http.Request) {
	tv := samsungMgr.Get(chi.URLParam(r, "name"))
	if tv == nil {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	var req struct {
		MediaType string `json:"media_type"`
		MediaID   string `json:"media_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := tv.PlayMedia(req.MediaType, req.MediaID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, tv.Snapshot())
}

func handleSamsungAction(w http.ResponseWriter, r *http.Request) {
	tv := samsungMgr.Get(chi.URLParam(r, "name"))
	if tv == nil {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	if !runSamsungAction(tv, chi.URLParam(r, "action")) {
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	writeJSON(w, tv.Snapshot())
}

func isVolumeAction(action string) bool {
	return action == "volume_up" || action == "volume_down" || action == "mute"
}

func runAndroidAction(ctx context.Context, dev *androidtv.Device, action string) bool {
	switch action {
	case "play":
		dev.Play(ctx)
	case "pause":
		dev.Pause(ctx)
	case "play_pause":
		dev.PlayPause(ctx)
	case "stop":
		dev.Stop(ctx)
	case "next":
		dev.NextTrack(ctx)
	case "previous":
		dev.PreviousTrack(ctx)
	case "volume_up":
		dev.VolumeUp(ctx)
	case "volume_down":
		dev.VolumeDown(ctx)
	case "mute":
		dev.MuteVolume(ctx)
	case "turn_on":
		dev.TurnOn(ctx)
	case "turn_off":
		dev.TurnOff(ctx)
	case "update":
		dev.Update(ctx)
	default:
		return false
	}
	return true
}

func runSamsungAction(tv *samsungtv.Device, action string) bool {
	switch action {
	case "play":
		tv.Play()
	case "pause":
		tv.Pause()
	case "play_pause":
		tv.PlayPause()
	case "next":
		tv.NextTrack()
	case "previous":
		tv.PreviousTrack()
	case "volume_up":
		tv.VolumeUp()
	case "volume_down":
		tv.VolumeDown()
	case "mute":
		tv.MuteVolume()
	case "turn_on":
		tv.TurnOn()
	case "turn_off":
		tv.TurnOff()
	case "update":
		tv.Update()
	default:
		return false
	}
	return true
}

// contextWithTimeout bounds background device work (setup, polls, MQTT
// commands) that has no request context to inherit.
func contextWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// ========== Configuration ==========

func loadConfig() (Config, error) {
	pollSeconds := parseIntEnv("POLL_INTERVAL", 10)
	mqttPort, _ := strconv.Atoi(getEnv("MQTT_PORT", "1883"))

	androidApps, err := parseJSONMap(getEnv("ANDROIDTV_APPS", ""))
	if err != nil {
		return Config{}, fmt.Errorf("ANDROIDTV_APPS: %w", err)
	}
	rules, err := androidtv.ParseDetectionRules(getEnv("ANDROIDTV_STATE_DETECTION_RULES", ""))
	if err != nil {
		return Config{}, err
	}
	androidDevices, err := parseAndroidDevices(getEnv("ANDROIDTV_DEVICES", ""))
	if err != nil {
		return Config{}, err
	}
	samsungTVs, err := parseSamsungTVs(getEnv("SAMSUNG_TVS", ""))
	if err != nil {
		return Config{}, err
	}

	return Config{
		Port:         getEnv("PORT", "8080"),
		PollInterval: time.Duration(pollSeconds) * time.Second,
		DataDir:      getEnv("DATA_DIR", "."),

		AndroidDevices: androidDevices,
		ADBServer:      getEnv("ADB_SERVER", ""),
		ADBKey:         getEnv("ADB_KEY", ""),
		AndroidApps:    androidApps,
		DetectionRules: rules,
		GetSources:     getEnv("ANDROIDTV_GET_SOURCES", "true") == "true",
		TurnOnCommand:  getEnv("ANDROIDTV_TURN_ON_COMMAND", ""),
		TurnOffCommand: getEnv("ANDROIDTV_TURN_OFF_COMMAND", ""),

		SamsungTVs:          samsungTVs,
		SamsungSources:      getEnv("SAMSUNG_SOURCE_LIST", ""),
		SamsungApps:         getEnv("SAMSUNG_APP_LIST", ""),
		SamsungUpdateMethod: getEnv("SAMSUNG_UPDATE_METHOD", "default"),
		SamsungPingURL:      getEnv("SAMSUNG_PING_URL", ""),

		MQTTHost:     getEnv("MQTT_HOST", ""),
		MQTTPort:     mqttPort,
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),
		MQTTPrefix:   getEnv("MQTT_PREFIX", "tv_control"),
	}, nil
}

// parseAndroidDevices parses ANDROIDTV_DEVICES format:
// "name:host:port:class,name2:host2:port2" (port and class optional).
func parseAndroidDevices(s string) ([]AndroidDeviceConfig, error) {
	if s == "" {
		return nil, nil
	}
	var devices []AndroidDeviceConfig
	for _, entry := range strings.Split(s, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid ANDROIDTV_DEVICES entry %q", entry)
		}
		dev := AndroidDeviceConfig{
			Name: strings.TrimSpace(parts[0]),
			Host: strings.TrimSpace(parts[1]),
			Port: 5555,
		}
		if len(parts) > 2 && parts[2] != "" {
			port, err := strconv.Atoi(strings.TrimSpace(parts[2]))
			if err != nil {
				return nil, fmt.Errorf("invalid port in ANDROIDTV_DEVICES entry %q", entry)
			}
			dev.Port = port
		}
		if len(parts) > 3 {
			dev.Class = strings.TrimSpace(parts[3])
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// parseSamsungTVs parses SAMSUNG_TVS format:
// "name:host:port:mac,name2:host2" (port and mac optional).
func parseSamsungTVs(s string) ([]SamsungTVConfig, error) {
	if s == "" {
		return nil, nil
	}
	var tvs []SamsungTVConfig
	for _, entry := range strings.Split(s, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid SAMSUNG_TVS entry %q", entry)
		}
		tv := SamsungTVConfig{
			Name: strings.TrimSpace(parts[0]),
			Host: strings.TrimSpace(parts[1]),
			Port: 8001,
		}
		if len(parts) > 2 && parts[2] != "" {
			port, err := strconv.Atoi(strings.TrimSpace(parts[2]))
			if err != nil {
				return nil, fmt.Errorf("invalid port in SAMSUNG_TVS entry %q", entry)
			}
			tv.Port = port
		}
		if len(parts) > 3 {
			// MAC was split on its own colons, stitch it back together
			tv.MAC = strings.Join(parts[3:], ":")
		}
		tvs = append(tvs, tv)
	}
	return tvs, nil
}

func parseJSONMap(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("invalid JSON map: %w", err)
	}
	return m, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}
