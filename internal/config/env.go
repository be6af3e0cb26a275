// Package config loads vrhostd's process-wide environment configuration,
// following the teacher's RequireEnv/GetEnv-with-defaults idiom.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"vrhostd/internal/settings"
)

// RuntimeConfig holds the environment-derived configuration for the
// process. Every var Load reads is optional: a missing or unparseable value
// falls back to its default.
type RuntimeConfig struct {
	// HTTP surface (see SPEC_FULL.md §2.3).
	HTTPAddr string

	// Discovery (spec.md §4.4).
	DiscoveryPort    int
	AutoTrustClients bool

	// Handshake (spec.md §4.5).
	ControlPort        int
	WebPort            int
	PreferredRefreshHz float64
	VideoScaleMode     settings.VideoScaleMode
	VideoScale         float64
	AbsoluteWidth      uint32
	AbsoluteHeight     uint32

	// Streaming supervisor (spec.md §4.6).
	StreamSetupTimeout time.Duration
	OnConnectScript    string
	OnDisconnectScript string
	ControllersEnabled bool
	TrackingRefOnly    bool
	GameAudioEnabled   bool
	MicrophoneEnabled  bool

	// Lifecycle loop (spec.md §4.7).
	CleanupPause           time.Duration
	RetryConnectMinInterval time.Duration
	ControlConnectRetryPause time.Duration

	// Keepalive (spec.md §5 Timeouts).
	KeepaliveInterval time.Duration

	// Session persistence (SPEC_FULL.md §4.9).
	SessionPath string

	// Event bus capacity (spec.md §4.2).
	EventBusCapacity int
}

// Load reads RuntimeConfig from the environment. Call after loading any
// .env file via godotenv in main().
func Load() (*RuntimeConfig, error) {
	cfg := &RuntimeConfig{
		HTTPAddr: GetEnv("VRHOSTD_HTTP_ADDR", ":8082"),

		DiscoveryPort:    GetEnvInt("VRHOSTD_DISCOVERY_PORT", 9943),
		AutoTrustClients: GetEnvBool("VRHOSTD_AUTO_TRUST_CLIENTS", false),

		ControlPort:        GetEnvInt("VRHOSTD_CONTROL_PORT", 9944),
		WebPort:            GetEnvInt("VRHOSTD_WEB_PORT", 8082),
		PreferredRefreshHz: GetEnvFloat("VRHOSTD_PREFERRED_REFRESH_HZ", 72),
		VideoScaleMode:     GetEnvVideoScaleMode("VRHOSTD_VIDEO_SCALE_MODE", settings.ScaleMode),
		VideoScale:         GetEnvFloat("VRHOSTD_VIDEO_SCALE", 1.0),
		AbsoluteWidth:      uint32(GetEnvInt("VRHOSTD_ABSOLUTE_WIDTH", 0)),
		AbsoluteHeight:     uint32(GetEnvInt("VRHOSTD_ABSOLUTE_HEIGHT", 0)),

		StreamSetupTimeout: GetEnvDuration("VRHOSTD_STREAM_SETUP_TIMEOUT", 5*time.Second),
		OnConnectScript:    GetEnv("VRHOSTD_ON_CONNECT_SCRIPT", ""),
		OnDisconnectScript: GetEnv("VRHOSTD_ON_DISCONNECT_SCRIPT", ""),
		ControllersEnabled: GetEnvBool("VRHOSTD_CONTROLLERS_ENABLED", true),
		TrackingRefOnly:    GetEnvBool("VRHOSTD_TRACKING_REF_ONLY", false),
		GameAudioEnabled:   GetEnvBool("VRHOSTD_GAME_AUDIO_ENABLED", false),
		MicrophoneEnabled:  GetEnvBool("VRHOSTD_MICROPHONE_ENABLED", false),

		CleanupPause:             GetEnvDuration("VRHOSTD_CLEANUP_PAUSE", 500*time.Millisecond),
		RetryConnectMinInterval:  GetEnvDuration("VRHOSTD_RETRY_CONNECT_MIN_INTERVAL", 1*time.Second),
		ControlConnectRetryPause: GetEnvDuration("VRHOSTD_CONTROL_CONNECT_RETRY_PAUSE", 500*time.Millisecond),

		KeepaliveInterval: GetEnvDuration("VRHOSTD_KEEPALIVE_INTERVAL", 1*time.Second),

		SessionPath: GetEnv("VRHOSTD_SESSION_PATH", "session.json"),

		EventBusCapacity: GetEnvInt("VRHOSTD_EVENT_BUS_CAPACITY", 256),
	}
	return cfg, nil
}

// RequireEnv returns the value of an environment variable, panicking with a
// descriptive message if it is unset — used only for vars with no sensible
// default.
func RequireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return v
}

// GetEnv returns the value of an environment variable or a default if unset.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetEnvInt returns an environment variable parsed as int, or a default.
func GetEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetEnvBool returns an environment variable parsed as bool, or a default.
func GetEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// GetEnvFloat returns an environment variable parsed as float64, or a default.
func GetEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// GetEnvVideoScaleMode returns an environment variable parsed as a
// settings.VideoScaleMode ("scale" or "absolute", case-insensitive), or a
// default if unset or unrecognized.
func GetEnvVideoScaleMode(key string, def settings.VideoScaleMode) settings.VideoScaleMode {
	switch strings.ToLower(os.Getenv(key)) {
	case "absolute":
		return settings.AbsoluteMode
	case "scale":
		return settings.ScaleMode
	default:
		return def
	}
}

// GetEnvDuration returns an environment variable parsed as a duration
// (e.g. "500ms", "5s"), or a default.
func GetEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
