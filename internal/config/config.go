package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every configuration section of the service.
type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	Hub      HubConfig
	Auth     AuthConfig
	Store    StoreConfig
	Notify   NotifyConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	upstream, err := loadUpstreamConfig()
	if err != nil {
		return nil, err
	}

	hub, err := loadHubConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Upstream: upstream,
		Hub:      hub,
		Auth:     auth,
		Store:    StoreConfig{Path: getEnvOrDefault("STORE_PATH", "data/state.db")},
		Notify:   NotifyConfig{WebhookURL: strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_URL"))},
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// UpstreamConfig describes the session API of record.
type UpstreamConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Enabled reports whether the required upstream settings are present.
func (c UpstreamConfig) Enabled() bool {
	return c.BaseURL != "" && c.Token != ""
}

func loadUpstreamConfig() (UpstreamConfig, error) {
	timeout, err := parseOptionalDurationEnv("UPSTREAM_TIMEOUT")
	if err != nil {
		return UpstreamConfig{}, err
	}
	t := 10 * time.Second
	if timeout != nil {
		t = *timeout
	}

	return UpstreamConfig{
		BaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("UPSTREAM_BASE_URL")), "/"),
		Token:   strings.TrimSpace(os.Getenv("UPSTREAM_API_TOKEN")),
		Timeout: t,
	}, nil
}

// HubConfig describes the poll/heartbeat cadence and the per-connection
// backpressure budget.
type HubConfig struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	MaxBufferedBytes  int64
}

func loadHubConfig() (HubConfig, error) {
	poll, err := parseOptionalDurationEnv("HUB_POLL_INTERVAL")
	if err != nil {
		return HubConfig{}, err
	}
	heartbeat, err := parseOptionalDurationEnv("HUB_HEARTBEAT_INTERVAL")
	if err != nil {
		return HubConfig{}, err
	}
	maxBuffered, err := parseOptionalIntEnv("HUB_MAX_BUFFERED_BYTES")
	if err != nil {
		return HubConfig{}, err
	}

	cfg := HubConfig{
		PollInterval:      5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxBufferedBytes:  256 << 10,
	}
	if poll != nil {
		cfg.PollInterval = *poll
	}
	if heartbeat != nil {
		cfg.HeartbeatInterval = *heartbeat
	}
	if maxBuffered != nil {
		cfg.MaxBufferedBytes = int64(*maxBuffered)
	}
	return cfg, nil
}

// AuthConfig describes stream admission: shared secret, optional source
// allowlist and the per-source rate ceiling.
type AuthConfig struct {
	StreamSecret    string
	AllowedPrefixes []string
	RateWindow      time.Duration
	RateMax         int
}

func loadAuthConfig() (AuthConfig, error) {
	window, err := parseOptionalDurationEnv("AUTH_RATE_WINDOW")
	if err != nil {
		return AuthConfig{}, err
	}
	ceiling, err := parseOptionalIntEnv("AUTH_RATE_MAX")
	if err != nil {
		return AuthConfig{}, err
	}

	cfg := AuthConfig{
		StreamSecret: strings.TrimSpace(os.Getenv("AUTH_STREAM_SECRET")),
		RateWindow:   time.Minute,
		RateMax:      20,
	}
	if raw := strings.TrimSpace(os.Getenv("AUTH_ALLOWED_PREFIXES")); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.AllowedPrefixes = append(cfg.AllowedPrefixes, p)
			}
		}
	}
	if window != nil {
		cfg.RateWindow = *window
	}
	if ceiling != nil {
		cfg.RateMax = *ceiling
	}
	return cfg, nil
}

// StoreConfig describes the durable snapshot location.
type StoreConfig struct {
	Path string
}

// NotifyConfig describes the outbound webhook.
type NotifyConfig struct {
	WebhookURL string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
