package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the top-level client configuration.
type Config struct {
	Backend BackendConfig `json:"backend"`
	DataDir string        `json:"data_dir"`
	Resync  ResyncConfig  `json:"resync"`
	Channel ChannelConfig `json:"channel"`
}

// BackendConfig locates the service-desk backend.
type BackendConfig struct {
	// BaseURL is the HTTPS origin, e.g. "https://desk.example.com".
	BaseURL string `json:"base_url"`
	// WSURL is the websocket origin. Derived from BaseURL when empty.
	WSURL string `json:"ws_url,omitempty"`
}

// ResyncConfig tunes the periodic full resync job.
type ResyncConfig struct {
	// Schedule is a cron expression or a predefined schedule like
	// @every 10m. Empty disables the job.
	Schedule string `json:"schedule,omitempty"`
}

// ChannelConfig tunes websocket reconnection.
type ChannelConfig struct {
	BaseDelaySeconds int `json:"base_delay_seconds,omitempty"` // default 2
	MaxAttempts      int `json:"max_attempts,omitempty"`       // default 5
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with DESK_
// prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Backend: BackendConfig{
			BaseURL: os.Getenv("DESK_BASE_URL"),
			WSURL:   os.Getenv("DESK_WS_URL"),
		},
		DataDir: getenv("DESK_DATA_DIR", defaultDataDir()),
		Resync: ResyncConfig{
			Schedule: getenv("DESK_RESYNC_SCHEDULE", "@every 10m"),
		},
		Channel: ChannelConfig{
			BaseDelaySeconds: getenvInt("DESK_CHANNEL_BASE_DELAY", 0),
			MaxAttempts:      getenvInt("DESK_CHANNEL_MAX_ATTEMPTS", 0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and fills derivable ones.
func (c *Config) Validate() error {
	var errs []string

	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	}
	if c.DataDir == "" {
		errs = append(errs, "data_dir is required")
	}
	if c.Channel.BaseDelaySeconds < 0 {
		errs = append(errs, "channel.base_delay_seconds must not be negative")
	}
	if c.Channel.MaxAttempts < 0 {
		errs = append(errs, "channel.max_attempts must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	if c.Backend.WSURL == "" {
		c.Backend.WSURL = deriveWSURL(c.Backend.BaseURL)
	}
	return nil
}

// deriveWSURL maps an HTTP origin onto the matching websocket origin.
func deriveWSURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".deskd")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
