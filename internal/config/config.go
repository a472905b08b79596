package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Defaults applied when a field is absent from config.toml.
const (
	DefaultServerURL   = "http://localhost:3000"
	DefaultChannelPath = "/chat"
)

// Config represents the global ~/.supchat/config.toml.
type Config struct {
	DefaultProfile string     `toml:"default_profile"`
	Server         Server     `toml:"server"`
	Connection     Connection `toml:"connection"`
}

// Server holds the backend endpoints.
type Server struct {
	// BaseURL is the REST origin, e.g. https://support.example.com.
	BaseURL string `toml:"base_url"`
	// ChannelURL is the websocket endpoint. Empty derives it from BaseURL.
	ChannelURL string `toml:"channel_url"`
}

// Connection tunes the realtime channel.
type Connection struct {
	BaseDelay      duration `toml:"base_delay"`
	MaxAttempts    int      `toml:"max_attempts"`
	DedupTolerance duration `toml:"dedup_tolerance"`
}

// duration is a TOML-friendly time.Duration ("2s", "500ms").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load reads config from the given path, fills defaults, and applies
// environment overrides. A missing file yields the default config; a .env
// file in the working directory is honored when present.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: Server{BaseURL: DefaultServerURL},
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	_ = godotenv.Load()
	applyEnv(cfg)
	if cfg.Server.ChannelURL == "" {
		cfg.Server.ChannelURL = deriveChannelURL(cfg.Server.BaseURL)
	}
	return cfg, nil
}

// applyEnv overrides file values with SUPCHAT_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SUPCHAT_SERVER_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("SUPCHAT_CHANNEL_URL"); v != "" {
		cfg.Server.ChannelURL = v
	}
	if v := os.Getenv("SUPCHAT_PROFILE"); v != "" {
		cfg.DefaultProfile = v
	}
	if v := os.Getenv("SUPCHAT_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Connection.BaseDelay = duration{d}
		}
	}
	if v := os.Getenv("SUPCHAT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Connection.MaxAttempts = n
		}
	}
}

// deriveChannelURL maps an http(s) origin to its ws(s) chat endpoint.
func deriveChannelURL(baseURL string) string {
	switch {
	case len(baseURL) >= 8 && baseURL[:8] == "https://":
		return "wss://" + baseURL[8:] + DefaultChannelPath
	case len(baseURL) >= 7 && baseURL[:7] == "http://":
		return "ws://" + baseURL[7:] + DefaultChannelPath
	}
	return baseURL + DefaultChannelPath
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
