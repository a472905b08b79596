package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultProfile: "work",
		Server:         Server{BaseURL: "https://support.example.com"},
		Connection: Connection{
			BaseDelay:   duration{500 * time.Millisecond},
			MaxAttempts: 4,
		},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Server.BaseURL != "https://support.example.com" {
		t.Errorf("BaseURL = %q", loaded.Server.BaseURL)
	}
	if loaded.Connection.BaseDelay.Duration != 500*time.Millisecond {
		t.Errorf("BaseDelay = %v", loaded.Connection.BaseDelay.Duration)
	}
	if loaded.Connection.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d", loaded.Connection.MaxAttempts)
	}
}

func TestLoadMissingUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.BaseURL != DefaultServerURL {
		t.Errorf("BaseURL = %q, want default", cfg.Server.BaseURL)
	}
	if cfg.Server.ChannelURL != "ws://localhost:3000/chat" {
		t.Errorf("ChannelURL = %q", cfg.Server.ChannelURL)
	}
}

func TestDeriveChannelURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://support.example.com", "wss://support.example.com/chat"},
		{"http://localhost:3000", "ws://localhost:3000/chat"},
	}
	for _, tt := range tests {
		if got := deriveChannelURL(tt.base); got != tt.want {
			t.Errorf("deriveChannelURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SUPCHAT_SERVER_URL", "https://override.example.com")
	t.Setenv("SUPCHAT_MAX_ATTEMPTS", "7")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.BaseURL != "https://override.example.com" {
		t.Errorf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Connection.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d", cfg.Connection.MaxAttempts)
	}
	if cfg.Server.ChannelURL != "wss://override.example.com/chat" {
		t.Errorf("ChannelURL = %q", cfg.Server.ChannelURL)
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
