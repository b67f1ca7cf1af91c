package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.BackendURL != "http://localhost:3001" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.WebSocketURL != "ws://localhost:3001/ws" {
		t.Errorf("WebSocketURL = %q", cfg.WebSocketURL)
	}
	if cfg.ProjectSource != "car-market-client" {
		t.Errorf("ProjectSource = %q", cfg.ProjectSource)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.ReconnectMaxAttempts != 10 {
		t.Errorf("ReconnectMaxAttempts = %d", cfg.ReconnectMaxAttempts)
	}
	if !cfg.SoundEnabled {
		t.Error("SoundEnabled should default to true")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("CHAT_BACKEND_URL", "https://chat.primeautohub.ru")
	t.Setenv("CHAT_POLL_INTERVAL", "2s")
	t.Setenv("CHAT_RECONNECT_MAX_ATTEMPTS", "3")
	t.Setenv("CHAT_SOUND_ENABLED", "false")

	cfg := LoadConfig()
	if cfg.BackendURL != "https://chat.primeautohub.ru" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.ReconnectMaxAttempts != 3 {
		t.Errorf("ReconnectMaxAttempts = %d", cfg.ReconnectMaxAttempts)
	}
	if cfg.SoundEnabled {
		t.Error("SoundEnabled override ignored")
	}
}

func TestLoadConfigIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CHAT_POLL_INTERVAL", "often")
	t.Setenv("CHAT_RECONNECT_MAX_ATTEMPTS", "many")

	cfg := LoadConfig()
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("malformed duration should fall back, got %v", cfg.PollInterval)
	}
	if cfg.ReconnectMaxAttempts != 10 {
		t.Errorf("malformed int should fall back, got %d", cfg.ReconnectMaxAttempts)
	}
}

func TestLoadConfigFile(t *testing.T) {
	yaml := strings.NewReader("backend_url: http://10.0.0.5:3001\nproject_source: showroom-kiosk\n")

	cfg := LoadConfig()
	if err := LoadConfigFile(yaml, cfg); err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.BackendURL != "http://10.0.0.5:3001" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.ProjectSource != "showroom-kiosk" {
		t.Errorf("ProjectSource = %q", cfg.ProjectSource)
	}
	// Untouched fields keep their previous values.
	if cfg.WebSocketURL != "ws://localhost:3001/ws" {
		t.Errorf("WebSocketURL = %q", cfg.WebSocketURL)
	}
}