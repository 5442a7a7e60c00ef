package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.MaxAttempts != 3 {
		t.Errorf("expected max_attempts 3, got %d", cfg.MaxAttempts)
	}
	if cfg.BaseDelay != 2*time.Second {
		t.Errorf("expected base_delay 2s, got %v", cfg.BaseDelay)
	}
	if cfg.Debounce != 1500*time.Millisecond {
		t.Errorf("expected debounce 1.5s, got %v", cfg.Debounce)
	}
	if cfg.DataDir == "" {
		t.Error("expected a default data_dir")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldsync.yaml")
	content := `
remote_url: https://api.example.org
api_key: secret
max_attempts: 5
base_delay: 500ms
state_file: /run/net/state
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RemoteURL != "https://api.example.org" {
		t.Errorf("remote_url not loaded: %s", cfg.RemoteURL)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("max_attempts not loaded: %d", cfg.MaxAttempts)
	}
	if cfg.BaseDelay != 500*time.Millisecond {
		t.Errorf("base_delay not parsed: %v", cfg.BaseDelay)
	}
	if cfg.StateFile != "/run/net/state" {
		t.Errorf("state_file not loaded: %s", cfg.StateFile)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FIELDSYNC_REMOTE_URL", "https://env.example.org")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RemoteURL != "https://env.example.org" {
		t.Errorf("env override not applied: %s", cfg.RemoteURL)
	}
}

func TestValidateRejectsMissingRemote(t *testing.T) {
	cfg := &Config{MaxAttempts: 3}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing remote_url")
	}
}
