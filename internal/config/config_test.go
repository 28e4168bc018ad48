package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromDirMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFromDir(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFromDir failed: %v", err)
	}
	if cfg.Server.Port != 10000 {
		t.Errorf("default port = %d, want 10000", cfg.Server.Port)
	}
	if cfg.P2P.AnnounceTopic != "p2p-file-demo/files" {
		t.Errorf("default topic = %s", cfg.P2P.AnnounceTopic)
	}
	if cfg.Dial.MaxRetries != 3 {
		t.Errorf("default maxRetries = %d, want 3", cfg.Dial.MaxRetries)
	}
}

func TestLoadFromDirParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
[server]
port = 12345

[dial]
maxRetries = 5
baseBackoff = "250ms"

[behavior]
verbosity = 2
`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir failed: %v", err)
	}
	if cfg.Server.Port != 12345 {
		t.Errorf("port = %d, want 12345", cfg.Server.Port)
	}
	if cfg.Dial.MaxRetries != 5 {
		t.Errorf("maxRetries = %d, want 5", cfg.Dial.MaxRetries)
	}
	if cfg.Dial.BaseBackoff.Duration != 250*time.Millisecond {
		t.Errorf("baseBackoff = %v, want 250ms", cfg.Dial.BaseBackoff.Duration)
	}
	if cfg.Behavior.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", cfg.Behavior.Verbosity)
	}
	// Untouched sections keep their defaults
	if cfg.Dial.MaxBackoff.Duration != 30*time.Second {
		t.Errorf("maxBackoff = %v, want default 30s", cfg.Dial.MaxBackoff.Duration)
	}
}

func TestMergeFlagsTakePrecedence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Merge(8080, 3)
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Behavior.Verbosity != 3 {
		t.Errorf("verbosity = %d, want 3", cfg.Behavior.Verbosity)
	}

	// Zero flags leave config values alone
	cfg.Merge(0, 0)
	if cfg.Server.Port != 8080 || cfg.Behavior.Verbosity != 3 {
		t.Error("zero-valued flags must not reset configuration")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	bad := DefaultConfig()
	bad.Server.Port = 70000
	if err := bad.Validate(); err == nil {
		t.Error("out-of-range port should fail validation")
	}

	bad = DefaultConfig()
	bad.P2P.AnnounceTopic = ""
	if err := bad.Validate(); err == nil {
		t.Error("empty announce topic should fail validation")
	}

	bad = DefaultConfig()
	bad.Dial.MaxRetries = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero maxRetries should fail validation")
	}
}
