package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to validate, got %v", err)
	}

	if cfg.Session.IdleTimeout != DefaultSessionIdleTimeout {
		t.Errorf("Expected IdleTimeout %v, got %v", DefaultSessionIdleTimeout, cfg.Session.IdleTimeout)
	}
	if cfg.Review.DedupWindow != DefaultDedupWindow {
		t.Errorf("Expected DedupWindow %d, got %d", DefaultDedupWindow, cfg.Review.DedupWindow)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.HTTPAddr != Default().Server.HTTPAddr {
		t.Errorf("Expected HTTPAddr %s, got %s", Default().Server.HTTPAddr, cfg.Server.HTTPAddr)
	}
	if cfg.Review.Workers != DefaultWorkers {
		t.Errorf("Expected Workers %d, got %d", DefaultWorkers, cfg.Review.Workers)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviewd.yaml")
	content := `
server:
  http_addr: 127.0.0.1:9000
session:
  idle_timeout: 2m
  queue_size: 8
review:
  deadline: 15s
  dedup_window: 3
  fail_on: high
scanners:
  disabled: [semgrep]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("Expected HTTPAddr 127.0.0.1:9000, got %s", cfg.Server.HTTPAddr)
	}
	if cfg.Session.IdleTimeout != 2*time.Minute {
		t.Errorf("Expected IdleTimeout 2m, got %v", cfg.Session.IdleTimeout)
	}
	if cfg.Session.QueueSize != 8 {
		t.Errorf("Expected QueueSize 8, got %d", cfg.Session.QueueSize)
	}
	if cfg.Review.Deadline != 15*time.Second {
		t.Errorf("Expected Deadline 15s, got %v", cfg.Review.Deadline)
	}
	if cfg.Review.DedupWindow != 3 {
		t.Errorf("Expected DedupWindow 3, got %d", cfg.Review.DedupWindow)
	}
	if cfg.Review.FailOn != "high" {
		t.Errorf("Expected FailOn high, got %s", cfg.Review.FailOn)
	}
	if len(cfg.Scanners.Disabled) != 1 || cfg.Scanners.Disabled[0] != "semgrep" {
		t.Errorf("Expected disabled [semgrep], got %v", cfg.Scanners.Disabled)
	}
	// untouched sections keep defaults
	if cfg.Review.MaxInFlight != DefaultMaxInFlight {
		t.Errorf("Expected MaxInFlight %d, got %d", DefaultMaxInFlight, cfg.Review.MaxInFlight)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("REVIEWD_REVIEW_WORKERS", "9")
	t.Setenv("REVIEWD_SESSION_IDLE_TIMEOUT", "45s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Review.Workers != 9 {
		t.Errorf("Expected Workers 9, got %d", cfg.Review.Workers)
	}
	if cfg.Session.IdleTimeout != 45*time.Second {
		t.Errorf("Expected IdleTimeout 45s, got %v", cfg.Session.IdleTimeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Review.Workers = 0 }},
		{"zero queue", func(c *Config) { c.Session.QueueSize = 0 }},
		{"bad fail_on", func(c *Config) { c.Review.FailOn = "severe" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad addr", func(c *Config) { c.Server.HTTPAddr = "nope" }},
		{"negative window", func(c *Config) { c.Review.DedupWindow = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestRunDirPaths(t *testing.T) {
	cfg := Default()
	cfg.Lifecycle.RunDir = "/tmp/run"

	if got := cfg.LockPath(); got != filepath.Join("/tmp/run", "reviewd.lock") {
		t.Errorf("Unexpected lock path %s", got)
	}
	if got := cfg.PIDPath(); got != filepath.Join("/tmp/run", "reviewd.pid") {
		t.Errorf("Unexpected pid path %s", got)
	}
}
