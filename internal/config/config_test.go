package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.GetCDPURL(); got != "http://127.0.0.1:9220" {
		t.Fatalf("GetCDPURL() = %q; want http://127.0.0.1:9220", got)
	}
	if cfg.SettleDelay != 10*time.Second {
		t.Fatalf("SettleDelay = %v; want 10s", cfg.SettleDelay)
	}
	if cfg.SafeDBPath != filepath.Join("./shadowtrack_data", "safe_cookies.db") {
		t.Fatalf("SafeDBPath = %q", cfg.SafeDBPath)
	}
	if len(cfg.BindCandidates) != 3 {
		t.Fatalf("BindCandidates = %v; want 3 entries", cfg.BindCandidates)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHROMIUM_CDP_PORT", "9333")
	t.Setenv("SHADOWTRACK_DATA_DIR", "/var/lib/st")
	t.Setenv("SHADOWTRACK_SETTLE_DELAY_MS", "2500")
	t.Setenv("SHADOWTRACK_BIND_CANDIDATES", " 127.0.0.1:1 ,,127.0.0.1:2")
	t.Setenv("SHADOWTRACK_LOG_LEVEL", "DEBUG")
	t.Setenv("SHADOWTRACK_EXCHANGE_LOG", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CDPPort != 9333 {
		t.Fatalf("CDPPort = %d; want 9333", cfg.CDPPort)
	}
	if cfg.SettleDelay != 2500*time.Millisecond {
		t.Fatalf("SettleDelay = %v; want 2.5s", cfg.SettleDelay)
	}
	if cfg.SnapshotDir != filepath.Join("/var/lib/st", "snapshots") {
		t.Fatalf("SnapshotDir = %q", cfg.SnapshotDir)
	}
	if len(cfg.BindCandidates) != 2 || cfg.BindCandidates[1] != "127.0.0.1:2" {
		t.Fatalf("BindCandidates = %v", cfg.BindCandidates)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("SlogLevel() = %v; want debug", cfg.SlogLevel())
	}
	if cfg.ExchangeLog {
		t.Fatal("ExchangeLog = true; want false")
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHROMIUM_CDP_PORT", "not-a-port")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CDPPort != 9220 {
		t.Fatalf("CDPPort = %d; want default 9220", cfg.CDPPort)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.CDPPort = 70000 }},
		{"settle", func(c *Config) { c.SettleDelay = 0 }},
		{"pair window", func(c *Config) { c.PairWindow = -1 }},
		{"ntfy pass", func(c *Config) { c.NtfyPass = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{CDPPort: 9220, SettleDelay: time.Second, PairWindow: time.Second, NtfyPass: 2}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("Validate() error = nil; want error")
			}
		})
	}
}
