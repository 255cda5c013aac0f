package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the tracking monitor.
type Config struct {
	// CDP connection settings
	CDPAddress   string
	CDPPort      int
	TabURLFilter string

	// Browser launch
	LaunchBrowser bool
	BrowserPath   string
	ProfileDir    string
	Headless      bool

	// Storage settings
	DataDir        string
	SafeDBPath     string
	SeedFile       string
	SnapshotDir    string
	SnapshotKeep   int
	ExchangeLog    bool
	MaxFileSizeMB  int
	BufferSize     int
	OrphanCapacity int

	// Analysis timing
	SettleDelay      time.Duration
	NavigateDebounce time.Duration
	PairWindow       time.Duration
	CallTimeout      time.Duration

	// API
	BindAddr       string
	BindCandidates []string
	AutoFallback   bool

	// Notifications
	NtfyEndpoint string
	NtfyPass     int

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	dataDir := getEnvOrDefault("SHADOWTRACK_DATA_DIR", "./shadowtrack_data")
	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		TabURLFilter:     getEnvOrDefault("SHADOWTRACK_TAB_URL_FILTER", ""),
		LaunchBrowser:    getEnvBoolOrDefault("SHADOWTRACK_LAUNCH_BROWSER", false),
		BrowserPath:      getEnvOrDefault("SHADOWTRACK_BROWSER_PATH", ""),
		ProfileDir:       getEnvOrDefault("SHADOWTRACK_PROFILE_DIR", filepath.Join(dataDir, "profile")),
		Headless:         getEnvBoolOrDefault("SHADOWTRACK_HEADLESS", false),
		DataDir:          dataDir,
		SafeDBPath:       getEnvOrDefault("SHADOWTRACK_SAFE_DB", filepath.Join(dataDir, "safe_cookies.db")),
		SeedFile:         getEnvOrDefault("SHADOWTRACK_SEED_FILE", ""),
		SnapshotDir:      getEnvOrDefault("SHADOWTRACK_SNAPSHOT_DIR", filepath.Join(dataDir, "snapshots")),
		SnapshotKeep:     getEnvIntOrDefault("SHADOWTRACK_SNAPSHOT_KEEP", 500),
		ExchangeLog:      getEnvBoolOrDefault("SHADOWTRACK_EXCHANGE_LOG", true),
		MaxFileSizeMB:    getEnvIntOrDefault("SHADOWTRACK_MAX_FILE_SIZE_MB", 200),
		BufferSize:       getEnvIntOrDefault("SHADOWTRACK_BUFFER_SIZE", 5000),
		OrphanCapacity:   getEnvIntOrDefault("SHADOWTRACK_ORPHAN_CAPACITY", 256),
		SettleDelay:      getEnvMillisOrDefault("SHADOWTRACK_SETTLE_DELAY_MS", 10*time.Second),
		NavigateDebounce: getEnvMillisOrDefault("SHADOWTRACK_NAVIGATE_DEBOUNCE_MS", time.Second),
		PairWindow:       getEnvMillisOrDefault("SHADOWTRACK_PAIR_WINDOW_MS", 2*time.Second),
		CallTimeout:      getEnvMillisOrDefault("SHADOWTRACK_CALL_TIMEOUT_MS", 30*time.Second),
		BindAddr:         getEnvOrDefault("SHADOWTRACK_BIND_ADDR", "127.0.0.1:8190"),
		BindCandidates:   getEnvListOrDefault("SHADOWTRACK_BIND_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"}),
		AutoFallback:     getEnvBoolOrDefault("SHADOWTRACK_BIND_AUTO_FALLBACK", true),
		NtfyEndpoint:     getEnvOrDefault("SHADOWTRACK_NTFY_URL", ""),
		NtfyPass:         getEnvIntOrDefault("SHADOWTRACK_NTFY_PASS", 2),
		LogLevel:         strings.ToLower(getEnvOrDefault("SHADOWTRACK_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("SHADOWTRACK_LOG_FILE", "logs/shadowtrack.log"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the monitor cannot run with.
func (c *Config) Validate() error {
	if c.CDPPort <= 0 || c.CDPPort > 65535 {
		return fmt.Errorf("config: CHROMIUM_CDP_PORT out of range: %d", c.CDPPort)
	}
	if c.SettleDelay <= 0 {
		return fmt.Errorf("config: SHADOWTRACK_SETTLE_DELAY_MS must be positive")
	}
	if c.PairWindow <= 0 {
		return fmt.Errorf("config: SHADOWTRACK_PAIR_WINDOW_MS must be positive")
	}
	if c.NtfyPass < 1 || c.NtfyPass > 2 {
		return fmt.Errorf("config: SHADOWTRACK_NTFY_PASS must be 1 or 2, got %d", c.NtfyPass)
	}
	if c.SnapshotKeep < 0 {
		c.SnapshotKeep = 0
	}
	return nil
}

// GetCDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvMillisOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
