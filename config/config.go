package config

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Browser  BrowserConfig
	Fetch    FetchConfig
	DingTalk DingTalkConfig
	Cache    CacheConfig
	Log      LogConfig
}

// ServerConfig controls the MCP (SSE) server and the status HTTP surface.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // MCP SSE port; default: 9090

	// StatusPort serves the gin health/status endpoints. 0 disables it.
	StatusPort int // default: 9091

	Mode string // gin mode: "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true on Linux, false elsewhere

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: true on Linux

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// UserDataDir pins the browser profile so login cookies survive restarts.
	UserDataDir string
}

// FetchConfig controls the listing fetch and detail pipeline.
type FetchConfig struct {
	// DetailSessions is the detail pipeline's session pool capacity.
	DetailSessions int // default: 3

	// LoginWait is the ceiling for the QR login poll.
	LoginWait time.Duration // default: 30s

	// LoginPoll is the QR login poll cadence.
	LoginPoll time.Duration // default: 1s

	// CaptureTimeout bounds the wait for the intercepted search exchange.
	CaptureTimeout time.Duration // default: 5s

	// ReplayTimeout bounds the replayed search POST.
	ReplayTimeout time.Duration // default: 3s

	// ElementTimeout bounds individual DOM probes.
	ElementTimeout time.Duration // default: 5s

	// NavPerSecond paces detail-page navigations across the pool.
	NavPerSecond float64 // default: 2
}

// DingTalkConfig holds the operator notification channel settings.
type DingTalkConfig struct {
	// WebhookURL is the group robot webhook. Required.
	WebhookURL string

	// Secret is the robot signing secret; empty disables signing.
	Secret string
}

// CacheConfig controls the rendered-result cache.
type CacheConfig struct {
	// TTL is how long a rendered result stays fresh. 0 disables caching.
	TTL time.Duration // default: 5m

	// MaxEntries is the maximum number of cached results.
	MaxEntries int // default: 128
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "text"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       envOr("REDNOTE_HOST", "0.0.0.0"),
			Port:       envIntOr("REDNOTE_PORT", 9090),
			StatusPort: envIntOr("REDNOTE_STATUS_PORT", 9091),
			Mode:       envOr("REDNOTE_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:    envBoolOr("REDNOTE_HEADLESS", runningOnLinux()),
			NoSandbox:   envBoolOr("REDNOTE_NO_SANDBOX", runningOnLinux()),
			BrowserBin:  os.Getenv("REDNOTE_BROWSER_BIN"),
			UserDataDir: os.Getenv("REDNOTE_USER_DATA_DIR"),
		},
		Fetch: FetchConfig{
			DetailSessions: envIntOr("REDNOTE_DETAIL_SESSIONS", 3),
			LoginWait:      envDurationOr("REDNOTE_LOGIN_WAIT", 30*time.Second),
			LoginPoll:      envDurationOr("REDNOTE_LOGIN_POLL", time.Second),
			CaptureTimeout: envDurationOr("REDNOTE_CAPTURE_TIMEOUT", 5*time.Second),
			ReplayTimeout:  envDurationOr("REDNOTE_REPLAY_TIMEOUT", 3*time.Second),
			ElementTimeout: envDurationOr("REDNOTE_ELEMENT_TIMEOUT", 5*time.Second),
			NavPerSecond:   envFloatOr("REDNOTE_NAV_RATE", 2.0),
		},
		DingTalk: DingTalkConfig{
			WebhookURL: os.Getenv("DINGTALK_WEBHOOK_URI"),
			Secret:     os.Getenv("DINGTALK_SECRET"),
		},
		Cache: CacheConfig{
			TTL:        envDurationOr("REDNOTE_CACHE_TTL", 5*time.Minute),
			MaxEntries: envIntOr("REDNOTE_CACHE_MAX_ENTRIES", 128),
		},
		Log: LogConfig{
			Level:  envOr("REDNOTE_LOG_LEVEL", "info"),
			Format: envOr("REDNOTE_LOG_FORMAT", "text"),
		},
	}
}

func runningOnLinux() bool {
	return runtime.GOOS == "linux"
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
