package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Scraper   ScraperConfig
	LLM       LLMConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
	Engine    EngineConfig
	Jobs      JobsConfig
}

// EngineConfig controls the multi-engine racing dispatcher used by
// fetch mode "auto".
type EngineConfig struct {
	// EscalationDelays is the staged start delay for each engine tier
	// (http, rod, rod-stealth).
	EscalationDelays []time.Duration // default: [0s, 2s, 5s]

	// HTTPTimeout is the deadline for the pure HTTP engine inside a race.
	HTTPTimeout time.Duration // default: 10s

	// DomainMemoryTTL is how long a winning engine is remembered per domain.
	DomainMemoryTTL time.Duration // default: 1h

	// UserAgent is sent by the HTTP engine.
	UserAgent string
}

// CacheConfig controls the selector cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached selector maps.
	MaxEntries int // default: 1000

	// TTL expires cached selectors; 0 keeps them for the process lifetime.
	TTL time.Duration // default: 24h
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxPages is the page pool capacity (max concurrent tabs).
	MaxPages int // default: 10

	// DefaultProxy is the proxy URL for all browser requests.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// ControlURL connects to an already running browser instead of launching one.
	ControlURL string
}

// ScraperConfig controls scrape runs.
type ScraperConfig struct {
	// PageTimeout is the per-page fetch deadline.
	PageTimeout time.Duration // default: 30s

	// MaxTimeout caps PageTimeout requested by API clients.
	MaxTimeout time.Duration // default: 120s

	// MaxPages is the default listing page cap per run.
	MaxPages int // default: 50

	// MaxConcurrent is the default cap on in-flight fetches per run.
	MaxConcurrent int // default: 5

	// RequestDelay is the minimum spacing between fetch starts; 0 disables it.
	RequestDelay time.Duration // default: 0

	// FetchMode is the default fetch strategy: "http", "browser" or "auto".
	FetchMode string // default: "auto"

	// BlockedResourceTypes lists resource types the browser does not load.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string

	// ScrollForLazyLoad scrolls rendered pages to trigger lazy content.
	ScrollForLazyLoad bool // default: true
}

// LLMConfig controls selector inference.
type LLMConfig struct {
	APIKey  string
	Model   string // default: "gpt-4o-mini"
	BaseURL string // default: "https://api.openai.com/v1"

	// SampleTokens caps the estimated size of the page sketch sent to the model.
	SampleTokens int // default: 6000

	// Timeout bounds one inference call.
	Timeout time.Duration // default: 90s
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 1

	// Burst is the maximum burst size per API key.
	Burst int // default: 5
}

// JobsConfig controls asynchronous jobs.
type JobsConfig struct {
	// TTL is how long finished jobs stay retrievable.
	TTL time.Duration // default: 1h

	// MaxRunning caps concurrently running jobs.
	MaxRunning int // default: 4
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// envFiles are loaded, when present, before reading the environment.
var envFiles = []string{".env", ".env.local"}

// LoadEnv loads variables from local .env files without overriding
// variables already set in the process environment.
func LoadEnv() {
	loaded := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			slog.Warn("failed to load env file", "file", file, "error", err)
			continue
		}
		loaded = append(loaded, file)
	}
	if len(loaded) > 0 {
		slog.Debug("loaded env files", "files", strings.Join(loaded, ", "))
	}
}

// Load reads configuration from .env files and environment variables with
// sane defaults.
func Load() *Config {
	LoadEnv()

	return &Config{
		Server: ServerConfig{
			Host: envOr("DIRSCRAPE_HOST", "0.0.0.0"),
			Port: envIntOr("DIRSCRAPE_PORT", 8080),
			Mode: envOr("DIRSCRAPE_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:     envBoolOr("DIRSCRAPE_HEADLESS", true),
			MaxPages:     envIntOr("DIRSCRAPE_BROWSER_PAGES", 10),
			DefaultProxy: os.Getenv("DIRSCRAPE_PROXY"),
			NoSandbox:    envBoolOr("DIRSCRAPE_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("DIRSCRAPE_BROWSER_BIN"),
			ControlURL:   os.Getenv("DIRSCRAPE_BROWSER_URL"),
		},
		Scraper: ScraperConfig{
			PageTimeout:   envDurationOr("DIRSCRAPE_PAGE_TIMEOUT", 30*time.Second),
			MaxTimeout:    envDurationOr("DIRSCRAPE_MAX_TIMEOUT", 120*time.Second),
			MaxPages:      envIntOr("DIRSCRAPE_MAX_PAGES", 50),
			MaxConcurrent: envIntOr("DIRSCRAPE_MAX_CONCURRENT", 5),
			RequestDelay:  envDurationOr("DIRSCRAPE_REQUEST_DELAY", 0),
			FetchMode:     envOr("DIRSCRAPE_FETCH_MODE", "auto"),
			BlockedResourceTypes: envSliceOr("DIRSCRAPE_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
			ScrollForLazyLoad: envBoolOr("DIRSCRAPE_LAZY_SCROLL", true),
		},
		LLM: LLMConfig{
			APIKey:       envOr("DIRSCRAPE_LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
			Model:        envOr("DIRSCRAPE_LLM_MODEL", "gpt-4o-mini"),
			BaseURL:      envOr("DIRSCRAPE_LLM_BASE_URL", "https://api.openai.com/v1"),
			SampleTokens: envIntOr("DIRSCRAPE_LLM_SAMPLE_TOKENS", 6000),
			Timeout:      envDurationOr("DIRSCRAPE_LLM_TIMEOUT", 90*time.Second),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("DIRSCRAPE_AUTH_ENABLED", true),
			APIKeys: envSliceOr("DIRSCRAPE_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("DIRSCRAPE_RATE_RPS", 1.0),
			Burst:             envIntOr("DIRSCRAPE_RATE_BURST", 5),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("DIRSCRAPE_CACHE_MAX_ENTRIES", 1000),
			TTL:        envDurationOr("DIRSCRAPE_CACHE_TTL", 24*time.Hour),
		},
		Log: LogConfig{
			Level:  envOr("DIRSCRAPE_LOG_LEVEL", "info"),
			Format: envOr("DIRSCRAPE_LOG_FORMAT", "json"),
		},
		Engine: EngineConfig{
			EscalationDelays: envDurationSliceOr("DIRSCRAPE_ESCALATION_DELAYS", []time.Duration{0, 2 * time.Second, 5 * time.Second}),
			HTTPTimeout:      envDurationOr("DIRSCRAPE_HTTP_TIMEOUT", 10*time.Second),
			DomainMemoryTTL:  envDurationOr("DIRSCRAPE_DOMAIN_MEMORY_TTL", time.Hour),
			UserAgent:        os.Getenv("DIRSCRAPE_USER_AGENT"),
		},
		Jobs: JobsConfig{
			TTL:        envDurationOr("DIRSCRAPE_JOB_TTL", time.Hour),
			MaxRunning: envIntOr("DIRSCRAPE_MAX_JOBS", 4),
		},
	}
}

// ParseLevel maps a level name to slog.Level; unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func envDurationSliceOr(key string, fallback []time.Duration) []time.Duration {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]time.Duration, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				if d, err := time.ParseDuration(trimmed); err == nil {
					result = append(result, d)
				}
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
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

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
