package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration
type Config struct {
	Host           string
	Port           int
	DefaultTimeout int // seconds, per upstream call
	MaxRetries     int // total attempts per upstream call
	ProxyURL       string
	RateLimit      string // upstream request rate, e.g. "10/s"
	CacheTTL       int    // seconds, default for generic cache entries
	DefaultQuality string

	// Default application identity used for token refresh when a request
	// does not carry its own client id/secret.
	ClientID     string
	ClientSecret string

	// Logging configuration
	LogLevel    string
	EnableDebug bool
	QuietMode   bool
	LogFile     string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           5000,
		DefaultTimeout: 30,
		MaxRetries:     3,
		CacheTTL:       3600,
		DefaultQuality: "AUTO_480",

		LogLevel:    "info",
		EnableDebug: false,
		QuietMode:   false,
		LogFile:     "", // Empty means stderr
	}
}

// LoadFromEnv loads configuration from environment variables. PANPLAY_*
// variables win over the bare HOST/PORT/DEBUG names.
func (c *Config) LoadFromEnv() {
	if host := firstEnv("PANPLAY_HOST", "HOST"); host != "" {
		c.Host = host
	}

	if port := firstEnv("PANPLAY_PORT", "PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 && p < 65536 {
			c.Port = p
		}
	}

	if timeout := os.Getenv("PANPLAY_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil && t > 0 {
			c.DefaultTimeout = t
		}
	}

	if retries := os.Getenv("PANPLAY_MAX_RETRIES"); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil && r > 0 {
			c.MaxRetries = r
		}
	}

	if ttl := os.Getenv("PANPLAY_CACHE_TTL"); ttl != "" {
		if t, err := strconv.Atoi(ttl); err == nil && t > 0 {
			c.CacheTTL = t
		}
	}

	if proxy := os.Getenv("PANPLAY_PROXY"); proxy != "" {
		c.ProxyURL = proxy
	}

	if rate := os.Getenv("PANPLAY_RATE_LIMIT"); rate != "" {
		c.RateLimit = rate
	}

	if quality := os.Getenv("PANPLAY_DEFAULT_QUALITY"); quality != "" {
		c.DefaultQuality = quality
	}

	if id := os.Getenv("PANPLAY_CLIENT_ID"); id != "" {
		c.ClientID = id
	}

	if secret := os.Getenv("PANPLAY_CLIENT_SECRET"); secret != "" {
		c.ClientSecret = secret
	}

	if logLevel := os.Getenv("PANPLAY_LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}

	if debug := firstEnv("PANPLAY_DEBUG", "DEBUG"); debug != "" {
		c.EnableDebug = parseBool(debug)
	}

	if quiet := os.Getenv("PANPLAY_QUIET"); quiet != "" {
		c.QuietMode = parseBool(quiet)
	}

	if logFile := os.Getenv("PANPLAY_LOG_FILE"); logFile != "" {
		c.LogFile = logFile
	}
}

// GetEnvWithDefault returns environment variable value or default
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

func parseBool(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	return v == "true" || v == "1" || v == "yes"
}

// Addr returns the host:port the HTTP front end listens on
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ValidateConfig validates the configuration values
func (c *Config) ValidateConfig() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}

	if c.DefaultTimeout < 1 {
		return fmt.Errorf("invalid default timeout: %d (must be > 0)", c.DefaultTimeout)
	}

	if c.MaxRetries < 1 {
		return fmt.Errorf("invalid max retries: %d (must be >= 1)", c.MaxRetries)
	}

	if c.CacheTTL < 1 {
		return fmt.Errorf("invalid cache ttl: %d (must be > 0)", c.CacheTTL)
	}

	if c.DefaultQuality == "" {
		return fmt.Errorf("default quality cannot be empty")
	}

	if c.ClientSecret != "" && c.ClientID == "" {
		return fmt.Errorf("client secret set without client id")
	}

	return nil
}
