package internal

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Port != 5000 || config.Host != "0.0.0.0" {
		t.Errorf("unexpected listen address %s", config.Addr())
	}
	if config.DefaultQuality != "AUTO_480" {
		t.Errorf("unexpected default quality %q", config.DefaultQuality)
	}
	if err := config.ValidateConfig(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("PANPLAY_PORT", "8080")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PANPLAY_TIMEOUT", "12")
	t.Setenv("PANPLAY_MAX_RETRIES", "5")
	t.Setenv("PANPLAY_CACHE_TTL", "60")
	t.Setenv("PANPLAY_PROXY", "socks5://127.0.0.1:1080")
	t.Setenv("PANPLAY_RATE_LIMIT", "10/s")
	t.Setenv("PANPLAY_CLIENT_ID", "app")
	t.Setenv("PANPLAY_CLIENT_SECRET", "secret")
	t.Setenv("DEBUG", "yes")
	t.Setenv("PANPLAY_QUIET", "1")

	config := DefaultConfig()
	config.LoadFromEnv()

	if config.Addr() != "127.0.0.1:8080" {
		t.Errorf("PANPLAY_PORT must win over PORT, got %s", config.Addr())
	}
	if config.DefaultTimeout != 12 || config.MaxRetries != 5 || config.CacheTTL != 60 {
		t.Errorf("unexpected numeric settings %+v", config)
	}
	if config.ProxyURL != "socks5://127.0.0.1:1080" || config.RateLimit != "10/s" {
		t.Errorf("unexpected upstream settings %+v", config)
	}
	if config.ClientID != "app" || config.ClientSecret != "secret" {
		t.Errorf("unexpected application identity %q/%q", config.ClientID, config.ClientSecret)
	}
	if !config.EnableDebug || !config.QuietMode {
		t.Error("expected debug and quiet to be enabled")
	}
}

func TestLoadFromEnvIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("PANPLAY_PORT", "99999")
	t.Setenv("PANPLAY_TIMEOUT", "-1")
	t.Setenv("PANPLAY_MAX_RETRIES", "many")

	config := DefaultConfig()
	config.LoadFromEnv()

	defaults := DefaultConfig()
	if config.Port != defaults.Port || config.DefaultTimeout != defaults.DefaultTimeout || config.MaxRetries != defaults.MaxRetries {
		t.Errorf("invalid values must keep defaults, got %+v", config)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad_port", func(c *Config) { c.Port = 0 }},
		{"bad_timeout", func(c *Config) { c.DefaultTimeout = 0 }},
		{"bad_retries", func(c *Config) { c.MaxRetries = 0 }},
		{"bad_cache_ttl", func(c *Config) { c.CacheTTL = -5 }},
		{"empty_quality", func(c *Config) { c.DefaultQuality = "" }},
		{"secret_without_id", func(c *Config) { c.ClientSecret = "s" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			if err := config.ValidateConfig(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("PANPLAY_TEST_VALUE", "set")

	if got := GetEnvWithDefault("PANPLAY_TEST_VALUE", "default"); got != "set" {
		t.Errorf("expected set, got %q", got)
	}
	if got := GetEnvWithDefault("PANPLAY_TEST_UNSET", "default"); got != "default" {
		t.Errorf("expected default, got %q", got)
	}
}
