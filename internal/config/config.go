// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	DBPath          string
	WebhookURL      string // external workflow engine; empty disables dispatch
	CallbackBaseURL string // base URL the engine reports back to
	DefaultPath     string // working directory assigned to new sessions
	DispatchTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	port := getEnv("PORT", "8080")

	cfg := &Config{
		Port:            port,
		DBPath:          getEnv("DB_PATH", "./data/codecli.db"),
		WebhookURL:      getEnv("N8N_WEBHOOK_URL", ""),
		CallbackBaseURL: getEnv("CALLBACK_BASE_URL", "http://localhost:"+port),
		DefaultPath:     getEnv("DEFAULT_WORKSPACE_PATH", "/home/niceiyke"),
		DispatchTimeout: time.Duration(getEnvInt("DISPATCH_TIMEOUT_SECONDS", 5)) * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set. The
// webhook URL is intentionally optional: an empty value means outbound
// dispatch is disabled, not misconfigured.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.CallbackBaseURL == "" {
		return fmt.Errorf("CALLBACK_BASE_URL cannot be empty")
	}
	if c.DefaultPath == "" {
		return fmt.Errorf("DEFAULT_WORKSPACE_PATH cannot be empty")
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("DISPATCH_TIMEOUT_SECONDS must be > 0")
	}
	return nil
}

// DispatchEnabled returns true when an external workflow engine is configured.
func (c *Config) DispatchEnabled() bool {
	return c.WebhookURL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
