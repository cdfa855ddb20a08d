// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	SessionTTL  time.Duration
	Chat        ChatConfig
	Mock        MockConfig
}

// ChatConfig controls the remote chat backend and the conversation manager.
type ChatConfig struct {
	APIURL         string
	APIToken       string
	Provider       string
	Model          string
	RequestTimeout time.Duration
	RateLimitGrace time.Duration
	SlowNotice     time.Duration
	// MockAPI marks backend answers as pre-sanitized.
	MockAPI    bool
	BotName    string
	BotAvatar  string
	UserAvatar string
}

// MockConfig controls the bundled mock chat backend.
type MockConfig struct {
	Port              string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	SlowDelay         time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/meshchat.db"),
		SessionTTL:  getEnvDuration("SESSION_TTL", 60*time.Minute),
		Chat: ChatConfig{
			APIURL:         getEnv("CHAT_API_URL", "http://localhost:8081"),
			APIToken:       getEnv("CHAT_API_TOKEN", ""),
			Provider:       getEnv("CHAT_PROVIDER", "openai"),
			Model:          getEnv("CHAT_MODEL", "gpt-4o-mini"),
			RequestTimeout: getEnvDuration("CHAT_REQUEST_TIMEOUT", 60*time.Second),
			RateLimitGrace: getEnvDuration("CHAT_RATE_LIMIT_GRACE", 3*time.Second),
			SlowNotice:     getEnvDuration("CHAT_SLOW_NOTICE", 0),
			MockAPI:        getEnvBool("MOCK_API", false),
			BotName:        getEnv("CHAT_BOT_NAME", "Kiali AI"),
			BotAvatar:      getEnv("CHAT_BOT_AVATAR", "/static/img/kiali-ai.svg"),
			UserAvatar:     getEnv("CHAT_USER_AVATAR", "/static/img/user.svg"),
		},
		Mock: MockConfig{
			Port:              getEnv("MOCK_PORT", "8081"),
			RateLimitRequests: getEnvInt("MOCK_RATE_LIMIT_REQUESTS", 10),
			RateLimitWindow:   getEnvDuration("MOCK_RATE_LIMIT_WINDOW", time.Minute),
			SlowDelay:         getEnvDuration("MOCK_SLOW_DELAY", 2*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be > 0")
	}
	if c.Chat.APIURL == "" {
		return errors.New("CHAT_API_URL cannot be empty")
	}
	if u, err := url.Parse(c.Chat.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("CHAT_API_URL must be an absolute URL, got %q", c.Chat.APIURL)
	}
	if c.Chat.Provider == "" || c.Chat.Model == "" {
		return errors.New("CHAT_PROVIDER and CHAT_MODEL cannot be empty")
	}
	if c.Chat.RequestTimeout <= 0 {
		return errors.New("CHAT_REQUEST_TIMEOUT must be > 0")
	}
	if c.Chat.RateLimitGrace < 0 {
		return errors.New("CHAT_RATE_LIMIT_GRACE cannot be negative")
	}
	if c.Chat.SlowNotice < 0 {
		return errors.New("CHAT_SLOW_NOTICE cannot be negative")
	}
	if c.Mock.RateLimitRequests < 0 {
		return errors.New("MOCK_RATE_LIMIT_REQUESTS cannot be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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

// getEnvDuration accepts Go duration strings or a plain number of milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
