package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	StateDSN       string
	AllowedOrigins string
	BodyLimitBytes int

	RateLimitMax    int
	RateLimitWindow time.Duration

	// JWTSecret signs admin tokens; ADMIN_PASSWORD_HASH is a bcrypt hash.
	JWTSecret         string
	AdminPasswordHash string

	PublicBaseURL  string
	AdNetworkURL   string
	CallbackSecret string
	FrontendURL    string

	LogLevel  string
	LogFormat string
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env file", "error", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (*Config, error) {
	// Default body limit is small: callbacks and unlock requests are tiny.
	bodyLimit := envInt("BODY_LIMIT_BYTES", 0)
	if bodyLimit <= 0 {
		bodyLimit = envInt("BODY_LIMIT_MB", 1) * 1024 * 1024
	}

	// Prefer JWT_SECRET_KEY, fallback to JWT_SECRET
	secret := os.Getenv("JWT_SECRET_KEY")
	if strings.TrimSpace(secret) == "" {
		secret = os.Getenv("JWT_SECRET")
	}

	cfg := &Config{
		Port:              envString("PORT", "8080"),
		StateDSN:          envString("STATE_DSN", "file://./data/state.json"),
		AllowedOrigins:    envString("ALLOWED_ORIGINS", "*"),
		BodyLimitBytes:    bodyLimit,
		RateLimitMax:      envInt("RATE_LIMIT_MAX", 60),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		JWTSecret:         strings.TrimSpace(secret),
		AdminPasswordHash: strings.TrimSpace(os.Getenv("ADMIN_PASSWORD_HASH")),
		PublicBaseURL:     envString("PUBLIC_BASE_URL", "http://localhost:8080"),
		AdNetworkURL:      strings.TrimSpace(os.Getenv("AD_NETWORK_URL")),
		CallbackSecret:    strings.TrimSpace(os.Getenv("CALLBACK_SECRET")),
		FrontendURL:       strings.TrimSpace(os.Getenv("FRONTEND_URL")),
		LogLevel:          envString("LOG_LEVEL", "info"),
		LogFormat:         envString("LOG_FORMAT", "json"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	if c.RateLimitMax <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be positive")
	}
	if _, err := url.ParseRequestURI(c.PublicBaseURL); err != nil {
		return fmt.Errorf("PUBLIC_BASE_URL: %w", err)
	}
	if c.FrontendURL != "" {
		if _, err := url.ParseRequestURI(c.FrontendURL); err != nil {
			return fmt.Errorf("FRONTEND_URL: %w", err)
		}
	}
	return nil
}

// AdminEnabled reports whether the admin surface can issue tokens.
func (c *Config) AdminEnabled() bool {
	return c.JWTSecret != "" && c.AdminPasswordHash != ""
}

// envInt reads an int env var with a default fallback.
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
