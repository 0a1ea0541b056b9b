package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default values for optional settings.
const (
	DefaultListenAddr    = ":8080"
	DefaultTimezone      = "America/Sao_Paulo"
	DefaultWindowDays    = 7
	DefaultHTTPTimeout   = 30 * time.Second
	DefaultPrimaryURL    = "https://api.groq.com/openai/v1"
	DefaultPrimaryModel  = "llama-3.1-8b-instant"
	DefaultFallbackModel = "gpt-4o-mini"
)

// LLMProvider holds the settings for one chat completion provider.
type LLMProvider struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
}

// Config holds the full application configuration, loaded from the
// environment. A .env file in the working directory is honored if present.
type Config struct {
	ListenAddr string
	BaseURL    string

	// Timezone is the fixed timezone context used when neither the caller
	// nor the target calendar declares one.
	Timezone string

	// WindowDays is the default look-ahead window for event searches.
	WindowDays int

	Google struct {
		ClientID     string
		ClientSecret string
		RedirectURL  string
	}

	// Primary and Fallback are tried in order for every chat completion.
	Primary  LLMProvider
	Fallback LLMProvider

	// CacheFile is the path of the persistent handshake cache.
	CacheFile string

	PrometheusEnabled bool
	LogLevel          string
	HTTPTimeout       time.Duration
}

// Load reads configuration from the environment, loading a .env file first
// if one exists.
func Load() (*Config, error) {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.ListenAddr = getenvDefault("CALENDAI_LISTEN_ADDR", DefaultListenAddr)
	cfg.BaseURL = getenvDefault("CALENDAI_BASE_URL", "http://localhost:8080")
	cfg.Timezone = getenvDefault("CALENDAI_TIMEZONE", DefaultTimezone)
	cfg.LogLevel = getenvDefault("CALENDAI_LOG_LEVEL", "info")
	cfg.CacheFile = getenvDefault("CALENDAI_CACHE_FILE",
		filepath.Join(os.TempDir(), "calendai_cache.json"))

	days := getenvDefault("CALENDAI_WINDOW_DAYS", "")
	if days == "" {
		cfg.WindowDays = DefaultWindowDays
	} else {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid CALENDAI_WINDOW_DAYS %q", days)
		}
		cfg.WindowDays = n
	}

	cfg.PrometheusEnabled = getenvDefault("CALENDAI_PROMETHEUS_ENABLED", "true") == "true"
	cfg.HTTPTimeout = DefaultHTTPTimeout
	if v := os.Getenv("CALENDAI_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CALENDAI_HTTP_TIMEOUT %q: %w", v, err)
		}
		cfg.HTTPTimeout = d
	}

	cfg.Google.ClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.Google.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.Google.RedirectURL = getenvDefault("GOOGLE_REDIRECT_URL",
		strings.TrimSuffix(cfg.BaseURL, "/")+"/oauth2callback")

	cfg.Primary = LLMProvider{
		Name:    getenvDefault("CALENDAI_PRIMARY_NAME", "groq"),
		APIKey:  os.Getenv("GROQ_API_KEY"),
		BaseURL: getenvDefault("CALENDAI_PRIMARY_BASE_URL", DefaultPrimaryURL),
		Model:   getenvDefault("CALENDAI_PRIMARY_MODEL", DefaultPrimaryModel),
	}
	cfg.Fallback = LLMProvider{
		Name:    getenvDefault("CALENDAI_FALLBACK_NAME", "openai"),
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		BaseURL: os.Getenv("CALENDAI_FALLBACK_BASE_URL"),
		Model:   getenvDefault("CALENDAI_FALLBACK_MODEL", DefaultFallbackModel),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the settings required to serve are present.
func (c *Config) Validate() error {
	var missing []string
	if c.Google.ClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}
	if c.Google.ClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}
	if c.Primary.APIKey == "" && c.Fallback.APIKey == "" {
		missing = append(missing, "GROQ_API_KEY or OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return errors.New("missing required configuration: " + strings.Join(missing, ", "))
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid CALENDAI_TIMEZONE %q: %w", c.Timezone, err)
	}

	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
