package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"storefront/password"
)

type Config struct {
	Env         string          `yaml:"env"`
	Host        string          `yaml:"host"`
	Port        int             `yaml:"port"`
	DatabaseURL string          `yaml:"database_url"`
	Session     SessionConfig   `yaml:"session"`
	CORSOrigins []string        `yaml:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Google      GoogleConfig    `yaml:"google"`
	Argon2      password.Config `yaml:"argon2"`
}

type SessionConfig struct {
	// Backend is "sql" (the DATABASE_URL database) or "redis".
	Backend         string        `yaml:"backend"`
	RedisURL        string        `yaml:"redis_url"`
	CookieName      string        `yaml:"cookie_name"`
	MaxAge          time.Duration `yaml:"max_age"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type RateLimitConfig struct {
	RPS        float64 `yaml:"rps"`
	Burst      int     `yaml:"burst"`
	// TrustProxy keys clients by X-Forwarded-For. Only set it behind a proxy
	// that overwrites the header.
	TrustProxy bool    `yaml:"trust_proxy"`
}

type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CallbackURL  string `yaml:"callback_url"`
	AppURL       string `yaml:"app_url"`
}

func Default() *Config {
	return &Config{
		Env:         "prod",
		Host:        "http://localhost",
		Port:        3000,
		DatabaseURL: "./storefront.db",
		Session: SessionConfig{
			Backend:         "sql",
			CookieName:      "session",
			MaxAge:          31_540_000 * time.Second,
			CleanupInterval: time.Hour,
		},
		CORSOrigins: []string{"http://localhost:3001"},
		RateLimit:   RateLimitConfig{RPS: 15, Burst: 50},
		Argon2:      password.DefaultConfig(),
	}
}

// Load applies, in order: defaults, the YAML file named by CONFIG_FILE, and
// environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.Env = getEnv("ENV", c.Env)
	c.Host = getEnv("HOST", c.Host)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.Session.Backend = getEnv("SESSION_BACKEND", c.Session.Backend)
	c.Session.RedisURL = getEnv("REDIS_URL", c.Session.RedisURL)
	c.Session.CookieName = getEnv("SESSION_COOKIE_NAME", c.Session.CookieName)
	c.Google.ClientID = getEnv("GOOGLE_CLIENT_ID", c.Google.ClientID)
	c.Google.ClientSecret = getEnv("GOOGLE_CLIENT_SECRET", c.Google.ClientSecret)
	c.Google.CallbackURL = getEnv("GOOGLE_CALLBACK_URL", c.Google.CallbackURL)
	c.Google.AppURL = getEnv("APP_URL", c.Google.AppURL)

	if v, ok := os.LookupEnv("CORS_ORIGINS"); ok {
		c.CORSOrigins = splitList(v)
	}

	var err error
	if c.Port, err = getEnvInt("PORT", c.Port); err != nil {
		return err
	}
	if c.RateLimit.Burst, err = getEnvInt("RATE_LIMIT_BURST", c.RateLimit.Burst); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("TRUST_PROXY"); ok {
		if c.RateLimit.TrustProxy, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("invalid TRUST_PROXY %q: %w", v, err)
		}
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_RPS"); ok {
		if c.RateLimit.RPS, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPS %q: %w", v, err)
		}
	}
	if c.Session.CleanupInterval, err = getEnvDuration("SESSION_CLEANUP_INTERVAL", c.Session.CleanupInterval); err != nil {
		return err
	}
	if c.Session.MaxAge, err = getEnvDuration("SESSION_MAX_AGE", c.Session.MaxAge); err != nil {
		return err
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Session.Backend {
	case "sql":
	case "redis":
		if c.Session.RedisURL == "" {
			return fmt.Errorf("SESSION_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Session.CleanupInterval <= 0 {
		return fmt.Errorf("session cleanup interval must be positive")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	return nil
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// SecureCookies is false only when ENV=dev, for local development over plain
// http. Any other value, including the default, keeps cookies Secure.
func (c *Config) SecureCookies() bool {
	return c.Env != "dev"
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) GoogleCallbackURL() string {
	if c.Google.CallbackURL != "" {
		return c.Google.CallbackURL
	}
	return fmt.Sprintf("%s:%d/auth/google/callback", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
