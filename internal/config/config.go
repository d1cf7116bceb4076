package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/ovaphlow/pitchfork/service-review-web/pkg/database"
	"github.com/ovaphlow/pitchfork/service-review-web/pkg/utilities"
)

// Config is the process configuration, read from the environment.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"0.0.0.0:8431"`

	// APIBaseURL points at the remote review API including the /api/v1 prefix.
	APIBaseURL     string        `envconfig:"API_BASE_URL" default:"http://localhost:8080/api/v1"`
	APITimeout     time.Duration `envconfig:"API_TIMEOUT" default:"10s"`
	BreakerMaxReqs uint32        `envconfig:"API_BREAKER_MAX_REQUESTS" default:"5"`
	BreakerWindow  time.Duration `envconfig:"API_BREAKER_INTERVAL" default:"30s"`
	BreakerCooloff time.Duration `envconfig:"API_BREAKER_TIMEOUT" default:"60s"`
	BreakerRatio   float64       `envconfig:"API_BREAKER_FAILURE_RATIO" default:"0.8"`

	// DatabaseURL empty means client state is kept in memory only.
	DatabaseURL      string        `envconfig:"DATABASE_URL"`
	DatabaseMaxConns int           `envconfig:"DATABASE_MAX_CONNS" default:"5"`
	DatabaseTimeZone string        `envconfig:"DATABASE_TIMEZONE"`
	DatabaseEncoding string        `envconfig:"DATABASE_CLIENT_ENCODING"`
	TabStateTTL      time.Duration `envconfig:"TAB_STATE_TTL" default:"24h"`

	CookieSecure   bool     `envconfig:"COOKIE_SECURE" default:"false"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173"`
	LoginPath      string   `envconfig:"LOGIN_PATH" default:"/login"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogDev   bool   `envconfig:"LOG_DEV" default:"false"`
	LogFile  string `envconfig:"LOG_FILE"`
}

// Load reads a .env file if present, then the environment.
func Load() (Config, error) {
	// best-effort: a missing .env is fine
	_ = godotenv.Load()

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks values envconfig cannot.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute URL, got %q", c.APIBaseURL)
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("API_TIMEOUT must be positive")
	}
	if c.BreakerRatio <= 0 || c.BreakerRatio > 1 {
		return fmt.Errorf("API_BREAKER_FAILURE_RATIO must be in (0,1], got %v", c.BreakerRatio)
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("LOGIN_PATH must start with /")
	}
	return nil
}

func (c Config) Log() utilities.LogConfig {
	lvl := c.LogLevel
	if c.LogDev && lvl == "info" {
		lvl = "debug"
	}
	return utilities.LogConfig{Level: lvl, Dev: c.LogDev, File: c.LogFile}
}

func (c Config) Database() database.Config {
	return database.Config{
		DSN:            c.DatabaseURL,
		MaxConns:       c.DatabaseMaxConns,
		Timeout:        5 * time.Second,
		TimeZone:       c.DatabaseTimeZone,
		ClientEncoding: c.DatabaseEncoding,
	}
}
