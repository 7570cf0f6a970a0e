package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/karmaly/authloader/internal/identity"
)

const productionEnv = "production"

// Store drivers accepted by STORE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"Karmaly"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Host           string        `env:"HOST" envDefault:"127.0.0.1"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"karmaly.db"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	TokenSecret string        `env:"TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"TOKEN_TTL" envDefault:"1h"`

	APIKey            string `env:"IDENTITY_API_KEY"`
	AuthDomain        string `env:"IDENTITY_AUTH_DOMAIN"`
	IdentityDBURL     string `env:"IDENTITY_DATABASE_URL"`
	ProjectID         string `env:"IDENTITY_PROJECT_ID"`
	StorageBucket     string `env:"IDENTITY_STORAGE_BUCKET"`
	MessagingSenderID string `env:"IDENTITY_MESSAGING_SENDER_ID"`
	AppID             string `env:"IDENTITY_APP_ID"`
	MeasurementID     string `env:"IDENTITY_MEASUREMENT_ID"`

	OAuthClientID     string `env:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string `env:"OAUTH_CLIENT_SECRET"`
	OAuthRedirectURL  string `env:"OAUTH_REDIRECT_URL"`
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH must be set for the sqlite driver")
		}
	case DriverMemory:
	case DriverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set for the redis driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.APIKey == "" {
		return fmt.Errorf("IDENTITY_API_KEY must be set")
	}
	if c.TokenSecret == "" {
		return fmt.Errorf("TOKEN_SECRET must be set")
	}
	return nil
}

// Production reports whether the app runs in production mode.
func (c Config) Production() bool {
	return strings.EqualFold(c.AppEnv, productionEnv)
}

// Identity returns the provider configuration handed to the loader.
func (c Config) Identity() identity.Config {
	return identity.Config{
		APIKey:            c.APIKey,
		AuthDomain:        c.AuthDomain,
		DatabaseURL:       c.IdentityDBURL,
		ProjectID:         c.ProjectID,
		StorageBucket:     c.StorageBucket,
		MessagingSenderID: c.MessagingSenderID,
		AppID:             c.AppID,
		MeasurementID:     c.MeasurementID,
	}
}

// Address returns the listen address in the format Fiber expects. The bridge
// serves local front-ends, so HOST defaults to the loopback interface.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strings.TrimPrefix(c.Port, ":"))
}
