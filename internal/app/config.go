package app

import (
	"errors"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the gateway.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	UpstreamBaseURL string        `envconfig:"UPSTREAM_BASE_URL" required:"true"`
	UpstreamTimeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"10s"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisDB   int    `envconfig:"REDIS_DB" default:"0"`

	SnapshotScope string        `envconfig:"SNAPSHOT_SCOPE" default:"local"`
	SnapshotTTL   time.Duration `envconfig:"SNAPSHOT_TTL" default:"720h"`

	ProfileTTL    time.Duration `envconfig:"PROFILE_CACHE_TTL" default:"5m"`
	BusinessesTTL time.Duration `envconfig:"BUSINESSES_CACHE_TTL" default:"5m"`
	RolesTTL      time.Duration `envconfig:"ROLES_CACHE_TTL" default:"5m"`

	// PG_DSN is optional. Without it the audit trail is disabled and the
	// gateway runs Redis-only.
	PGDSN string `envconfig:"PG_DSN" default:""`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.UpstreamBaseURL) == "" {
		return nil, errors.New("upstream base URL must be provided")
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// AuditEnabled reports whether a Postgres DSN was supplied.
func (c *Config) AuditEnabled() bool {
	return c != nil && strings.TrimSpace(c.PGDSN) != ""
}
