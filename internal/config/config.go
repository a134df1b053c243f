// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config captures environment driven configuration values for the gym back office.
type Config struct {
	HTTPPort int `env:"GYM_HTTP_PORT" envDefault:"8080"`

	DBDriver       string        `env:"GYM_DB_DRIVER" envDefault:"sqlite"`
	DBDSN          string        `env:"GYM_DB_DSN" envDefault:"file:gym.db"`
	DBMaxOpenConns int           `env:"GYM_DB_MAX_OPEN_CONNS" envDefault:"0"`
	DBBusyTimeout  time.Duration `env:"GYM_DB_BUSY_TIMEOUT" envDefault:"5s"`

	PendingExpiryWindow time.Duration `env:"GYM_PENDING_EXPIRY_WINDOW" envDefault:"168h"`
	// ExpirySweepInterval of zero disables the background expiry job.
	ExpirySweepInterval time.Duration `env:"GYM_EXPIRY_SWEEP_INTERVAL" envDefault:"1h"`
	SystemActor         string        `env:"GYM_SYSTEM_ACTOR" envDefault:"system"`

	// StaffTokens holds actor=argon2id-hash entries. Hashes contain commas, so
	// entries are separated by semicolons.
	StaffTokens []string `env:"GYM_STAFF_TOKENS" envSeparator:";"`

	OTelEndpoint    string        `env:"GYM_OTEL_ENDPOINT"`
	ShutdownTimeout time.Duration `env:"GYM_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel  slog.Level `env:"GYM_LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"GYM_LOG_FORMAT" envDefault:"json"`
}

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an
// error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load parses configuration values from the current process environment.
// Every malformed or out of range variable is reported in one error.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RequireStaffTokens reports whether the HTTP surface can authenticate anyone.
func (c Config) RequireStaffTokens() error {
	for _, entry := range c.StaffTokens {
		if strings.TrimSpace(entry) != "" {
			return nil
		}
	}
	return errors.New("environment variable GYM_STAFF_TOKENS is required")
}

func (c *Config) validate() error {
	var invalid []string

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		invalid = append(invalid, "GYM_HTTP_PORT")
	}

	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	switch c.DBDriver {
	case "sqlite", "postgres", "pgx":
	default:
		invalid = append(invalid, "GYM_DB_DRIVER")
	}
	c.DBDSN = strings.TrimSpace(c.DBDSN)
	if c.DBDSN == "" {
		invalid = append(invalid, "GYM_DB_DSN")
	}
	if c.DBMaxOpenConns < 0 {
		invalid = append(invalid, "GYM_DB_MAX_OPEN_CONNS")
	}
	if c.DBBusyTimeout < 0 {
		invalid = append(invalid, "GYM_DB_BUSY_TIMEOUT")
	}

	if c.PendingExpiryWindow <= 0 {
		invalid = append(invalid, "GYM_PENDING_EXPIRY_WINDOW")
	}
	if c.ExpirySweepInterval < 0 {
		invalid = append(invalid, "GYM_EXPIRY_SWEEP_INTERVAL")
	}
	c.SystemActor = strings.TrimSpace(c.SystemActor)
	if c.SystemActor == "" {
		invalid = append(invalid, "GYM_SYSTEM_ACTOR")
	}
	if c.ShutdownTimeout <= 0 {
		invalid = append(invalid, "GYM_SHUTDOWN_TIMEOUT")
	}

	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat != "json" && c.LogFormat != "text" {
		invalid = append(invalid, "GYM_LOG_FORMAT")
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid environment values: %s", strings.Join(invalid, ", "))
	}
	return nil
}
