// internal/config/config.go
//
// Process configuration, read from the environment (after main has loaded
// any .env file).

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/robalobadob/crocdentist/internal/game"
)

// Config holds every setting the server reads at startup.
type Config struct {
	Port         string `env:"PORT" envDefault:"8080"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/crocdentist.db"`
	Environment  string `env:"NODE_ENV" envDefault:"development"`
	ClientOrigin string `env:"CLIENT_ORIGIN" envDefault:"http://localhost:5173"`

	JWTSecret      string `env:"JWT_SECRET"`
	JWTExpiresDays int    `env:"JWT_EXPIRES_DAYS" envDefault:"14"`
	CookieName     string `env:"COOKIE_NAME" envDefault:"croc_token"`

	Croc Croc
}

// Croc holds the game and oracle settings.
type Croc struct {
	TotalTeeth     uint8         `env:"CROC_TOTAL_TEETH" envDefault:"10"`
	Namespace      string        `env:"CROC_NAMESPACE" envDefault:"croc_dent_game"`
	OracleSecret   string        `env:"CROC_ORACLE_SECRET"`
	OracleIDs      []string      `env:"CROC_ORACLE_IDENTITIES" envDefault:"vrf-program-identity" envSeparator:","`
	OracleWorkers  int           `env:"CROC_ORACLE_WORKERS" envDefault:"2"`
	OracleQueue    int           `env:"CROC_ORACLE_QUEUE" envDefault:"64"`
	OracleDelay    time.Duration `env:"CROC_ORACLE_DELAY" envDefault:"0s"`
	PendingTimeout time.Duration `env:"CROC_PENDING_TIMEOUT" envDefault:"0s"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates a Config.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Production reports whether NODE_ENV is "production".
func (c Config) Production() bool { return c.Environment == "production" }

// SessionTTL is the lifetime of player session tokens.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.JWTExpiresDays) * 24 * time.Hour
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if c.Croc.TotalTeeth == 0 || c.Croc.TotalTeeth > game.MaxTotalTeeth {
		return fmt.Errorf("CROC_TOTAL_TEETH must be 1..%d, got %d", game.MaxTotalTeeth, c.Croc.TotalTeeth)
	}
	if c.Croc.Namespace == "" {
		return errors.New("CROC_NAMESPACE must not be empty")
	}
	if len(c.Croc.OracleIDs) == 0 {
		return errors.New("CROC_ORACLE_IDENTITIES must name at least one oracle")
	}
	if c.JWTExpiresDays <= 0 {
		return fmt.Errorf("JWT_EXPIRES_DAYS must be positive, got %d", c.JWTExpiresDays)
	}
	if c.Croc.OracleWorkers <= 0 || c.Croc.OracleQueue <= 0 {
		return errors.New("CROC_ORACLE_WORKERS and CROC_ORACLE_QUEUE must be positive")
	}
	if c.Croc.PendingTimeout < 0 || c.Croc.OracleDelay < 0 {
		return errors.New("durations must not be negative")
	}
	if c.Production() && (c.JWTSecret == "" || c.Croc.OracleSecret == "") {
		return errors.New("JWT_SECRET and CROC_ORACLE_SECRET are required in production")
	}
	return nil
}
