// Package daemon manages the Nexus process lifecycle and configuration.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/nexus-app/nexus/internal/app/engagement"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all daemon configuration.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	API       APIConfig       `toml:"api"`
	Streaks   StreaksConfig   `toml:"streaks"`
	Engine    EngineConfig    `toml:"engine"`
	Catalog   CatalogConfig   `toml:"catalog"`
	Jobs      JobsConfig      `toml:"jobs"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver   string `toml:"driver"`    // sqlite | postgres | memory
	DSN      string `toml:"dsn"`       // postgres only
	MaxConns int32  `toml:"max_conns"` // postgres only
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host           string  `toml:"host"`
	Port           int     `toml:"port"`
	RateLimitRPS   float64 `toml:"rate_limit_rps"` // 0 disables limiting
	RateBurst      int     `toml:"rate_burst"`
	RequestTimeout string  `toml:"request_timeout"`
}

// StreaksConfig controls day boundaries and the walk-back.
type StreaksConfig struct {
	Timezone     string `toml:"timezone"`
	GraceDay     bool   `toml:"grace_day"`
	LookbackDays int    `toml:"lookback_days"`
}

// EngineConfig bounds retries and batch parallelism.
type EngineConfig struct {
	MaxRetries  int `toml:"max_retries"`
	Parallelism int `toml:"parallelism"`
}

// CatalogConfig points at an achievement catalog file. Empty uses the
// built-in catalog.
type CatalogConfig struct {
	Path string `toml:"path"`
}

// JobsConfig schedules background work.
type JobsConfig struct {
	SweepCron      string `toml:"sweep_cron"` // empty disables the sweep
	HealthInterval string `toml:"health_interval"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json | console
}

// TelemetryConfig controls the Prometheus endpoint.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns a single-node configuration backed by SQLite.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Driver:   DriverSQLite,
			MaxConns: 25,
		},
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8420,
			RateLimitRPS:   20,
			RateBurst:      40,
			RequestTimeout: "30s",
		},
		Streaks: StreaksConfig{
			Timezone:     "UTC",
			LookbackDays: 365,
		},
		Engine: EngineConfig{
			MaxRetries:  5,
			Parallelism: 4,
		},
		Jobs: JobsConfig{
			SweepCron:      "5 0 * * *",
			HealthInterval: "60s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads $NEXUS_HOME/config.toml, falling back to defaults, then
// applies .env and environment overrides.
func LoadConfig() (Config, error) {
	loadDotEnv()

	cfg := DefaultConfig()
	path := ConfigPath()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// SaveConfig writes the config to $NEXUS_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// loadDotEnv loads .env from the working directory and from NEXUS_HOME.
// Variables already set in the environment win.
func loadDotEnv() {
	for _, p := range []string{".env", filepath.Join(Home(), ".env")} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// applyEnv lets NEXUS_STORE and DATABASE_URL override the file.
func applyEnv(cfg *Config) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Store.DSN = dsn
		cfg.Store.Driver = DriverPostgres
	}
	if d := os.Getenv("NEXUS_STORE"); d != "" {
		cfg.Store.Driver = strings.ToLower(d)
	}
	if lvl := os.Getenv("NEXUS_LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store: postgres driver requires dsn or DATABASE_URL")
		}
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api: port %d out of range", c.API.Port)
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	for name, v := range map[string]string{
		"api.request_timeout":  c.API.RequestTimeout,
		"jobs.health_interval": c.Jobs.HealthInterval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Policy converts the streak and engine sections into an engine policy.
func (c Config) Policy() (engagement.Policy, error) {
	p := engagement.DefaultPolicy()
	if tz := c.Streaks.Timezone; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return p, fmt.Errorf("streaks.timezone: %w", err)
		}
		p.Location = loc
	}
	p.GraceDay = c.Streaks.GraceDay
	if c.Streaks.LookbackDays > 0 {
		p.LookbackDays = c.Streaks.LookbackDays
	}
	if c.Engine.MaxRetries > 0 {
		p.MaxRetries = c.Engine.MaxRetries
	}
	if c.Engine.Parallelism > 0 {
		p.Parallelism = c.Engine.Parallelism
	}
	return p, nil
}

// parseDuration parses s, returning def when s is empty or invalid.
func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ConfigPath returns the config file location.
func ConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// Home returns the Nexus data directory.
func Home() string {
	if env := os.Getenv("NEXUS_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".nexus")
}
