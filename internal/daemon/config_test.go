package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points NEXUS_HOME at a temp dir and clears env overrides.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("NEXUS_HOME", home)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("NEXUS_STORE", "")
	t.Setenv("NEXUS_LOG_LEVEL", "")
	t.Chdir(t.TempDir())
	return home
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, DriverSQLite)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.Streaks.Timezone != "UTC" {
		t.Errorf("Streaks.Timezone = %q, want UTC", cfg.Streaks.Timezone)
	}
	if cfg.Streaks.GraceDay {
		t.Error("Streaks.GraceDay should default to false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	isolate(t)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Errorf("API.Port = %d, want default", cfg.API.Port)
	}
}

func TestSaveLoadConfig(t *testing.T) {
	home := isolate(t)

	cfg := DefaultConfig()
	cfg.API.Port = 9999
	cfg.Streaks.Timezone = "Asia/Tokyo"
	cfg.Streaks.GraceDay = true
	cfg.Telemetry.Prometheus = true
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, "config.toml")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if got.API.Port != 9999 || got.Streaks.Timezone != "Asia/Tokyo" || !got.Streaks.GraceDay || !got.Telemetry.Prometheus {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	home := isolate(t)
	data := "[streaks]\ngrace_day = true\n"
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if !cfg.Streaks.GraceDay {
		t.Error("grace_day not applied")
	}
	if cfg.Streaks.LookbackDays != 365 {
		t.Errorf("LookbackDays = %d, want default 365", cfg.Streaks.LookbackDays)
	}
}

func TestLoadConfig_BadTOML(t *testing.T) {
	home := isolate(t)
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte("[api\nport="), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("LoadConfig() error = %v, want parse error", err)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "postgres://nexus@localhost/nexus")
	t.Setenv("NEXUS_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Store.Driver != DriverPostgres {
		t.Errorf("Driver = %q, want postgres", cfg.Store.Driver)
	}
	if cfg.Store.DSN != "postgres://nexus@localhost/nexus" {
		t.Errorf("DSN = %q", cfg.Store.DSN)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}

	t.Setenv("NEXUS_STORE", "MEMORY")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("NEXUS_STORE should win over DATABASE_URL, got %q", cfg.Store.Driver)
	}
}

func TestLoadConfig_DotEnv(t *testing.T) {
	home := isolate(t)
	// godotenv does not override variables already present, so unset the
	// one isolate cleared.
	os.Unsetenv("NEXUS_STORE")
	if err := os.WriteFile(filepath.Join(home, ".env"), []byte("NEXUS_STORE=memory\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("NEXUS_STORE") })

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("Driver = %q, want memory from .env", cfg.Store.Driver)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "unknown driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "requires dsn"},
		{"bad port", func(c *Config) { c.API.Port = 70000 }, "out of range"},
		{"bad timezone", func(c *Config) { c.Streaks.Timezone = "Mars/Olympus" }, "streaks.timezone"},
		{"bad timeout", func(c *Config) { c.API.RequestTimeout = "soon" }, "api.request_timeout"},
		{"bad health interval", func(c *Config) { c.Jobs.HealthInterval = "1 minute" }, "jobs.health_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Streaks.Timezone = "UTC"
	cfg.Streaks.GraceDay = true
	cfg.Streaks.LookbackDays = 30
	cfg.Engine.MaxRetries = 2
	cfg.Engine.Parallelism = 0

	p, err := cfg.Policy()
	if err != nil {
		t.Fatalf("Policy() error: %v", err)
	}
	if p.Location != time.UTC || !p.GraceDay || p.LookbackDays != 30 || p.MaxRetries != 2 {
		t.Errorf("Policy() = %+v", p)
	}
	if p.Parallelism != 4 {
		t.Errorf("Parallelism = %d, want default 4", p.Parallelism)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"90s", 90 * time.Second},
		{"", time.Minute},
		{"garbage", time.Minute},
		{"-5s", time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseDuration(tt.input, time.Minute); got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestHome(t *testing.T) {
	t.Setenv("NEXUS_HOME", "/srv/nexus")
	if Home() != "/srv/nexus" {
		t.Errorf("Home() = %q", Home())
	}
	if ConfigPath() != filepath.Join("/srv/nexus", "config.toml") {
		t.Errorf("ConfigPath() = %q", ConfigPath())
	}
}

func TestNewLogger(t *testing.T) {
	for _, lc := range []LoggingConfig{
		{Level: "debug", Format: "console"},
		{Level: "warn", Format: "json"},
		{},
	} {
		log, err := NewLogger(lc)
		if err != nil {
			t.Fatalf("NewLogger(%+v) error: %v", lc, err)
		}
		_ = log.Sync()
	}
	if _, err := NewLogger(LoggingConfig{Level: "loud"}); err == nil {
		t.Error("NewLogger() should reject unknown level")
	}
}
