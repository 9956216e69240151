// Package config loads the pipeline configuration from YAML, applies
// environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "transitpipe.yaml"

// Config holds all configuration for the ETL, poller and migrate binaries.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Static   StaticConfig   `yaml:"static"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	Driver     string   `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN        string   `yaml:"dsn" validate:"required"`
	Schema     string   `yaml:"schema"`
	Extensions []string `yaml:"extensions" validate:"dive,required"`
}

type StaticConfig struct {
	Parallelism     int           `yaml:"parallelism" validate:"gte=1"`
	WorkDir         string        `yaml:"workdir"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	SkipUnchanged   bool          `yaml:"skip_unchanged"`
	ReportRetention time.Duration `yaml:"report_retention" validate:"gte=0"`
	Feeds           []StaticFeed  `yaml:"feeds" validate:"unique=ID,dive"`
}

// StaticFeed is one configured schedule source. Exactly one of URL and Path
// must be set.
type StaticFeed struct {
	ID      string `yaml:"id" validate:"required,excludesall=:"`
	Type    string `yaml:"type" validate:"required"`
	Enabled *bool  `yaml:"enabled"`
	URL     string `yaml:"url" validate:"omitempty,url"`
	Path    string `yaml:"path"`
}

// IsEnabled treats a missing flag as enabled.
func (f StaticFeed) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

type RealtimeConfig struct {
	PollingIntervalSeconds int           `yaml:"polling_interval_seconds" validate:"gte=1"`
	Workers                int           `yaml:"workers" validate:"gte=1"`
	FetchTimeout           time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	FetchRetries           int           `yaml:"fetch_retries" validate:"gte=0,lte=10"`
	ShutdownTimeout        time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	// Timezone names the IANA zone vehicle-count baselines are keyed in.
	// Empty means the host's local zone.
	Timezone string         `yaml:"timezone"`
	Feeds    []RealtimeFeed `yaml:"feeds" validate:"unique=ID,dive"`
}

// Location resolves Timezone.
func (c RealtimeConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("realtime timezone: %w", err)
	}
	return loc, nil
}

type RealtimeFeed struct {
	ID      string `yaml:"id" validate:"required,excludesall=:"`
	Type    string `yaml:"type" validate:"required"`
	Enabled *bool  `yaml:"enabled"`
	URL     string `yaml:"url" validate:"required,url"`
	// PollingIntervalSeconds overrides the global interval when positive.
	PollingIntervalSeconds int               `yaml:"polling_interval_seconds" validate:"gte=0"`
	Headers                map[string]string `yaml:"headers"`
	Params                 map[string]string `yaml:"params"`
}

func (f RealtimeFeed) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// Interval returns the feed's polling interval, falling back to def.
func (f RealtimeFeed) Interval(def time.Duration) time.Duration {
	if f.PollingIntervalSeconds > 0 {
		return time.Duration(f.PollingIntervalSeconds) * time.Second
	}
	return def
}

// PollInterval is the global polling interval.
func (c RealtimeConfig) PollInterval() time.Duration {
	return time.Duration(c.PollingIntervalSeconds) * time.Second
}

type ServerConfig struct {
	Port        int      `yaml:"port" validate:"gt=0,lte=65535"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used for every field the file and the
// environment leave unset.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "data/transit.db",
			Schema: "transit",
		},
		Static: StaticConfig{
			Parallelism:     1,
			FetchTimeout:    5 * time.Minute,
			ReportRetention: 30 * 24 * time.Hour,
		},
		Realtime: RealtimeConfig{
			PollingIntervalSeconds: 30,
			Workers:                4,
			FetchTimeout:           10 * time.Second,
			FetchRetries:           2,
			ShutdownTimeout:        5 * time.Second,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path, loads .env files, applies environment overrides and
// validates. A missing .env is not an error; a missing config file is.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults, applies environment overrides and
// validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode yaml: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.Driver = getEnv("DATABASE_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DATABASE_URL", c.Database.DSN)
	c.Database.Schema = getEnv("DATABASE_SCHEMA", c.Database.Schema)
	c.Server.Port = getEnvInt("SERVICE_LISTEN_PORT", c.Server.Port)
	c.Realtime.PollingIntervalSeconds = getEnvInt("POLL_INTERVAL", c.Realtime.PollingIntervalSeconds)
	c.Log.Level = strings.ToLower(getEnv("LOG_LEVEL", c.Log.Level))
	c.Log.Format = strings.ToLower(getEnv("LOG_FORMAT", c.Log.Format))
}

// Validate checks field constraints and the rules the struct tags cannot
// express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	for _, f := range c.Static.Feeds {
		switch {
		case f.URL == "" && f.Path == "":
			errs = append(errs, fmt.Errorf("static feed %s: one of url or path is required", f.ID))
		case f.URL != "" && f.Path != "":
			errs = append(errs, fmt.Errorf("static feed %s: url and path are mutually exclusive", f.ID))
		}
	}
	if _, err := c.Realtime.Location(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
