package inferhub

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Log       LogConfig        `yaml:"log"`
	Database  DatabaseConfig   `yaml:"database"`
	Providers []ProviderConfig `yaml:"providers"`
	Quota     QuotaConfig      `yaml:"quota"`
	Dispatch  DispatchConfig   `yaml:"dispatch"`
	Backfill  BackfillConfig   `yaml:"backfill"`
	Events    EventsConfig     `yaml:"events"`
	Admin     AdminConfig      `yaml:"admin"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// ProviderKind selects the adapter implementation.
type ProviderKind string

const (
	ProviderKindOpenAI ProviderKind = "openai"
	ProviderKindGemini ProviderKind = "gemini"
)

// ProviderConfig configures one upstream provider.
type ProviderConfig struct {
	Name              string        `yaml:"name"`
	Kind              ProviderKind  `yaml:"kind"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Models            []string      `yaml:"models"` // pinned list; empty means discover
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
}

// QuotaConfig configures the daily quota gate.
type QuotaConfig struct {
	Backend  string           `yaml:"backend"` // "memory", "redis" or "postgres"
	Default  int64            `yaml:"default_limit"`
	Limits   map[string]int64 `yaml:"limits"`
	Timezone string           `yaml:"timezone"`
	Redis    RedisConfig      `yaml:"redis"`
}

// RedisConfig configures the Redis quota backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DispatchConfig bounds provider calls.
type DispatchConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// StrictConflicts fails startup when two providers claim one model.
	StrictConflicts bool `yaml:"strict_conflicts"`
}

// BackfillConfig configures the stub reconciler.
type BackfillConfig struct {
	Enabled         *bool         `yaml:"enabled"`
	LogInterval     time.Duration `yaml:"log_interval"`
	ContextInterval time.Duration `yaml:"context_interval"`
	PageSize        int           `yaml:"page_size"`
	Workers         int           `yaml:"workers"`
	ContextProject  string        `yaml:"context_project"`
}

// EventsConfig configures the NATS bus. An empty URL disables it.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Durable       string `yaml:"durable"`
}

// AdminConfig configures the admin surface. An empty JWT secret disables it.
type AdminConfig struct {
	Username     string        `yaml:"username"`
	PasswordHash string        `yaml:"password_hash"` // bcrypt
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

// QuotaLimits returns the quota limits described by the config.
func (q QuotaConfig) QuotaLimits() QuotaLimits {
	return QuotaLimits{Default: q.Default, PerModel: q.Limits}
}

// Location resolves the configured time zone, falling back to local time.
func (q QuotaConfig) Location() (*time.Location, error) {
	if q.Timezone == "" || q.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(q.Timezone)
}

// BackfillEnabled reports whether the scheduler should run.
func (b BackfillConfig) BackfillEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// LoadConfig reads and parses a YAML config file.
// Variables from the given .env files (default ".env") are loaded into the
// process environment first; missing files are ignored. Environment variables
// in the format ${VAR} are then expanded before parsing.
func LoadConfig(path string, envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("inferhub: load env file %s: %w", f, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("inferhub: read config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig expands environment variables in data, parses it, applies
// defaults and validates the result.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("inferhub: parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "inferhub.db"
	}

	for i := range c.Providers {
		if c.Providers[i].Kind == "" {
			c.Providers[i].Kind = ProviderKindOpenAI
		}
		if c.Providers[i].HTTPTimeout == 0 {
			c.Providers[i].HTTPTimeout = 90 * time.Second
		}
	}

	defaults := DefaultQuotaLimits()
	if c.Quota.Backend == "" {
		c.Quota.Backend = "memory"
	}
	if c.Quota.Default == 0 {
		c.Quota.Default = defaults.Default
	}
	if c.Quota.Limits == nil {
		c.Quota.Limits = defaults.PerModel
	}
	if c.Quota.Redis.KeyPrefix == "" {
		c.Quota.Redis.KeyPrefix = "inferhub:quota:"
	}

	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = 60 * time.Second
	}

	if c.Backfill.LogInterval == 0 {
		c.Backfill.LogInterval = time.Hour
	}
	if c.Backfill.ContextInterval == 0 {
		c.Backfill.ContextInterval = time.Hour
	}
	if c.Backfill.PageSize == 0 {
		c.Backfill.PageSize = 200
	}
	if c.Backfill.Workers == 0 {
		c.Backfill.Workers = 4
	}
	if c.Backfill.ContextProject == "" {
		c.Backfill.ContextProject = "mcp"
	}

	if c.Events.Stream == "" {
		c.Events.Stream = "INFERHUB"
	}
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = "inferhub"
	}
	if c.Events.Durable == "" {
		c.Events.Durable = "inferhub-embeddings"
	}

	if c.Admin.TokenTTL == 0 {
		c.Admin.TokenTTL = 12 * time.Hour
	}
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("inferhub: config: at least one provider is required")
	}

	names := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("inferhub: config: providers[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("inferhub: config: duplicate provider name %q", p.Name)
		}
		names[p.Name] = true

		switch p.Kind {
		case ProviderKindOpenAI:
			if p.BaseURL == "" {
				return fmt.Errorf("inferhub: config: providers[%d] (%s): base_url is required", i, p.Name)
			}
		case ProviderKindGemini:
		default:
			return fmt.Errorf("inferhub: config: providers[%d] (%s): invalid kind %q", i, p.Name, p.Kind)
		}
		if p.RequestsPerSecond < 0 {
			return fmt.Errorf("inferhub: config: providers[%d] (%s): requests_per_second must not be negative", i, p.Name)
		}
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("inferhub: config: database: invalid driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("inferhub: config: database: dsn is required")
	}

	switch c.Quota.Backend {
	case "memory":
	case "redis":
		if c.Quota.Redis.Addr == "" {
			return fmt.Errorf("inferhub: config: quota: redis.addr is required for the redis backend")
		}
	case "postgres":
		if c.Database.Driver != "postgres" {
			return fmt.Errorf("inferhub: config: quota: the postgres backend shares database.dsn and needs database.driver postgres")
		}
	default:
		return fmt.Errorf("inferhub: config: quota: invalid backend %q", c.Quota.Backend)
	}
	if c.Quota.Default <= 0 {
		return fmt.Errorf("inferhub: config: quota: default_limit must be positive")
	}
	for model, n := range c.Quota.Limits {
		if n < 0 {
			return fmt.Errorf("inferhub: config: quota: limit for %q must not be negative", model)
		}
	}
	if _, err := c.Quota.Location(); err != nil {
		return fmt.Errorf("inferhub: config: quota: timezone: %w", err)
	}

	if c.Backfill.Workers < 1 {
		return fmt.Errorf("inferhub: config: backfill: workers must be at least 1")
	}

	if c.Admin.JWTSecret != "" && (c.Admin.Username == "" || c.Admin.PasswordHash == "") {
		return fmt.Errorf("inferhub: config: admin: username and password_hash are required when jwt_secret is set")
	}

	return nil
}
