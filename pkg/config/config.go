// Package config loads sopflow settings from defaults, an optional YAML file
// and SOPFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/incidentops/sopflow/pkg/cache"
	"github.com/incidentops/sopflow/pkg/db"
	"github.com/incidentops/sopflow/pkg/telemetry"
)

// EnvPrefix prefixes every environment variable, e.g. SOPFLOW_DATABASE_DSN.
const EnvPrefix = "SOPFLOW"

// Config is the complete server configuration.
type Config struct {
	Listen      string            `mapstructure:"listen"`
	Log         LogConfig         `mapstructure:"log"`
	Database    db.Config         `mapstructure:"database"`
	IncidentLog IncidentLogConfig `mapstructure:"incident_log"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Transcript  TranscriptConfig  `mapstructure:"transcript"`
	Cache       cache.Config      `mapstructure:"cache"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Tracing     telemetry.Config  `mapstructure:"tracing"`
	Workflows   WorkflowsConfig   `mapstructure:"workflows"`
	Sessions    SessionsConfig    `mapstructure:"sessions"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IncidentLogConfig points at the external incident-log database.
type IncidentLogConfig struct {
	Database db.Config `mapstructure:"database"`
}

// RedisConfig addresses the Redis server holding transcript buffers.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TranscriptConfig controls the transcript buffer and its rendering.
type TranscriptConfig struct {
	// Backend is redis or database.
	Backend         string        `mapstructure:"backend"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	// TTL is how long an idle buffer survives: a key expiry on redis, a
	// periodic sweep on the database backend.
	TTL             time.Duration `mapstructure:"ttl"`
	DisplayTimezone string        `mapstructure:"display_timezone"`
	TimeFormat      string        `mapstructure:"time_format"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// WorkflowsConfig holds workflow API behaviour.
type WorkflowsConfig struct {
	// DefaultUpdateMode applies when PATCH carries no mode: merge or replace.
	DefaultUpdateMode string `mapstructure:"default_update_mode"`
}

// SessionsConfig controls answer sessions.
type SessionsConfig struct {
	// IdleTimeout releases sessions abandoned part-way. Zero disables it.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// Transcript backends.
const (
	BackendRedis    = "redis"
	BackendDatabase = "database"
)

// New returns a viper instance with every default registered and the
// environment bound.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()
	setDB := func(prefix string, c db.Config) {
		v.SetDefault(prefix+".type", c.Type)
		v.SetDefault(prefix+".dsn", c.DSN)
		v.SetDefault(prefix+".driver", c.Driver)
		v.SetDefault(prefix+".max_open_conns", c.MaxOpenConns)
		v.SetDefault(prefix+".max_idle_conns", c.MaxIdleConns)
		v.SetDefault(prefix+".conn_max_lifetime", c.ConnMaxLifetime)
		v.SetDefault(prefix+".slow_threshold", c.SlowThreshold)
		v.SetDefault(prefix+".log_level", c.LogLevel)
		v.SetDefault(prefix+".auto_migrate", c.AutoMigrate)
	}

	v.SetDefault("listen", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	setDB("database", dbDefaults)

	incidentDefaults := dbDefaults
	incidentDefaults.DSN = "incident_log.db"
	incidentDefaults.AutoMigrate = false
	setDB("incident_log.database", incidentDefaults)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("transcript.backend", BackendDatabase)
	v.SetDefault("transcript.key_prefix", "sopflow:transcript")
	v.SetDefault("transcript.ttl", 7*24*time.Hour)
	v.SetDefault("transcript.display_timezone", "UTC")
	v.SetDefault("transcript.time_format", "2006-01-02 15:04:05 MST")

	cacheDefaults := cache.DefaultConfig()
	v.SetDefault("cache.enabled", cacheDefaults.Enabled)
	v.SetDefault("cache.ttl", cacheDefaults.TTL)
	v.SetDefault("cache.max_size", cacheDefaults.MaxSize)

	v.SetDefault("cors.allowed_origins", []string{"*"})

	tracingDefaults := telemetry.DefaultConfig()
	v.SetDefault("tracing.enabled", tracingDefaults.Enabled)
	v.SetDefault("tracing.endpoint", tracingDefaults.Endpoint)
	v.SetDefault("tracing.insecure", tracingDefaults.Insecure)
	v.SetDefault("tracing.service_name", tracingDefaults.ServiceName)

	v.SetDefault("workflows.default_update_mode", "merge")

	v.SetDefault("sessions.idle_timeout", 2*time.Hour)
}

// Load reads file (if not empty) into v and decodes the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return Decode(v)
}

// Decode unmarshals the current settings of v and validates them.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Transcript.Backend {
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis transcript backend"))
		}
	case BackendDatabase:
	default:
		errs = append(errs, fmt.Errorf("unknown transcript.backend %q (expected redis or database)", c.Transcript.Backend))
	}
	switch strings.ToLower(c.Workflows.DefaultUpdateMode) {
	case "merge", "replace":
	default:
		errs = append(errs, fmt.Errorf("unknown workflows.default_update_mode %q", c.Workflows.DefaultUpdateMode))
	}
	if c.Sessions.IdleTimeout < 0 {
		errs = append(errs, errors.New("sessions.idle_timeout must not be negative"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q: %w", s, err)
	}
	return l, nil
}

// Watch re-decodes the file whenever it changes and hands the result to
// onChange. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, logger *slog.Logger, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Decode(v)
		if err != nil {
			logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		logger.Info("config file changed", "file", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
}
