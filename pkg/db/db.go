// Package db opens the relational stores used by sopflow and owns the
// dialect-specific pieces the stores cannot express through GORM alone.
package db

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database types accepted by Config.Type.
const (
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
	TypeSQLite   = "sqlite"
)

// Config describes one database connection.
type Config struct {
	// Type is postgres, mysql or sqlite.
	Type string `mapstructure:"type"`
	// DSN is the driver connection string.
	DSN string `mapstructure:"dsn"`
	// Driver selects the postgres driver: pgx (default) or pq.
	Driver          string        `mapstructure:"driver"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
	LogLevel        string        `mapstructure:"log_level"`
	// AutoMigrate runs GORM AutoMigrate on startup.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DefaultConfig returns a local SQLite configuration.
func DefaultConfig() Config {
	return Config{
		Type:            TypeSQLite,
		DSN:             "sopflow.db",
		Driver:          "pgx",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		SlowThreshold:   time.Second,
		LogLevel:        "warn",
		AutoMigrate:     true,
	}
}

// Dialector maps cfg to the GORM dialector for its database type.
func Dialector(cfg Config) (gorm.Dialector, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	switch strings.ToLower(cfg.Type) {
	case TypePostgres, "postgresql":
		switch strings.ToLower(cfg.Driver) {
		case "", "pgx":
			return postgres.Open(cfg.DSN), nil
		case "pq", "postgres":
			return postgres.New(postgres.Config{DriverName: "postgres", DSN: cfg.DSN}), nil
		default:
			return nil, fmt.Errorf("unknown postgres driver %q (expected pgx or pq)", cfg.Driver)
		}
	case TypeMySQL:
		dsn, err := normalizeMySQLDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return mysql.Open(dsn), nil
	case TypeSQLite:
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unknown database type %q (expected postgres, mysql or sqlite)", cfg.Type)
	}
}

// Open connects to the database described by cfg and applies the pool
// settings.
func Open(cfg Config) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Type, err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if cfg.Type == TypeSQLite && isMemoryDSN(cfg.DSN) {
		// each connection to :memory: would otherwise see its own database
		maxOpen = 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return gormDB, nil
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// normalizeMySQLDSN forces time parsing in UTC so timestamps round-trip.
func normalizeMySQLDSN(dsn string) (string, error) {
	c, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql DSN: %w", err)
	}
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN(), nil
}

func newGormLogger(cfg Config) logger.Interface {
	level := logger.Warn
	switch strings.ToLower(cfg.LogLevel) {
	case "silent":
		level = logger.Silent
	case "error":
		level = logger.Error
	case "info", "debug":
		level = logger.Info
	}
	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = time.Second
	}
	return logger.New(
		log.New(os.Stderr, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             slow,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}
