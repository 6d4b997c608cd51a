package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/incidentops/sopflow/pkg/answer"
	"github.com/incidentops/sopflow/pkg/api"
	"github.com/incidentops/sopflow/pkg/cache"
	"github.com/incidentops/sopflow/pkg/config"
	"github.com/incidentops/sopflow/pkg/db"
	"github.com/incidentops/sopflow/pkg/incidentlog"
	"github.com/incidentops/sopflow/pkg/metrics"
	"github.com/incidentops/sopflow/pkg/telemetry"
	"github.com/incidentops/sopflow/pkg/transcript"
	"github.com/incidentops/sopflow/pkg/workflow"
)

// app is the fully wired server: both databases, the transcript sink, the
// answer pipeline and the HTTP handler in front of them.
type app struct {
	handler   http.Handler
	formatter *transcript.Formatter
	sessions  *answer.Sessions
	closers   []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	wfDB, err := openDB(ctx, "workflow", cfg.Database, logger, append(workflow.Models(), transcript.Models()...))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sqlCloser(wfDB))

	incDB, err := openDB(ctx, "incident log", cfg.IncidentLog.Database, logger, incidentlog.Models())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sqlCloser(incDB))

	a.formatter, err = transcript.NewFormatter(cfg.Transcript.DisplayTimezone, cfg.Transcript.TimeFormat)
	if err != nil {
		return nil, err
	}

	var buffer transcript.Buffer
	switch cfg.Transcript.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		buffer = transcript.NewRedisBuffer(client,
			transcript.WithKeyPrefix(cfg.Transcript.KeyPrefix),
			transcript.WithTTL(cfg.Transcript.TTL))
		logger.Info("transcript buffer", "backend", "redis", "addr", cfg.Redis.Addr)
	default:
		dbBuffer := transcript.NewDBBuffer(wfDB)
		buffer = dbBuffer
		logger.Info("transcript buffer", "backend", "database")

		if cfg.Transcript.TTL > 0 {
			a.background(ctx, transcript.NewRetentionWorker(dbBuffer, cfg.Transcript.TTL, logger).Run)
		}
	}

	incidents := incidentlog.NewStore(incDB, logger)
	sink := transcript.NewSink(buffer, incidents, a.formatter, logger)

	store := workflow.NewStore(wfDB, logger)
	a.sessions = answer.NewSessions(logger)
	if cfg.Sessions.IdleTimeout > 0 {
		a.background(ctx, func(ctx context.Context) {
			a.sessions.RunExpiry(ctx, cfg.Sessions.IdleTimeout)
		})
	}
	pipeline := answer.NewPipeline(store, sink, a.sessions, logger)

	mode, err := workflow.ParseUpdateMode(cfg.Workflows.DefaultUpdateMode)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	m.RegisterGauge("open_sessions", "Answer sessions currently in progress.", func() float64 {
		return float64(a.sessions.Len())
	})

	cacheManager := cache.NewManager(cfg.Cache, api.WorkflowsPrefix)
	if cacheManager != nil {
		m.RegisterGauge("response_cache_entries", "Cached workflow read responses.", func() float64 {
			return float64(cacheManager.Len())
		})
	}

	router := api.Router(&api.Deps{
		Workflows:         store,
		Builder:           workflow.NewBuilder(wfDB, logger),
		Answers:           pipeline,
		Incidents:         incidents,
		Cache:             cacheManager,
		Metrics:           m,
		Logger:            logger,
		DefaultUpdateMode: mode,
		AllowedOrigins:    cfg.CORS.AllowedOrigins,
		Ping: func(ctx context.Context) error {
			sqlDB, err := wfDB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})

	a.handler = router
	if cfg.Tracing.Enabled {
		a.handler = telemetry.Middleware(cfg.Tracing.ServiceName)(router)
	}

	ok = true
	return a, nil
}

// background runs fn until the app is closed.
func (a *app) background(ctx context.Context, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	a.closers = append(a.closers, func() error {
		cancel()
		<-done
		return nil
	})
}

// Reload applies the settings that can change without a restart.
func (a *app) Reload(cfg *config.Config, level *slog.LevelVar, logger *slog.Logger) {
	if err := a.formatter.SetTimezone(cfg.Transcript.DisplayTimezone); err != nil {
		logger.Warn("keeping previous display timezone", "error", err)
	} else {
		logger.Info("display timezone updated", "timezone", a.formatter.Timezone())
	}
	if l, err := config.ParseLevel(cfg.Log.Level); err == nil && l != level.Level() {
		level.Set(l)
		logger.Info("log level updated", "level", l.String())
	}
}

// Close releases every connection the app opened, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openDB(ctx context.Context, name string, cfg db.Config, logger *slog.Logger, models []any) (*gorm.DB, error) {
	gdb, err := db.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", name, err)
	}
	logger.Info("database connected", "name", name, "type", cfg.Type)
	if cfg.AutoMigrate {
		if err := db.AutoMigrate(ctx, gdb, models...); err != nil {
			_ = sqlCloser(gdb)()
			return nil, fmt.Errorf("migrate %s database: %w", name, err)
		}
		logger.Info("schema migrated", "name", name)
	}
	return gdb, nil
}

func sqlCloser(gdb *gorm.DB) func() error {
	return func() error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
}

func newLogger(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	if l, err := config.ParseLevel(cfg.Level); err == nil {
		level.Set(l)
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
