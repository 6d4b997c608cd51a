package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/incidentops/sopflow/pkg/config"
	"github.com/incidentops/sopflow/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sopflow HTTP server",
	Args:  cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, serveFlagKeys)
	},
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("listen", ":8080", "Address to listen on")
	f.String("db-type", "sqlite", "Workflow database type: postgres, mysql, sqlite")
	f.String("db-dsn", "sopflow.db", "Workflow database DSN")
	f.String("incident-db-type", "sqlite", "Incident log database type: postgres, mysql, sqlite")
	f.String("incident-db-dsn", "incident_log.db", "Incident log database DSN")
	f.String("redis-addr", "", "Redis address for the transcript buffer")
	f.String("transcript-backend", "database", "Transcript buffer backend: redis or database")
}

var serveFlagKeys = map[string]string{
	"listen":                     "listen",
	"database.type":              "db-type",
	"database.dsn":               "db-dsn",
	"incident_log.database.type": "incident-db-type",
	"incident_log.database.dsn":  "incident-db-dsn",
	"redis.addr":                 "redis-addr",
	"transcript.backend":         "transcript-backend",
}

// bindFlags binds flags of cmd into v. Done at run time so commands sharing
// a key do not overwrite each other's binding.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if f := cmd.Flags().Lookup("logtostderr"); f == nil || !f.Changed {
		_ = flag.Set("logtostderr", "true")
	}

	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	logger := newLogger(cfg.Log, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		glog.Fatalf("Failed to set up tracing: %v", err)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		glog.Fatalf("Failed to start sopflow: %v", err)
	}
	defer a.Close()

	if cfgFile != "" {
		config.Watch(v, logger, func(c *config.Config) {
			a.Reload(c, level, logger)
		})
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("sopflow listening", "addr", cfg.Listen,
			"transcript_backend", cfg.Transcript.Backend,
			"display_timezone", a.formatter.Timezone())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}
	if open := a.sessions.Len(); open > 0 {
		logger.Info("abandoning open answer sessions", "count", open)
	}

	logger.Info("sopflow stopped")
	return nil
}
