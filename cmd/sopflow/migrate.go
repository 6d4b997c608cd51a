package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/incidentops/sopflow/pkg/config"
	"github.com/incidentops/sopflow/pkg/db"
	"github.com/incidentops/sopflow/pkg/incidentlog"
	"github.com/incidentops/sopflow/pkg/transcript"
	"github.com/incidentops/sopflow/pkg/workflow"
)

var withIncidentLog bool

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down]",
	Short: "Create or drop the workflow schema",
	Long: `Create or drop the workflow schema.

PostgreSQL databases are migrated with the versioned SQL migrations shipped in
the binary. Other databases are brought up to date with GORM AutoMigrate; down
is only supported for PostgreSQL.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"up", "down"},
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{"database.type": "db-type", "database.dsn": "db-dsn"})
	},
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&withIncidentLog, "incident-log", false, "Also create the incident-log tables (local setups only)")
	migrateCmd.Flags().String("db-type", "sqlite", "Workflow database type: postgres, mysql, sqlite")
	migrateCmd.Flags().String("db-dsn", "sopflow.db", "Workflow database DSN")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	direction := "up"
	if len(args) == 1 {
		direction = strings.ToLower(args[0])
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("unknown direction %q (expected up or down)", direction)
	}

	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := migrateWorkflowDB(ctx, cfg.Database, direction, logger); err != nil {
		return err
	}
	if withIncidentLog && direction == "up" {
		gdb, err := db.Open(cfg.IncidentLog.Database)
		if err != nil {
			return fmt.Errorf("open incident log database: %w", err)
		}
		defer sqlCloser(gdb)()
		if err := db.AutoMigrate(ctx, gdb, incidentlog.Models()...); err != nil {
			return fmt.Errorf("migrate incident log database: %w", err)
		}
		logger.Info("incident log tables ready")
	}
	return nil
}

func migrateWorkflowDB(ctx context.Context, cfg db.Config, direction string, logger *slog.Logger) error {
	if strings.EqualFold(cfg.Type, db.TypePostgres) || strings.EqualFold(cfg.Type, "postgresql") {
		if direction == "down" {
			return db.MigrateDown(cfg.DSN, logger)
		}
		return db.MigrateUp(cfg.DSN, logger)
	}
	if direction == "down" {
		return fmt.Errorf("migrate down is only supported for postgres, not %s", cfg.Type)
	}

	gdb, err := db.Open(cfg)
	if err != nil {
		return fmt.Errorf("open workflow database: %w", err)
	}
	defer sqlCloser(gdb)()
	if err := db.AutoMigrate(ctx, gdb, append(workflow.Models(), transcript.Models()...)...); err != nil {
		return fmt.Errorf("migrate workflow database: %w", err)
	}
	logger.Info("workflow schema ready", "type", cfg.Type)
	return nil
}
