package db

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// TestPostgresMigrations runs the embedded migrations against a real
// PostgreSQL. Set SOPFLOW_INTEGRATION=1 and have Docker available.
func TestPostgresMigrations(t *testing.T) {
	if os.Getenv("SOPFLOW_INTEGRATION") != "1" {
		t.Skip("set SOPFLOW_INTEGRATION=1 to run against PostgreSQL")
	}
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("sopflow"),
		tcpostgres.WithUsername("sopflow"),
		tcpostgres.WithPassword("sopflow"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	require.NoError(t, MigrateUp(dsn, logger))
	require.NoError(t, MigrateUp(dsn, logger), "second run is a no-op")

	for _, driver := range []string{"pgx", "pq"} {
		t.Run(driver, func(t *testing.T) {
			gdb, err := Open(Config{Type: TypePostgres, Driver: driver, DSN: dsn, LogLevel: "silent"})
			require.NoError(t, err)
			sqlDB, _ := gdb.DB()
			t.Cleanup(func() { sqlDB.Close() })

			key := "drill_" + driver
			insert := "INSERT INTO workflow (workflow_name, workflow_name_key, incident_type) VALUES (?, ?, ?)"
			require.NoError(t, gdb.Exec(insert, key, key, "Fire").Error)
			err = gdb.Exec(insert, key, key, "Fire").Error
			require.Error(t, err)
			assert.True(t, IsUniqueViolation(err))

			assert.Equal(t, "workflow_name || ?", ConcatExpr(gdb, "workflow_name", "?"))
			require.NoError(t, AutoMigrate(ctx, gdb, &widget{}))
		})
	}

	require.NoError(t, MigrateDown(dsn, logger))
}
