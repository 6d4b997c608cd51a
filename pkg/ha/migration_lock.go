// Package ha serialises schema changes when several sopflow replicas start
// against the same database.
package ha

import (
	"context"
	"database/sql/driver"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker runs a function while holding a database-wide lock.
type MigrationLocker interface {
	// WithLock blocks until the lock is held, runs fn and releases the lock
	// whatever fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// LockOptions tunes the table-based lock used outside PostgreSQL.
type LockOptions struct {
	Name          string
	Retries       int
	RetryInterval time.Duration
	StaleAfter    time.Duration
	Logger        *slog.Logger
}

// DefaultLockOptions returns the settings used by NewMigrationLocker.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Name:          "sopflow-migration",
		Retries:       30,
		RetryInterval: time.Second,
		StaleAfter:    5 * time.Minute,
	}
}

// NewMigrationLocker picks the lock strategy for the dialect of gdb:
// advisory locks on PostgreSQL, a lock row everywhere else.
func NewMigrationLocker(gdb *gorm.DB) MigrationLocker {
	return NewMigrationLockerWithOptions(gdb, DefaultLockOptions())
}

// NewMigrationLockerWithOptions is NewMigrationLocker with explicit options.
func NewMigrationLockerWithOptions(gdb *gorm.DB, opts LockOptions) MigrationLocker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if gdb == nil {
		return noopLock{}
	}
	if gdb.Dialector.Name() == "postgres" {
		return &advisoryLock{
			db:     gdb,
			key:    int64(crc32.ChecksumIEEE([]byte(opts.Name))),
			logger: opts.Logger,
		}
	}
	// created up front so the first concurrent WithLock calls never race
	// on a missing table
	_ = gdb.AutoMigrate(&lockRow{})
	return &tableLock{db: gdb, opts: opts}
}

type noopLock struct{}

func (noopLock) WithLock(_ context.Context, fn func() error) error { return fn() }

type advisoryLock struct {
	db     *gorm.DB
	key    int64
	logger *slog.Logger
}

// WithLock takes the advisory lock on a connection pinned for the whole run:
// session-level advisory locks can only be released by the session holding
// them. fn itself runs on the rest of the pool, so a pool capped at one
// connection would block here.
func (l *advisoryLock) WithLock(ctx context.Context, fn func() error) (err error) {
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.key); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	l.logger.Debug("migration lock acquired", "strategy", "advisory", "key", l.key)
	defer func() {
		// released even when ctx was cancelled while fn ran
		var released bool
		uerr := conn.QueryRowContext(context.Background(), "SELECT pg_advisory_unlock($1)", l.key).Scan(&released)
		if uerr == nil && !released {
			uerr = fmt.Errorf("advisory lock %d was not held by this session", l.key)
		}
		if uerr != nil {
			l.logger.Warn("failed to release advisory lock", "key", l.key, "error", uerr)
			// a session still holding the lock must not go back to the pool
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
			if err == nil {
				err = fmt.Errorf("release advisory lock: %w", uerr)
			}
		}
	}()
	return fn()
}

// lockRow is the single row whose presence means the lock is held.
type lockRow struct {
	ID       string    `gorm:"primaryKey;column:id;size:64"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by;size:255"`
}

func (lockRow) TableName() string { return "migration_lock" }

type tableLock struct {
	db   *gorm.DB
	opts LockOptions
}

func (l *tableLock) WithLock(ctx context.Context, fn func() error) error {
	holder, _ := os.Hostname()
	if holder == "" {
		holder = "unknown"
	}

	var lastErr error
	for attempt := 0; attempt < l.opts.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		// a holder that crashed leaves its row behind
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", l.opts.Name, time.Now().Add(-l.opts.StaleAfter)).
			Delete(&lockRow{})

		row := lockRow{ID: l.opts.Name, LockedAt: time.Now(), LockedBy: holder}
		lastErr = l.db.WithContext(ctx).Create(&row).Error
		if lastErr == nil {
			l.opts.Logger.Debug("migration lock acquired", "strategy", "table", "holder", holder)
			defer l.db.Where("id = ?", l.opts.Name).Delete(&lockRow{})
			return fn()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.opts.RetryInterval):
		}
	}
	return fmt.Errorf("acquire migration lock after %d attempts: %w", l.opts.Retries, lastErr)
}
