package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DeleteOlderThan drops buffers that have not been appended to since cutoff.
func (b *DBBuffer) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := b.db.WithContext(ctx).Where("updated_at < ?", cutoff).Delete(&bufferRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("expire transcript buffers: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Expirer removes buffers idle for longer than a cutoff.
type Expirer interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ Expirer = (*DBBuffer)(nil)

// RetentionWorker periodically expires idle SQL buffers, giving the database
// backend the same lifetime the Redis backend gets from key TTLs.
type RetentionWorker struct {
	store    Expirer
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewRetentionWorker creates a RetentionWorker. The sweep interval is a
// tenth of ttl, clamped between one minute and one hour.
func NewRetentionWorker(store Expirer, ttl time.Duration, logger *slog.Logger) *RetentionWorker {
	if logger == nil {
		logger = slog.Default()
	}
	interval := min(max(ttl/10, time.Minute), time.Hour)
	return &RetentionWorker{
		store:    store,
		ttl:      ttl,
		interval: interval,
		logger:   logger.With("component", "transcript-retention"),
		now:      time.Now,
	}
}

// Run sweeps until ctx is cancelled.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.store == nil || w.ttl <= 0 {
		w.logger.Info("transcript retention disabled", "ttl", w.ttl.String())
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("transcript retention started", "ttl", w.ttl.String(), "interval", w.interval.String())
	w.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("transcript retention stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep performs a single retention pass and returns how many buffers it
// removed.
func (w *RetentionWorker) Sweep(ctx context.Context) int64 {
	cutoff := w.now().Add(-w.ttl)
	deleted, err := w.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		w.logger.Error("transcript retention failed", "error", err)
		return 0
	}
	if deleted > 0 {
		w.logger.Info("expired transcript buffers", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted
}
