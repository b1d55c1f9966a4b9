// Package maintenance implements the two policies that keep the database
// bounded over time: age-based retention deletion and size-based
// rollover. Both run against the writer's single connection, serialised
// through the shared writer.Guard so retention sweeps and batch writes
// never race.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/loglayer/sqlitesink/internal/writer"
)

const (
	// MinRetentionPeriod is the floor applied to RetentionPeriod: rows
	// are never pruned more aggressively than this, even if a caller
	// configures a shorter period.
	MinRetentionPeriod = 30 * time.Minute

	// MinCheckInterval is the floor applied to CheckInterval, and the
	// unit it is rounded down to.
	MinCheckInterval = 15 * time.Minute
)

// RetentionConfig configures the retention sweep. A zero RetentionPeriod
// disables retention entirely.
type RetentionConfig struct {
	TableName       string
	RetentionPeriod time.Duration
	CheckInterval   time.Duration
	StoreUTC        bool
}

// Enabled reports whether retention is configured to run at all.
func (c RetentionConfig) Enabled() bool {
	return c.RetentionPeriod > 0
}

// effectivePeriod applies the 30-minute floor.
func (c RetentionConfig) effectivePeriod() time.Duration {
	if c.RetentionPeriod < MinRetentionPeriod {
		return MinRetentionPeriod
	}
	return c.RetentionPeriod
}

// effectiveInterval is the larger of the configured check interval and
// 15 minutes, rounded down to a multiple of 15 minutes, floored at 15
// minutes.
func (c RetentionConfig) effectiveInterval() time.Duration {
	interval := c.CheckInterval
	if interval < MinCheckInterval {
		interval = MinCheckInterval
	}
	rounded := (interval / MinCheckInterval) * MinCheckInterval
	if rounded < MinCheckInterval {
		rounded = MinCheckInterval
	}
	return rounded
}

// Retention runs periodic age-based deletion passes.
type Retention struct {
	db     *sql.DB
	guard  *writer.Guard
	cfg    RetentionConfig
	logger *slog.Logger
}

// NewRetention creates a Retention runner.
func NewRetention(db *sql.DB, guard *writer.Guard, cfg RetentionConfig, logger *slog.Logger) *Retention {
	return &Retention{db: db, guard: guard, cfg: cfg, logger: logger}
}

// Run blocks, sweeping on a timer, until ctx is cancelled or stopCh is
// closed. Intended to run as a goroutine; a no-op if retention is
// disabled.
func (r *Retention) Run(ctx context.Context, stopCh <-chan struct{}) {
	if !r.cfg.Enabled() {
		return
	}

	interval := r.cfg.effectiveInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx, time.Now()); err != nil {
				r.logger.Warn("retention sweep failed", "table", r.cfg.TableName, "error", err)
			}
		}
	}
}

// Sweep deletes all rows with Timestamp older than now minus the
// effective retention period, formatted identically to insert
// timestamps so the textual comparison is valid. It acquires the writer
// guard so it never races a concurrent batch write.
func (r *Retention) Sweep(ctx context.Context, now time.Time) (int64, error) {
	cutoff := writer.FormatCutoff(now.Add(-r.cfg.effectivePeriod()), r.cfg.StoreUTC)

	r.guard.Lock()
	defer r.guard.Unlock()

	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE Timestamp < ?", r.cfg.TableName),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("retention delete: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("retention rows affected: %w", err)
	}

	if deleted > 0 {
		r.logger.Info("retention sweep completed",
			"table", r.cfg.TableName,
			"deleted", deleted,
			"cutoff", cutoff,
		)
	}
	return deleted, nil
}
