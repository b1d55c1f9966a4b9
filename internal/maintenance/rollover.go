package maintenance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/loglayer/sqlitesink/internal/event"
	"github.com/loglayer/sqlitesink/internal/writer"
)

// rolloverTimestampLayout names the sibling file using Go's 24-hour
// reference layout, including hundredths of a second so two rollovers
// within the same second never collide (DESIGN.md: Open Question
// resolved in favour of the 24-hour clock since Go's time package has no
// 12-hour-without-AM/PM verb).
const rolloverTimestampLayout = "20060102_150405.00"

// RolloverConfig configures size-based rollover. When Enabled is false,
// a full database drops the offending batch instead of rotating the
// file.
type RolloverConfig struct {
	Enabled   bool
	DBPath    string
	TableName string
}

// Rollover reacts to ErrDatabaseFull from the writer by archiving the
// current file under a timestamped name and truncating the live table,
// then retrying the batch exactly once.
type Rollover struct {
	cfg    RolloverConfig
	guard  *writer.Guard
	db     *sql.DB
	w      *writer.Writer
	logger *slog.Logger
}

// NewRollover creates a Rollover handler bound to the writer whose
// connection it rotates.
func NewRollover(w *writer.Writer, guard *writer.Guard, cfg RolloverConfig, logger *slog.Logger) *Rollover {
	return &Rollover{cfg: cfg, guard: guard, db: w.DB(), w: w, logger: logger}
}

// HandleFull is invoked by the batch dispatcher when writer.WriteBatch
// returns writer.ErrDatabaseFull. If rollover is disabled the batch is
// dropped and nil is returned so the sink keeps running. If enabled, the
// live file is archived, the table is emptied, and the batch is retried
// exactly once.
func (r *Rollover) HandleFull(ctx context.Context, batch []*event.LogEvent, now time.Time) error {
	if !r.cfg.Enabled {
		r.logger.Warn("database full, rollover disabled, dropping batch",
			"table", r.cfg.TableName, "batch_size", len(batch))
		return nil
	}

	archivePath, err := r.rotate(ctx, now)
	if err != nil {
		return fmt.Errorf("rollover: %w", err)
	}

	r.logger.Info("rolled database over",
		"table", r.cfg.TableName,
		"archive", archivePath,
		"size", humanizedSize(archivePath),
	)

	if err := r.w.WriteBatch(ctx, batch); err != nil {
		return fmt.Errorf("rollover retry: %w", err)
	}
	return nil
}

// rotate copies the live database file to a timestamped sibling, then
// empties the live table in place, all under the shared guard so no
// batch write or retention sweep interleaves with it.
func (r *Rollover) rotate(ctx context.Context, now time.Time) (string, error) {
	r.guard.Lock()
	defer r.guard.Unlock()

	archivePath := siblingPath(r.cfg.DBPath, now)
	if err := copyFile(r.cfg.DBPath, archivePath); err != nil {
		return "", fmt.Errorf("archive database file: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", r.cfg.TableName)); err != nil {
		return "", fmt.Errorf("truncate %q after rollover: %w", r.cfg.TableName, err)
	}
	if _, err := r.db.ExecContext(ctx, "VACUUM"); err != nil {
		return "", fmt.Errorf("vacuum after rollover: %w", err)
	}

	return archivePath, nil
}

// siblingPath inserts a timestamp suffix before the file extension, e.g.
// "logs.db" at 2024-01-02 03:04:05.67 becomes
// "logs-20240102_030405.67.db".
func siblingPath(dbPath string, now time.Time) string {
	dir := filepath.Dir(dbPath)
	base := filepath.Base(dbPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", stem, now.Format(rolloverTimestampLayout), ext))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Join(err, os.Remove(dst))
	}
	return out.Sync()
}

func humanizedSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "unknown"
	}
	return humanize.Bytes(uint64(info.Size()))
}
