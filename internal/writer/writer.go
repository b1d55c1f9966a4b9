// Package writer owns the single SQLite connection for a sink instance:
// opening it with a fixed set of pragmas tuned for append-heavy logging,
// binding one batch per transaction, and classifying the storage engine's
// "database full" result so maintenance can decide whether to roll the
// file over.
package writer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loglayer/sqlitesink/internal/event"
	"github.com/loglayer/sqlitesink/internal/properties"
)

// timestampLayout truncates to the second and carries no UTC offset, so
// an inserted row's Timestamp and a retention cut-off are always
// lexically comparable.
const timestampLayout = "2006-01-02T15:04:05"

// pageSize and cachePages are the connection's page geometry.
const (
	pageSize   = 4096
	cachePages = 500
)

// ErrDatabaseFull is returned by WriteBatch when the storage engine
// reports SQLITE_FULL — the batch was rolled back and no rows were
// persisted. Maintenance decides whether to roll the file over and
// retry.
var ErrDatabaseFull = errors.New("database is full")

// Guard is the single-permit lock serialising all access to the
// connection between batch writes and retention sweeps. It belongs to
// one sink instance; two sinks targeting different files each own their
// own Guard.
type Guard struct {
	mu sync.Mutex
}

// Lock acquires the guard.
func (g *Guard) Lock() { g.mu.Lock() }

// Unlock releases the guard.
func (g *Guard) Unlock() { g.mu.Unlock() }

// Config configures connection opening and parameter binding.
type Config struct {
	TableName      string
	StoreUTC       bool
	MaxDBMegabytes int
}

// Writer binds batches of events into transactions against one SQLite
// connection.
type Writer struct {
	db    *sql.DB
	guard *Guard
	cfg   Config
}

// Open opens the SQLite file at path with in-memory journaling, NORMAL
// synchronous mode, 4096-byte pages, a 500-page cache, and a page-count
// ceiling derived from MaxDBMegabytes, and returns a Writer ready to
// accept batches.
func Open(ctx context.Context, path string, cfg Config, guard *Guard) (*Writer, error) {
	maxPages := maxPageCount(cfg.MaxDBMegabytes)

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(MEMORY)&_pragma=synchronous(NORMAL)&_pragma=page_size(%d)&_pragma=cache_size(%d)&_pragma=max_page_count(%d)",
		path, pageSize, cachePages, maxPages,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single SQLite connection is the writer guard's counterpart at the
	// database/sql level: only one logical writer ever touches the file.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &Writer{db: db, guard: guard, cfg: cfg}, nil
}

// maxPageCount derives the SQLite max_page_count pragma value from a
// megabyte ceiling: floor(maxDBMegabytes * 1,048,576 / pageSize).
func maxPageCount(maxDBMegabytes int) int64 {
	if maxDBMegabytes <= 0 {
		maxDBMegabytes = 10
	}
	return int64(maxDBMegabytes) * 1_048_576 / pageSize
}

// DB returns the underlying connection, for schema bootstrap and
// maintenance queries that share this writer's single connection.
func (w *Writer) DB() *sql.DB {
	return w.db
}

// Close closes the underlying connection.
func (w *Writer) Close() error {
	return w.db.Close()
}

// WriteBatch opens a transaction, binds each event into the INSERT
// statement, and commits. On any error the transaction is rolled back
// and no rows are persisted: a batch either appears in full or not at
// all. A SQLITE_FULL result is reported as ErrDatabaseFull so the caller
// can decide on rollover.
func (w *Writer) WriteBatch(ctx context.Context, batch []*event.LogEvent) error {
	if len(batch) == 0 {
		return nil
	}

	w.guard.Lock()
	defer w.guard.Unlock()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return w.classify(err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort; Commit supersedes it on success

	stmt, err := tx.PrepareContext(ctx, w.insertSQL())
	if err != nil {
		return w.classify(err)
	}
	defer stmt.Close()

	for _, ev := range batch {
		if err := w.bindAndExec(ctx, stmt, ev); err != nil {
			return w.classify(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return w.classify(err)
	}
	return nil
}

func (w *Writer) insertSQL() string {
	return fmt.Sprintf(
		`INSERT INTO %s (Timestamp, Level, Exception, RenderedMessage, Properties) VALUES (?, ?, ?, ?, ?)`,
		w.cfg.TableName,
	)
}

// bindAndExec converts one event into its column values and executes the
// prepared insert statement.
func (w *Writer) bindAndExec(ctx context.Context, stmt *sql.Stmt, ev *event.LogEvent) error {
	ts := ev.Timestamp
	if w.cfg.StoreUTC {
		ts = ts.UTC()
	}

	props, err := properties.Encode(ev.Properties)
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}

	_, err = stmt.ExecContext(ctx,
		ts.Format(timestampLayout),
		ev.Level.String(),
		ev.Exception,
		ev.RenderedMessage,
		props,
	)
	return err
}

// FormatCutoff formats a retention cut-off instant with the exact same
// rules used for an inserted row's Timestamp, so the textual comparison
// in the DELETE statement is valid.
func FormatCutoff(t time.Time, storeUTC bool) string {
	if storeUTC {
		t = t.UTC()
	}
	return t.Format(timestampLayout)
}

// classify turns a raw driver error into ErrDatabaseFull when the
// storage engine reports SQLITE_FULL, leaving all other errors
// (transient I/O, constraint violations, context cancellation)
// unwrapped for the caller to log as TransientWriteError.
func (w *Writer) classify(err error) error {
	if err == nil {
		return nil
	}
	if isDatabaseFullError(err) {
		return fmt.Errorf("%w: %v", ErrDatabaseFull, err)
	}
	return err
}

// isDatabaseFullError matches modernc.org/sqlite's SQLITE_FULL (13)
// result code, surfaced either as a numeric code embedded in the error
// message or as the canonical SQLite message text.
func isDatabaseFullError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database or disk is full") ||
		strings.Contains(msg, "sqlite_full") ||
		strings.Contains(msg, "(13)")
}
