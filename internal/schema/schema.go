// Package schema bootstraps the log table and validates that an
// existing table is a compatible superset of the columns the writer
// needs.
package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// RequiredColumns are the columns every stored row needs. The primary
// key ("id") is checked separately since SQLite reports it with a
// distinct pk flag rather than as an ordinary column.
var RequiredColumns = []string{"Timestamp", "Level", "Exception", "RenderedMessage", "Properties"}

// Bootstrap creates the log table if it does not already exist. It is
// idempotent and safe to call on every sink construction.
func Bootstrap(ctx context.Context, db *sql.DB, table string) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		Timestamp TEXT NOT NULL,
		Level TEXT NOT NULL,
		Exception TEXT NOT NULL,
		RenderedMessage TEXT NOT NULL,
		Properties TEXT NOT NULL
	)`, table)

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("bootstrap table %q: %w", table, err)
	}
	return Validate(ctx, db, table)
}

// Validate checks that table exists with at least the required columns.
// A compatible superset (extra columns) is accepted; a table missing any
// required column is rejected.
func Validate(ctx context.Context, db *sql.DB, table string) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect table %q: %w", table, err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	hasIDKey := false
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			dfltValue  interface{}
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &primaryKey); err != nil {
			return fmt.Errorf("scan column info for %q: %w", table, err)
		}
		present[name] = true
		if name == "id" && primaryKey > 0 {
			hasIDKey = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read column info for %q: %w", table, err)
	}

	if len(present) == 0 {
		return fmt.Errorf("table %q does not exist after bootstrap", table)
	}

	for _, col := range RequiredColumns {
		if !present[col] {
			return fmt.Errorf("table %q is missing required column %q", table, col)
		}
	}
	if !hasIDKey {
		return fmt.Errorf("table %q has no \"id\" primary key column", table)
	}
	return nil
}
