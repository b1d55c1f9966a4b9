package maintenance

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/loglayer/sqlitesink/internal/selflog"
	"github.com/loglayer/sqlitesink/internal/writer"
)

func openRetentionDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE Logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		Timestamp TEXT NOT NULL, Level TEXT NOT NULL, Exception TEXT NOT NULL,
		RenderedMessage TEXT NOT NULL, Properties TEXT NOT NULL
	)`)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func insertRow(t *testing.T, db *sql.DB, ts string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO Logs (Timestamp, Level, Exception, RenderedMessage, Properties)
		VALUES (?, 'Information', '', 'hi', '')`, ts)
	require.NoError(t, err)
}

func TestEffectivePeriodFloor(t *testing.T) {
	cfg := RetentionConfig{RetentionPeriod: time.Minute}
	assert.Equal(t, MinRetentionPeriod, cfg.effectivePeriod())

	cfg = RetentionConfig{RetentionPeriod: time.Hour}
	assert.Equal(t, time.Hour, cfg.effectivePeriod())
}

func TestEffectiveIntervalRoundsDownToFloor(t *testing.T) {
	cfg := RetentionConfig{CheckInterval: 40 * time.Minute}
	assert.Equal(t, 30*time.Minute, cfg.effectiveInterval())

	cfg = RetentionConfig{CheckInterval: 5 * time.Minute}
	assert.Equal(t, MinCheckInterval, cfg.effectiveInterval())

	cfg = RetentionConfig{CheckInterval: 45 * time.Minute}
	assert.Equal(t, 45*time.Minute, cfg.effectiveInterval())
}

func TestSweepDeletesOnlyOlderThanCutoff(t *testing.T) {
	db := openRetentionDB(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	insertRow(t, db, writer.FormatCutoff(now.Add(-2*time.Hour), false))
	insertRow(t, db, writer.FormatCutoff(now.Add(-time.Minute), false))

	r := NewRetention(db, &writer.Guard{}, RetentionConfig{
		TableName:       "Logs",
		RetentionPeriod: time.Hour,
	}, selflog.New(selflog.DefaultConfig()))

	deleted, err := r.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM Logs").Scan(&remaining))
	assert.Equal(t, 1, remaining)
}

func TestSweepAppliesRetentionFloorEvenWhenConfiguredLower(t *testing.T) {
	db := openRetentionDB(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// 20 minutes old: survives the 30-minute floor even though the
	// configured retention period of 1 minute would have deleted it.
	insertRow(t, db, writer.FormatCutoff(now.Add(-20*time.Minute), false))

	r := NewRetention(db, &writer.Guard{}, RetentionConfig{
		TableName:       "Logs",
		RetentionPeriod: time.Minute,
	}, selflog.New(selflog.DefaultConfig()))

	deleted, err := r.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}

func TestRunIsNoopWhenDisabled(t *testing.T) {
	db := openRetentionDB(t)
	r := NewRetention(db, &writer.Guard{}, RetentionConfig{TableName: "Logs"}, selflog.New(selflog.DefaultConfig()))

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return immediately when retention is disabled")
	}
}
