// Package sqlitesink implements a local, durable, batched log-event sink
// backed by an embedded SQLite database. Events are admitted
// non-blockingly into a bounded buffer, grouped into batches by size or
// time, and written transactionally by a single dedicated writer.
// Maintenance runs age-based retention and reactive size rollover
// alongside the writer, serialised through a shared guard.
package sqlitesink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/loglayer/sqlitesink/internal/batch"
	"github.com/loglayer/sqlitesink/internal/buffer"
	"github.com/loglayer/sqlitesink/internal/event"
	"github.com/loglayer/sqlitesink/internal/maintenance"
	"github.com/loglayer/sqlitesink/internal/schema"
	"github.com/loglayer/sqlitesink/internal/selflog"
	"github.com/loglayer/sqlitesink/internal/writer"
)

// Re-exported types so callers need only import this package to build and
// emit events.
type (
	// Event is the record accepted by Emit.
	Event = event.LogEvent
	// Level is the log severity enumeration.
	Level = event.Level
	// Property is the recursive structured-value variant.
	Property = event.Property
)

// Level constants, re-exported for convenience.
const (
	Verbose     = event.Verbose
	Debug       = event.Debug
	Information = event.Information
	Warning     = event.Warning
	Error       = event.Error
	Fatal       = event.Fatal
)

// NewEvent, Scalar, Sequence, Mapping and Structured are re-exported
// constructors for building an Event and its properties.
var (
	NewEvent   = event.New
	Scalar     = event.Scalar
	Sequence   = event.Sequence
	Mapping    = event.Mapping
	Structured = event.Structured
)

var (
	// ErrDatabaseClosed reports that the sink has already been closed. No
	// function in this package returns it: Emit after Close drops the
	// event and logs a warning instead.
	ErrDatabaseClosed = errors.New("sqlitesink: database closed")

	// ErrInvalidConfiguration is returned by New when a required option
	// is missing or a value is outside the range the sink can normalize
	// away. Construction fails outright rather than silently clamping.
	ErrInvalidConfiguration = errors.New("sqlitesink: invalid configuration")

	// ErrSchemaBootstrap is returned by New when the table cannot be
	// created or validated.
	ErrSchemaBootstrap = errors.New("sqlitesink: schema bootstrap failed")
)

const maxMaxDBMegabytes = 20_480

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// config collects every recognised option.
type config struct {
	dbPath                 string
	tableName              string
	storeTimestampInUTC    bool
	formatProvider         interface{}
	minLevel               event.Level
	batchSize              int
	maxBufferSize          int
	flushInterval          time.Duration
	retentionPeriod        time.Duration
	retentionCheckInterval time.Duration
	maxDBMegabytes         int
	rollOver               bool
	logger                 *slog.Logger
}

func defaultConfig() config {
	return config{
		tableName:      "Logs",
		minLevel:       event.Verbose,
		batchSize:      batch.DefaultBatchSize,
		maxBufferSize:  100_000,
		flushInterval:  batch.DefaultFlushInterval,
		maxDBMegabytes: 10,
		rollOver:       true,
	}
}

// Option configures a Sink at construction.
type Option func(*config)

// WithTableName sets the identifier used in CREATE TABLE and all DML.
func WithTableName(name string) Option {
	return func(c *config) { c.tableName = name }
}

// WithStoreTimestampInUTC converts timestamps to UTC before formatting.
func WithStoreTimestampInUTC(utc bool) Option {
	return func(c *config) { c.storeTimestampInUTC = utc }
}

// WithFormatProvider attaches an opaque locale handle passed through to
// message rendering. The core sink never inspects it.
func WithFormatProvider(provider interface{}) Option {
	return func(c *config) { c.formatProvider = provider }
}

// WithMinLevel records the minimum level the host's logging pipeline is
// configured to forward. The core does not filter on it — the host is
// expected to apply this threshold itself before calling Emit; the sink
// only retains the value for introspection (see Sink.MinLevel).
func WithMinLevel(level event.Level) Option {
	return func(c *config) { c.minLevel = level }
}

// WithBatchSize sets the size-trigger threshold.
func WithBatchSize(n int) Option {
	return func(c *config) { c.batchSize = n }
}

// WithMaxBufferSize sets the hard cap on queued events.
func WithMaxBufferSize(n int) Option {
	return func(c *config) { c.maxBufferSize = n }
}

// WithFlushInterval sets the time-trigger period.
func WithFlushInterval(d time.Duration) Option {
	return func(c *config) { c.flushInterval = d }
}

// WithRetentionPeriod enables retention, deleting rows older than d
// (floored to 30 minutes).
func WithRetentionPeriod(d time.Duration) Option {
	return func(c *config) { c.retentionPeriod = d }
}

// WithRetentionCheckInterval sets the retention sweep period (floored to
// 15 minutes, rounded to a multiple of 15).
func WithRetentionCheckInterval(d time.Duration) Option {
	return func(c *config) { c.retentionCheckInterval = d }
}

// WithMaxDBMegabytes sets the database size ceiling.
func WithMaxDBMegabytes(mb int) Option {
	return func(c *config) { c.maxDBMegabytes = mb }
}

// WithRollOver enables or disables reactive rollover on DatabaseFull.
func WithRollOver(enabled bool) Option {
	return func(c *config) { c.rollOver = enabled }
}

// WithLogger sets the host diagnostic channel. Defaults to a JSON self-log
// on stderr.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

func (c *config) validate() error {
	if c.dbPath == "" {
		return fmt.Errorf("%w: db_path is required", ErrInvalidConfiguration)
	}
	if c.batchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidConfiguration)
	}
	if !identifierPattern.MatchString(c.tableName) {
		return fmt.Errorf("%w: table_name %q is not a valid identifier", ErrInvalidConfiguration, c.tableName)
	}
	return nil
}

// applyDefaults normalizes out-of-range values rather than failing
// construction: a non-positive buffer size, flush interval or
// max_db_mb falls back to its default, and a max_db_mb above the
// ceiling clamps to the ceiling. validate is reserved for the cases that
// cannot be recovered this way.
func (c *config) applyDefaults() {
	if c.maxBufferSize <= 0 {
		c.maxBufferSize = 100_000
	}
	if c.flushInterval <= 0 {
		c.flushInterval = batch.DefaultFlushInterval
	}
	if c.maxDBMegabytes <= 0 {
		c.maxDBMegabytes = 10
	}
	if c.maxDBMegabytes > maxMaxDBMegabytes {
		c.maxDBMegabytes = maxMaxDBMegabytes
	}
}

// Stats is a snapshot of sink-internal counters, for host-side health
// reporting.
type Stats struct {
	Buffer         buffer.Stats
	EventsWritten  int64
	BatchesWritten int64
	WriteErrors    int64
	LastBatchSize  int
}

// Sink is a durable, batched SQLite log-event sink.
type Sink struct {
	cfg    config
	logger *slog.Logger

	buf     *buffer.Buffer
	batcher *batch.Batcher
	w       *writer.Writer
	guard   *writer.Guard
	rollCfg maintenance.RolloverConfig
	roller  *maintenance.Rollover

	retentionCtx    context.Context
	retentionCancel context.CancelFunc
	retentionDone   chan struct{}

	eventsWritten  atomic.Int64
	batchesWritten atomic.Int64
	writeErrors    atomic.Int64
	lastBatchSize  atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

// New constructs a Sink writing to dbPath. It bootstraps the schema
// synchronously, so a broken table definition is detected at
// construction time rather than on the first batch.
func New(dbPath string, opts ...Option) (*Sink, error) {
	cfg := defaultConfig()
	cfg.dbPath = dbPath
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create directory %q: %v", ErrInvalidConfiguration, dir, err)
		}
	}

	logger := selflog.Resolve(cfg.logger)
	guard := &writer.Guard{}

	w, err := writer.Open(context.Background(), cfg.dbPath, writer.Config{
		TableName:      cfg.tableName,
		StoreUTC:       cfg.storeTimestampInUTC,
		MaxDBMegabytes: cfg.maxDBMegabytes,
	}, guard)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaBootstrap, err)
	}

	if err := schema.Bootstrap(context.Background(), w.DB(), cfg.tableName); err != nil {
		w.Close()
		return nil, fmt.Errorf("%w: %v", ErrSchemaBootstrap, err)
	}

	s := &Sink{
		cfg:    cfg,
		logger: logger,
		w:      w,
		guard:  guard,
		closed: make(chan struct{}),
	}

	s.rollCfg = maintenance.RolloverConfig{
		Enabled:   cfg.rollOver,
		DBPath:    cfg.dbPath,
		TableName: cfg.tableName,
	}
	s.roller = maintenance.NewRollover(w, guard, s.rollCfg, logger)

	s.buf = buffer.New(cfg.maxBufferSize, s.warnBufferNearlyFull)
	s.batcher = batch.New(s.buf, s.dispatch, batch.Options{
		BatchSize:     cfg.batchSize,
		FlushInterval: cfg.flushInterval,
	})
	s.batcher.Start()

	s.retentionCtx, s.retentionCancel = context.WithCancel(context.Background())
	s.retentionDone = make(chan struct{})
	retention := maintenance.NewRetention(w.DB(), guard, maintenance.RetentionConfig{
		TableName:       cfg.tableName,
		RetentionPeriod: cfg.retentionPeriod,
		CheckInterval:   cfg.retentionCheckInterval,
		StoreUTC:        cfg.storeTimestampInUTC,
	}, logger)
	go func() {
		defer close(s.retentionDone)
		retention.Run(s.retentionCtx, s.closed)
	}()

	return s, nil
}

// Emit admits ev into the sink. It is non-blocking and best-effort: a
// full buffer silently drops the event (reported only via the
// self-log), never propagating an error to the caller. Level filtering
// is the host's responsibility (see WithMinLevel); Emit writes whatever
// it is given.
func (s *Sink) Emit(ev *event.LogEvent) {
	select {
	case <-s.closed:
		s.logger.Warn("emit after close, dropping event")
		return
	default:
	}

	if !s.buf.Push(ev) {
		s.logger.Warn("buffer full, dropping event", "table", s.cfg.tableName)
	}
}

// MinLevel returns the minimum level configured via WithMinLevel. The
// sink does not filter on it; it is exposed so a host pipeline can read
// back the threshold it configured.
func (s *Sink) MinLevel() event.Level {
	return s.cfg.minLevel
}

// dispatch is the batcher's Dispatch callback: it writes the batch, and
// on DatabaseFull hands it to the rollover handler instead of losing it
// silently.
func (s *Sink) dispatch(events []*event.LogEvent) {
	correlationID := uuid.NewString()
	ctx := context.Background()
	s.lastBatchSize.Store(int64(len(events)))

	err := s.w.WriteBatch(ctx, events)
	if err == nil {
		s.batchesWritten.Add(1)
		s.eventsWritten.Add(int64(len(events)))
		return
	}

	if errors.Is(err, writer.ErrDatabaseFull) {
		s.logger.Warn("database full", "correlation_id", correlationID, "batch_size", len(events))
		if rollErr := s.roller.HandleFull(ctx, events, time.Now()); rollErr != nil {
			s.writeErrors.Add(1)
			s.logger.Error("rollover failed, batch lost",
				"correlation_id", correlationID, "batch_size", len(events), "error", rollErr)
			return
		}
		if !s.rollCfg.Enabled {
			// HandleFull dropped the batch; nothing was written.
			return
		}
		s.batchesWritten.Add(1)
		s.eventsWritten.Add(int64(len(events)))
		return
	}

	s.writeErrors.Add(1)
	s.logger.Error("batch write failed, batch lost",
		"correlation_id", correlationID, "batch_size", len(events), "error", err)
}

func (s *Sink) warnBufferNearlyFull() {
	s.logger.Warn("buffer at 75% capacity", "table", s.cfg.tableName)
}

// Stats returns a snapshot of sink-internal counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Buffer:         s.buf.Stats(),
		EventsWritten:  s.eventsWritten.Load(),
		BatchesWritten: s.batchesWritten.Load(),
		WriteErrors:    s.writeErrors.Load(),
		LastBatchSize:  int(s.lastBatchSize.Load()),
	}
}

// Close drains the pending batch, stops maintenance, and releases the
// database connection. It moves the sink through a one-way
// Running -> Draining -> Closed sequence and is idempotent.
func (s *Sink) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.batcher.Stop()
		s.retentionCancel()
		<-s.retentionDone
		closeErr = s.w.Close()
	})
	return closeErr
}

// Dispose is an alias for Close, matching the host API's naming.
func (s *Sink) Dispose() error {
	return s.Close()
}
