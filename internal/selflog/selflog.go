// Package selflog provides the sink's host-facing diagnostic channel: a
// JSON-lines structured logger used for everything the sink must never
// surface to producers on the synchronous Emit path.
package selflog

import (
	"io"
	"log/slog"
	"os"
)

// Config configures the diagnostic logger.
type Config struct {
	// Output is the writer for log output (default: os.Stderr).
	Output io.Writer

	// Level is the minimum level reported (default: slog.LevelInfo).
	Level slog.Level
}

// DefaultConfig returns the default self-log configuration.
func DefaultConfig() Config {
	return Config{
		Output: os.Stderr,
		Level:  slog.LevelInfo,
	}
}

// New creates a JSON-lines self-log logger. A nil *slog.Logger passed to
// sink construction resolves to this with default configuration.
//
// Log format:
//
//	{"ts":"2024-01-02T03:04:05Z","level":"WARN","msg":"batch write failed","table":"Logs","error":"..."}
func New(cfg Config) *slog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: cfg.Level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			return a
		},
	}

	return slog.New(slog.NewJSONHandler(output, opts))
}

// Resolve returns logger if non-nil, otherwise a default self-log logger.
func Resolve(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return New(DefaultConfig())
}
