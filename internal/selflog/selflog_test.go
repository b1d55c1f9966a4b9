package selflog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRenamesTimeKey(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: slog.LevelInfo})

	logger.Warn("batch write failed", "table", "Logs", "error", "disk full")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "ts")
	assert.NotContains(t, decoded, "time")
	assert.Equal(t, "batch write failed", decoded["msg"])
	assert.Equal(t, "Logs", decoded["table"])
}

func TestResolveDefaultsWhenNil(t *testing.T) {
	assert.NotNil(t, Resolve(nil))

	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, nil))
	assert.Same(t, custom, Resolve(custom))
}
