package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdxscraper/internal/config"
)

func TestInitializeLogger(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	logFile := filepath.Join(t.TempDir(), "logs", "test.log")
	logger, err := InitializeLogger(config.LoggingConfig{Level: "info", Output: "file", FilePath: logFile})
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Same(t, logger, GetLogger())

	logger.Info("unit_started", "unit", "cases")
	require.NoError(t, CloseLogFile())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(content), &entry))
	assert.Equal(t, "unit_started", entry["msg"])
	assert.Equal(t, "cases", entry["unit"])
}

func TestNewLogger_RunID(t *testing.T) {
	tests := []struct {
		name  string
		ctx   context.Context
		want  bool
		level string
	}{
		{name: "with run id", ctx: WithRunID(context.Background(), "run-1"), want: true, level: "debug"},
		{name: "without run id", ctx: context.Background(), level: "info"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, tt.level).With("component", "runner")
			logger.InfoContext(tt.ctx, "run_started")

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, "runner", entry["component"])
			if tt.want {
				assert.Equal(t, "run-1", entry["run_id"])
			} else {
				assert.NotContains(t, entry, "run_id")
			}
		})
	}
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")
	logger.Info("hidden")
	assert.Empty(t, buf.String())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestRunIDHelpers(t *testing.T) {
	ctx := EnsureRunID(context.Background())
	id := RunID(ctx)
	assert.Len(t, id, 36)
	assert.Equal(t, id, RunID(EnsureRunID(ctx)))
	assert.NotEqual(t, NewRunID(), NewRunID())
}
