package app

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger("warn", "json", &buf)
	require.NoError(t, err)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	logger.Warn("disk low", "free", 3)
	assert.Contains(t, buf.String(), `"msg":"disk low"`)

	buf.Reset()
	logger, err = newLogger("", "", &buf)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	logger.Info("ready")
	assert.Contains(t, buf.String(), "msg=ready")

	_, err = newLogger("verbose", "text", &buf)
	assert.ErrorContains(t, err, "invalid log level 'verbose'")
	_, err = newLogger("info", "xml", &buf)
	assert.ErrorContains(t, err, "invalid log format 'xml'")
}

func TestNewApp_RejectsInvalidLogLevel(t *testing.T) {
	_, err := NewApp(context.Background(), &bytes.Buffer{}, &Config{Pipeline: "main.hcl", LogLevel: "verbose"})
	assert.ErrorContains(t, err, "invalid log level")
}
