package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// newLogger builds the application's own logger. It does not set the global
// logger. An empty level or format selects info and text.
func newLogger(levelStr, formatStr string, outW io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo
	if levelStr != "" {
		if err := level.UnmarshalText([]byte(levelStr)); err != nil {
			return nil, fmt.Errorf("invalid log level '%s'", levelStr)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(formatStr) {
	case "json":
		return slog.New(slog.NewJSONHandler(outW, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(outW, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format '%s'", formatStr)
	}
}
