package app

import (
	"fmt"
	"os"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/events"
)

// openSinks assembles the event sinks: the logger, Prometheus metrics and
// the websocket hub always, plus the optional file, socket.io and
// OpenTelemetry sinks.
func (a *App) openSinks(env *config.Env) error {
	a.sinks = events.Multi{events.LogSink{Logger: a.logger}, a.metrics, a.hub}

	if env.EventsFile != "" {
		f, err := os.Create(env.EventsFile)
		if err != nil {
			return fmt.Errorf("failed to create events file: %w", err)
		}
		jsonl := events.NewJSONLines(f)
		a.sinks = append(a.sinks, jsonl)
		a.closers = append(a.closers, func() error {
			if err := jsonl.Err(); err != nil {
				f.Close()
				return fmt.Errorf("failed to write events file: %w", err)
			}
			return f.Close()
		})
		a.logger.Debug("Writing events file.", "path", env.EventsFile)
	}

	if env.SocketIOURL != "" {
		sio, err := events.NewSocketIOSink(events.SocketIOConfig{
			URL:       env.SocketIOURL,
			Namespace: env.SocketIONamespace,
		}, a.logger)
		if err != nil {
			return err
		}
		a.sinks = append(a.sinks, sio)
		a.closers = append(a.closers, func() error {
			if n := sio.Dropped(); n > 0 {
				a.logger.Warn("Socket.io sink dropped events.", "count", n)
			}
			return sio.Close()
		})
	}

	if env.OTel {
		a.sinks = append(a.sinks, events.NewTraceSink(nil))
		a.logger.Debug("OpenTelemetry trace sink enabled.")
	}
	return nil
}
