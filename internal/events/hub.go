package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	hubWriteWait  = 10 * time.Second
	hubPongWait   = 60 * time.Second
	hubPingEvery  = (hubPongWait * 9) / 10
	hubClientSize = 256
)

var hubUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type hubClient struct {
	send        chan []byte
	executionID string
}

// Hub broadcasts the live event stream to websocket clients. A client may
// restrict itself to one execution with the execution_id query parameter.
// Slow clients lose events instead of slowing the run down.
type Hub struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	dropped atomic.Int64
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, clients: make(map[*hubClient]struct{})}
}

// Emit implements Sink.
func (h *Hub) Emit(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Warn("Failed to encode event for websocket clients.", "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.executionID != "" && c.executionID != e.ExecutionID {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were dropped for slow clients.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := hubUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &hubClient{
		send:        make(chan []byte, hubClientSize),
		executionID: strings.TrimSpace(r.URL.Query().Get("execution_id")),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("Websocket event client connected.", "remote_addr", r.RemoteAddr, "execution_id", c.executionID)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		h.logger.Debug("Websocket event client disconnected.", "remote_addr", r.RemoteAddr)
	}()

	if err := conn.SetReadDeadline(time.Now().Add(hubPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(hubPongWait))
	})

	// The read loop only exists to process control frames and notice
	// disconnects.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(hubPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			if err := conn.SetWriteDeadline(time.Now().Add(hubWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(hubWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
