package events

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zishang520/socket.io/v2/socket"
)

func TestSocketIOSink_DeliversWhileConnectedAndCountsDrops(t *testing.T) {
	received := make(chan map[string]any, 8)
	io := socket.NewServer(nil, nil)
	io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		client.On(SocketIOEventName, func(args ...any) {
			if len(args) == 0 {
				return
			}
			if payload, ok := args[0].(map[string]any); ok {
				received <- payload
			}
		})
	})
	srv := httptest.NewServer(io.ServeHandler(nil))
	defer srv.Close()

	sink, err := NewSocketIOSink(SocketIOConfig{URL: srv.URL}, nil)
	require.NoError(t, err)

	// Nothing is connected before the handshake completes.
	if !sink.Connected() {
		sink.Emit(Event{Type: CacheMiss, ExecutionID: "early"})
		assert.EqualValues(t, 1, sink.Dropped())
	}

	require.Eventually(t, sink.Connected, 5*time.Second, 10*time.Millisecond)
	dropped := sink.Dropped()

	sink.Emit(Event{Type: CacheHit, ExecutionID: "exec-1", Fields: Fields{RouteID: "names"}})

	select {
	case payload := <-received:
		assert.Equal(t, "cache:hit", payload["type"])
		assert.Equal(t, "exec-1", payload["executionId"])
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered to the server")
	}
	assert.Equal(t, dropped, sink.Dropped())

	require.NoError(t, sink.Close())
	require.Eventually(t, func() bool { return !sink.Connected() }, 5*time.Second, 10*time.Millisecond)
	sink.Emit(Event{Type: CacheStore, ExecutionID: "exec-1"})
	assert.Equal(t, dropped+1, sink.Dropped())
}

func TestNewSocketIOSink_RejectsRelativeURL(t *testing.T) {
	_, err := NewSocketIOSink(SocketIOConfig{URL: "/socket.io"}, nil)
	assert.ErrorContains(t, err, "must be absolute")
}
