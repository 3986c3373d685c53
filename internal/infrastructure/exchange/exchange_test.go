package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundToStep(t *testing.T) {
	assert.Equal(t, "100.1", RoundToStep(100.1049, 0.1).String())
	assert.Equal(t, "100.2", RoundToStep(100.15, 0.1).String())
	assert.Equal(t, "100.1234", RoundToStep(100.1234, 0).String())
}

func TestFloorToStep(t *testing.T) {
	assert.Equal(t, "0.123", FloorToStep(0.12399, 0.001).String())
	assert.Equal(t, "5", FloorToStep(5.9, 1).String())
}

func TestMinDuration(t *testing.T) {
	assert.Equal(t, time.Second, MinDuration(time.Second, 2*time.Second))
	assert.Equal(t, time.Second, MinDuration(3*time.Second, time.Second))
}

func TestReadWithPingWaitsForReaderOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if err := c.WriteMessage(websocket.TextMessage, []byte(`{}`)); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var inFlight, calls, after atomic.Int32
	var returned atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ReadWithPing(ctx, conn, func([]byte) {
			if returned.Load() {
				after.Add(1)
			}
			inFlight.Add(1)
			calls.Add(1)
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
		})
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		returned.Store(true)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadWithPing did not return")
	}
	assert.Equal(t, int32(0), inFlight.Load())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), after.Load())
}
