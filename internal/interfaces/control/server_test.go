package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"tradeguard/internal/application/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	stopped atomic.Bool
}

func (f *fakeController) Status() port.Status {
	st := port.Status{State: port.StateRunning, OpenPositions: 2, TradeCount: 5, Equity: 10100}
	if f.stopped.Load() {
		st.State = port.StateStopped
	}
	return st
}

func (f *fakeController) Stop() { f.stopped.Store(true) }

func TestStatusAndStop(t *testing.T) {
	ctl := &fakeController{}
	srv := httptest.NewServer(NewServer("", ctl).Handler())
	defer srv.Close()
	client := NewClient(srv.URL)
	ctx := context.Background()

	st, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, port.StateRunning, st.State)
	assert.Equal(t, 2, st.OpenPositions)
	assert.Equal(t, 5, st.TradeCount)

	require.NoError(t, client.Stop(ctx))
	assert.True(t, ctl.stopped.Load())

	st, err = client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, port.StateStopped, st.State)
}

func TestMethodsAndHealthChecks(t *testing.T) {
	srv := httptest.NewServer(NewServer("", &fakeController{}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stop")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewClientAddr(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8080", NewClient(":8080").base)
	assert.Equal(t, "http://host:1", NewClient("host:1/").base)
	assert.Equal(t, "https://x", NewClient("https://x").base)
}
