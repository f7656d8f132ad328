package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AnatoleLucet/ripple/internal"
	"github.com/AnatoleLucet/ripple/internal/observability"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*internal.Runtime, *Server, *httptest.Server) {
	t.Helper()

	registry := prometheus.NewRegistry()
	rt := internal.NewRuntime(internal.WithMetrics(observability.NewMetrics(observability.WithRegistry(registry))))

	count, err := rt.NewState("count", 1.0)
	require.NoError(t, err)
	_, err = rt.NewComputed("doubled", func() (any, error) {
		return count.Read().(float64) * 2, nil
	})
	require.NoError(t, err)

	s := New(rt, Config{Gatherer: registry})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return rt, s, ts
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })

	return res
}

func TestCells(t *testing.T) {
	_, _, ts := newTestServer(t)

	t.Run("lists named cells", func(t *testing.T) {
		res := do(t, http.MethodGet, ts.URL+"/cells", "")
		require.Equal(t, http.StatusOK, res.StatusCode)

		var views []cellView
		require.NoError(t, json.NewDecoder(res.Body).Decode(&views))
		require.Len(t, views, 2)
		assert.Equal(t, "count", views[0].Name)
		assert.False(t, views[0].Derived)
		assert.Equal(t, "doubled", views[1].Name)
		assert.True(t, views[1].Derived)
	})

	t.Run("writes propagate", func(t *testing.T) {
		res := do(t, http.MethodPut, ts.URL+"/cells/count", "5")
		require.Equal(t, http.StatusNoContent, res.StatusCode)

		res = do(t, http.MethodGet, ts.URL+"/cells/doubled", "")
		require.Equal(t, http.StatusOK, res.StatusCode)

		var v cellView
		require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
		assert.Equal(t, 10.0, v.Value)
		assert.Equal(t, 2.0, v.Previous)
	})

	t.Run("unknown cell", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/cells/nope", "").StatusCode)
		assert.Equal(t, http.StatusNotFound, do(t, http.MethodPut, ts.URL+"/cells/nope", "1").StatusCode)
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPut, ts.URL+"/cells/count", "{").StatusCode)
	})

	t.Run("serves metrics", func(t *testing.T) {
		res := do(t, http.MethodGet, ts.URL+"/metrics", "")
		require.Equal(t, http.StatusOK, res.StatusCode)

		body, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "ripple_runtime_jobs_total")
	})
}

func TestWebSocket(t *testing.T) {
	_, s, ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?key=n:count&key=doubled"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, map[string]any{"n": 1.0, "doubled": 2.0}, frame.Changes)

	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusNoContent, do(t, http.MethodPut, ts.URL+"/cells/count", "3").StatusCode)
	require.Equal(t, http.StatusNoContent, do(t, http.MethodPost, ts.URL+"/flush", "").StatusCode)

	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, map[string]any{"n": 3.0, "doubled": 6.0}, frame.Changes)

	conn.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketRejectsUnknownKeys(t *testing.T) {
	_, _, ts := newTestServer(t)

	res := do(t, http.MethodGet, ts.URL+"/ws?key=missing", "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = do(t, http.MethodGet, ts.URL+"/ws", "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}
