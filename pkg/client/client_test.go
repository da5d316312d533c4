package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL: srv.URL + "/api/",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"daemon":{"name":"core","status":"running","pid":42,"start_attempts":2},"connected":true}`))
	})
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "running", st.Daemon.Status)
	assert.Equal(t, 42, st.Daemon.PID)
	assert.Equal(t, 2, st.Daemon.StartAttempts)
	require.NotNil(t, st.Connected)
	assert.True(t, *st.Connected)
	assert.Nil(t, st.Usage)
}

func TestStartSendsPath(t *testing.T) {
	var got []StartRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req StartRequest
		if r.ContentLength > 0 {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		}
		got = append(got, req)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	require.NoError(t, c.Start(context.Background(), StartRequest{}))
	require.NoError(t, c.Start(context.Background(), StartRequest{Path: "/opt/zcoind"}))
	assert.Equal(t, []StartRequest{{}, {Path: "/opt/zcoind"}}, got)
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"daemon already running (pid 7)"}`))
	})
	err := c.Stop(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "already running")
}

func TestSetAutoRestartQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/autorestart", r.URL.Path)
		assert.Equal(t, "false", r.URL.Query().Get("enabled"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	require.NoError(t, c.SetAutoRestart(context.Background(), false))
}

func TestIsReachable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{}`)) })
	assert.True(t, c.IsReachable(context.Background()))

	down := New(Config{BaseURL: "http://127.0.0.1:1/api"})
	assert.False(t, down.IsReachable(context.Background()))
}
