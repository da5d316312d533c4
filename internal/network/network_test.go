package network

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/corekeeper/internal/store"
)

func waitUntil(timeout, step time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(step)
	}
	return fn()
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	return ln
}

func TestNewRequiresAddress(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestInitReportsConnectivity(t *testing.T) {
	ln := listen(t)
	addr := ln.Addr().String()

	st := store.NewMemoryStore()
	var mu sync.Mutex
	var seen []bool
	st.Subscribe(func(m store.Mutation, _ store.State) {
		if m.Type == StoreActionConnected {
			mu.Lock()
			seen = append(seen, m.Payload.(bool))
			mu.Unlock()
		}
	})

	c, err := New(Config{RPCAddr: addr, PollInterval: 20 * time.Millisecond, Timeout: 200 * time.Millisecond}, quiet())
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background(), st))
	defer func() { _ = c.Close() }()

	require.True(t, waitUntil(2*time.Second, 10*time.Millisecond, c.Connected))
	v, ok := st.Get("Network", "connected")
	require.True(t, ok)
	assert.Equal(t, true, v)

	require.NoError(t, ln.Close())
	require.True(t, waitUntil(2*time.Second, 10*time.Millisecond, func() bool { return !c.Connected() }))
	require.True(t, waitUntil(time.Second, 10*time.Millisecond, func() bool {
		v, _ := st.Get("Network", "connected")
		return v == false
	}))

	mu.Lock()
	assert.Equal(t, []bool{true, false}, seen[:2])
	mu.Unlock()
}

func TestInitIsRepeatableAndCloseIdempotent(t *testing.T) {
	ln := listen(t)
	defer func() { _ = ln.Close() }()
	st := store.NewMemoryStore()
	c, err := New(Config{RPCAddr: ln.Addr().String(), PollInterval: 20 * time.Millisecond}, quiet())
	require.NoError(t, err)

	require.NoError(t, c.Init(context.Background(), st))
	require.NoError(t, c.Init(context.Background(), st))
	require.True(t, waitUntil(2*time.Second, 10*time.Millisecond, c.Connected))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Error(t, c.Init(context.Background(), nil))
}
