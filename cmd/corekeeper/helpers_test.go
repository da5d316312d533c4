package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/corekeeper/internal/config"
	"github.com/loykin/corekeeper/internal/process"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix shell and signals")
	}
}

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

// testConfig returns defaults pointed at a temp user data dir with network,
// metrics and API disabled.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Paths.UserData = t.TempDir()
	cfg.Core.HeartbeatIntervalSeconds = 1
	cfg.Core.StopTimeout = 2 * time.Second
	cfg.Network.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.API.Enabled = false
	cfg.Log.Format = "text"
	return cfg
}

// writeDaemon installs a shell daemon under root at the default executable path.
func writeDaemon(t *testing.T, root string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(config.DefaultExecutable))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755)) // #nosec G306
	return p
}

func pidFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.UserData, cfg.Core.Name+".pid")
}

func writeOwned(t *testing.T, cfg *config.Config, pid int) {
	t.Helper()
	meta := &process.Meta{Name: cfg.Core.Name, Identity: process.IdentityOf(pid)}
	require.NoError(t, process.WritePIDFile(pidFilePath(cfg), pid, meta))
}

func output(fn func(w io.Writer) error) (string, error) {
	var b bytes.Buffer
	err := fn(&b)
	return b.String(), err
}
