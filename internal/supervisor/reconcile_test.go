package supervisor

import (
	"os"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/corekeeper/internal/process"
)

func TestStaleDeadPIDIsRemoved(t *testing.T) {
	d := newDaemonEnv(t)
	// #nosec G204
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	dead := cmd.Process.Pid
	require.NoError(t, process.WritePIDFile(d.pidFile("core"), dead, nil))

	rec := &recorder{}
	s := newSupervisor(t, d.config("core"), WithEventHandler(rec.handle))
	require.NoError(t, s.Start(""))
	snap := waitStatus(t, s, StatusRunning)
	assert.NotEqual(t, dead, snap.PID)
	assert.False(t, snap.Adopted)

	pid, _, err := process.ReadPIDFile(d.pidFile("core"))
	require.NoError(t, err)
	assert.Equal(t, snap.PID, pid)
	assert.True(t, waitUntil(time.Second, 10*time.Millisecond, func() bool { return rec.count(EventStaleRemoved) == 1 }))
}

func TestCorruptPIDFileIsRemoved(t *testing.T) {
	d := newDaemonEnv(t)
	require.NoError(t, os.MkdirAll(d.pidDir, 0o750))
	require.NoError(t, os.WriteFile(d.pidFile("core"), []byte("not-a-pid"), 0o600))

	s := newSupervisor(t, d.config("core"))
	require.NoError(t, s.Start(""))
	waitStatus(t, s, StatusRunning)
}

func TestReusedPIDIsNotTouched(t *testing.T) {
	d := newDaemonEnv(t)
	foreign := startForeign(t)
	start := process.StartUnix(foreign)
	if start == 0 {
		t.Skip("process start time unavailable on this platform")
	}
	meta := &process.Meta{Name: "core", Identity: process.Identity{StartUnix: start - 3600}}
	require.NoError(t, process.WritePIDFile(d.pidFile("core"), foreign, meta))

	cfg := d.config("core")
	cfg.StaleProcess = StaleReplace
	s := newSupervisor(t, cfg)
	require.NoError(t, s.Start(""))
	snap := waitStatus(t, s, StatusRunning)

	assert.NotEqual(t, foreign, snap.PID)
	assert.True(t, process.Alive(foreign), "a program that merely reused the pid must survive")
}

func TestLegacyPIDFileOfOtherProgramIsNotTouched(t *testing.T) {
	d := newDaemonEnv(t)
	foreign := startForeign(t)
	require.NoError(t, process.WritePIDFile(d.pidFile("core"), foreign, nil))

	rec := &recorder{}
	cfg := d.config("core")
	cfg.StaleProcess = StaleReplace
	s := newSupervisor(t, cfg, WithEventHandler(rec.handle))
	require.NoError(t, s.Start(""))
	snap := waitStatus(t, s, StatusRunning)

	assert.NotEqual(t, foreign, snap.PID)
	assert.False(t, snap.Adopted)
	assert.True(t, process.Alive(foreign), "a pid file without identity must not signal an unrelated program")
	assert.True(t, waitUntil(time.Second, 10*time.Millisecond, func() bool { return rec.count(EventStaleRemoved) == 1 }))
}

func TestStaleLiveProcessReplace(t *testing.T) {
	d := newDaemonEnv(t)
	orphan := startForeign(t)
	writeOwnedPIDFile(t, d.pidFile("core"), orphan)

	cfg := d.config("core")
	cfg.StaleProcess = StaleReplace
	s := newSupervisor(t, cfg)
	require.NoError(t, s.Start(""))
	snap := waitStatus(t, s, StatusRunning)

	assert.NotEqual(t, orphan, snap.PID)
	assert.False(t, snap.Adopted)
	assert.True(t, waitUntil(2*time.Second, 10*time.Millisecond, func() bool { return !process.Alive(orphan) }),
		"orphan must not coexist with the new daemon")
	assert.True(t, waitUntil(time.Second, 10*time.Millisecond, func() bool { return len(d.spawned()) == 1 }))
}

func TestStaleLiveProcessAdopt(t *testing.T) {
	d := newDaemonEnv(t)
	orphan := startForeign(t)
	writeOwnedPIDFile(t, d.pidFile("core"), orphan)

	rec := &recorder{}
	var started atomic.Int32
	cfg := d.config("core")
	cfg.StaleProcess = StaleAdopt
	cfg.OnStarted = func() { started.Add(1) }
	s := newSupervisor(t, cfg, WithEventHandler(rec.handle))

	require.NoError(t, s.Start(""))
	snap := waitStatus(t, s, StatusRunning)
	assert.Equal(t, orphan, snap.PID)
	assert.True(t, snap.Adopted)
	assert.Equal(t, 1, snap.StartAttempts)
	assert.Empty(t, d.spawned(), "adoption must not spawn")
	assert.True(t, waitUntil(time.Second, 10*time.Millisecond, func() bool { return started.Load() == 1 }))
	assert.Equal(t, 1, rec.count(EventAdopted))

	require.NoError(t, s.Stop())
	assert.False(t, process.Alive(orphan))
	assert.False(t, fileExists(d.pidFile("core")))
}

func TestAdoptedCrashRestartsFreshDaemon(t *testing.T) {
	d := newDaemonEnv(t)
	orphan := startForeign(t)
	writeOwnedPIDFile(t, d.pidFile("core"), orphan)

	cfg := d.config("core")
	cfg.StaleProcess = StaleAdopt
	cfg.AutoRestart = true
	s := newSupervisor(t, cfg)

	require.NoError(t, s.Start(""))
	waitStatus(t, s, StatusRunning)
	killPID(t, orphan)

	require.True(t, waitUntil(5*time.Second, 10*time.Millisecond, func() bool {
		snap := s.Snapshot()
		return snap.Status == StatusRunning && snap.PID != orphan
	}))
	snap := s.Snapshot()
	assert.False(t, snap.Adopted)
	assert.Equal(t, 2, snap.StartAttempts)
	assert.True(t, waitUntil(time.Second, 10*time.Millisecond, func() bool { return len(d.spawned()) == 1 }))
}

func TestStaleLiveProcessRefuse(t *testing.T) {
	d := newDaemonEnv(t)
	orphan := startForeign(t)
	writeOwnedPIDFile(t, d.pidFile("core"), orphan)

	cfg := d.config("core")
	cfg.StaleProcess = StaleRefuse
	s := newSupervisor(t, cfg)

	err := s.Start("")
	var are *AlreadyRunningError
	require.ErrorAs(t, err, &are)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, orphan, are.PID)
	assert.Equal(t, StatusStopped, s.Snapshot().Status)
	assert.True(t, process.Alive(orphan))
	assert.True(t, fileExists(d.pidFile("core")))
	assert.Empty(t, d.spawned())
}

func TestReleaseKeepsDaemonForNextRun(t *testing.T) {
	d := newDaemonEnv(t)
	cfg := d.config("core")
	first := newSupervisor(t, cfg)
	require.NoError(t, first.Start(""))
	pid := waitStatus(t, first, StatusRunning).PID
	d.waitLogged(t, pid)

	require.NoError(t, first.Release())
	<-first.Done()
	require.NoError(t, first.Release())
	assert.True(t, process.Alive(pid), "release must not stop the daemon")
	got, meta, err := process.ReadPIDFile(d.pidFile("core"))
	require.NoError(t, err)
	assert.Equal(t, pid, got)
	require.NotNil(t, meta)

	cfg.StaleProcess = StaleAdopt
	second := newSupervisor(t, cfg)
	require.NoError(t, second.Start(""))
	snap := waitStatus(t, second, StatusRunning)
	assert.Equal(t, pid, snap.PID)
	assert.True(t, snap.Adopted)

	require.NoError(t, second.Stop())
	assert.True(t, waitUntil(2*time.Second, 10*time.Millisecond, func() bool { return !process.Alive(pid) }))
	assert.Len(t, d.spawned(), 1)
}
