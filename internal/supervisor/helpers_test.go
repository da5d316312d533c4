package supervisor

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/corekeeper/internal/process"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
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

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// daemonEnv is a fake daemon: a script that appends its pid to a log file
// and then becomes a long sleep.
type daemonEnv struct {
	dir     string
	pidDir  string
	bin     string
	pidsLog string
}

func newDaemonEnv(t *testing.T) *daemonEnv {
	t.Helper()
	requireUnix(t)
	dir := t.TempDir()
	d := &daemonEnv{dir: dir, pidDir: filepath.Join(dir, "run"), pidsLog: filepath.Join(dir, "pids.log")}
	d.bin = d.script(t, "zcoind", "exec sleep 30")
	return d
}

func (d *daemonEnv) script(t *testing.T, name, tail string) string {
	t.Helper()
	path := filepath.Join(d.dir, name)
	body := fmt.Sprintf("#!/bin/sh\necho $$ >> %q\n%s\n", d.pidsLog, tail)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func (d *daemonEnv) config(name string) Config {
	return Config{
		Name:                     name,
		ExecutablePath:           d.bin,
		PIDDir:                   d.pidDir,
		HeartbeatIntervalSeconds: 1,
		StopTimeout:              2 * time.Second,
	}
}

// spawned returns every pid the fake daemon has logged.
func (d *daemonEnv) spawned() []int {
	b, err := os.ReadFile(d.pidsLog)
	if err != nil {
		return nil
	}
	var out []int
	for _, ln := range strings.Fields(string(b)) {
		if pid, err := strconv.Atoi(ln); err == nil {
			out = append(out, pid)
		}
	}
	return out
}

// waitLogged blocks until pid shows up in the fake daemon's log. Running is
// confirmed as soon as the process exists, which can be before the script
// has written its pid.
func (d *daemonEnv) waitLogged(t *testing.T, pid int) {
	t.Helper()
	ok := waitUntil(5*time.Second, 5*time.Millisecond, func() bool {
		for _, p := range d.spawned() {
			if p == pid {
				return true
			}
		}
		return false
	})
	if !ok {
		t.Fatalf("pid %d never logged, have %v", pid, d.spawned())
	}
}

// kill kills a daemon pid once it has logged itself.
func (d *daemonEnv) kill(t *testing.T, pid int) {
	t.Helper()
	d.waitLogged(t, pid)
	killPID(t, pid)
}

func (d *daemonEnv) pidFile(name string) string {
	return filepath.Join(d.pidDir, name+".pid")
}

func newSupervisor(t *testing.T, cfg Config, opts ...Option) *Supervisor {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithHeartbeatInterval(50 * time.Millisecond)}, opts...)
	s, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitStatus(t *testing.T, s *Supervisor, want Status) Snapshot {
	t.Helper()
	ok := waitUntil(5*time.Second, 10*time.Millisecond, func() bool { return s.Snapshot().Status == want })
	snap := s.Snapshot()
	if !ok {
		t.Fatalf("status: want %s, got %+v", want, snap)
	}
	return snap
}

func killPID(t *testing.T, pid int) {
	t.Helper()
	p, err := os.FindProcess(pid)
	if err != nil {
		t.Fatalf("find %d: %v", pid, err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("kill %d: %v", pid, err)
	}
}

// startForeign starts a sleep this test owns, in its own process group, and
// reaps it in the background.
func startForeign(t *testing.T) int {
	t.Helper()
	// #nosec G204
	cmd := exec.Command("sleep", "30")
	setpgid(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }()
	t.Cleanup(func() { _ = cmd.Process.Kill() })
	waitUntil(time.Second, 10*time.Millisecond, func() bool { return process.StartUnix(pid) > 0 })
	return pid
}

func writeOwnedPIDFile(t *testing.T, path string, pid int) {
	t.Helper()
	meta := &process.Meta{Name: "core", Identity: process.IdentityOf(pid)}
	if err := process.WritePIDFile(path, pid, meta); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) last(t EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return Event{}, false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// toggleProbe is a detector whose answer the test controls.
type toggleProbe struct{ ok atomic.Bool }

func (p *toggleProbe) Alive() (bool, error) { return p.ok.Load(), nil }
func (p *toggleProbe) Describe() string     { return "toggle" }

// blockingProbe never answers until release is closed.
type blockingProbe struct {
	release chan struct{}
	calls   atomic.Int32
}

func (p *blockingProbe) Alive() (bool, error) {
	p.calls.Add(1)
	<-p.release
	return true, nil
}
func (p *blockingProbe) Describe() string { return "blocking" }

func writeFile(path, content string, mode os.FileMode) error {
	return os.WriteFile(path, []byte(content), mode)
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}
