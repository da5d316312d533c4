package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/loykin/corekeeper/internal/config"
	"github.com/loykin/corekeeper/internal/process"
	"github.com/loykin/corekeeper/internal/supervisor"
	"github.com/loykin/corekeeper/pkg/client"
)

// recorded is what the PID file says about the daemon.
type recorded struct {
	PIDFile string
	PID     int
	Alive   bool
	Matches bool
}

func inspect(cfg *config.Config) (recorded, error) {
	path := supervisor.Config{Name: cfg.Core.Name, PIDDir: cfg.Paths.UserData}.PIDFile()
	r := recorded{PIDFile: path}
	pid, meta, err := process.ReadPIDFile(path)
	if err != nil {
		return r, err
	}
	r.PID = pid
	r.Alive = process.Alive(pid)
	if r.Alive {
		exe, _ := config.ResolveExecutable(cfg.Paths.Root, cfg.Paths.Executable)
		r.Matches = process.Owns(pid, meta, exe)
	}
	return r, nil
}

func localStatus(w io.Writer, cfg *config.Config) error {
	r, err := inspect(cfg)
	if errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintf(w, "%s: stopped (no pid file at %s)\n", cfg.Core.Name, r.PIDFile)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read pid file: %w", err)
	}
	switch {
	case r.Alive && r.Matches:
		_, _ = fmt.Fprintf(w, "%s: running pid=%d\n", cfg.Core.Name, r.PID)
	case r.Alive:
		_, _ = fmt.Fprintf(w, "%s: stale pid file, pid %d now belongs to another process\n", cfg.Core.Name, r.PID)
	default:
		_, _ = fmt.Fprintf(w, "%s: stale pid file, pid %d not running\n", cfg.Core.Name, r.PID)
	}
	return nil
}

func localStop(w io.Writer, cfg *config.Config) error {
	r, err := inspect(cfg)
	if errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintf(w, "%s: not running\n", cfg.Core.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read pid file: %w", err)
	}
	if !r.Alive || !r.Matches {
		// never signal a process that only inherited the PID
		_ = process.RemovePIDFile(r.PIDFile)
		_, _ = fmt.Fprintf(w, "%s: removed stale pid file\n", cfg.Core.Name)
		return nil
	}
	graceful, err := process.TerminatePID(r.PID, cfg.Core.StopTimeout, supervisor.DefaultKillWait)
	if err != nil {
		return &supervisor.StaleProcessConflict{PID: r.PID, Err: err}
	}
	_ = process.RemovePIDFile(r.PIDFile)
	if graceful {
		_, _ = fmt.Fprintf(w, "%s: stopped pid=%d\n", cfg.Core.Name, r.PID)
	} else {
		_, _ = fmt.Fprintf(w, "%s: killed pid=%d after %s\n", cfg.Core.Name, r.PID, cfg.Core.StopTimeout)
	}
	return nil
}

func printPID(w io.Writer, cfg *config.Config) error {
	r, err := inspect(cfg)
	if err != nil {
		return fmt.Errorf("read pid file: %w", err)
	}
	_, _ = fmt.Fprintln(w, r.PID)
	return nil
}

func apiStatus(ctx context.Context, w io.Writer, f APIFlags) error {
	c := client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	d := st.Daemon
	_, _ = fmt.Fprintf(w, "%s: %s pid=%d attempts=%d auto_restart=%t\n",
		d.Name, d.Status, d.PID, d.StartAttempts, d.AutoRestart)
	if !d.LastHeartbeatAt.IsZero() {
		_, _ = fmt.Fprintf(w, "  last heartbeat: %s\n", d.LastHeartbeatAt.Format("2006-01-02 15:04:05"))
	}
	if d.RestartPending {
		_, _ = fmt.Fprintln(w, "  restart pending")
	}
	if d.LastError != "" {
		_, _ = fmt.Fprintf(w, "  last error: %s\n", d.LastError)
	}
	if st.Connected != nil {
		_, _ = fmt.Fprintf(w, "  rpc connected: %t\n", *st.Connected)
	}
	if u := st.Usage; u != nil {
		_, _ = fmt.Fprintf(w, "  cpu=%.1f%% rss=%dB threads=%d\n", u.CPUPercent, u.MemoryRSS, u.NumThreads)
	}
	return nil
}

func apiStop(ctx context.Context, w io.Writer, f APIFlags) error {
	c := client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
	if err := c.Stop(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, "stopped")
	return nil
}
