package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/corekeeper/internal/detector"
	"github.com/loykin/corekeeper/internal/env"
	"github.com/loykin/corekeeper/internal/history"
	"github.com/loykin/corekeeper/internal/metrics"
	"github.com/loykin/corekeeper/internal/process"
	"github.com/loykin/corekeeper/internal/store"
)

const historyTimeout = 5 * time.Second

var errProbeTimeout = errors.New("probe timed out")

// Supervisor owns the lifecycle of one named daemon process.
//
// All state below the loop marker is owned by a single goroutine (run).
// Commands, heartbeat ticks, exit notifications and scheduled restarts are
// all messages into that goroutine, so transitions never interleave.
// Readers use Snapshot.
//
// State Machine:
// Stopped -> Starting -> Running -> Stopping -> Stopped
// Starting|Running -> Crashed -> Starting (auto-restart) | Stopped
type Supervisor struct {
	cfg            Config
	interval       time.Duration
	startupTimeout time.Duration
	killWait       time.Duration

	log      *slog.Logger
	store    store.Store
	sinks    []history.Sink
	probe    detector.Detector
	probing  atomic.Bool
	env      *env.Env
	handlers []func(Event)
	limiter  *RestartLimiter
	note     *notifier

	cmdCh     chan command
	exitCh    chan exitMsg
	restartCh chan uint64
	kick      chan struct{}
	done      chan struct{}

	snapMu sync.RWMutex
	snap   Snapshot

	// loop-owned
	proc           *process.Process
	status         Status
	gen            uint64 // identifies the current process; stale exit messages are dropped
	epoch          uint64 // bumped by Stop; restarts scheduled under an older epoch are dropped
	attempts       int
	autoRestart    bool
	path           string
	startingSince  time.Time
	lastHeartbeat  time.Time
	ticker         *time.Ticker
	restartTimer   *time.Timer
	restartPending bool
	lastErr        error
}

type action int

const (
	actStart action = iota
	actStop
	actSetAutoRestart
	actRelease
	actClose
)

type command struct {
	action action
	path   string
	enable bool
	reply  chan error
}

type exitMsg struct {
	gen uint64
	err error
}

// New validates cfg and starts the supervisor's event loop. Misconfiguration
// is reported here, wrapped in ErrInvalidConfig.
func New(cfg Config, opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		killWait:  DefaultKillWait,
		log:       slog.Default(),
		cmdCh:     make(chan command),
		exitCh:    make(chan exitMsg),
		restartCh: make(chan uint64),
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if err := cfg.validate(s.interval); err != nil {
		return nil, err
	}
	if s.interval <= 0 {
		s.interval = time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second
	}
	s.startupTimeout = cfg.StartupTimeout
	if s.startupTimeout <= 0 {
		s.startupTimeout = 2 * s.interval
	}
	s.cfg = cfg
	s.log = s.log.With("component", "supervisor", "name", cfg.Name)
	s.autoRestart = cfg.AutoRestart
	s.path = cfg.ExecutablePath
	s.note = newNotifier(s.log)
	s.snap = Snapshot{Name: cfg.Name, Status: StatusStopped, AutoRestart: cfg.AutoRestart}

	go s.run()
	return s, nil
}

// Config returns the validated configuration with defaults applied.
func (s *Supervisor) Config() Config { return s.cfg }

// Snapshot returns a copy of the current process handle.
func (s *Supervisor) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Start launches the daemon at path, or at Config.ExecutablePath when path is
// empty. It returns once the process is spawned or adopted; OnStarted reports
// when it answers a probe. Starting a running daemon is a logged no-op.
func (s *Supervisor) Start(path string) error {
	return s.send(command{action: actStart, path: path})
}

// Stop terminates the daemon and cancels any pending restart. It blocks at
// most StopTimeout plus the kill wait, plus one heartbeat interval when it
// queues behind a probe. Stopping a stopped daemon is a no-op.
func (s *Supervisor) Stop() error { return s.send(command{action: actStop}) }

// SetAutoRestart changes the restart policy. Disabling it cancels a pending restart.
func (s *Supervisor) SetAutoRestart(enable bool) error {
	return s.send(command{action: actSetAutoRestart, enable: enable})
}

// Release ends supervision without stopping the daemon. The PID file is
// kept so the next run can adopt or replace the process.
func (s *Supervisor) Release() error {
	err := s.send(command{action: actRelease})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Close stops the daemon and ends the event loop. It is idempotent.
func (s *Supervisor) Close() error {
	err := s.send(command{action: actClose})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Done is closed once the supervisor has been closed or released.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

func (s *Supervisor) send(c command) error {
	c.reply = make(chan error, 1)
	select {
	case s.cmdCh <- c:
		return <-c.reply
	case <-s.done:
		return ErrClosed
	}
}

func (s *Supervisor) run() {
	defer close(s.done)
	defer s.note.close()
	for {
		select {
		case c := <-s.cmdCh:
			exit, err := s.handleCommand(c)
			c.reply <- err
			if exit {
				return
			}
		case m := <-s.exitCh:
			s.handleExit(m)
		case ep := <-s.restartCh:
			s.handleRestart(ep)
		case <-s.kick:
			s.heartbeat()
		case <-s.tickC():
			s.heartbeat()
		}
	}
}

func (s *Supervisor) handleCommand(c command) (exit bool, err error) {
	switch c.action {
	case actStart:
		return false, s.handleStart(c.path)
	case actStop:
		return false, s.handleStop()
	case actSetAutoRestart:
		s.handleSetAutoRestart(c.enable)
		return false, nil
	case actRelease:
		s.handleRelease()
		return true, nil
	case actClose:
		return true, s.handleStop()
	}
	return false, fmt.Errorf("unknown command %d", c.action)
}

func (s *Supervisor) tickC() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C
}

func (s *Supervisor) handleStart(path string) error {
	if path == "" {
		path = s.path
	}
	switch {
	case s.status == StatusStarting || s.status == StatusRunning:
		s.log.Warn("start ignored, daemon already active", "status", s.status.String(), "pid", s.proc.PID())
		return nil
	case s.restartPending:
		s.log.Warn("start ignored, restart already pending")
		return nil
	}
	if err := process.CheckExecutable(path); err != nil {
		return s.spawnFailed(&SpawnError{Path: path, Err: err})
	}
	s.path = path
	if s.limiter != nil {
		s.limiter.Reset()
	}

	adopted, err := s.reconcile()
	if err != nil {
		s.lastErr = err
		s.publish(true)
		return err
	}
	if adopted {
		return nil
	}
	if err := s.spawn(); err != nil {
		return s.spawnFailed(err)
	}
	return nil
}

// spawn launches s.path and enters Starting.
func (s *Supervisor) spawn() error {
	spec := process.Spec{
		Name:    s.cfg.Name,
		Path:    s.path,
		Args:    s.cfg.Args,
		WorkDir: s.cfg.WorkDir,
		Log:     s.cfg.Log,
	}
	p, err := process.Start(spec, s.composeEnv())
	if err != nil {
		return &SpawnError{Path: s.path, Err: err}
	}
	s.attempts++
	s.log.Info("daemon spawned", "pid", p.PID(), "attempt", s.attempts)
	s.track(p)
	return nil
}

func (s *Supervisor) composeEnv() []string {
	if s.env != nil {
		return s.env.Merge(s.cfg.Env)
	}
	if len(s.cfg.Env) == 0 {
		return nil
	}
	return append(os.Environ(), s.cfg.Env...)
}

// track makes p the managed process, enters Starting and probes right away.
func (s *Supervisor) track(p *process.Process) {
	s.proc = p
	s.gen++
	s.lastErr = nil
	s.startingSince = time.Now()
	go s.watch(p, s.gen)
	s.setStatus(StatusStarting)
	metrics.SetStartAttempts(s.cfg.Name, s.attempts)

	s.stopTicker()
	s.ticker = time.NewTicker(s.interval)
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Supervisor) watch(p *process.Process, gen uint64) {
	select {
	case <-p.Done():
	case <-s.done:
		return
	}
	select {
	case s.exitCh <- exitMsg{gen: gen, err: p.ExitErr()}:
	case <-s.done:
	}
}

func (s *Supervisor) spawnFailed(err error) error {
	s.lastErr = err
	s.log.Error("daemon spawn failed", "error", err)
	s.publish(true)
	s.emit(Event{Type: EventSpawnFailed, Err: err})
	s.record(history.EventSpawnFailed, 0, err)
	return err
}

func (s *Supervisor) heartbeat() {
	if s.proc == nil || (s.status != StatusStarting && s.status != StatusRunning) {
		return
	}
	if !s.proc.Alive() {
		metrics.IncHeartbeat(s.cfg.Name, "dead")
		err := s.proc.ExitErr()
		if err == nil {
			err = fmt.Errorf("daemon pid %d is gone", s.proc.PID())
		}
		s.crash(err, "exit")
		return
	}

	ok := true
	if s.probe != nil {
		alive, err := s.runProbe()
		if err != nil {
			s.log.Debug("probe error", "probe", s.probe.Describe(), "error", err)
		}
		ok = alive && err == nil
	}
	now := time.Now()
	if ok {
		metrics.IncHeartbeat(s.cfg.Name, "ok")
		s.lastHeartbeat = now
		if s.status == StatusStarting {
			s.confirmRunning()
			return
		}
		s.publish(false)
		return
	}

	metrics.IncHeartbeat(s.cfg.Name, "miss")
	ref, limit := s.lastHeartbeat, 2*s.interval
	if s.status == StatusStarting {
		ref, limit = s.startingSince, s.startupTimeout
	}
	if since := now.Sub(ref); since >= limit {
		ht := &HeartbeatTimeout{PID: s.proc.PID(), Since: since}
		s.log.Warn("heartbeat timeout, killing daemon", "pid", ht.PID, "since", since)
		s.emit(Event{Type: EventHeartbeatTimeout, PID: ht.PID, Err: ht})
		if err := s.proc.Kill(s.killWait); err != nil {
			s.log.Error("kill after heartbeat timeout failed", "pid", ht.PID, "error", err)
		}
		s.crash(ht, "heartbeat_timeout")
	}
}

type probeResult struct {
	alive bool
	err   error
}

// runProbe waits at most one heartbeat interval for the application probe.
// A probe still running from an earlier tick counts as a miss.
func (s *Supervisor) runProbe() (bool, error) {
	if !s.probing.CompareAndSwap(false, true) {
		return false, fmt.Errorf("%s: %w", s.probe.Describe(), errProbeTimeout)
	}
	res := make(chan probeResult, 1)
	go func(d detector.Detector) {
		alive, err := d.Alive()
		s.probing.Store(false)
		res <- probeResult{alive: alive, err: err}
	}(s.probe)

	t := time.NewTimer(s.interval)
	defer t.Stop()
	select {
	case r := <-res:
		return r.alive, r.err
	case <-t.C:
		return false, fmt.Errorf("%s: %w", s.probe.Describe(), errProbeTimeout)
	}
}

func (s *Supervisor) confirmRunning() {
	p := s.proc
	meta := &process.Meta{Name: s.cfg.Name, Identity: process.IdentityOf(p.PID())}
	if err := process.WritePIDFile(s.cfg.PIDFile(), p.PID(), meta); err != nil {
		s.log.Warn("write pid file failed", "path", s.cfg.PIDFile(), "error", err)
	}
	s.setStatus(StatusRunning)
	metrics.IncStart(s.cfg.Name)
	metrics.ObserveStartDuration(s.cfg.Name, time.Since(s.startingSince).Seconds())
	s.log.Info("daemon running", "pid", p.PID(), "attempt", s.attempts)
	s.emit(Event{Type: EventStarted, PID: p.PID()})
	s.record(history.EventStart, p.PID(), nil)
	if cb := s.cfg.OnStarted; cb != nil {
		s.note.post(cb)
	}
}

func (s *Supervisor) handleExit(m exitMsg) {
	if m.gen != s.gen || s.proc == nil {
		return
	}
	err := m.err
	if err == nil {
		err = fmt.Errorf("daemon pid %d exited", s.proc.PID())
	}
	s.crash(err, "exit")
}

// crash handles an exit nobody asked for.
func (s *Supervisor) crash(cause error, reason string) {
	pid := s.proc.PID()
	s.proc = nil
	s.stopTicker()
	s.lastErr = cause
	if err := process.RemovePIDFile(s.cfg.PIDFile()); err != nil {
		s.log.Warn("remove pid file failed", "error", err)
	}
	s.setStatus(StatusCrashed)
	metrics.IncCrash(s.cfg.Name, reason)
	s.emit(Event{Type: EventCrashed, PID: pid, Err: cause})
	s.record(history.EventCrash, pid, cause)

	if s.autoRestart && s.limiter != nil && !s.limiter.Allow(time.Now()) {
		s.autoRestart = false
		s.log.Error("restart limit reached, auto-restart disabled",
			"max_restarts", s.limiter.MaxRestarts, "window", s.limiter.Window)
		s.emit(Event{Type: EventRestartLimit, PID: pid, Err: cause})
	}
	if !s.autoRestart {
		s.log.Warn("daemon exited unexpectedly", "pid", pid, "error", cause)
		s.setStatus(StatusStopped)
		return
	}

	s.restartPending = true
	next := s.attempts + 1
	s.log.Warn("daemon exited unexpectedly, restarting", "pid", pid, "error", cause, "attempt", next, "delay", s.cfg.RestartDelay)
	s.publish(true)
	s.emit(Event{Type: EventRestarting, PID: pid, Attempt: next, Err: cause})
	ep := s.epoch
	s.restartTimer = time.AfterFunc(s.cfg.RestartDelay, func() {
		select {
		case s.restartCh <- ep:
		case <-s.done:
		}
	})
}

func (s *Supervisor) handleRestart(ep uint64) {
	if ep != s.epoch || !s.restartPending {
		return
	}
	s.restartPending = false
	s.restartTimer = nil
	metrics.IncRestart(s.cfg.Name)
	if err := s.spawn(); err != nil {
		s.setStatus(StatusStopped)
		_ = s.spawnFailed(err)
		return
	}
	s.record(history.EventRestart, s.proc.PID(), nil)
}

func (s *Supervisor) cancelRestart() {
	s.epoch++
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	s.restartPending = false
}

func (s *Supervisor) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Supervisor) handleStop() error {
	s.cancelRestart()
	s.stopTicker()
	p := s.proc
	if p == nil {
		if s.status != StatusStopped {
			s.attempts = 0
			s.setStatus(StatusStopped)
		}
		return nil
	}

	s.setStatus(StatusStopping)
	pid := p.PID()
	graceful, err := p.Terminate(s.cfg.StopTimeout, s.killWait)
	s.proc = nil
	if err != nil {
		// exit unconfirmed: the PID file stays so the next Start reconciles it
		s.lastErr = err
		s.log.Error("daemon did not exit", "pid", pid, "error", err)
		s.setStatus(StatusStopped)
		return fmt.Errorf("stop %s: %w", s.cfg.Name, err)
	}
	if !graceful {
		gt := &GracefulStopTimeout{PID: pid, Grace: s.cfg.StopTimeout}
		s.log.Warn("graceful stop timed out", "pid", pid, "grace", s.cfg.StopTimeout)
		s.emit(Event{Type: EventStopTimeout, PID: pid, Err: gt})
	}
	if err := process.RemovePIDFile(s.cfg.PIDFile()); err != nil {
		s.log.Warn("remove pid file failed", "error", err)
	}
	s.attempts = 0
	s.lastErr = nil
	s.setStatus(StatusStopped)
	metrics.IncStop(s.cfg.Name, graceful)
	metrics.SetStartAttempts(s.cfg.Name, 0)
	s.log.Info("daemon stopped", "pid", pid, "graceful", graceful)
	s.emit(Event{Type: EventStopped, PID: pid})
	s.record(history.EventStop, pid, nil)
	return nil
}

func (s *Supervisor) handleSetAutoRestart(enable bool) {
	s.autoRestart = enable
	if !enable && s.restartPending {
		s.cancelRestart()
		s.log.Info("pending restart cancelled")
		s.setStatus(StatusStopped)
		return
	}
	s.publish(false)
}

func (s *Supervisor) handleRelease() {
	s.cancelRestart()
	s.stopTicker()
	p := s.proc
	if p == nil {
		return
	}
	meta := &process.Meta{Name: s.cfg.Name, Identity: process.IdentityOf(p.PID())}
	if err := process.WritePIDFile(s.cfg.PIDFile(), p.PID(), meta); err != nil {
		s.log.Warn("write pid file failed", "error", err)
	}
	p.Detach()
	s.proc = nil
	s.log.Info("daemon released", "pid", p.PID())
}

func (s *Supervisor) setStatus(st Status) {
	old := s.status
	s.status = st
	if old != st {
		metrics.RecordStateTransition(s.cfg.Name, old.String(), st.String())
		s.log.Debug("status", "from", old.String(), "to", st.String())
	}
	s.publish(old != st)
}

// publish refreshes the snapshot and, when dispatch is set, reports it to the store.
func (s *Supervisor) publish(dispatch bool) {
	snap := Snapshot{
		Name:            s.cfg.Name,
		Status:          s.status,
		LastHeartbeatAt: s.lastHeartbeat,
		StartAttempts:   s.attempts,
		AutoRestart:     s.autoRestart,
		RestartPending:  s.restartPending,
	}
	if s.proc != nil {
		snap.PID = s.proc.PID()
		snap.StartedAt = s.proc.StartedAt()
		snap.Adopted = s.proc.Adopted()
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()

	if dispatch && s.store != nil {
		st, payload := s.store, snap.coreStatus()
		s.note.post(func() {
			if err := st.Dispatch(StoreActionStatus, payload); err != nil {
				s.log.Warn("store dispatch failed", "error", err)
			}
		})
	}
}

func (s *Supervisor) emit(e Event) {
	if len(s.handlers) == 0 {
		return
	}
	e.Name = s.cfg.Name
	e.Status = s.status
	if e.Attempt == 0 {
		e.Attempt = s.attempts
	}
	e.Time = time.Now()
	hs := s.handlers
	s.note.post(func() {
		for _, h := range hs {
			h(e)
		}
	})
}

func (s *Supervisor) record(t history.EventType, pid int, cause error) {
	if len(s.sinks) == 0 {
		return
	}
	e := history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			Name:    s.cfg.Name,
			PID:     pid,
			Status:  s.status.String(),
			Attempt: s.attempts,
		},
	}
	if cause != nil {
		e.Record.Error = cause.Error()
	}
	sinks := s.sinks
	s.note.post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		for _, h := range sinks {
			if err := h.Send(ctx, e); err != nil {
				s.log.Warn("history send failed", "event", string(e.Type), "error", err)
			}
		}
	})
}
