package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// DefaultAdoptPoll is how often an adopted process is checked for exit.
const DefaultAdoptPoll = time.Second

var errAdoptedExited = errors.New("adopted process exited")

// Process is one daemon instance. It is either spawned by Start, in which
// case exit is observed through cmd.Wait, or adopted from a PID recorded by
// an earlier run, in which case exit is observed by polling.
type Process struct {
	pid       int
	cmd       *exec.Cmd
	adopted   bool
	startedAt time.Time

	done     chan struct{}
	doneOnce sync.Once
	stopPoll chan struct{}
	pollOnce sync.Once

	mu        sync.Mutex
	exitErr   error
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

// Start launches spec in its own process group with mergedEnv and waits on
// it in the background. It returns as soon as the OS has created the process.
func Start(spec Spec, mergedEnv []string) (*Process, error) {
	if err := CheckExecutable(spec.Path); err != nil {
		return nil, err
	}
	cmd := spec.buildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	configureSysProcAttr(cmd)

	p := &Process{cmd: cmd, done: make(chan struct{})}
	p.configureOutput(spec)
	if err := cmd.Start(); err != nil {
		p.closeWriters()
		return nil, err
	}
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	go p.wait()
	return p, nil
}

// Adopt takes over monitoring of a live process this program did not spawn.
// Exit is detected by checking liveness every poll interval.
func Adopt(pid int, poll time.Duration) (*Process, error) {
	if !Alive(pid) {
		return nil, fmt.Errorf("process %d not alive", pid)
	}
	if poll <= 0 {
		poll = DefaultAdoptPoll
	}
	started := time.Now()
	if s := StartUnix(pid); s > 0 {
		started = time.Unix(s, 0)
	}
	p := &Process{
		pid:       pid,
		adopted:   true,
		startedAt: started,
		done:      make(chan struct{}),
		stopPoll:  make(chan struct{}),
	}
	go p.monitor(poll)
	return p, nil
}

// configureOutput routes stdout/stderr to rotating files when logging is
// configured. Otherwise exec connects both to the null device.
func (p *Process) configureOutput(spec Spec) {
	lc := spec.Log
	if lc.Dir == "" && lc.StdoutPath == "" && lc.StderrPath == "" {
		return
	}
	if lc.Dir != "" {
		_ = os.MkdirAll(lc.Dir, 0o750)
	}
	outW, errW, _ := lc.Writers(spec.Name)
	p.mu.Lock()
	p.outCloser, p.errCloser = outW, errW
	p.mu.Unlock()
	if outW != nil {
		p.cmd.Stdout = outW
	}
	if errW != nil {
		p.cmd.Stderr = errW
	}
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.setExit(err)
	p.closeWriters()
	p.markDone()
}

func (p *Process) monitor(poll time.Duration) {
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if !Alive(p.pid) {
				p.setExit(errAdoptedExited)
				p.markDone()
				return
			}
		case <-p.stopPoll:
			return
		case <-p.done:
			return
		}
	}
}

func (p *Process) setExit(err error) {
	p.mu.Lock()
	if p.exitErr == nil {
		p.exitErr = err
	}
	p.mu.Unlock()
}

func (p *Process) markDone() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *Process) closeWriters() {
	p.mu.Lock()
	if p.outCloser != nil {
		_ = p.outCloser.Close()
		p.outCloser = nil
	}
	if p.errCloser != nil {
		_ = p.errCloser.Close()
		p.errCloser = nil
	}
	p.mu.Unlock()
}

// PID returns the OS process id.
func (p *Process) PID() int { return p.pid }

// Adopted reports whether the process was taken over rather than spawned.
func (p *Process) Adopted() bool { return p.adopted }

// StartedAt returns when the process was spawned, or its OS start time when adopted.
func (p *Process) StartedAt() time.Time { return p.startedAt }

// Done is closed once the process is known to have exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitErr returns the wait error after Done is closed.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Alive reports whether the process is still running. Zombies count as dead.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	return Alive(p.pid)
}

// Detach stops observing an adopted process without signalling it.
func (p *Process) Detach() {
	if p.stopPoll == nil {
		return
	}
	p.pollOnce.Do(func() { close(p.stopPoll) })
}

// Terminate sends SIGTERM to the process group and waits up to grace for it
// to exit, then escalates to SIGKILL and waits up to killWait. graceful is
// false when SIGKILL was needed. An error means exit could not be confirmed.
func (p *Process) Terminate(grace, killWait time.Duration) (graceful bool, err error) {
	if !p.Alive() {
		p.markExitedIfAdopted()
		return true, nil
	}
	group := p.groupSignal()
	if err := signalTerm(p.pid, group); err != nil && !p.Alive() {
		p.markExitedIfAdopted()
		return true, nil
	}
	if p.waitExit(grace) {
		return true, nil
	}
	_ = signalKill(p.pid, group)
	if p.waitExit(killWait) {
		return false, nil
	}
	return false, fmt.Errorf("process %d still alive after SIGKILL", p.pid)
}

// Kill sends SIGKILL to the process group and waits up to wait for exit.
func (p *Process) Kill(wait time.Duration) error {
	if !p.Alive() {
		p.markExitedIfAdopted()
		return nil
	}
	_ = signalKill(p.pid, p.groupSignal())
	if p.waitExit(wait) {
		return nil
	}
	return fmt.Errorf("process %d still alive after SIGKILL", p.pid)
}

func (p *Process) groupSignal() bool {
	if !p.adopted {
		return true
	}
	return isGroupLeader(p.pid)
}

func (p *Process) markExitedIfAdopted() {
	if p.adopted {
		p.setExit(errAdoptedExited)
		p.markDone()
	}
}

// waitExit blocks up to d for the process to exit. Spawned processes are
// reaped by wait; adopted ones are polled since this program is not their parent.
func (p *Process) waitExit(d time.Duration) bool {
	if !p.adopted {
		select {
		case <-p.done:
			return true
		case <-time.After(d):
			return false
		}
	}
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		if !Alive(p.pid) {
			p.markExitedIfAdopted()
			return true
		}
		select {
		case <-p.done:
			return true
		case <-t.C:
		case <-deadline.C:
			if !Alive(p.pid) {
				p.markExitedIfAdopted()
				return true
			}
			return false
		}
	}
}

// TerminatePID gracefully stops a process this program did not spawn.
// A PID that is already gone counts as a graceful exit.
func TerminatePID(pid int, grace, killWait time.Duration) (bool, error) {
	p, err := Adopt(pid, DefaultAdoptPoll)
	if err != nil {
		return true, nil
	}
	defer p.Detach()
	return p.Terminate(grace, killWait)
}
