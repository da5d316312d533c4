package supervisor

import (
	"errors"
	"io/fs"
	"os"

	"github.com/loykin/corekeeper/internal/history"
	"github.com/loykin/corekeeper/internal/process"
)

// reconcile deals with a PID file left by an earlier run. It returns true
// when a live daemon was adopted and nothing must be spawned.
func (s *Supervisor) reconcile() (bool, error) {
	path := s.cfg.PIDFile()
	pid, meta, err := process.ReadPIDFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		s.log.Warn("removing unreadable pid file", "path", path, "error", err)
		s.removeStale(0)
		return false, nil
	}

	switch {
	case pid == os.Getpid():
		s.log.Warn("pid file names this process, ignoring", "pid", pid)
		s.removeStale(pid)
		return false, nil
	case !process.Alive(pid):
		s.log.Info("removing stale pid file", "pid", pid)
		s.removeStale(pid)
		return false, nil
	case !process.Owns(pid, meta, s.path):
		s.log.Info("pid not owned by the daemon, removing pid file", "pid", pid, "legacy", meta == nil)
		s.removeStale(pid)
		return false, nil
	}

	switch s.cfg.StaleProcess {
	case StaleAdopt:
		poll := process.DefaultAdoptPoll
		if s.interval < poll {
			poll = s.interval
		}
		p, err := process.Adopt(pid, poll)
		if err != nil {
			s.removeStale(pid)
			return false, nil
		}
		s.attempts++
		s.log.Info("adopted running daemon", "pid", pid)
		s.track(p)
		s.emit(Event{Type: EventAdopted, PID: pid})
		s.record(history.EventAdopt, pid, nil)
		return true, nil

	case StaleRefuse:
		return false, &AlreadyRunningError{PID: pid}

	default:
		s.log.Info("terminating daemon left by earlier run", "pid", pid)
		graceful, err := process.TerminatePID(pid, s.cfg.StopTimeout, s.killWait)
		if err != nil {
			return false, &StaleProcessConflict{PID: pid, Err: err}
		}
		if !graceful {
			s.log.Warn("stale daemon ignored SIGTERM, killed", "pid", pid)
		}
		s.removeStale(pid)
		return false, nil
	}
}

func (s *Supervisor) removeStale(pid int) {
	if err := process.RemovePIDFile(s.cfg.PIDFile()); err != nil {
		s.log.Warn("remove pid file failed", "error", err)
	}
	s.emit(Event{Type: EventStaleRemoved, PID: pid})
}
