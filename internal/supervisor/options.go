package supervisor

import (
	"log/slog"
	"time"

	"github.com/loykin/corekeeper/internal/detector"
	"github.com/loykin/corekeeper/internal/env"
	"github.com/loykin/corekeeper/internal/history"
	"github.com/loykin/corekeeper/internal/store"
)

// Option configures optional collaborators of a Supervisor.
type Option func(*Supervisor)

// WithStore reports every status change to st as StoreActionStatus.
func WithStore(st store.Store) Option { return func(s *Supervisor) { s.store = st } }

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHistory sends lifecycle events to the given sinks.
func WithHistory(sinks ...history.Sink) Option {
	return func(s *Supervisor) { s.sinks = append(s.sinks, sinks...) }
}

// WithProbe adds an application-level liveness check on top of the OS check.
func WithProbe(d detector.Detector) Option { return func(s *Supervisor) { s.probe = d } }

// WithHeartbeatInterval overrides Config.HeartbeatIntervalSeconds.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.interval = d }
}

// WithEventHandler registers fn for every Event. Handlers run in order on
// a separate goroutine and may call back into the supervisor.
func WithEventHandler(fn func(Event)) Option {
	return func(s *Supervisor) { s.handlers = append(s.handlers, fn) }
}

// WithEnv composes the daemon environment from e and Config.Env. Without it
// the daemon inherits the host environment plus Config.Env.
func WithEnv(e *env.Env) Option { return func(s *Supervisor) { s.env = e } }

// WithRestartLimiter consults l before every auto restart.
func WithRestartLimiter(l *RestartLimiter) Option { return func(s *Supervisor) { s.limiter = l } }

// WithKillWait bounds how long to wait for exit after SIGKILL.
func WithKillWait(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.killWait = d
		}
	}
}
