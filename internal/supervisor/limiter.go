package supervisor

import (
	"sync"
	"time"
)

// RestartLimiter caps auto restarts: once MaxRestarts restarts happened
// inside Window, the next crash disables auto-restart and the daemon settles
// in Stopped until it is started again by hand.
type RestartLimiter struct {
	MaxRestarts int
	Window      time.Duration

	mu       sync.Mutex
	restarts []time.Time
}

// Allow records a restart at now and reports whether it is within the limit.
// A non-positive MaxRestarts never limits.
func (l *RestartLimiter) Allow(now time.Time) bool {
	if l.MaxRestarts <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Window > 0 {
		cut := now.Add(-l.Window)
		kept := l.restarts[:0]
		for _, t := range l.restarts {
			if t.After(cut) {
				kept = append(kept, t)
			}
		}
		l.restarts = kept
	}
	if len(l.restarts) >= l.MaxRestarts {
		return false
	}
	l.restarts = append(l.restarts, now)
	return true
}

// Reset forgets recorded restarts. The supervisor calls it on a manual Start.
func (l *RestartLimiter) Reset() {
	l.mu.Lock()
	l.restarts = nil
	l.mu.Unlock()
}
