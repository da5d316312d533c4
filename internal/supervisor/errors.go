package supervisor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyRunning matches *AlreadyRunningError.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrInvalidConfig wraps every construction-time validation failure.
	ErrInvalidConfig = errors.New("invalid supervisor config")
	// ErrClosed is returned by operations on a closed or released supervisor.
	ErrClosed = errors.New("supervisor closed")
)

// SpawnError means the executable could not be launched.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %s: %v", e.Path, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// AlreadyRunningError is returned when a live daemon from an earlier run
// holds the PID file and the stale process policy is refuse.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("daemon already running with pid %d", e.PID)
}

func (e *AlreadyRunningError) Is(target error) bool { return target == ErrAlreadyRunning }

// StaleProcessConflict means a live daemon from an earlier run could not be
// terminated before spawning a new one.
type StaleProcessConflict struct {
	PID int
	Err error
}

func (e *StaleProcessConflict) Error() string {
	return fmt.Sprintf("stale daemon pid %d could not be terminated: %v", e.PID, e.Err)
}
func (e *StaleProcessConflict) Unwrap() error { return e.Err }

// HeartbeatTimeout means no liveness probe succeeded within the allowed window.
type HeartbeatTimeout struct {
	PID   int
	Since time.Duration
}

func (e *HeartbeatTimeout) Error() string {
	return fmt.Sprintf("daemon pid %d missed heartbeats for %s", e.PID, e.Since.Round(time.Millisecond))
}

// GracefulStopTimeout means the daemon ignored SIGTERM for the whole grace
// period and was killed.
type GracefulStopTimeout struct {
	PID   int
	Grace time.Duration
}

func (e *GracefulStopTimeout) Error() string {
	return fmt.Sprintf("daemon pid %d did not exit within %s, killed", e.PID, e.Grace)
}
