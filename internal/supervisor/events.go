package supervisor

import "time"

// EventType names a supervisor lifecycle event.
type EventType string

const (
	EventStarted          EventType = "started"
	EventStopped          EventType = "stopped"
	EventCrashed          EventType = "crashed"
	EventRestarting       EventType = "restarting"
	EventRestartLimit     EventType = "restart_limit"
	EventSpawnFailed      EventType = "spawn_failed"
	EventHeartbeatTimeout EventType = "heartbeat_timeout"
	EventStopTimeout      EventType = "stop_timeout"
	EventAdopted          EventType = "adopted"
	EventStaleRemoved     EventType = "stale_removed"
)

// Event reports one lifecycle occurrence. Attempt is the start attempt the
// event belongs to; for EventRestarting it is the attempt about to be made.
type Event struct {
	Type    EventType
	Name    string
	PID     int
	Status  Status
	Attempt int
	Err     error
	Time    time.Time
}

// StoreActionStatus is dispatched with a CoreStatus on every status change.
const StoreActionStatus = "Core/setStatus"

// CoreStatus is the store payload describing the daemon.
type CoreStatus struct {
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	PID             int       `json:"pid"`
	StartAttempts   int       `json:"start_attempts"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	RestartPending  bool      `json:"restart_pending"`
	Error           string    `json:"error,omitempty"`
}

// Snapshot is a read-only copy of the process handle.
type Snapshot struct {
	Name            string    `json:"name"`
	Status          Status    `json:"status"`
	PID             int       `json:"pid"`
	StartedAt       time.Time `json:"started_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	StartAttempts   int       `json:"start_attempts"`
	Adopted         bool      `json:"adopted"`
	AutoRestart     bool      `json:"auto_restart"`
	RestartPending  bool      `json:"restart_pending"`
	LastError       string    `json:"last_error,omitempty"`
}

func (s Snapshot) coreStatus() CoreStatus {
	return CoreStatus{
		Name:            s.Name,
		Status:          s.Status.String(),
		PID:             s.PID,
		StartAttempts:   s.StartAttempts,
		LastHeartbeatAt: s.LastHeartbeatAt,
		RestartPending:  s.RestartPending,
		Error:           s.LastError,
	}
}
