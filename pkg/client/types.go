package client

import (
	"fmt"
	"time"
)

// StartRequest starts the daemon, optionally from a different executable.
type StartRequest struct {
	Path string `json:"path,omitempty"`
}

// DaemonStatus is the supervisor's view of the daemon.
type DaemonStatus struct {
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	PID             int       `json:"pid"`
	StartedAt       time.Time `json:"started_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	StartAttempts   int       `json:"start_attempts"`
	Adopted         bool      `json:"adopted"`
	AutoRestart     bool      `json:"auto_restart"`
	RestartPending  bool      `json:"restart_pending"`
	LastError       string    `json:"last_error,omitempty"`
}

// Usage is the latest resource sample of the daemon process.
type Usage struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Daemon    DaemonStatus `json:"daemon"`
	Connected *bool        `json:"connected,omitempty"`
	Usage     *Usage       `json:"usage,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for non-200 responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
