// Package corekeeper supervises one external daemon process: it starts it,
// probes it with heartbeats, restarts it after crashes, persists its PID
// across host restarts and reports every status change to a store.
package corekeeper

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/corekeeper/internal/config"
	"github.com/loykin/corekeeper/internal/detector"
	"github.com/loykin/corekeeper/internal/env"
	"github.com/loykin/corekeeper/internal/history"
	"github.com/loykin/corekeeper/internal/history/factory"
	"github.com/loykin/corekeeper/internal/metrics"
	"github.com/loykin/corekeeper/internal/network"
	iapi "github.com/loykin/corekeeper/internal/server"
	"github.com/loykin/corekeeper/internal/store"
	"github.com/loykin/corekeeper/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = supervisor.Config

type Supervisor = supervisor.Supervisor

type Option = supervisor.Option

type Snapshot = supervisor.Snapshot

type Status = supervisor.Status

type Event = supervisor.Event

type EventType = supervisor.EventType

type CoreStatus = supervisor.CoreStatus

type StalePolicy = supervisor.StalePolicy

type RestartLimiter = supervisor.RestartLimiter

const (
	StatusStopped  = supervisor.StatusStopped
	StatusStarting = supervisor.StatusStarting
	StatusRunning  = supervisor.StatusRunning
	StatusStopping = supervisor.StatusStopping
	StatusCrashed  = supervisor.StatusCrashed

	StaleReplace = supervisor.StaleReplace
	StaleAdopt   = supervisor.StaleAdopt
	StaleRefuse  = supervisor.StaleRefuse

	StoreActionStatus    = supervisor.StoreActionStatus
	StoreActionConnected = network.StoreActionConnected
)

// Errors.
var (
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrInvalidConfig  = supervisor.ErrInvalidConfig
	ErrClosed         = supervisor.ErrClosed
)

type (
	SpawnError           = supervisor.SpawnError
	AlreadyRunningError  = supervisor.AlreadyRunningError
	StaleProcessConflict = supervisor.StaleProcessConflict
	HeartbeatTimeout     = supervisor.HeartbeatTimeout
	GracefulStopTimeout  = supervisor.GracefulStopTimeout
)

// New constructs a supervisor. It validates cfg and returns an error
// matching ErrInvalidConfig on misconfiguration.
func New(c Config, opts ...Option) (*Supervisor, error) { return supervisor.New(c, opts...) }

var (
	WithStore             = supervisor.WithStore
	WithLogger            = supervisor.WithLogger
	WithHistory           = supervisor.WithHistory
	WithProbe             = supervisor.WithProbe
	WithHeartbeatInterval = supervisor.WithHeartbeatInterval
	WithEventHandler      = supervisor.WithEventHandler
	WithEnv               = supervisor.WithEnv
	WithRestartLimiter    = supervisor.WithRestartLimiter
	WithKillWait          = supervisor.WithKillWait
)

// Store facade.

type Store = store.Store

type State = store.State

type Mutation = store.Mutation

type MemoryStore = store.MemoryStore

func NewMemoryStore() *MemoryStore { return store.NewMemoryStore() }

// Liveness probes.

type Detector = detector.Detector

type DetectorConfig = detector.Config

func NewDetector(c DetectorConfig) (Detector, error) { return detector.FromConfig(c) }

// Environment composition.

type Env = env.Env

func NewEnv(useOS bool) *Env { return env.New(useOS) }

// Network layer.

type NetworkConfig = network.Config

type NetworkClient = network.Client

var NewNetworkClient = network.New

// History sinks.

type HistorySink = history.Sink

type HistoryEvent = history.Event

func NewHistorySink(dsn string) (history.SinkCloser, error) { return factory.NewSinkFromDSN(dsn) }

// Configuration.

type FileConfig = cfg.Config

func LoadConfig(path string) (*FileConfig, error) { return cfg.Load(path) }

func ResolveExecutable(root, executable string) (string, error) {
	return cfg.ResolveExecutable(root, executable)
}

// HTTP API.

type Router = iapi.Router

type RouterOption = iapi.RouterOption

func NewRouter(s *Supervisor, basePath string, opts ...RouterOption) *Router {
	return iapi.NewRouter(s, basePath, opts...)
}

// Metrics.

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }
