package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "corekeeper"
	subsystem = "daemon"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	daemonStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "starts_total",
			Help:      "Number of daemon starts confirmed by a liveness probe.",
		}, []string{"name"},
	)
	daemonRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "restarts_total",
			Help:      "Number of auto restarts after a crash.",
		}, []string{"name"},
	)
	daemonStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stops_total",
			Help:      "Number of requested stops, labelled graceful or killed.",
		}, []string{"name", "mode"},
	)
	daemonCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "crashes_total",
			Help:      "Number of unexpected exits by reason (exit, heartbeat_timeout).",
		}, []string{"name", "reason"},
	)
	heartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "heartbeats_total",
			Help:      "Heartbeat probe results (ok, miss, dead).",
		}, []string{"name", "result"},
	)
	startDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "start_duration_seconds",
			Help:      "Time from spawn to the first successful liveness probe.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	startAttempts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "start_attempts",
			Help:      "Start attempts since the last clean stop.",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between daemon states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "current_state",
			Help:      "Current state of the daemon (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{daemonStarts, daemonRestarts, daemonStops, daemonCrashes, heartbeats, startDuration, startAttempts, stateTransitions, currentStates}
	if err := registerAll(r, cs); err != nil {
		return err
	}
	regOK.Store(true)
	return nil
}

func registerAll(r prometheus.Registerer, cs []prometheus.Collector) error {
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered collectors are kept
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		daemonStarts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		daemonRestarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string, graceful bool) {
	if regOK.Load() {
		mode := "graceful"
		if !graceful {
			mode = "killed"
		}
		daemonStops.WithLabelValues(name, mode).Inc()
	}
}

func IncCrash(name, reason string) {
	if regOK.Load() {
		daemonCrashes.WithLabelValues(name, reason).Inc()
	}
}

func IncHeartbeat(name, result string) {
	if regOK.Load() {
		heartbeats.WithLabelValues(name, result).Inc()
	}
}

func ObserveStartDuration(name string, seconds float64) {
	if regOK.Load() {
		startDuration.WithLabelValues(name).Observe(seconds)
	}
}

func SetStartAttempts(name string, n int) {
	if regOK.Load() {
		startAttempts.WithLabelValues(name).Set(float64(n))
	}
}

// RecordStateTransition counts from->to and flips the current_state gauges.
func RecordStateTransition(name, from, to string) {
	if !regOK.Load() {
		return
	}
	stateTransitions.WithLabelValues(name, from, to).Inc()
	currentStates.WithLabelValues(name, from).Set(0)
	currentStates.WithLabelValues(name, to).Set(1)
}
