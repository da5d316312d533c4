package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/corekeeper/internal/config"
	"github.com/loykin/corekeeper/internal/history"
	"github.com/loykin/corekeeper/internal/history/factory"
	"github.com/loykin/corekeeper/internal/logger"
	"github.com/loykin/corekeeper/internal/metrics"
	"github.com/loykin/corekeeper/internal/network"
	"github.com/loykin/corekeeper/internal/server"
	"github.com/loykin/corekeeper/internal/store"
	"github.com/loykin/corekeeper/internal/supervisor"
)

// host wires the supervisor to its collaborators for the lifetime of one run.
type host struct {
	cfg *config.Config
	log *slog.Logger

	store     *store.MemoryStore
	sup       *supervisor.Supervisor
	net       *network.Client
	resources *metrics.ResourceCollector
	api       *server.Server
	sinks     []history.SinkCloser
	closers   []io.Closer
}

// initialState seeds the store before the supervisor reports anything.
func initialState(name string) store.State {
	return store.State{
		"Core": map[string]any{
			"status": supervisor.CoreStatus{Name: name, Status: supervisor.StatusStopped.String()},
		},
		"Network": map[string]any{"connected": false},
	}
}

func newHost(ctx context.Context, cfg *config.Config, console io.Writer) (h *host, err error) {
	log, logCloser, err := logger.New(cfg.Log, console)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	h = &host{cfg: cfg, log: log, closers: []io.Closer{logCloser}}
	defer func() {
		if err != nil {
			h.close()
		}
	}()

	h.store = store.NewMemoryStore()
	h.store.ReplaceState(initialState(cfg.Core.Name))

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	if h.sinks, err = factory.NewSinks(cfg.History.DSNs); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	if cfg.Network.Enabled {
		if h.net, err = network.New(cfg.Network.Config, log); err != nil {
			return nil, err
		}
	}

	sc, err := cfg.Supervisor()
	if err != nil {
		return nil, err
	}
	sc.OnStarted = func() {
		if h.net == nil {
			return
		}
		if err := h.net.Init(ctx, h.store); err != nil {
			log.Error("network init failed", "error", err)
		}
	}

	e, err := cfg.BuildEnv()
	if err != nil {
		return nil, err
	}
	probe, err := cfg.Probe()
	if err != nil {
		return nil, err
	}
	sinks := make([]history.Sink, 0, len(h.sinks))
	for _, s := range h.sinks {
		sinks = append(sinks, s)
	}
	opts := []supervisor.Option{
		supervisor.WithStore(h.store),
		supervisor.WithLogger(log),
		supervisor.WithEnv(e),
		supervisor.WithHistory(sinks...),
		supervisor.WithEventHandler(h.logEvent),
	}
	if probe != nil {
		opts = append(opts, supervisor.WithProbe(probe))
	}
	if lim := cfg.RestartLimiter(); lim != nil {
		opts = append(opts, supervisor.WithRestartLimiter(lim))
	}
	if h.sup, err = supervisor.New(sc, opts...); err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Resource.Enabled {
		h.resources = metrics.NewResourceCollector(cfg.Core.Name, cfg.Metrics.Resource)
		if err := h.resources.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			log.Warn("resource metrics not registered", "error", err)
		}
		h.resources.Start(ctx, func() int { return h.sup.Snapshot().PID })
	}

	if cfg.API.Enabled {
		var ropts []server.RouterOption
		if h.resources != nil {
			ropts = append(ropts, server.WithUsage(h.resources))
		}
		if h.net != nil {
			ropts = append(ropts, server.WithConnectivity(h.net))
		}
		if cfg.Metrics.Enabled {
			ropts = append(ropts, server.WithMetrics(metrics.Handler()))
		}
		r := server.NewRouter(h.sup, cfg.API.BasePath, ropts...)
		if h.api, err = server.NewServer(cfg.API.Listen, r, log); err != nil {
			return nil, fmt.Errorf("api: %w", err)
		}
	}
	return h, nil
}

func (h *host) logEvent(e supervisor.Event) {
	attrs := []any{"event", string(e.Type), "pid", e.PID, "status", e.Status.String(), "attempt", e.Attempt}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err)
		h.log.Warn("daemon event", attrs...)
		return
	}
	h.log.Debug("daemon event", attrs...)
}

// shutdown mirrors the quit sequence: network first, then either stop the
// daemon or leave it running for the next run to pick up.
func (h *host) shutdown() error {
	if h.net != nil {
		_ = h.net.Close()
	}
	var err error
	if h.cfg.Core.StopOnQuit {
		err = h.sup.Stop()
	} else {
		err = h.sup.Release()
	}
	if cerr := h.sup.Close(); cerr != nil && err == nil {
		err = cerr
	}
	h.close()
	return err
}

func (h *host) close() {
	if h.api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = h.api.Shutdown(ctx)
		cancel()
	}
	if h.resources != nil {
		h.resources.Stop()
	}
	if h.net != nil {
		_ = h.net.Close()
	}
	if h.sup != nil {
		_ = h.sup.Close()
	}
	for _, s := range h.sinks {
		_ = s.Close()
	}
	for _, c := range h.closers {
		_ = c.Close()
	}
}

// runHost starts the daemon and supervises it until ctx is done.
func runHost(ctx context.Context, cfg *config.Config, console io.Writer) error {
	h, err := newHost(ctx, cfg, console)
	if err != nil {
		return err
	}
	if err := h.sup.Start(""); err != nil {
		// the store and API already reflect the failure; keep serving so
		// the daemon can be started again once fixed
		h.log.Error("daemon start failed", "error", err)
		var conflict *supervisor.StaleProcessConflict
		if errors.As(err, &conflict) {
			_ = h.shutdown()
			return err
		}
	}
	<-ctx.Done()
	h.log.Info("shutting down", "stop_on_quit", cfg.Core.StopOnQuit)
	return h.shutdown()
}
