package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/corekeeper/internal/metrics"
	"github.com/loykin/corekeeper/internal/supervisor"
)

// Daemon is the supervisor surface exposed over HTTP.
type Daemon interface {
	Snapshot() supervisor.Snapshot
	Start(path string) error
	Stop() error
	SetAutoRestart(enable bool) error
}

// UsageSource reports the latest resource sample of the daemon.
type UsageSource interface {
	Latest() (metrics.Usage, bool)
}

// ConnectivitySource reports whether the daemon's RPC endpoint is reachable.
type ConnectivitySource interface {
	Connected() bool
}

// Router provides embeddable HTTP handlers for one supervised daemon.
// Endpoints:
//
//	GET  {basePath}/status
//	POST {basePath}/start        body (optional): {"path": "/abs/daemon"}
//	POST {basePath}/stop
//	POST {basePath}/autorestart  query: enabled=true|false
//	GET  /metrics                when metrics are enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	daemon   Daemon
	basePath string

	usage   UsageSource
	network ConnectivitySource
	metrics http.Handler
}

type RouterOption func(*Router)

func WithUsage(u UsageSource) RouterOption { return func(r *Router) { r.usage = u } }

func WithConnectivity(c ConnectivitySource) RouterOption {
	return func(r *Router) { r.network = c }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) RouterOption { return func(r *Router) { r.metrics = h } }

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/start, /api/stop, /api/status.
func NewRouter(d Daemon, basePath string, opts ...RouterOption) *Router {
	r := &Router{daemon: d, basePath: normalizeBase(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/autorestart", r.handleAutoRestart)
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// Server is a running API listener.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log *slog.Logger
}

// NewServer listens on addr and serves r in the background.
func NewServer(addr string, r *Router, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		srv: &http.Server{
			Handler:           r.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		ln:  ln,
		log: log.With("component", "api"),
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server stopped", "error", err)
		}
	}()
	s.log.Info("api listening", "addr", ln.Addr().String())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type startReq struct {
	Path string `json:"path"`
}

// StatusResponse is the body of GET {base}/status.
type StatusResponse struct {
	Daemon    supervisor.Snapshot `json:"daemon"`
	Connected *bool               `json:"connected,omitempty"`
	Usage     *metrics.Usage      `json:"usage,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := StatusResponse{Daemon: r.daemon.Snapshot()}
	if r.network != nil {
		ok := r.network.Connected()
		resp.Connected = &ok
	}
	if r.usage != nil {
		if u, ok := r.usage.Latest(); ok {
			resp.Usage = &u
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleStart(c *gin.Context) {
	var req startReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
	}
	if !validDaemonPath(req.Path) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid path: must be a clean absolute file path"})
		return
	}
	if err := r.daemon.Start(req.Path); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.daemon.Stop(); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleAutoRestart(c *gin.Context) {
	enabled, err := strconv.ParseBool(c.Query("enabled"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "enabled query param must be a boolean"})
		return
	}
	if err := r.daemon.SetAutoRestart(enabled); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
