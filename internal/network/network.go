package network

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/corekeeper/internal/detector"
	"github.com/loykin/corekeeper/internal/store"
)

// StoreActionConnected is dispatched with a bool whenever reachability changes.
const StoreActionConnected = "Network/setConnected"

// Config locates the daemon's RPC endpoint.
type Config struct {
	RPCAddr      string        `mapstructure:"rpc_addr"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Client tracks whether the daemon's RPC endpoint accepts connections and
// mirrors that into the store. It is created by the host and initialised
// from the supervisor's OnStarted callback.
type Client struct {
	cfg   Config
	log   *slog.Logger
	probe detector.Detector

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	connected atomic.Bool
}

func New(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.RPCAddr == "" {
		return nil, errors.New("network: rpc address is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:   cfg,
		log:   log.With("component", "network", "rpc", cfg.RPCAddr),
		probe: detector.TCPDetector{Addr: cfg.RPCAddr, Timeout: cfg.Timeout},
	}, nil
}

// Init starts polling and reporting to st. Calling it again, for example
// after a daemon restart, replaces the running poller.
func (c *Client) Init(ctx context.Context, st store.Store) error {
	if st == nil {
		return errors.New("network: store is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()

	pctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(pctx, st, c.done)
	c.log.Info("network initialised")
	return nil
}

// Close stops polling. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	return nil
}

func (c *Client) stopLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel, c.done = nil, nil
}

// Connected reports the last observed reachability.
func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) run(ctx context.Context, st store.Store, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(c.cfg.PollInterval)
	defer t.Stop()
	first := true
	for {
		c.poll(st, first)
		first = false
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (c *Client) poll(st store.Store, force bool) {
	ok, err := c.probe.Alive()
	if err != nil {
		c.log.Debug("rpc probe error", "error", err)
	}
	prev := c.connected.Swap(ok)
	if prev == ok && !force {
		return
	}
	if err := st.Dispatch(StoreActionConnected, ok); err != nil {
		c.log.Warn("store dispatch failed", "error", err)
	}
	c.log.Info("rpc reachability changed", "connected", ok)
}
