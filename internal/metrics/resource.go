package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Usage is one resource sample of the daemon process.
type Usage struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceConfig controls daemon resource sampling.
type ResourceConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ResourceCollector samples CPU and memory of the supervised daemon.
type ResourceCollector struct {
	name     string
	interval time.Duration

	mu     sync.RWMutex
	last   Usage
	handle *process.Process // reused so CPUPercent measures between samples

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpu     prometheus.Gauge
	rss     prometheus.Gauge
	threads prometheus.Gauge
	fds     prometheus.Gauge
}

func NewResourceCollector(name string, cfg ResourceConfig) *ResourceCollector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	gauge := func(metric, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        metric,
			Help:        help,
			ConstLabels: prometheus.Labels{"name": name},
		})
	}
	return &ResourceCollector{
		name:     name,
		interval: interval,
		stopCh:   make(chan struct{}),
		cpu:      gauge("cpu_percent", "CPU usage percentage of the daemon."),
		rss:      gauge("memory_rss_bytes", "Resident memory of the daemon."),
		threads:  gauge("num_threads", "Number of daemon threads."),
		fds:      gauge("num_fds", "Number of open file descriptors of the daemon (Unix only)."),
	}
}

// RegisterMetrics registers the resource gauges with r.
func (c *ResourceCollector) RegisterMetrics(r prometheus.Registerer) error {
	cs := []prometheus.Collector{c.cpu, c.rss, c.threads}
	if runtime.GOOS != "windows" {
		cs = append(cs, c.fds)
	}
	return registerAll(r, cs)
}

// Start samples pid() every interval until ctx is done or Stop is called.
// A pid of 0 means no daemon is running and clears the last sample.
func (c *ResourceCollector) Start(ctx context.Context, pid func() int) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(c.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-t.C:
				c.Collect(pid())
			}
		}
	}()
}

func (c *ResourceCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample of pid.
func (c *ResourceCollector) Collect(pid int) {
	if pid <= 0 {
		c.mu.Lock()
		c.last, c.handle = Usage{}, nil
		c.mu.Unlock()
		return
	}
	u, err := c.sample(pid)
	if err != nil {
		slog.Debug("resource sample failed", "name", c.name, "pid", pid, "error", err)
		return
	}
	c.cpu.Set(u.CPUPercent)
	c.rss.Set(float64(u.MemoryRSS))
	c.threads.Set(float64(u.NumThreads))
	if u.NumFDs > 0 {
		c.fds.Set(float64(u.NumFDs))
	}
	c.mu.Lock()
	c.last = u
	c.mu.Unlock()
}

func (c *ResourceCollector) sample(pid int) (Usage, error) {
	c.mu.Lock()
	h := c.handle
	if h == nil || int(h.Pid) != pid {
		p, err := process.NewProcess(int32(pid)) // #nosec G115
		if err != nil {
			c.mu.Unlock()
			return Usage{}, fmt.Errorf("failed to create process handle: %w", err)
		}
		h, c.handle = p, p
	}
	c.mu.Unlock()

	mem, err := h.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	u := Usage{PID: pid, MemoryRSS: mem.RSS, MemoryVMS: mem.VMS, Timestamp: time.Now()}
	if cpu, err := h.Percent(0); err == nil {
		u.CPUPercent = cpu
	}
	if n, err := h.NumThreads(); err == nil {
		u.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := h.NumFDs(); err == nil {
			u.NumFDs = n
		}
	}
	return u, nil
}

// Latest returns the most recent sample and whether one exists.
func (c *ResourceCollector) Latest() (Usage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last, c.last.PID != 0
}
