package supervisor

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/loykin/corekeeper/internal/logger"
)

// StalePolicy decides what Start does with a live daemon left by an earlier run.
type StalePolicy string

const (
	// StaleReplace terminates the old daemon and spawns a fresh one.
	StaleReplace StalePolicy = "replace"
	// StaleAdopt supervises the old daemon as if it had just been spawned.
	StaleAdopt StalePolicy = "adopt"
	// StaleRefuse fails Start with *AlreadyRunningError.
	StaleRefuse StalePolicy = "refuse"
)

const (
	DefaultStopTimeout = 10 * time.Second
	DefaultKillWait    = 2 * time.Second
)

var safeName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Config is the immutable configuration of one supervisor.
type Config struct {
	Name           string
	ExecutablePath string // used when Start is called with an empty path
	PIDDir         string
	AutoRestart    bool
	// HeartbeatIntervalSeconds is the probe cadence. WithHeartbeatInterval
	// overrides it with a finer duration.
	HeartbeatIntervalSeconds int
	// OnStarted runs once per start cycle after the first successful probe.
	OnStarted func()

	Args    []string
	Env     []string // per-daemon "K=V" entries
	WorkDir string
	Log     logger.Config

	StopTimeout    time.Duration // SIGTERM grace period; 0 means DefaultStopTimeout
	StaleProcess   StalePolicy   // empty means StaleReplace
	RestartDelay   time.Duration // 0 restarts immediately
	StartupTimeout time.Duration // 0 means two heartbeat intervals
}

// PIDFile returns the path of the PID file for this daemon.
func (c Config) PIDFile() string {
	return filepath.Join(c.PIDDir, c.Name+".pid")
}

func (c *Config) validate(intervalOverride time.Duration) error {
	var errs []string
	if !safeName.MatchString(c.Name) {
		errs = append(errs, fmt.Sprintf("name %q must be non-empty and contain only letters, digits, '.', '_' or '-'", c.Name))
	}
	if strings.TrimSpace(c.PIDDir) == "" {
		errs = append(errs, "pid dir is required")
	}
	if intervalOverride <= 0 && c.HeartbeatIntervalSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("heartbeat interval must be positive, got %d", c.HeartbeatIntervalSeconds))
	}
	if p := c.ExecutablePath; p != "" {
		if !filepath.IsAbs(p) || strings.ContainsRune(p, 0) {
			errs = append(errs, fmt.Sprintf("executable path %q must be absolute", p))
		}
	}
	if c.StopTimeout < 0 || c.RestartDelay < 0 || c.StartupTimeout < 0 {
		errs = append(errs, "timeouts and delays must not be negative")
	}
	switch c.StaleProcess {
	case "", StaleReplace, StaleAdopt, StaleRefuse:
	default:
		errs = append(errs, fmt.Sprintf("unknown stale process policy %q", c.StaleProcess))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	if c.StaleProcess == "" {
		c.StaleProcess = StaleReplace
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return nil
}
