package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/corekeeper/internal/detector"
	"github.com/loykin/corekeeper/internal/env"
	"github.com/loykin/corekeeper/internal/logger"
	"github.com/loykin/corekeeper/internal/metrics"
	"github.com/loykin/corekeeper/internal/network"
	"github.com/loykin/corekeeper/internal/supervisor"
)

const (
	EnvPrefix = "COREKEEPER"

	DefaultName              = "core"
	DefaultHeartbeatInterval = 5 // seconds
	DefaultExecutable        = "assets/core/zcoind"
	DefaultRPCAddr           = "127.0.0.1:8888"
	DefaultAPIListen         = "127.0.0.1:8787"
	DefaultAPIBasePath       = "/api"

	packedArchive   = "app.asar"
	unpackedArchive = "app.asar.unpacked"
)

// Config is the top-level TOML structure.
type Config struct {
	Paths   PathsConfig      `mapstructure:"paths"`
	Core    CoreConfig       `mapstructure:"core"`
	Log     logger.AppConfig `mapstructure:"log"`
	Env     EnvConfig        `mapstructure:"env"`
	Metrics MetricsConfig    `mapstructure:"metrics"`
	History HistoryConfig    `mapstructure:"history"`
	Network NetworkConfig    `mapstructure:"network"`
	API     APIConfig        `mapstructure:"api"`
}

// PathsConfig locates the installation and the per-user data directory.
type PathsConfig struct {
	// Root is the application root. It may point inside a packaged
	// app.asar archive; the daemon is then looked up in app.asar.unpacked.
	Root string `mapstructure:"root"`
	// Executable is the daemon path relative to the unpacked root, or absolute.
	Executable string `mapstructure:"executable"`
	// UserData holds the PID file.
	UserData string `mapstructure:"user_data"`
}

type CoreConfig struct {
	Name                     string                 `mapstructure:"name"`
	AutoRestart              bool                   `mapstructure:"auto_restart"`
	HeartbeatIntervalSeconds int                    `mapstructure:"heartbeat_interval_seconds"`
	StopOnQuit               bool                   `mapstructure:"stop_on_quit"`
	Args                     []string               `mapstructure:"args"`
	Env                      []string               `mapstructure:"env"`
	WorkDir                  string                 `mapstructure:"workdir"`
	StopTimeout              time.Duration          `mapstructure:"stop_timeout"`
	StaleProcess             supervisor.StalePolicy `mapstructure:"stale_process"`
	RestartDelay             time.Duration          `mapstructure:"restart_delay"`
	StartupTimeout           time.Duration          `mapstructure:"startup_timeout"`
	MaxRestarts              int                    `mapstructure:"max_restarts"`
	RestartWindow            time.Duration          `mapstructure:"restart_window"`
	Probes                   []detector.Config      `mapstructure:"probes"`
	Log                      logger.Config          `mapstructure:"log"`
}

type EnvConfig struct {
	UseOS bool     `mapstructure:"use_os_env"`
	Files []string `mapstructure:"files"`
	Vars  []string `mapstructure:"vars"`
}

type MetricsConfig struct {
	Enabled  bool                   `mapstructure:"enabled"`
	Resource metrics.ResourceConfig `mapstructure:"resource"`
}

type HistoryConfig struct {
	// DSNs lists sinks; see factory.NewSinkFromDSN for the accepted forms.
	DSNs []string `mapstructure:"dsns"`
}

type NetworkConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	network.Config `mapstructure:",squash"`
}

type APIConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

// Load reads path (TOML) over the defaults and applies COREKEEPER_* env
// overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	wd, _ := os.Getwd()
	v.SetDefault("paths.root", wd)
	v.SetDefault("paths.executable", DefaultExecutable)
	v.SetDefault("paths.user_data", defaultUserData())

	v.SetDefault("core.name", DefaultName)
	v.SetDefault("core.auto_restart", true)
	v.SetDefault("core.heartbeat_interval_seconds", DefaultHeartbeatInterval)
	v.SetDefault("core.stop_on_quit", true)
	v.SetDefault("core.stop_timeout", supervisor.DefaultStopTimeout)
	v.SetDefault("core.stale_process", string(supervisor.StaleReplace))
	v.SetDefault("core.restart_delay", time.Second)
	v.SetDefault("core.startup_timeout", time.Duration(0))
	v.SetDefault("core.max_restarts", 0)
	v.SetDefault("core.restart_window", time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")

	v.SetDefault("env.use_os_env", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.resource.enabled", false)
	v.SetDefault("metrics.resource.interval", 10*time.Second)

	v.SetDefault("network.enabled", true)
	v.SetDefault("network.rpc_addr", DefaultRPCAddr)
	v.SetDefault("network.poll_interval", 5*time.Second)
	v.SetDefault("network.timeout", 2*time.Second)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", DefaultAPIListen)
	v.SetDefault("api.base_path", DefaultAPIBasePath)
}

func defaultUserData() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "corekeeper")
	}
	return filepath.Join(os.TempDir(), "corekeeper")
}

// Validate checks values the supervisor would otherwise reject late.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Core.Name) == "" {
		return errors.New("core.name is required")
	}
	if c.Core.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("core.heartbeat_interval_seconds must be positive, got %d", c.Core.HeartbeatIntervalSeconds)
	}
	switch c.Core.StaleProcess {
	case "", supervisor.StaleReplace, supervisor.StaleAdopt, supervisor.StaleRefuse:
	default:
		return fmt.Errorf("core.stale_process: unknown policy %q", c.Core.StaleProcess)
	}
	if c.Core.MaxRestarts < 0 {
		return errors.New("core.max_restarts must not be negative")
	}
	if c.Core.MaxRestarts > 0 && c.Core.RestartWindow <= 0 {
		return errors.New("core.restart_window must be positive when max_restarts is set")
	}
	if strings.TrimSpace(c.Paths.UserData) == "" {
		return errors.New("paths.user_data is required")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := detector.FromConfigs(c.Core.Probes); err != nil {
		return fmt.Errorf("core.probes: %w", err)
	}
	if c.Network.Enabled && c.Network.RPCAddr == "" {
		return errors.New("network.rpc_addr is required when network is enabled")
	}
	if c.API.Enabled && c.API.Listen == "" {
		return errors.New("api.listen is required when api is enabled")
	}
	return nil
}

// ResolveExecutable returns the absolute daemon path. A root inside a
// packaged archive is mapped to its unpacked sibling since executables
// cannot run from inside the archive.
func ResolveExecutable(root, executable string) (string, error) {
	if executable == "" {
		executable = DefaultExecutable
	}
	if filepath.IsAbs(executable) {
		return filepath.Clean(executable), nil
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		root = wd
	}
	root = UnpackedRoot(root)
	p := filepath.Join(root, executable)
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// UnpackedRoot replaces the first app.asar path element with app.asar.unpacked.
func UnpackedRoot(root string) string {
	parts := strings.Split(filepath.ToSlash(root), "/")
	for i, p := range parts {
		if p == packedArchive {
			parts[i] = unpackedArchive
			break
		}
	}
	return filepath.FromSlash(strings.Join(parts, "/"))
}

// Supervisor converts the core section into a supervisor configuration.
// OnStarted is left for the host to fill in.
func (c *Config) Supervisor() (supervisor.Config, error) {
	exe, err := ResolveExecutable(c.Paths.Root, c.Paths.Executable)
	if err != nil {
		return supervisor.Config{}, fmt.Errorf("resolve executable: %w", err)
	}
	return supervisor.Config{
		Name:                     c.Core.Name,
		ExecutablePath:           exe,
		PIDDir:                   c.Paths.UserData,
		AutoRestart:              c.Core.AutoRestart,
		HeartbeatIntervalSeconds: c.Core.HeartbeatIntervalSeconds,
		Args:                     c.Core.Args,
		Env:                      c.Core.Env,
		WorkDir:                  c.Core.WorkDir,
		Log:                      c.Core.Log,
		StopTimeout:              c.Core.StopTimeout,
		StaleProcess:             c.Core.StaleProcess,
		RestartDelay:             c.Core.RestartDelay,
		StartupTimeout:           c.Core.StartupTimeout,
	}, nil
}

// RestartLimiter returns nil when max_restarts is zero.
func (c *Config) RestartLimiter() *supervisor.RestartLimiter {
	if c.Core.MaxRestarts <= 0 {
		return nil
	}
	return &supervisor.RestartLimiter{MaxRestarts: c.Core.MaxRestarts, Window: c.Core.RestartWindow}
}

// BuildEnv composes the global daemon environment.
func (c *Config) BuildEnv() (*env.Env, error) {
	e := env.New(c.Env.UseOS)
	for _, f := range c.Env.Files {
		if err := e.LoadFile(f); err != nil {
			return nil, err
		}
	}
	e.SetAll(c.Env.Vars)
	return e, nil
}

// Probe builds the configured liveness detector, or nil for the default
// process-liveness check.
func (c *Config) Probe() (detector.Detector, error) {
	return detector.FromConfigs(c.Core.Probes)
}
