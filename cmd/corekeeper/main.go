package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags selects the HTTP API instead of local PID file inspection.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := &cobra.Command{
		Use:   "corekeeper",
		Short: "Supervise the wallet full-node daemon",
		Long: `corekeeper launches one full-node daemon, probes it with heartbeats,
restarts it after crashes and remembers its PID across restarts.

Examples:
  corekeeper run --config corekeeper.toml
  corekeeper status
  corekeeper status --api-url=http://127.0.0.1:8787/api
  corekeeper stop
  corekeeper pid`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file (optional)")

	root.AddCommand(
		createRunCommand(globalFlags),
		createStatusCommand(globalFlags),
		createStopCommand(globalFlags),
		createPIDCommand(globalFlags),
	)
	return root
}

func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor in the foreground",
		Long: `Start the daemon and supervise it until SIGINT or SIGTERM.
On shutdown the daemon is stopped when core.stop_on_quit is set, otherwise
it is left running and its PID file kept so the next run adopts or replaces it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runHost(ctx, cfg, cmd.ErrOrStderr())
		},
	}
}

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Show the daemon status. Without --api-url the PID file is inspected
directly; with it the running supervisor is queried.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), flags.APITimeout)
			defer cancel()
			if flags.APIUrl != "" {
				return apiStatus(ctx, cmd.OutOrStdout(), *flags)
			}
			cfg, err := loadConfig(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			return localStatus(cmd.OutOrStdout(), cfg)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createStopCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Long: `Stop the daemon. With --api-url the running supervisor stops it and
keeps supervising. Without it a daemon left running by an earlier run is
terminated using the PID file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.APIUrl != "" {
				ctx, cancel := context.WithTimeout(cmd.Context(), flags.APITimeout)
				defer cancel()
				return apiStop(ctx, cmd.OutOrStdout(), *flags)
			}
			cfg, err := loadConfig(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			return localStop(cmd.OutOrStdout(), cfg)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createPIDCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pid",
		Short: "Print the PID recorded in the PID file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			return printPID(cmd.OutOrStdout(), cfg)
		},
	}
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "supervisor API URL (e.g. http://127.0.0.1:8787/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
}
