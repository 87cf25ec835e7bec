package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/codereview-mcp/internal/app"
	"github.com/AltairaLabs/codereview-mcp/internal/config"
	"github.com/AltairaLabs/codereview-mcp/internal/lifecycle"
	"github.com/AltairaLabs/codereview-mcp/internal/scanner"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "reviewd:", err)
		os.Exit(lifecycle.ExitCode(err))
	}
}

type rootFlags struct {
	configPath string
	debug      bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "reviewd",
		Short:         "Local code-review service fronting static analysis scanners",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to reviewd.yaml")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(flags),
		newStartCmd(flags),
		newStopCmd(flags),
		newStatusCmd(flags),
		newScannersCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run reviewd in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, flags)
		},
	}
}

func newStartCmd(flags *rootFlags) *cobra.Command {
	var detach bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start reviewd, optionally detached from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !detach {
				return serve(cmd, flags)
			}
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			args := []string{"serve"}
			if flags.configPath != "" {
				args = append(args, "--config", flags.configPath)
			}
			if flags.debug {
				args = append(args, "--debug")
			}
			pid, err := newManager(cfg, cmd.ErrOrStderr()).Start(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reviewd started (PID %d), logging to %s\n", pid, cfg.LogPath())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "run in the background")
	return cmd
}

func newStopCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running reviewd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if err := newManager(cfg, cmd.ErrOrStderr()).Stop(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reviewd stopped")
			return nil
		},
	}
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether reviewd is running and its health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			st := newManager(cfg, cmd.ErrOrStderr()).Status(cmd.Context())
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(st); err != nil {
					return err
				}
			} else {
				printStatus(out, st)
			}
			if !st.Running {
				return lifecycle.ErrNotRunning
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	return cmd
}

func printStatus(w io.Writer, st lifecycle.Status) {
	if !st.Running {
		fmt.Fprintln(w, "reviewd is not running")
		return
	}
	fmt.Fprintf(w, "reviewd is running (PID %d)\n", st.PID)
	if st.Health != nil {
		fmt.Fprintf(w, "  status:      %s\n", st.Health.Status)
		fmt.Fprintf(w, "  version:     %s\n", st.Health.Version)
		fmt.Fprintf(w, "  sessions:    %d\n", st.Health.ActiveSessions)
		fmt.Fprintf(w, "  scanners:    %d available\n", st.Health.ScannersAvailable)
		fmt.Fprintf(w, "  uptime:      %ds\n", st.Health.UptimeSeconds)
	}
	if st.GRPC != "" {
		fmt.Fprintf(w, "  grpc health: %s\n", st.GRPC)
	}
	if st.Error != "" {
		fmt.Fprintf(w, "  error:       %s\n", st.Error)
	}
}

func newScannersCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scanners",
		Short: "Probe the scanner catalog and list what is available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			logger := app.NewLogger(cfg.Logging, flags.debug, cmd.ErrOrStderr())
			registry, err := app.NewRegistry(cfg, logger)
			if err != nil {
				return err
			}
			registry.Refresh(cmd.Context())
			printScanners(cmd.OutOrStdout(), registry.Describe())
			return nil
		},
	}
}

func printScanners(w io.Writer, ds []scanner.Descriptor) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tAVAILABLE\tVERSION\tFORMAT\tPROBE ERROR")
	for _, d := range ds {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", d.Name, d.Available, d.Version, d.Format, d.ProbeError)
	}
	tw.Flush()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reviewd %s\n", version)
		},
	}
}

func newManager(cfg *config.Config, stderr io.Writer) *lifecycle.Manager {
	return lifecycle.NewManager(lifecycle.Options{
		LockPath:     cfg.LockPath(),
		PIDPath:      cfg.PIDPath(),
		LogPath:      cfg.LogPath(),
		HTTPAddr:     cfg.Server.HTTPAddr,
		GRPCAddr:     cfg.Server.GRPCAddr,
		GracePeriod:  cfg.Lifecycle.GracePeriod,
		PollInterval: cfg.Lifecycle.PollInterval,
		Logger:       app.NewLogger(cfg.Logging, false, stderr),
	})
}

// serve holds the instance lock for the life of the process and runs until
// SIGINT or SIGTERM
func serve(cmd *cobra.Command, flags *rootFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Logging, flags.debug, cmd.ErrOrStderr())

	lock := lifecycle.NewLock(cfg.LockPath(), cfg.PIDPath())
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("Failed to release lock", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, version, logger)
	if err != nil {
		return err
	}
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("reviewd exited with error", "error", err)
		return err
	}
	logger.Info("reviewd shutdown complete")
	return nil
}
