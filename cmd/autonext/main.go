// Package main provides the autonext command: it watches a course page and
// moves to the next unit once the current one reports completion.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/entrhq/autonext/pkg/config"
	"github.com/entrhq/autonext/pkg/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app carries what the persistent pre-run prepared for a subcommand.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *logging.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "autonext",
		Short: "Advance to the next course unit once the current one is complete",
		Long: `autonext watches a course page, detects when the current unit's task is
marked complete and activates the page's "next unit" control.

Detection runs on a fixed interval and again shortly after the page adds
content that looks like a completion marker. Each page load gets a fresh
session, so every unit is advanced at most once.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default "+config.ConfigFile()+")")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().Bool("log-stderr", false, "also write logs to stderr")

	root.AddCommand(
		newWatchCmd(a),
		newCheckCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}

	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg

	if err := logging.Configure(cfg.Logging.LoggingOptions()); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	logger, err := logging.NewLogger("autonext")
	if err != nil {
		// NewLogger still returns a stderr logger.
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	a.logger = logger
	a.logger.Debugf("config loaded, logging to %s", a.logger.LogPath())
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "autonext %s\n", version)
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
