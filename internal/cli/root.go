// Package cli defines the Cobra command tree for the simreap CLI.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the root command and returns the exit code.
//
// Exit 0 covers successful runs, including runs where individual device
// deletions failed (those are reported, not fatal). Exit 1 is a fatal run
// error, 2 bad usage, 3 a config problem.
func Execute(ctx context.Context, version, commit, date string) int {
	rootCmd := newRootCmd(version, commit, date)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	fmt.Fprintf(os.Stderr, "simreap: %s\n", err) //nolint:errcheck // best-effort stderr write

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return 2
	}

	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return 3
	}

	return 1
}

// newRootCmd creates the root Cobra command with all subcommands registered.
func newRootCmd(version, commit, date string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "simreap",
		Short: "Reclaim stale iOS simulators on a CI host",
		Long: `Reclaim disk and state on a CI host by deleting simulator devices
that are no longer in use. Devices held by an in-progress job are
protected by a keepalive marker file (named after the device UDID,
mtime = lease expiry) in the lease directory; unleased devices are
deleted once their data directory has sat unmodified past the
staleness threshold.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupLogging(cmd)
		},
	}

	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (-v for debug)")
	rootCmd.PersistentFlags().CountP("quiet", "q", "Suppress non-essential output (-q for warn, -qq for error only)")
	rootCmd.PersistentFlags().Bool("json", false, "Emit machine-readable JSON output")

	rootCmd.AddCommand(
		newCleanCmd(),
		newListCmd(),
		newVersionCmd(version, commit, date),
	)

	return rootCmd
}

// setupLogging configures the default slog logger from -v/-q counts.
func setupLogging(cmd *cobra.Command) {
	verbose, _ := cmd.Flags().GetCount("verbose")
	quiet, _ := cmd.Flags().GetCount("quiet")

	level := slog.LevelInfo
	switch {
	case verbose > 0:
		level = slog.LevelDebug
	case quiet == 1:
		level = slog.LevelWarn
	case quiet > 1:
		level = slog.LevelError
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func newVersionCmd(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "simreap version %s (commit: %s, built: %s)\n", version, commit, date)
			return err
		},
	}
}
