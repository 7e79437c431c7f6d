// Package main provides the abtrack operator CLI.
//
// It inspects and maintains the durable state a client session leaves in its
// store: the retry queue and the assignment map.
//
// # Basic Usage
//
//	abtrack queue list --config abtrack.yaml
//	abtrack queue purge --config abtrack.yaml
//	abtrack drain --config abtrack.yaml
//	abtrack assignments --config abtrack.yaml
//	abtrack assign --config abtrack.yaml
//
// All commands print JSON to stdout and log to stderr.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

const defaultConfigPath = "abtrack.yaml"

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	var logLevel string
	rootCmd := &cobra.Command{
		Use:   "abtrack",
		Short: "Inspect and maintain experiment assignment and event retry state",
		Long: `abtrack operates on the store a client session persists to.

It lists or purges queued events, runs a drain pass against the configured
collector, and shows or creates variant assignments.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := parseLevel(logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		buildQueueCmd(),
		buildDrainCmd(),
		buildAssignmentsCmd(),
		buildAssignCmd(),
	)
	return rootCmd
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
