package main

import (
	"time"

	"github.com/spf13/cobra"
)

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "Path to YAML or JSON configuration file")
}

// buildQueueCmd creates the "queue" command group.
func buildQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or purge the event retry queue",
	}
	cmd.AddCommand(
		buildQueueListCmd(),
		buildQueuePurgeCmd(),
	)
	return cmd
}

func buildQueueListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued events in delivery order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQueueList(cmd, configPath)
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func buildQueuePurgeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop every queued event",
		Long: `Drop every queued event without delivering it.

Purged events are lost. Use this to clear events a collector will never accept.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQueuePurge(cmd, configPath)
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func buildDrainCmd() *cobra.Command {
	var (
		configPath string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Run one drain pass against the configured collector",
		Example: `  # Retry everything queued, giving up after a minute
  abtrack drain --config abtrack.yaml --timeout 1m`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDrain(cmd, configPath, timeout)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort the pass after this long; unattempted events stay queued (0 = no limit)")
	return cmd
}

func buildAssignmentsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "assignments",
		Short: "Show persisted variant assignments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAssignments(cmd, configPath)
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func buildAssignCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign variants for configured experiments not yet assigned",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAssign(cmd, configPath)
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}
