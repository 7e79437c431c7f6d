package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/abtrack/pkg/abtrack"
	"github.com/randalmurphal/abtrack/pkg/abtrack/assign"
	"github.com/randalmurphal/abtrack/pkg/abtrack/config"
	"github.com/randalmurphal/abtrack/pkg/abtrack/event"
	"github.com/randalmurphal/abtrack/pkg/abtrack/store"
)

type queueOutput struct {
	Count  int           `json:"count"`
	Events []event.Event `json:"events"`
}

type purgeOutput struct {
	Purged int `json:"purged"`
}

type drainOutput struct {
	PassID    string `json:"passId,omitempty"`
	Attempted int    `json:"attempted"`
	Delivered int    `json:"delivered"`
	Remaining int    `json:"remaining"`
	Error     string `json:"error,omitempty"`
}

type assignOutput struct {
	Assignments map[string]string `json:"assignments"`
	Errors      []string          `json:"errors,omitempty"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openStore loads settings from path and opens the configured store.
func openStore(path string) (config.Settings, store.Store, error) {
	settings, err := config.LoadSettings(path)
	if err != nil {
		return config.Settings{}, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := config.OpenStore(settings.Store)
	if err != nil {
		return config.Settings{}, nil, fmt.Errorf("open store: %w", err)
	}
	return settings, st, nil
}

func runQueueList(cmd *cobra.Command, configPath string) error {
	_, st, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	q, err := event.NewQueue(st)
	if err != nil {
		return err
	}
	events := q.Snapshot()
	if events == nil {
		events = []event.Event{}
	}
	return writeJSON(cmd.OutOrStdout(), queueOutput{Count: len(events), Events: events})
}

func runQueuePurge(cmd *cobra.Command, configPath string) error {
	_, st, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	// A corrupt queue still purges to a clean empty list.
	q, loadErr := event.NewQueue(st)
	if loadErr != nil {
		slog.Warn("queue unreadable, purging anyway", "error", loadErr)
	}
	n := q.Len()
	if err := q.Purge(); err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), purgeOutput{Purged: n})
}

func runDrain(cmd *cobra.Command, configPath string, timeout time.Duration) error {
	settings, err := config.LoadSettings(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client, err := abtrack.Open(settings, abtrack.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res := client.Drain(ctx)
	out := drainOutput{
		PassID:    res.PassID,
		Attempted: res.Attempted,
		Delivered: res.Delivered,
		Remaining: res.Remaining,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

func runAssignments(cmd *cobra.Command, configPath string) error {
	_, st, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	a, err := assign.NewAssigner(st)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), assignOutput{Assignments: a.Assignments()})
}

func runAssign(cmd *cobra.Command, configPath string) error {
	settings, st, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []assign.Option{assign.WithLogger(slog.Default())}
	if settings.Seed != nil {
		opts = append(opts, assign.WithSeed(*settings.Seed))
	}
	a, err := assign.NewAssigner(st, opts...)
	if err != nil {
		return err
	}

	out := assignOutput{}
	if err := a.AssignAll(settings.Experiments); err != nil {
		out.Errors = append(out.Errors, err.Error())
	}
	out.Assignments = a.Assignments()
	return writeJSON(cmd.OutOrStdout(), out)
}
