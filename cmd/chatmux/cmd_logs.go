package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"chatmux/pkg/eventlog"
)

// logsConfig holds configuration for the logs command.
type logsConfig struct {
	tail      int
	follow    bool
	eventType string
	threadID  string
	server    string
}

// eventQuerier reads the event log. *eventlog.Reader implements it.
type eventQuerier interface {
	Query(ctx context.Context, opts eventlog.QueryOpts) ([]eventlog.Event, error)
}

// followInterval is how often --follow polls for new events.
const followInterval = time.Second

// newLogsCmd creates the "chatmux logs" subcommand.
func newLogsCmd(opts *rootOptions) *cobra.Command {
	var cfg logsConfig

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query and tail session lifecycle events",
		Long:  "Displays events from the chatmux event log (provisioning, fallbacks,\nteardowns, reconciliation). Optionally filter and follow new events.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conf, err := opts.load()
			if err != nil {
				return err
			}
			reader, err := eventlog.NewReader(conf.Bridge.EventsDB)
			if err != nil {
				return fmt.Errorf("open event log: %w", err)
			}
			defer reader.Close()

			w := cmd.OutOrStdout()
			if cfg.follow {
				return followLogs(cmd.Context(), reader, w, cfg, followInterval)
			}
			_, err = printLogs(cmd.Context(), reader, w, cfg)
			return err
		},
	}

	cmd.Flags().IntVar(&cfg.tail, "tail", 20, "number of recent events to show")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "poll for new events every 1s")
	cmd.Flags().StringVar(&cfg.eventType, "type", "", "only show events of this type (e.g. provisioned)")
	cmd.Flags().StringVar(&cfg.threadID, "thread", "", "only show events of this thread")
	cmd.Flags().StringVar(&cfg.server, "server", "", "only show events of this server")

	return cmd
}

func (c logsConfig) query(afterID int64, limit int) eventlog.QueryOpts {
	return eventlog.QueryOpts{
		ThreadID:  c.threadID,
		EventType: c.eventType,
		Source:    c.server,
		AfterID:   afterID,
		Limit:     limit,
	}
}

// printLogs displays the last cfg.tail events oldest first and returns the
// id of the newest one shown.
func printLogs(ctx context.Context, q eventQuerier, w io.Writer, cfg logsConfig) (int64, error) {
	events, err := q.Query(ctx, cfg.query(0, cfg.tail))
	if err != nil {
		return 0, fmt.Errorf("query events: %w", err)
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "no events found")
		return 0, nil
	}
	return writeEvents(w, events), nil
}

// followLogs prints the tail, then polls for newer events until ctx ends.
func followLogs(ctx context.Context, q eventQuerier, w io.Writer, cfg logsConfig, interval time.Duration) error {
	lastID, err := printLogs(ctx, q, w, cfg)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			events, err := q.Query(ctx, cfg.query(lastID, 100))
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("query events: %w", err)
			}
			if len(events) > 0 {
				lastID = writeEvents(w, events)
			}
		}
	}
}

// writeEvents prints events (given newest first) in chronological order and
// returns the newest id.
func writeEvents(w io.Writer, events []eventlog.Event) int64 {
	ordered := slices.Clone(events)
	slices.Reverse(ordered)
	for i := range ordered {
		formatEvent(w, &ordered[i])
	}
	return ordered[len(ordered)-1].ID
}

// formatEvent writes a single event line.
func formatEvent(w io.Writer, e *eventlog.Event) {
	fmt.Fprintf(w, "%s  %-20s %-10s", e.CreatedAt.Local().Format(time.DateTime), e.Type, e.Source)
	if e.ThreadID != "" {
		fmt.Fprintf(w, " thread=%s", e.ThreadID)
	}
	if e.PaneID != "" {
		fmt.Fprintf(w, " pane=%s", e.PaneID)
	}
	if e.Payload != "" {
		fmt.Fprintf(w, " %s", e.Payload)
	}
	fmt.Fprintln(w)
}
