package main

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"chatmux/pkg/registry"
)

// newSessionsCmd creates the "chatmux sessions" subcommand.
func newSessionsCmd(opts *rootOptions) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List thread sessions in the registry",
		Long:  "Lists every thread that has its own agent pane, as recorded in the\nsession registry, optionally filtered by server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := opts.load()
			if err != nil {
				return err
			}
			reg := registry.Open(cfg.Bridge.StateFile, log.New(cmd.ErrOrStderr()))
			w := cmd.OutOrStdout()
			return printSessions(w, reg.All(), server, time.Now(), isTerminal(w))
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", "", "only show sessions of this server")

	return cmd
}

// printSessions writes one row per record, ordered by server then creation
// time.
func printSessions(w io.Writer, records map[string]registry.Record, server string, now time.Time, styled bool) error {
	ids := slices.Collect(maps.Keys(records))
	ids = slices.DeleteFunc(ids, func(id string) bool {
		return server != "" && records[id].ServerName != server
	})
	if len(ids) == 0 {
		fmt.Fprintln(w, "no thread sessions")
		return nil
	}
	slices.SortFunc(ids, func(a, b string) int {
		ra, rb := records[a], records[b]
		return cmp.Or(
			cmp.Compare(ra.ServerName, rb.ServerName),
			ra.CreatedAt.Compare(rb.CreatedAt),
			cmp.Compare(a, b),
		)
	})

	header := "SERVER\tTHREAD\tPANE\tPARENT\tAGE\tDIRECTORY"
	if styled {
		header = lipgloss.NewStyle().Bold(true).Render(header)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, header)
	for _, id := range ids {
		rec := records[id]
		dir := cmp.Or(rec.WorktreePath, rec.ProjectPath)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ServerName, id, rec.PaneID, rec.ParentChannelID, formatAge(now.Sub(rec.CreatedAt)), dir)
	}
	return tw.Flush()
}

// formatAge renders a duration as its largest whole unit.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
