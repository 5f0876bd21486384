package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fabingest/internal/dispatch"
	"fabingest/internal/ipc"
	"fabingest/internal/store"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		limit   int
		plugin  string
		outcome string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent plugin dispatches",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.HistoryRequest{Plugin: plugin, Outcome: outcome, Limit: limit}
			entries, err := fetchHistory(cmd, ctx, req)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, entries)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No dispatches recorded")
				return nil
			}
			fmt.Fprintln(out, renderHistory(entries))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of rows")
	cmd.Flags().StringVar(&plugin, "plugin", "", "Only show dispatches to this plugin")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Only show this outcome (processed, failed, panicked, not_ready, unknown_plugin)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output history as JSON")
	return cmd
}

// fetchHistory asks the daemon and falls back to reading the database when
// it is not running.
func fetchHistory(cmd *cobra.Command, ctx *commandContext, req ipc.HistoryRequest) ([]ipc.HistoryEntry, error) {
	client, err := ipc.Dial(ctx.socketPath())
	if err == nil {
		defer client.Close()
		resp, err := client.History(req)
		if err != nil {
			return nil, err
		}
		return resp.Entries, nil
	}
	if !daemonUnavailable(err) {
		return nil, wrapDialError(err, ctx.socketPath())
	}

	var entries []ipc.HistoryEntry
	err = ctx.withStore(func(st *store.Store) error {
		records, err := st.RecentDispatches(cmd.Context(), store.HistoryFilter{
			Plugin:  req.Plugin,
			Outcome: dispatch.Outcome(req.Outcome),
			Limit:   req.Limit,
		})
		if err != nil {
			return err
		}
		for _, rec := range records {
			entries = append(entries, ipc.HistoryEntry{
				ID:         rec.ID,
				Path:       rec.Path,
				Plugin:     rec.Plugin,
				Outcome:    string(rec.Outcome),
				Error:      rec.Error,
				StartedAt:  rec.StartedAt,
				DurationMS: rec.Duration.Milliseconds(),
			})
		}
		return nil
	})
	return entries, err
}

func renderHistory(entries []ipc.HistoryEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			formatTime(e.StartedAt),
			e.Plugin,
			e.Outcome,
			(time.Duration(e.DurationMS) * time.Millisecond).String(),
			e.Path,
			e.Error,
		})
	}
	return renderTable(
		[]string{"Started", "Plugin", "Outcome", "Duration", "File", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}
