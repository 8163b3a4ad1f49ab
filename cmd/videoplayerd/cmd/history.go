package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/go-drift/videoplayer/internal/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [uri]",
		Short: "List recent playback sessions, or the resume point of one URI",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	cmd.Flags().IntP("limit", "n", 0, "number of sessions to list (default history.limit)")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.HistoryEnabled() {
		return fmt.Errorf("history is disabled in the config")
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		pos, ok, err := store.LastPosition(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "no resume point")
			return nil
		}
		fmt.Fprintf(out, "resume at %s\n", time.Duration(pos)*time.Millisecond)
		return nil
	}

	limit := lo.Must(cmd.Flags().GetInt("limit"))
	if limit <= 0 {
		limit = cfg.History.Limit
	}
	entries, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDED\tPOSITION\tDURATION\tDONE\tURI")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
			e.EndedAt.Local().Format(time.DateTime),
			time.Duration(e.PositionMs)*time.Millisecond,
			time.Duration(e.DurationMs)*time.Millisecond,
			e.Completed,
			e.URI)
	}
	return tw.Flush()
}
