package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/okian/datacup/internal/domain/types"
)

func newLeaderboardCmd() *cobra.Command {
	var flags struct {
		limit  int
		format string
	}
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the leaderboard from the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, cleanup, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			limit := flags.limit
			if limit < 1 {
				limit = cfg.DefaultLeaderboardLimit
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.TopN(ctx, limit)
			if err != nil {
				return err
			}
			return renderLeaderboard(cmd.OutOrStdout(), entries, flags.format)
		},
	}
	f := cmd.Flags()
	f.IntVar(&flags.limit, "limit", 0, "number of entries (default: default_leaderboard_limit from config)")
	f.StringVar(&flags.format, "format", "table", "output format: table, markdown or csv")
	return cmd
}

// renderLeaderboard writes entries with five-decimal scores.
func renderLeaderboard(out io.Writer, entries []types.Entry, format string) error {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	w.AppendHeader(table.Row{"Rank", "Participant", "Best RMSE", "Submissions"})
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	for _, e := range entries {
		w.AppendRow(table.Row{e.Rank, e.ParticipantID, fmt.Sprintf("%.5f", e.BestScore), e.SubmissionCount})
	}

	var rendered string
	switch format {
	case "table", "":
		rendered = w.Render()
	case "markdown":
		rendered = w.RenderMarkdown()
	case "csv":
		rendered = w.RenderCSV()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	_, err := fmt.Fprintln(out, rendered)
	return err
}
