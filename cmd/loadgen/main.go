// Command loadgen submits generated predictions to a datacup server and
// verifies the leaderboard it builds.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/datacup/internal/loadgen"
	"github.com/okian/datacup/pkg/logger"
)

// Defaults for flags.
const (
	defaultParticipants = 200
	defaultSubmissions  = 5
	defaultRetries      = 20
	defaultTopN         = 100
	defaultWorkers      = 2 // multiplier for runtime.NumCPU()
	defaultTimeout      = 30 * time.Second
	defaultRunTimeout   = 10 * time.Minute
)

func newRootCmd() *cobra.Command {
	cfg := &loadgen.Config{}
	var (
		delimiter  string
		runTimeout time.Duration
		jsonLogs   bool
	)
	cmd := &cobra.Command{
		Use:          "loadgen",
		Short:        "Load and consistency test for a datacup server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format := logger.FormatText
			if jsonLogs {
				format = logger.FormatJSON
			}
			if err := logger.Init(logger.WithOutput(cmd.ErrOrStderr()), logger.WithFormat(format)); err != nil {
				return err
			}
			if cfg.Verbose {
				_ = logger.SetLevelString("debug")
			}
			if r := []rune(delimiter); len(r) == 1 {
				cfg.Delimiter = r[0]
			} else {
				return fmt.Errorf("delimiter must be a single character, got %q", delimiter)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
			defer cancel()
			stats, err := loadgen.Run(ctx, cfg)
			if stats != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "accepted %d/%d, duplicates %d, rejected %d, failed %d in %s\n",
					stats.Accepted, stats.Generated, stats.Duplicates, stats.Rejected, stats.Failed,
					stats.Duration.Round(time.Millisecond))
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "base URL of the service")
	f.StringVar(&cfg.ReferencePath, "reference", "solution.csv", "reference table the server scores against")
	f.StringVar(&cfg.IdentifierColumn, "identifier", "id", "identifier column name")
	f.StringVar(&delimiter, "delimiter", ",", "field delimiter")
	f.IntVar(&cfg.Participants, "participants", defaultParticipants, "number of participants")
	f.IntVar(&cfg.Submissions, "submissions", defaultSubmissions, "submissions per participant")
	f.IntVar(&cfg.Retries, "retries", defaultRetries, "resubmissions of accepted ids")
	f.IntVar(&cfg.TopN, "top", defaultTopN, "leaderboard entries to verify")
	f.IntVar(&cfg.Workers, "workers", runtime.NumCPU()*defaultWorkers, "concurrent uploads")
	f.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	f.DurationVar(&runTimeout, "run-timeout", defaultRunTimeout, "overall run timeout")
	f.Uint64Var(&cfg.Seed, "seed", uint64(time.Now().UnixNano()), "noise seed")
	f.BoolVar(&cfg.Verbose, "verbose", false, "enable verbose logging")
	f.BoolVar(&jsonLogs, "json", false, "log as JSON")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "load run failed:", err)
		os.Exit(1)
	}
}
