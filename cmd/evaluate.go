package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/datacup/internal/adapters/reference"
	app "github.com/okian/datacup/internal/app"
	"github.com/okian/datacup/internal/domain/evaluation"
)

func newEvaluateCmd() *cobra.Command {
	var flags struct {
		reference  string
		identifier string
		delimiter  string
	}
	cmd := &cobra.Command{
		Use:   "evaluate <submission.csv>",
		Short: "Score a submission offline without recording it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			refPath := cfg.ReferencePath
			if flags.reference != "" {
				refPath = flags.reference
			}
			ident := cfg.IdentifierColumn
			if flags.identifier != "" {
				ident = flags.identifier
			}
			delim := cfg.DelimiterRune()
			if flags.delimiter != "" {
				delim = []rune(flags.delimiter)[0]
			}

			if err := app.CheckFileName(args[0]); err != nil {
				return err
			}
			candidate, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read submission: %w", err)
			}
			ref, err := reference.NewLoader(refPath, reference.WithDelimiter(delim)).Load(cmd.Context())
			if err != nil {
				return err
			}

			ev := evaluation.New(evaluation.WithIdentifierColumn(ident), evaluation.WithDelimiter(delim))
			res, err := ev.Evaluate(ref, candidate)
			var rej *evaluation.Error
			if errors.As(err, &rej) {
				fmt.Fprintf(cmd.ErrOrStderr(), "rejected: %s\n", rej.Kind)
				if rej.Message != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", rej.Message)
				}
				if len(rej.Columns) > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "  columns: %v\n", rej.Columns)
				}
				return errRejected
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "score:  %.5f\n", res.Score)
			fmt.Fprintf(out, "mode:   %s\n", res.Mode)
			fmt.Fprintf(out, "values: %d\n", res.Pairs)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.reference, "reference", "", "reference table (default: reference_path from config)")
	f.StringVar(&flags.identifier, "identifier", "", "identifier column name (default: identifier_column from config)")
	f.StringVar(&flags.delimiter, "delimiter", "", "field delimiter (default: delimiter from config)")
	return cmd
}
