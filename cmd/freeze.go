package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFreezeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "freeze on|off|status",
		Short:     "Close, reopen or inspect the competition",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, cleanup, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			switch args[0] {
			case "on":
				err = store.SetFrozen(ctx, true)
			case "off":
				err = store.SetFrozen(ctx, false)
			}
			if err != nil {
				return err
			}
			frozen, err := store.IsFrozen(ctx)
			if err != nil {
				return err
			}
			state := "open"
			if frozen {
				state = "frozen"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "competition is %s\n", state)
			return nil
		},
	}
}
