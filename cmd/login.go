package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/lockbox/internal/fault"
)

func (a *app) loginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check credentials (the first login stores them)",
		Example: `  lockbox login
  lockbox login --user alice`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			lb, err := a.open(ctx)
			if err != nil {
				return a.HandleError(ctx, err, "")
			}
			defer lb.Close()

			if err := a.login(ctx, lb); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s %s\n", successMark(), fault.Message(fault.KindAuthenticated, lb.KeyPath()))
			return nil
		},
	}
}
