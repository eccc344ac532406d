package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) keygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Create a random master key",
		Long: `Creates a random 32-byte master key in the lockbox directory.

An existing key is never replaced: the stored credentials can only be
read with the key that wrote them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			lb, err := a.open(ctx)
			if err != nil {
				return a.HandleError(ctx, err, "")
			}
			defer lb.Close()

			if err := lb.GenerateKey(ctx); err != nil {
				return a.HandleError(ctx, err, lb.KeyPath())
			}
			fmt.Fprintf(a.out, "%s Master key written to %s\n", successMark(), lb.KeyPath())
			fmt.Fprintf(a.out, "%s Back it up: losing it makes the stored credentials unreadable\n", warnMark())
			return nil
		},
	}
}
