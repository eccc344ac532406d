package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/lockbox/internal/crypto"
)

func (a *app) keyringCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Manage the file passphrase in the OS keyring",
	}

	save := &cobra.Command{
		Use:   "save",
		Short: "Store the file passphrase in the OS keyring",
		Long: `Prompts for the file passphrase twice and stores it. Requires a login.

If files are already sealed, the passphrase must open them; otherwise
nothing is stored.`,
		Args:  cobra.NoArgs,
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

			pass, err := a.prompter.ReadPasswordConfirm("File passphrase: ", "Confirm passphrase: ")
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(pass)
			if len(pass) == 0 {
				return a.HandleError(ctx, errEmptyCredentials, lb.KeyPath())
			}

			if err := lb.SavePassphrase(ctx, pass); err != nil {
				return a.HandleError(ctx, err, lb.KeyPath())
			}
			fmt.Fprintf(a.out, "%s Passphrase saved to keyring\n", successMark())
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the file passphrase from the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			lb, err := a.open(ctx)
			if err != nil {
				return a.HandleError(ctx, err, "")
			}
			defer lb.Close()

			if !lb.HasStoredPassphrase() {
				fmt.Fprintln(a.out, "No passphrase stored in keyring")
				return nil
			}
			if err := lb.ForgetPassphrase(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s Passphrase removed from keyring\n", successMark())
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether a passphrase is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			lb, err := a.open(ctx)
			if err != nil {
				return a.HandleError(ctx, err, "")
			}
			defer lb.Close()

			if lb.HasStoredPassphrase() {
				fmt.Fprintln(a.out, "Passphrase: stored in keyring")
			} else {
				fmt.Fprintln(a.out, "Passphrase: not stored")
			}
			return nil
		},
	}

	cmd.AddCommand(save, del, status)
	return cmd
}
