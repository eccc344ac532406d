package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/lockbox/internal/core"
)

var errSomeFilesFailed = errors.New("some files failed")

func (a *app) encryptCommand() *cobra.Command {
	return a.fileCommand(core.OpEncrypt, "encrypt <path>...", "Encrypt files in place", "encrypted")
}

func (a *app) decryptCommand() *cobra.Command {
	return a.fileCommand(core.OpDecrypt, "decrypt <path>...", "Decrypt files in place", "decrypted")
}

// fileCommand logs in and runs op on every path through the background
// worker, reporting each completion as it arrives.
func (a *app) fileCommand(op core.Op, use, short, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

Requires a successful login. The file passphrase is taken from
LOCKBOX_PASSPHRASE, then the OS keyring, then a prompt. A file that fails
is left unchanged and the remaining files are still processed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			lb, err := a.open(ctx)
			if err != nil {
				return a.HandleError(ctx, err, "")
			}
			defer lb.Close()

			if err := a.login(ctx, lb); err != nil {
				return err
			}

			pending := make([]<-chan core.Completion, 0, len(args))
			for _, path := range args {
				pending = append(pending, lb.Submit(ctx, core.Request{Op: op, Path: path}))
			}

			failed := 0
			for _, ch := range pending {
				c := <-ch
				if c.Err != nil {
					failed++
					fmt.Fprintf(a.errOut, "%s %s: %s\n", errorMark(), c.Request.Path, message(c.Err, lb.KeyPath()))
					a.logger.Debug(ctx, "file operation failed", "path", c.Request.Path, "error", c.Err)
					continue
				}
				fmt.Fprintf(a.out, "%s %s %s (%s -> %s, %s)\n",
					successMark(), done, c.Result.Details.Path,
					formatSize(c.Result.Details.Size), formatSize(c.Result.OutputSize),
					c.Result.Elapsed.Round(time.Millisecond))
			}

			if failed > 0 {
				return &exitError{err: fmt.Errorf("%w: %d of %d", errSomeFilesFailed, failed, len(args))}
			}
			return nil
		},
	}
}
