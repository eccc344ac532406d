package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/lockbox/internal/core"
	"github.com/illarion/lockbox/internal/fault"
)

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show key, vault and sealed-file status",
		Long:  "Shows installation state and the files currently sealed. Does not require a login.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			lb, err := a.open(ctx)
			if err != nil {
				return a.HandleError(ctx, err, "")
			}
			defer lb.Close()

			status, err := lb.Status(ctx)
			if err != nil {
				return a.HandleError(ctx, err, lb.KeyPath())
			}
			a.printStatus(status)
			return nil
		},
	}
}

func (a *app) printStatus(s *core.StatusInfo) {
	fmt.Fprintf(a.out, "Directory:  %s\n", s.Dir)

	if s.KeyErr == nil {
		fmt.Fprintf(a.out, "Key:        %s %s\n", successMark(), s.KeyPath)
	} else {
		fmt.Fprintf(a.out, "Key:        %s %s\n", errorMark(), fault.Message(fault.KindOf(s.KeyErr), s.KeyPath))
	}

	if s.VaultInitialized {
		fmt.Fprintln(a.out, "Vault:      credentials stored")
	} else {
		fmt.Fprintln(a.out, "Vault:      empty (first login stores credentials)")
	}

	if s.KeyringStored {
		fmt.Fprintln(a.out, "Passphrase: stored in keyring")
	} else {
		fmt.Fprintln(a.out, "Passphrase: not stored")
	}

	fmt.Fprintf(a.out, "Cipher:     %s (t=%d, m=%d KiB, p=%d, chunk %s)\n",
		s.Algorithm, s.Params.Time, s.Params.Memory, s.Params.Threads, formatSize(int64(s.Params.ChunkSize)))

	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "Sealed files:")
	if len(s.Files) == 0 {
		fmt.Fprintln(a.out, "  (none)")
		return
	}
	for _, f := range s.Files {
		mark := successMark()
		if f.Status != core.FileSealed {
			mark = warnMark()
		}
		fmt.Fprintf(a.out, "  %s %s (%s, %s, sealed %s)\n",
			mark, f.Path, f.Status, formatSize(f.Size), f.SealedAt.Format(time.RFC3339))
	}

	fmt.Fprintf(a.out, "\n%d sealed (%s), %d missing, %d changed",
		s.SealedCount, formatSize(s.TotalSize), s.MissingCount, s.ChangedCount)
	if !s.LastModified.IsZero() {
		fmt.Fprintf(a.out, "; index updated %s", s.LastModified.Format(time.RFC3339))
	}
	fmt.Fprintln(a.out)
}
