package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/illarion/lockbox/internal/storage"
)

func (a *app) compactCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Compact the sealed-file index",
		Long:  "Rewrites the index database to reclaim unused space. Does not require a login.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			lb, err := a.open(ctx)
			if err != nil {
				return a.HandleError(ctx, err, "")
			}
			defer lb.Close()

			indexPath := filepath.Join(lb.Dir(), storage.FileName)

			// Get file size before
			info, err := os.Stat(indexPath)
			if err != nil {
				return err
			}
			sizeBefore := info.Size()

			if err := lb.Compact(ctx); err != nil {
				return err
			}

			// Get file size after
			info, err = os.Stat(indexPath)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "Compacted: %s -> %s\n", formatSize(sizeBefore), formatSize(info.Size()))
			return nil
		},
	}
}
