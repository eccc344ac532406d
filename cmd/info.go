package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <path>...",
		Short: "Show file details",
		Long:  "Shows name, extension, size and whether the file is sealed, with the index record for sealed files. Does not require a login.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			lb, err := a.open(ctx)
			if err != nil {
				return a.HandleError(ctx, err, "")
			}
			defer lb.Close()

			var firstErr error
			for i, path := range args {
				d, err := lb.Inspect(path)
				if err != nil {
					fmt.Fprintf(a.errOut, "%s %s: %s\n", errorMark(), path, message(err, lb.KeyPath()))
					if firstErr == nil {
						firstErr = err
					}
					continue
				}

				if i > 0 {
					fmt.Fprintln(a.out)
				}
				ext := d.Extension
				if ext == "" {
					ext = "(none)"
				}
				state := "plain"
				if d.Sealed {
					state = "sealed"
				}
				fmt.Fprintf(a.out, "Name:      %s\n", d.Name)
				fmt.Fprintf(a.out, "Path:      %s\n", d.Path)
				fmt.Fprintf(a.out, "Extension: %s\n", ext)
				fmt.Fprintf(a.out, "Size:      %s (%d bytes, %s)\n", d.HumanSize, d.Size, d.SizeClass)
				fmt.Fprintf(a.out, "State:     %s\n", state)
				if !d.Sealed {
					continue
				}
				if entry, err := lb.IndexEntry(d.Path); err == nil {
					fmt.Fprintf(a.out, "Sealed at: %s\n", entry.SealedAt.Local().Format(time.RFC3339))
					fmt.Fprintf(a.out, "Original:  %s\n", formatSize(entry.Size))
				}
			}

			if firstErr != nil {
				return &exitError{err: firstErr}
			}
			return nil
		},
	}
}
