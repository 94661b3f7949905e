package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/winton/unstorage/internal/store"
)

func NewDumpCmd(opts *Options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "dump [prefix]",
		Short: "Write keys and raw values as a JSON object",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			return opts.withStorage(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, s *store.Storage) error {
				n, err := store.Dump(ctx, s.Driver(), prefix, w)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Dumped %d keys\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func NewRestoreCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "restore [file]",
		Short: "Load a dump, overwriting existing keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[0], err)
				}
				defer f.Close()
				r = f
			}

			return opts.withStorage(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, s *store.Storage) error {
				n, err := store.Restore(ctx, s.Driver(), r)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored %d keys\n", n)
				return nil
			})
		},
	}
}
