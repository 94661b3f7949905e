package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/winton/unstorage/internal/store"
)

func NewKeysCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "keys [prefix]",
		Short: "List keys, sorted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}

			return opts.withStorage(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, s *store.Storage) error {
				keys, err := s.Keys(ctx, prefix)
				if err != nil {
					return fmt.Errorf("failed to list keys: %w", err)
				}
				sort.Strings(keys)
				for _, key := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), key)
				}
				return nil
			})
		},
	}
}

func NewClearCmd(opts *Options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear [prefix]",
		Short: "Remove every key under a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			if prefix == "" && !yes {
				return fmt.Errorf("refusing to clear every key without --yes")
			}

			return opts.withStorage(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, s *store.Storage) error {
				if err := s.Clear(ctx, prefix); err != nil {
					return fmt.Errorf("failed to clear keys: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Successfully cleared %q\n", prefix)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Allow clearing with an empty prefix")
	return cmd
}
