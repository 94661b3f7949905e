package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/winton/unstorage/internal/store"
)

func NewRemoveCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <key>",
		Aliases: []string{"delete"},
		Short:   "Remove a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			return opts.withStorage(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, s *store.Storage) error {
				if err := s.Remove(ctx, key); err != nil {
					return fmt.Errorf("failed to remove key: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Successfully removed %q\n", key)
				return nil
			})
		},
	}
}

func NewHasCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "has <key>",
		Short: "Report whether a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStorage(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, s *store.Storage) error {
				found, err := s.Has(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to check key: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), found)
				return nil
			})
		},
	}
}
