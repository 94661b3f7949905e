package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/winton/unstorage/internal/store"
)

func NewGetCmd(opts *Options) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a value by key",
		Long:  "Get prints JSON values as JSON. Keys ending in .bin, or any key with --raw, are written as raw bytes.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			return opts.withStorage(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, s *store.Storage) error {
				var (
					value any
					err   error
				)
				if raw {
					value, err = s.GetRaw(ctx, key)
				} else {
					value, err = s.Load(ctx, key)
				}
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("key %q not found", key)
				}
				if err != nil {
					return fmt.Errorf("failed to get key %q: %w", key, err)
				}

				out := cmd.OutOrStdout()
				if b, ok := value.([]byte); ok {
					_, err = out.Write(b)
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(value)
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Write the stored bytes without decoding")
	return cmd
}
