package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/winton/unstorage/internal/codec"
	"github.com/winton/unstorage/internal/store"
)

func NewSetCmd(opts *Options) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:     "set <key> <value>",
		Aliases: []string{"put"},
		Short:   "Set a key-value pair",
		Long: `Set stores value as JSON when it parses as JSON and as a JSON string otherwise.
Keys ending in ".bin" only hold raw bytes, which --raw stores as-is.
A value of "-" is read from stdin.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			input := []byte(args[1])
			if args[1] == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				input = b
			}

			var value any = string(input)
			if raw || codec.TagOf(key) == codec.TagRaw {
				value = input
			} else if json.Valid(input) {
				if err := json.Unmarshal(input, &value); err != nil {
					return fmt.Errorf("failed to parse value: %w", err)
				}
			}

			return opts.withStorage(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, s *store.Storage) error {
				if err := s.Set(ctx, key, value); err != nil {
					return fmt.Errorf("failed to set key: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Successfully set %q\n", key)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Store the value as raw bytes under a .bin key")
	return cmd
}
