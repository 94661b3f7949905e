package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the storagectl command tree
func NewRootCmd() *cobra.Command {
	opts := &Options{}
	rootCmd := &cobra.Command{
		Use:          "storagectl",
		Short:        "storagectl reads and writes keys in any supported storage backend",
		Long:         "storagectl is a command-line interface for managing keys in memory, fs, bolt, leveldb, redis, valkey, etcd, mongodb and http storage.",
		SilenceUsage: true,
	}
	opts.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(NewGetCmd(opts))
	rootCmd.AddCommand(NewSetCmd(opts))
	rootCmd.AddCommand(NewRemoveCmd(opts))
	rootCmd.AddCommand(NewHasCmd(opts))
	rootCmd.AddCommand(NewKeysCmd(opts))
	rootCmd.AddCommand(NewClearCmd(opts))
	rootCmd.AddCommand(NewDumpCmd(opts))
	rootCmd.AddCommand(NewRestoreCmd(opts))
	return rootCmd
}
