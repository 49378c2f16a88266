package main

import (
	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	configPath string
	addr       string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "vaultsync",
		Short: "VaultSync - offline-first replicated store for card shop terminals",
		Long: `VaultSync keeps inventory, sales and customers consistent across the
terminals of one shop. Each terminal owns a local SQLite store and replicates
with its peers over HTTP.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (default ./config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.addr, "addr", "http://localhost:3000", "base URL of the node to talk to")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newPairCommand(opts))

	return cmd
}
