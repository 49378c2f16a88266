package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Synaptikal/VaultSync-sub001/internal/client"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const cliTimeout = 10 * time.Second

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show replication status of a running node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
			defer cancel()

			c := client.NewSyncClient("cli", cliTimeout, cliTimeout, zap.NewNop())
			status, err := c.Status(ctx, opts.addr)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
