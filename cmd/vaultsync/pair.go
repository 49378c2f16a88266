package main

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/Synaptikal/VaultSync-sub001/internal/client"
	"github.com/Synaptikal/VaultSync-sub001/internal/model"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPairCommand(opts *rootOptions) *cobra.Command {
	var (
		name   string
		nodeID string
	)

	cmd := &cobra.Command{
		Use:   "pair <host:port>",
		Short: "Add a peer to a running node by address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, portStr, err := net.SplitHostPort(args[0])
			if err != nil {
				return fmt.Errorf("invalid peer address %q: %w", args[0], err)
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return fmt.Errorf("invalid peer port %q", portStr)
			}

			ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
			defer cancel()

			c := client.NewSyncClient("cli", cliTimeout, cliTimeout, zap.NewNop())
			device, err := c.Pair(ctx, opts.addr, model.PairRequest{
				Name:    name,
				Address: host,
				Port:    port,
				NodeID:  nodeID,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "paired %s (%s) status=%s\n", device.Name, device.Endpoint(), device.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name of the peer")
	cmd.Flags().StringVar(&nodeID, "node-id", "", "node id of the peer, if known")
	return cmd
}
