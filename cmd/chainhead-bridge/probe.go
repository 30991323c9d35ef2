package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/chainhead-bridge/internal/config"
	"github.com/dgnsrekt/chainhead-bridge/internal/provider"
	"github.com/dgnsrekt/chainhead-bridge/internal/ws"
)

func probeCmd() *cobra.Command {
	var network string

	cmd := &cobra.Command{
		Use:   "probe [ENDPOINT]",
		Short: "Check whether a node serves the qpow chain-head family",
		Long: `Ask a node for its method list and report whether it serves the qpow
chain-head family. ENDPOINT is a label of the network or a ws:// url; without
it the configured upstream is probed.

Examples:
  chainhead-bridge probe
  chainhead-bridge probe --network localhost "Port 9944"
  chainhead-bridge probe wss://a.t.res.fm`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			endpoint := cfg.Upstream.Endpoint
			if len(args) == 1 {
				endpoint = args[0]
			}
			if !cmd.Flags().Changed("network") {
				network = cfg.Upstream.Network
			}

			source, err := config.ResolveSource(cfg.Catalog(), network, endpoint, false, true)
			if err != nil {
				return err
			}

			loop := provider.NewLoop(logger)
			go loop.Run(ctx)
			defer loop.Stop()

			up := ws.NewUpstream(upstreamOptions(source.Endpoint), logger)
			c, err := provider.DetectCapability(ctx, up.Provider(ctx, loop, nil), loop, cfg.Upstream.ProbeTimeout)
			if err != nil {
				return fmt.Errorf("probing %s: %w", source.Endpoint, err)
			}

			logger.Debug("probe finished", zap.String("endpoint", source.Endpoint), zap.Stringer("capability", c))
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", source.Endpoint, c)
			return nil
		},
	}

	cmd.Flags().StringVar(&network, "network", "", "network id the endpoint label belongs to")

	return cmd
}
