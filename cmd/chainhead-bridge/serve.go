package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/chainhead-bridge/internal/server"
	"github.com/dgnsrekt/chainhead-bridge/internal/ws"
)

func serveCmd() *cobra.Command {
	var (
		listen    string
		network   string
		endpoint  string
		skipProbe bool
		noLegacy  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket bridge",
		Long: `Run the websocket bridge. Each client connection on /ws gets its own
upstream node connection; chainHead_v1 calls are served through the qpow
family when the node has it and from the legacy head subscriptions otherwise.

Examples:
  # Bridge the default network
  chainhead-bridge serve

  # Bridge a local node
  chainhead-bridge serve --network localhost --endpoint "Port 9944"

  # Bridge an arbitrary node url
  chainhead-bridge serve --endpoint ws://10.0.0.5:9944`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if cmd.Flags().Changed("listen") {
				cfg.Server.Listen = listen
			}
			if cmd.Flags().Changed("network") {
				cfg.Upstream.Network = network
			}
			if cmd.Flags().Changed("endpoint") {
				cfg.Upstream.Endpoint = endpoint
			}
			if skipProbe {
				cfg.Upstream.SkipProbe = true
			}
			if noLegacy {
				cfg.Upstream.LegacyHeads = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			catalog := cfg.Catalog()
			source, err := cfg.Source(catalog)
			if err != nil {
				return err
			}

			logger.Info("configuration loaded",
				zap.String("listen", cfg.Server.Listen),
				zap.String("network", source.ID),
				zap.String("endpoint", source.Endpoint),
				zap.Bool("legacyHeads", cfg.Upstream.LegacyHeads),
				zap.Bool("skipProbe", cfg.Upstream.SkipProbe),
				zap.Bool("allowCustomEndpoints", cfg.Upstream.AllowCustomEndpoints),
				zap.Duration("probeTimeout", cfg.Upstream.ProbeTimeout),
			)

			hub := ws.NewHub(logger)
			go hub.Run(ctx)

			bridge := ws.NewBridge(hub, catalog, ws.BridgeOptions{
				Upstream:       cfg.Upstream,
				ReadLimit:      cfg.Server.ReadLimit,
				RatePerSecond:  cfg.Server.RatePerSecond,
				AllowedOrigins: cfg.Server.AllowedOrigins,
			}, logger)

			prober, err := server.NewProber(func(url string) *ws.Upstream {
				return ws.NewUpstream(upstreamOptions(url), logger)
			}, cfg.Upstream.ProbeTimeout, time.Minute, logger)
			if err != nil {
				return err
			}
			defer prober.Close()

			srv := server.NewServer(hub, catalog, cfg.Upstream, prober, logger)
			router, err := server.NewRouter(srv, bridge, ws.NewNetworksHandler(catalog, logger), logger)
			if err != nil {
				return err
			}

			httpServer := &http.Server{
				Addr:              cfg.Server.Listen,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting server", zap.String("addr", httpServer.Addr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					logger.Error("server error", zap.Error(err))
					return err
				}
			case <-ctx.Done():
			}

			logger.Info("shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
				return err
			}

			select {
			case <-hub.Done():
			case <-shutdownCtx.Done():
			}
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen)")
	cmd.Flags().StringVar(&network, "network", "", "network id (overrides upstream.network)")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "endpoint label or ws:// url (overrides upstream.endpoint)")
	cmd.Flags().BoolVar(&skipProbe, "skip-probe", false, "assume the node lacks the qpow family")
	cmd.Flags().BoolVar(&noLegacy, "no-legacy-heads", false, "do not serve chainHead_v1 from legacy head subscriptions")

	return cmd
}

func upstreamOptions(url string) ws.UpstreamOptions {
	return ws.UpstreamOptions{
		URL:         url,
		DialTimeout: cfg.Upstream.DialTimeout,
		RetryCount:  cfg.Upstream.RetryCount,
		RetryDelay:  cfg.Upstream.RetryDelay,
		ReadLimit:   cfg.Server.ReadLimit,
	}
}
