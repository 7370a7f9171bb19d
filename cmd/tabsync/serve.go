package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tabsync"
	"pkt.systems/tabsync/httpapi"
	"pkt.systems/tabsync/internal/appconfig"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tabsync server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if err := ensureRoots(cfg.Workspaces.Roots); err != nil {
				return err
			}

			serverCfg := tabsync.ServerConfig{
				Service: cfg.ServiceConfig(),
				HTTP:    toHTTPConfig(cfg.HTTP),
			}
			server, err := tabsync.New(serverCfg, tabsync.ServerDeps{Logger: logger})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "override http.addr")
	return cmd
}

func toHTTPConfig(cfg appconfig.HTTPConfig) httpapi.Config {
	return httpapi.Config{
		Addr:       cfg.Addr,
		BasePath:   cfg.BasePath,
		HubHistory: cfg.HubHistory,
	}
}

func ensureRoots(roots []string) error {
	for _, root := range roots {
		if root == "" {
			continue
		}
		if err := os.MkdirAll(root, 0o755); err != nil {
			return err
		}
	}
	return nil
}
