// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/mattermost-telnet-bridge/pkg/bridge"
	"github.com/aiku/mattermost-telnet-bridge/pkg/config"
	"github.com/aiku/mattermost-telnet-bridge/pkg/connector"
	"github.com/aiku/mattermost-telnet-bridge/pkg/connector/matrixsink"
	"github.com/aiku/mattermost-telnet-bridge/pkg/telnet"
)

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bridge",
		Long: `Start the bridge with the given config file.

The bridge idles until someone sends the connect command in the watched
channel. Environment variables prefixed with ` + config.EnvPrefix + `_ override secrets
from the file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			log, err := cfg.Logger()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, *log)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("platform", cfg.Platform).
		Stringer("telnet", bridge.Endpoint{Host: cfg.Telnet.Host, Port: cfg.Telnet.Port}).
		Msg("Starting bridge")

	dialer := &telnet.Dialer{
		Timeout:      cfg.Telnet.DialTimeout,
		WriteTimeout: cfg.Telnet.WriteTimeout,
		Log:          log.With().Str("component", "telnet").Logger(),
	}
	br := bridge.New(dialer, cfg.BridgeOptions(), log)
	defer func() {
		if ok, msg := br.Disconnect(); ok {
			log.Info().Msg(msg)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	var admin *connector.AdminAPI
	switch cfg.Platform {
	case config.PlatformMattermost:
		mc := connector.NewMattermostConnector(cfg.Mattermost, br, log)
		defer mc.Stop()
		admin = connector.NewAdminAPI(cfg.AdminAPI, br, mc.Client, log)
		admin.Mount(mc.RegisterHandlers)
		if err := mc.Start(ctx); err != nil {
			return err
		}
	case config.PlatformMatrix:
		mx, err := matrixsink.New(cfg.Matrix, br, log)
		if err != nil {
			return err
		}
		admin = connector.NewAdminAPI(cfg.AdminAPI, br, mx, log)
		if err := mx.Start(ctx); err != nil {
			return err
		}
		g.Go(func() error { return mx.Run(gctx) })
	default:
		return fmt.Errorf("unknown platform %q", cfg.Platform)
	}
	g.Go(func() error { return admin.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		return nil
	})
	return g.Wait()
}
