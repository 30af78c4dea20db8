package main

import (
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/server"
)

func newServeCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the module over newline-delimited JSON connections",
		Long: `serve listens on server.address and gives every connection its own
bridge to the module. Peers write one {"type": ..., "data": {...}} object per
line and receive every message the module posts back as one line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer env.close()

			cfg := env.cfg.Server
			l, err := net.Listen(cfg.Network, cfg.Address)
			if err != nil {
				return errors.IO(errors.PhaseAccept, "listen on "+cfg.Address, err)
			}

			handler := server.NewBridgeHandler(env.host, env.cfg.Module.ID,
				server.WithLinger(cfg.Linger),
				server.WithHandlerLogger(env.logger))
			srv := server.New(l, handler,
				server.WithWorkers(cfg.Workers),
				server.WithLogger(env.logger))

			env.logger.Info("serving module",
				zap.String("module", env.cfg.Module.ID),
				zap.String("dir", env.cfg.Module.Dir))
			return srv.Run(cmd.Context())
		},
	}
}
