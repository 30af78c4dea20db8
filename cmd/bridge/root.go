package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/wippyai/wasm-bridge/bridge"
	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/host"
	"github.com/wippyai/wasm-bridge/loader"
	"github.com/wippyai/wasm-bridge/mailbox"
	"github.com/wippyai/wasm-bridge/server"
)

// version is set via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "wasm-bridge",
		Short:         "Ordered message bridge to wasm modules",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (TOML, YAML or JSON)")
	config.AddFlags(root.PersistentFlags())

	setup := func(cmd *cobra.Command, quiet bool) (*environment, error) {
		return newEnvironment(cmd.Context(), cmd, cfgFile, quiet)
	}

	root.AddCommand(
		newServeCmd(setup),
		newSendCmd(setup),
		newInteractiveCmd(setup),
	)
	return root
}

type setupFunc func(cmd *cobra.Command, quiet bool) (*environment, error)

// environment is the configured host and logger shared by every command.
type environment struct {
	cfg    *config.Config
	host   *host.Host
	logger *zap.Logger
}

func newEnvironment(ctx context.Context, cmd *cobra.Command, cfgFile string, quiet bool) (*environment, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if !quiet {
		if logger, err = cfg.Log.NewLogger(); err != nil {
			return nil, err
		}
	}
	setLoggers(logger)

	h, err := host.New(ctx, cfg.HostOptions(), host.DirSource(cfg.Module.Dir), host.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return &environment{cfg: cfg, host: h, logger: logger}, nil
}

func (e *environment) newBridge(opts ...bridge.Option) *bridge.Bridge {
	opts = append([]bridge.Option{bridge.WithLogger(e.logger)}, opts...)
	return bridge.New(e.host, e.cfg.Module.ID, opts...)
}

func (e *environment) close() {
	_ = e.host.Close(context.Background())
	_ = e.logger.Sync()
}

func setLoggers(l *zap.Logger) {
	mailbox.SetLogger(l)
	loader.SetLogger(l)
	host.SetLogger(l)
	bridge.SetLogger(l)
	server.SetLogger(l)
}

// parsePayload parses a JSON object into an envelope payload. Empty input is
// an empty object.
func parsePayload(s string) (*structpb.Struct, error) {
	payload := &structpb.Struct{}
	if s == "" {
		return payload, nil
	}
	if err := protojson.Unmarshal([]byte(s), payload); err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidInput, err, "payload must be a JSON object")
	}
	return payload, nil
}
