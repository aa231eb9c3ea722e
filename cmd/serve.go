package cmd

import (
	"context"
	"fmt"

	"deskpilot/pkg/api"
	"deskpilot/pkg/channels"
	"deskpilot/pkg/config"
	"deskpilot/pkg/gateway"
	"deskpilot/pkg/handler"
	"deskpilot/pkg/monitor"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "deskpilot/pkg/channels/autoload" // registers channels
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve agents over the enabled channels",
		Long: `Serve starts every enabled channel (websocket, Telegram) and runs one agent,
with its own sandbox, per conversation. Editing the config file applies new
agent settings to conversations started afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := a.cfg.ValidateChannels(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	b, err := newBackends(a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer b.Close()

	cli := monitor.NewCLIMonitor()
	// The gateway reports user and assistant turns; agents add the rest.
	agentMonitor := monitor.Filter(cli, monitor.TypeAction, monitor.TypeResult, monitor.TypeError)

	pool := gateway.NewAgentPool(a.assistantFactory(b, a.cfg, agentMonitor), a.logger)
	h := handler.New(pool, handler.Options{
		ThinkingDelay: a.cfg.Channels.ThinkingDelay,
		Timeout:       a.cfg.Channels.RequestTimeout,
	}, a.logger)

	chs, err := channels.LoadFromConfig(a.cfg.Channels, a.logger)
	if err != nil {
		return err
	}

	gw, err := gateway.NewGatewayBuilder(a.logger).
		WithMonitor(cli).
		WithChannel(chs...).
		WithHandler(h).
		Build(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("Serving", zap.Strings("channels", gw.ChannelIDs()))

	if file := a.v.ConfigFileUsed(); file != "" {
		go a.watchConfig(ctx, file, pool, b, agentMonitor)
	}

	<-ctx.Done()
	a.logger.Info("Received shutdown signal. Stopping services...")

	gw.StopAll()
	h.Close()

	cctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := pool.Close(cctx); err != nil {
		a.logger.Warn("Some sandboxes could not be terminated", zap.Error(err))
	}
	_ = cli.Stop()
	a.logger.Info("Bye!")
	return nil
}

func (a *app) assistantFactory(b *backends, cfg *config.Config, mon monitor.Monitor) gateway.AssistantFactory {
	return func(session api.SessionContext) api.Assistant {
		label := session.Key()
		return b.newAgent(cfg, mon, label, a.logger.With(zap.String("conversation", label)))
	}
}

// watchConfig re-reads the config file on change. New agent settings apply
// to conversations started afterwards; backends and channels need a restart.
func (a *app) watchConfig(ctx context.Context, file string, pool *gateway.AgentPool, b *backends, mon monitor.Monitor) {
	for range config.Watch(ctx, a.logger, file) {
		if err := a.v.ReadInConfig(); err != nil {
			a.logger.Warn("Failed to re-read config", zap.Error(err))
			continue
		}
		cfg, err := config.Load(a.v)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			a.logger.Warn("Ignoring invalid config change", zap.Error(err))
			continue
		}
		pool.SetFactory(a.assistantFactory(b, cfg, mon))
		a.logger.Info("Config reloaded", zap.String("file", file))
	}
}
