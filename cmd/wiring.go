package cmd

import (
	"io"

	"deskpilot/pkg/agent"
	"deskpilot/pkg/config"
	"deskpilot/pkg/llm"
	"deskpilot/pkg/monitor"
	"deskpilot/pkg/sandbox"

	"go.uber.org/zap"

	_ "deskpilot/pkg/llm/autoload"     // registers LLM providers
	_ "deskpilot/pkg/sandbox/autoload" // registers sandbox backends
)

// Swapped in tests.
var (
	newLLMClient       = llm.NewFromConfig
	newSandboxProvider = sandbox.NewFromConfig
)

// backends holds the completion client and sandbox provider shared by
// every agent of one process.
type backends struct {
	client   llm.Client
	provider sandbox.Provider
}

func newBackends(cfg *config.Config, logger *zap.Logger) (*backends, error) {
	client, err := newLLMClient(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	provider, err := newSandboxProvider(cfg.Sandbox, logger)
	if err != nil {
		closeClient(client)
		return nil, err
	}
	logger.Info("Backends ready",
		zap.String("llm", client.Provider()),
		zap.String("sandbox", provider.Name()))
	return &backends{client: client, provider: provider}, nil
}

func (b *backends) Close() {
	closeClient(b.client)
}

// closeClient closes the debug recorder, if the client is one.
func closeClient(client llm.Client) {
	if c, ok := client.(io.Closer); ok {
		_ = c.Close()
	}
}

func agentOptions(cfg *config.Config, mon monitor.Monitor, label string) agent.Options {
	return agent.Options{
		SystemPrompt:   cfg.Agent.SystemPrompt,
		MaxTokens:      cfg.LLM.MaxTokens,
		MaxRoundTrips:  cfg.Agent.MaxRoundTrips,
		ScreenshotWait: cfg.Sandbox.ScreenshotWait,
		LaunchWait:     cfg.Sandbox.LaunchWait,
		Monitor:        mon,
		Label:          label,
	}
}

func (b *backends) newAgent(cfg *config.Config, mon monitor.Monitor, label string, logger *zap.Logger) *agent.Agent {
	return agent.New(agentOptions(cfg, mon, label), b.client, b.provider, logger)
}
