package llm

import (
	"fmt"

	"deskpilot/pkg/config"

	"go.uber.org/zap"
)

// NewFromConfig builds the completion client described by cfg. Several atomic
// clients, or a retry budget above one, yield a FallbackClient. A debug dir
// wraps the result in a Recorder.
func NewFromConfig(cfg config.LLMConfig, logger *zap.Logger) (Client, error) {
	logger = logger.Named("llm")

	var clients []Client
	for _, group := range cfg.ProviderGroups() {
		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			logger.Warn("Unknown provider type", zap.String("type", group.Type), zap.Strings("known", Providers()))
			continue
		}

		created, err := factory.Create(group, logger)
		if err != nil {
			logger.Warn("Failed to create provider clients", zap.String("type", group.Type), zap.Error(err))
			continue
		}
		logger.Debug("Loaded provider group", zap.String("type", group.Type), zap.Int("clients", len(created)))
		clients = append(clients, created...)
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("no LLM clients could be initialized")
	}

	var client Client
	if len(clients) == 1 && cfg.MaxRetries <= 1 {
		client = clients[0]
	} else {
		client = &FallbackClient{
			Clients:    clients,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			Logger:     logger,
		}
	}

	if cfg.DebugDir != "" {
		rec, err := NewRecorder(client, cfg.DebugDir, logger)
		if err != nil {
			logger.Warn("Debug recorder disabled", zap.Error(err))
		} else {
			client = rec
		}
	}

	logger.Info("LLM client ready", zap.String("provider", client.Provider()), zap.Int("atomic_clients", len(clients)))
	return client, nil
}
