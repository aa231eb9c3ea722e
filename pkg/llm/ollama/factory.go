package ollama

import (
	"deskpilot/pkg/config"
	"deskpilot/pkg/llm"

	"go.uber.org/zap"
)

type OllamaFactory struct{}

// Create ignores API keys; one client per model.
func (f *OllamaFactory) Create(group config.ProviderConfig, logger *zap.Logger) ([]llm.Client, error) {
	var clients []llm.Client
	for _, model := range group.Models {
		client, err := NewOllamaClient(model, group.BaseURL, group.Options, logger)
		if err != nil {
			logger.Warn("Failed to create ollama client", zap.String("model", model), zap.Error(err))
			continue
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("ollama", &OllamaFactory{})
}
