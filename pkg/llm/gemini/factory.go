package gemini

import (
	"context"
	"errors"

	"deskpilot/pkg/config"
	"deskpilot/pkg/llm"

	"go.uber.org/zap"
)

type GeminiFactory struct{}

// Create builds models x keys clients, models first.
func (f *GeminiFactory) Create(group config.ProviderConfig, logger *zap.Logger) ([]llm.Client, error) {
	if len(group.APIKeys) == 0 {
		return nil, errors.New("gemini requires an api key")
	}
	var clients []llm.Client
	for _, model := range group.Models {
		for _, key := range group.APIKeys {
			client, err := NewGeminiClient(context.Background(), key, model, group.BaseURL, group.Options, logger)
			if err != nil {
				logger.Warn("Skipping gemini client", zap.String("model", model), zap.Error(err))
				continue
			}
			clients = append(clients, client)
		}
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("gemini", &GeminiFactory{})
}
