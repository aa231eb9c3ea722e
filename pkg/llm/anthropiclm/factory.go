package anthropiclm

import (
	"errors"

	"deskpilot/pkg/config"
	"deskpilot/pkg/llm"

	"go.uber.org/zap"
)

type Factory struct{}

func (f *Factory) Create(group config.ProviderConfig, logger *zap.Logger) ([]llm.Client, error) {
	if len(group.APIKeys) == 0 {
		return nil, errors.New("anthropic requires an api key")
	}
	var clients []llm.Client
	for _, key := range group.APIKeys {
		for _, model := range group.Models {
			clients = append(clients, NewClient(key, model, group.BaseURL, group.Options, logger))
		}
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("anthropic", &Factory{})
}
