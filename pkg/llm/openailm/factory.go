package openailm

import (
	"deskpilot/pkg/config"
	"deskpilot/pkg/llm"

	"go.uber.org/zap"
)

// Factory creates one client per (key, model) pair.
type Factory struct{}

func (f *Factory) Create(group config.ProviderConfig, logger *zap.Logger) ([]llm.Client, error) {
	var clients []llm.Client
	for _, key := range llm.ExpandKeys(group) {
		for _, model := range group.Models {
			clients = append(clients, NewClient(key, model, group.BaseURL, group.Options, logger))
		}
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("openai", &Factory{})
}
