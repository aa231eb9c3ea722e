package web

import (
	"deskpilot/pkg/api"
	"deskpilot/pkg/channels"
	"deskpilot/pkg/config"

	"go.uber.org/zap"
)

// WebFactory builds the websocket channel.
type WebFactory struct{}

// Create implements ChannelFactory.
func (f *WebFactory) Create(cfg config.ChannelsConfig, logger *zap.Logger) (api.Channel, error) {
	if !cfg.Web.Enabled {
		return nil, nil
	}
	return NewWebChannel(cfg.Web, logger), nil
}

func init() {
	channels.RegisterChannel("web", &WebFactory{})
}
