package telegram

import (
	"errors"

	"deskpilot/pkg/api"
	"deskpilot/pkg/channels"
	"deskpilot/pkg/config"

	"go.uber.org/zap"
)

// TelegramFactory builds the Telegram channel.
type TelegramFactory struct{}

// Create implements ChannelFactory.
func (f *TelegramFactory) Create(cfg config.ChannelsConfig, logger *zap.Logger) (api.Channel, error) {
	if !cfg.Telegram.Enabled {
		return nil, nil
	}
	if cfg.Telegram.Token == "" {
		return nil, errors.New("missing telegram token")
	}
	ch, err := NewTelegramChannel(cfg.Telegram, logger)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func init() {
	channels.RegisterChannel("telegram", &TelegramFactory{})
}
