package channels

import (
	"errors"
	"fmt"

	"deskpilot/pkg/api"
	"deskpilot/pkg/config"

	"go.uber.org/zap"
)

// LoadFromConfig acts as the central orchestration point for dynamic
// channel initialization. It asks every registered factory for its channel
// and returns the enabled ones. Creation failures are collected so one
// misconfigured platform does not hide the others' errors.
func LoadFromConfig(cfg config.ChannelsConfig, logger *zap.Logger) ([]api.Channel, error) {
	var (
		loaded []api.Channel
		errs   []error
	)
	for _, name := range Names() {
		factory, _ := GetChannelFactory(name)
		channel, err := factory.Create(cfg, logger)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", name, err))
			continue
		}

		// A nil channel means the platform is disabled.
		if channel == nil {
			logger.Debug("Channel disabled", zap.String("name", name))
			continue
		}

		loaded = append(loaded, channel)
		logger.Info("Channel loaded", zap.String("name", name))
	}
	if err := errors.Join(errs...); err != nil {
		for _, c := range loaded {
			_ = c.Stop()
		}
		return nil, err
	}
	if len(loaded) == 0 {
		return nil, errors.New("no channel is enabled")
	}
	return loaded, nil
}
