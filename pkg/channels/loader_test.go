package channels

import (
	"errors"
	"testing"

	"deskpilot/pkg/api"
	"deskpilot/pkg/config"
	"deskpilot/pkg/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type stubFactory struct {
	channel api.Channel
	err     error
}

func (f stubFactory) Create(config.ChannelsConfig, *zap.Logger) (api.Channel, error) {
	return f.channel, f.err
}

// withRegistry swaps the global registry for the duration of a test.
func withRegistry(t *testing.T, factories map[string]ChannelFactory) {
	t.Helper()
	registryMu.Lock()
	saved := channelRegistry
	channelRegistry = factories
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		channelRegistry = saved
		registryMu.Unlock()
	})
}

func TestLoadFromConfig(t *testing.T) {
	web := &mocks.MockChannel{Name: "web"}
	withRegistry(t, map[string]ChannelFactory{
		"web":      stubFactory{channel: web},
		"telegram": stubFactory{},
	})

	loaded, err := LoadFromConfig(config.ChannelsConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []api.Channel{web}, loaded)
	assert.Equal(t, []string{"telegram", "web"}, Names())
}

func TestLoadFromConfig_NothingEnabled(t *testing.T) {
	withRegistry(t, map[string]ChannelFactory{"web": stubFactory{}})

	_, err := LoadFromConfig(config.ChannelsConfig{}, zaptest.NewLogger(t))
	assert.EqualError(t, err, "no channel is enabled")
}

func TestLoadFromConfig_FailureStopsLoaded(t *testing.T) {
	web := &mocks.MockChannel{Name: "web"}
	web.On("Stop").Return(nil)
	withRegistry(t, map[string]ChannelFactory{
		"a-broken": stubFactory{err: errors.New("missing telegram token")},
		"web":      stubFactory{channel: web},
	})

	_, err := LoadFromConfig(config.ChannelsConfig{}, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "channel a-broken: missing telegram token")
	web.AssertCalled(t, "Stop")
}
