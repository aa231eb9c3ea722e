package channels

import (
	"sort"
	"sync"

	"deskpilot/pkg/api"
	"deskpilot/pkg/config"

	"go.uber.org/zap"
)

// ChannelFactory defines the abstract interface for platform-specific
// channel creators. This allows the system to support new platforms
// (e.g., Line, Discord) without modifying the core gateway logic.
type ChannelFactory interface {
	// Create instantiates a concrete Channel from the channels section. It
	// returns a nil Channel when the platform is disabled.
	Create(cfg config.ChannelsConfig, logger *zap.Logger) (api.Channel, error)
}

var (
	registryMu sync.RWMutex
	// channelRegistry maps platform names (e.g., "telegram") to their
	// factory implementations.
	channelRegistry = make(map[string]ChannelFactory)
)

// RegisterChannel adds a new ChannelFactory to the global internal registry.
// This is typically called during the package's init() phase.
func RegisterChannel(name string, factory ChannelFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	channelRegistry[name] = factory
}

// GetChannelFactory retrieves a registered ChannelFactory by platform name.
func GetChannelFactory(name string) (ChannelFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := channelRegistry[name]
	return f, ok
}

// Names lists the registered platforms in a stable order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(channelRegistry))
	for name := range channelRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
