package llm

import (
	"sort"
	"sync"

	"deskpilot/pkg/config"

	"go.uber.org/zap"
)

// ProviderFactory builds one atomic client per (API key, model) pair of a
// provider group.
type ProviderFactory interface {
	Create(group config.ProviderConfig, logger *zap.Logger) ([]Client, error)
}

// ProviderFactoryFunc adapts a function to ProviderFactory.
type ProviderFactoryFunc func(group config.ProviderConfig, logger *zap.Logger) ([]Client, error)

func (f ProviderFactoryFunc) Create(group config.ProviderConfig, logger *zap.Logger) ([]Client, error) {
	return f(group, logger)
}

var (
	registryMu       sync.RWMutex
	providerRegistry = make(map[string]ProviderFactory)
)

// RegisterProvider makes a provider available by name. Adapters call it
// from init.
func RegisterProvider(name string, factory ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	providerRegistry[name] = factory
}

func GetProviderFactory(name string) (ProviderFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := providerRegistry[name]
	return f, ok
}

// Providers lists the registered provider names.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExpandKeys returns the API keys of group, or a single empty key for
// providers that need none.
func ExpandKeys(group config.ProviderConfig) []string {
	if len(group.APIKeys) == 0 {
		return []string{""}
	}
	return group.APIKeys
}
