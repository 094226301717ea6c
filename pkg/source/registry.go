package source

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/lakelift/lakelift/pkg/config"
	"github.com/lakelift/lakelift/pkg/errors"
	"github.com/lakelift/lakelift/pkg/logger"
)

// Factory creates a connector instance from its datasource settings
type Factory func(cfg *config.DatasourceConfig) (Source, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

// Register registers a connector factory under a type name. Called from
// connector package init functions.
func Register(typeName string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := factories[typeName]; exists {
		logger.Warn("source connector already registered", zap.String("type", typeName))
		return
	}
	factories[typeName] = factory
}

// Create instantiates a connector for the given datasource settings
func Create(cfg *config.DatasourceConfig) (Source, error) {
	registryMu.RLock()
	factory, ok := factories[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "no source connector registered for type %q", cfg.Type)
	}
	return factory(cfg)
}

// List returns the registered connector type names, sorted
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
