package factory

import (
	"fmt"
	"sync"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/storage/objectstore"
	"github.com/indieinfra/mediavault/storage/objectstore/filesystem"
	"github.com/indieinfra/mediavault/storage/objectstore/memory"
	"github.com/indieinfra/mediavault/storage/objectstore/s3"
	storageutil "github.com/indieinfra/mediavault/storage/util"
)

// Factory builds an object store for the provided media config.
type Factory func(*config.Media) (objectstore.Store, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register adds or replaces an object store factory for the given strategy name.
func Register(strategy string, factory Factory) {
	mu.Lock()
	registry[strategy] = factory
	mu.Unlock()
}

// Get retrieves a factory for the given strategy.
func Get(strategy string) (Factory, bool) {
	mu.RLock()
	f, ok := registry[strategy]
	mu.RUnlock()
	return f, ok
}

// Create builds an object store using the registered factory for the configured strategy.
func Create(cfg *config.Media) (objectstore.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("media config is nil")
	}

	if f, ok := Get(cfg.Strategy); ok {
		return f(cfg)
	}

	return nil, fmt.Errorf("unknown media strategy %q", cfg.Strategy)
}

func init() {
	Register("memory", func(cfg *config.Media) (objectstore.Store, error) {
		var pattern *storageutil.PathPattern
		if cfg.PathPattern != "" {
			pattern = storageutil.NewPathPattern(cfg.PathPattern)
		}
		return memory.NewStore(cfg.PublicUrl, pattern), nil
	})
	Register("s3", func(cfg *config.Media) (objectstore.Store, error) {
		return s3.NewStore(cfg)
	})
	Register("filesystem", func(cfg *config.Media) (objectstore.Store, error) {
		return filesystem.NewStore(cfg)
	})
}
