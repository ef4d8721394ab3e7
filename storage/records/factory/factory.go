package factory

import (
	"fmt"
	"sync"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/storage/records"
	"github.com/indieinfra/mediavault/storage/records/memory"
	"github.com/indieinfra/mediavault/storage/records/sqlstore"
)

// Factory builds a record store for the provided records config.
type Factory func(*config.Records) (records.Store, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register adds or replaces a record store factory for the given driver name.
func Register(driver string, factory Factory) {
	mu.Lock()
	registry[driver] = factory
	mu.Unlock()
}

// Get retrieves a factory for the given driver.
func Get(driver string) (Factory, bool) {
	mu.RLock()
	f, ok := registry[driver]
	mu.RUnlock()
	return f, ok
}

// Create builds a record store using the registered factory for the configured driver.
func Create(cfg *config.Records) (records.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("records config is nil")
	}

	if f, ok := Get(cfg.Driver); ok {
		return f(cfg)
	}

	return nil, fmt.Errorf("unknown records driver %q", cfg.Driver)
}

func init() {
	Register("memory", func(cfg *config.Records) (records.Store, error) {
		return memory.NewStore(), nil
	})

	sqlFactory := func(cfg *config.Records) (records.Store, error) {
		return sqlstore.NewStore(cfg)
	}
	for _, driver := range []string{"postgres", "pgx", "mysql", "sqlite"} {
		Register(driver, sqlFactory)
	}
}
