package factory

import (
	"fmt"
	"sync"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/storage/scan"
	"github.com/indieinfra/mediavault/storage/scan/d1"
	"github.com/indieinfra/mediavault/storage/scan/filesystem"
	"github.com/indieinfra/mediavault/storage/scan/gitscan"
	"github.com/indieinfra/mediavault/storage/scan/sqlscan"
)

// Factory builds a content scanner for the provided scan config.
type Factory func(*config.Scan) (scan.Scanner, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register adds or replaces a scanner factory for the given strategy name.
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

// Create builds a scanner using the registered factory for the configured strategy.
func Create(cfg *config.Scan) (scan.Scanner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("scan config is nil")
	}

	if f, ok := Get(cfg.Strategy); ok {
		return f(cfg)
	}

	return nil, fmt.Errorf("unknown scan strategy %q", cfg.Strategy)
}

func init() {
	Register("none", func(*config.Scan) (scan.Scanner, error) {
		return scan.None{}, nil
	})
	Register("sql", func(cfg *config.Scan) (scan.Scanner, error) {
		return sqlscan.NewScanner(cfg.SQL)
	})
	Register("d1", func(cfg *config.Scan) (scan.Scanner, error) {
		return d1.NewScanner(cfg.D1)
	})
	Register("git", func(cfg *config.Scan) (scan.Scanner, error) {
		return gitscan.NewScanner(cfg.Git)
	})
	Register("filesystem", func(cfg *config.Scan) (scan.Scanner, error) {
		return filesystem.NewScanner(cfg.Filesystem)
	})
}
