// Package lock serializes work on a single entity, either within one process
// or across instances sharing a Redis server.
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/indieinfra/mediavault/config"
)

// Locker grants exclusive access to a key until the returned unlock func is
// called. Lock blocks until the key is free or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// New builds the locker selected by cfg.
func New(cfg *config.Lock) (Locker, error) {
	if cfg == nil {
		return NewLocal(), nil
	}

	switch cfg.Strategy {
	case "", "local":
		return NewLocal(), nil
	case "redis":
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis lock config is nil")
		}
		return NewRedis(cfg.Redis.URL, cfg.Redis.Prefix, cfg.Redis.TTL)
	default:
		return nil, fmt.Errorf("unknown lock strategy %q", cfg.Strategy)
	}
}

// Local is an in-process keyed mutex. Entries are dropped once no caller
// holds or waits on them.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
	}, nil
}

func (l *Local) release(key string, s *slot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}
