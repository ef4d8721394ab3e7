package lock

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL       = 30 * time.Second
	defaultPrefix    = "mediavault:lock:"
	retryInterval    = 50 * time.Millisecond
	releaseTimeout   = 2 * time.Second
	connectTimeout   = 2 * time.Second
	releaseIfOwnerJS = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`
	renewIfOwnerJS   = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) end return 0`
)

// Redis holds locks as keys set with NX and a TTL. The value is a per-holder
// token so a holder whose lease expired cannot release someone else's lock.
// While a lock is held its lease is extended every third of the TTL, so the
// TTL only bounds how long a crashed holder blocks others.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(url, prefix string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return newRedisWithClient(client, prefix, ttl), nil
}

func newRedisWithClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.renew(k, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()

			if err := r.client.Eval(ctx, releaseIfOwnerJS, []string{k}, token).Err(); err != nil {
				log.Printf("failed to release lock %s: %v", key, err)
			}
		})
	}, nil
}

// renew extends the lease until stop is closed or the lease is found to
// belong to someone else.
func (r *Redis) renew(k, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		n, err := r.client.Eval(ctx, renewIfOwnerJS, []string{k}, token, r.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			log.Printf("failed to renew lock %s: %v", k, err)
			continue
		}
		if n == 0 {
			log.Printf("lock %s lost before release", k)
			return
		}
	}
}

// Close shuts down the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
