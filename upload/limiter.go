package upload

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const limiterBuckets = 4096

// Limiter throttles uploads per uploader with a token bucket. The least
// recently seen uploaders are evicted once the bucket table is full.
type Limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
}

// NewLimiter returns nil when perMinute is not positive; a nil Limiter
// allows everything.
func NewLimiter(perMinute, burst int) *Limiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perMinute
	}

	// lru.New only errors on non-positive size.
	buckets, _ := lru.New[string, *rate.Limiter](limiterBuckets)

	return &Limiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		buckets: buckets,
	}
}

func (l *Limiter) Allow(uploader string) bool {
	if l == nil {
		return true
	}
	if uploader == "" {
		uploader = "anonymous"
	}

	l.mu.Lock()
	limiter, ok := l.buckets.Get(uploader)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.buckets.Add(uploader, limiter)
	}
	l.mu.Unlock()

	return limiter.Allow()
}
