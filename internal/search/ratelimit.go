package search

import (
	"context"
	"sync"
	"time"
)

// tokenBucket is a simple process-global rate limiter protecting the VLM
// provider quota. Refill is computed lazily on take.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	perSecond  float64
	lastRefill time.Time
}

func newTokenBucket(perSecond float64) *tokenBucket {
	if perSecond <= 0 {
		perSecond = 4
	}
	return &tokenBucket{
		tokens:     perSecond,
		capacity:   perSecond,
		perSecond:  perSecond,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or the context is done.
func (b *tokenBucket) Wait(ctx context.Context) error {
	for {
		if d := b.take(); d <= 0 {
			return nil
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		}
	}
}

// take consumes a token if available, otherwise returns how long to wait.
func (b *tokenBucket) take() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.perSecond
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return 0
	}
	deficit := 1 - b.tokens
	return time.Duration(deficit / b.perSecond * float64(time.Second))
}
