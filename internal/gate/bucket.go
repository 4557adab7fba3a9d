package gate

import (
	"sync"
	"time"
)

// tokenBucket is one severity's rate-limiter state. Tokens refill
// continuously at refillPerSecond up to capacity; each admission consumes
// one. Refill-and-consume happens in a single critical section so
// concurrent producers cannot double-spend.
type tokenBucket struct {
	mu              sync.Mutex
	capacity        float64
	tokens          float64
	refillPerSecond float64
	lastRefill      time.Time

	now func() time.Time
}

func newTokenBucket(capacity, refillPerSecond float64) *tokenBucket {
	b := &tokenBucket{
		capacity:        capacity,
		tokens:          capacity,
		refillPerSecond: refillPerSecond,
		now:             time.Now,
	}
	b.lastRefill = b.now()
	return b
}

// take refills by elapsed time and consumes one token if available.
func (b *tokenBucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillPerSecond
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// available reports the current token count after a refill, without
// consuming. Used by the health surface.
func (b *tokenBucket) available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := b.now().Sub(b.lastRefill).Seconds()
	tokens := b.tokens + elapsed*b.refillPerSecond
	if tokens > b.capacity {
		tokens = b.capacity
	}
	return tokens
}
