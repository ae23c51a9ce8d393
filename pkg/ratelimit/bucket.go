package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is a single token bucket, safe for concurrent use. The server
// dispatch hook uses one to bound aggregate request throughput.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	rate       float64 // tokens per second
	lastUpdate time.Time
}

// NewBucket creates a token bucket with the given rate (tokens/second)
// and burst (maximum tokens). A non-positive burst defaults to the
// rate. The bucket starts full.
func NewBucket(rate float64, burst int) *Bucket {
	maxTokens := float64(burst)
	if maxTokens <= 0 {
		maxTokens = rate
	}
	return &Bucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		rate:       rate,
		lastUpdate: time.Now(),
	}
}

// refill adds tokens for the elapsed time. Caller holds b.mu.
func (b *Bucket) refill(now time.Time) {
	b.tokens += now.Sub(b.lastUpdate).Seconds() * b.rate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastUpdate = now
}

// Allow consumes one token when available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(time.Now())
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is cancelled.
func (b *Bucket) Wait(ctx context.Context) error {
	b.mu.Lock()
	b.refill(time.Now())
	if b.tokens >= 1 {
		b.tokens--
		b.mu.Unlock()
		return nil
	}
	waitTime := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(waitTime):
		b.mu.Lock()
		b.tokens = 0
		b.mu.Unlock()
		return nil
	}
}

// Available returns the current token count including time-based refill.
func (b *Bucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	tokens := b.tokens + time.Since(b.lastUpdate).Seconds()*b.rate
	if tokens > b.maxTokens {
		tokens = b.maxTokens
	}
	return tokens
}

// Reset refills the bucket to capacity.
func (b *Bucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = b.maxTokens
	b.lastUpdate = time.Now()
}
