// Package ratelimit provides request rate limiting at two levels:
//
//   - Bucket: a single token bucket, suitable for stream-level limiting
//     such as the server dispatch hook.
//   - Limiter: a rule-driven limiter keyed by API key, user ID, IP, or
//     custom key, supporting fixed-window, sliding-window, token-bucket,
//     and leaky-bucket algorithms with pattern-matched rules.
//
// An HTTP middleware wraps the keyed limiter for per-IP enforcement on
// admin and RPC endpoints.
package ratelimit

import "time"

// Algorithm selects the limiting algorithm of a rule.
type Algorithm string

const (
	FixedWindow   Algorithm = "fixed_window"
	SlidingWindow Algorithm = "sliding_window"
	TokenBucket   Algorithm = "token_bucket"
	LeakyBucket   Algorithm = "leaky_bucket"
)

// Params carries the per-algorithm tuning of a rule. Only the fields
// relevant to the chosen algorithm are read.
type Params struct {
	// Window and MaxPerWindow drive fixed and sliding windows.
	Window       time.Duration `json:"window" yaml:"window"`
	MaxPerWindow int           `json:"maxPerWindow" yaml:"maxPerWindow"`

	// TokensPerSecond and MaxTokens drive the token bucket.
	TokensPerSecond float64 `json:"tokensPerSecond" yaml:"tokensPerSecond"`
	MaxTokens       float64 `json:"maxTokens" yaml:"maxTokens"`

	// LeakRate and BurstCapacity drive the leaky bucket.
	LeakRate      float64 `json:"leakRate" yaml:"leakRate"`
	BurstCapacity float64 `json:"burstCapacity" yaml:"burstCapacity"`
}

// clientState is the per-client algorithm state. step reports whether
// one request at the given instant is allowed, mutating the state on
// allow where the algorithm calls for it.
type clientState interface {
	step(now time.Time) bool
}

func newClientState(alg Algorithm, p Params) clientState {
	switch alg {
	case SlidingWindow:
		n := p.MaxPerWindow
		if n <= 0 {
			n = 1
		}
		return &slidingWindowState{
			window: p.Window,
			max:    p.MaxPerWindow,
			ring:   make([]time.Time, n),
		}
	case TokenBucket:
		return &tokenBucketState{
			tokens:     p.MaxTokens,
			cap:        p.MaxTokens,
			rate:       p.TokensPerSecond,
			lastRefill: time.Now(),
		}
	case LeakyBucket:
		return &leakyBucketState{
			cap:      p.BurstCapacity,
			rate:     p.LeakRate,
			lastLeak: time.Now(),
		}
	default:
		return &fixedWindowState{window: p.Window, max: p.MaxPerWindow}
	}
}

// fixedWindowState counts requests per aligned window.
type fixedWindowState struct {
	window      time.Duration
	max         int
	windowStart time.Time
	count       int
}

func (s *fixedWindowState) step(now time.Time) bool {
	if now.Sub(s.windowStart) >= s.window {
		s.windowStart = now
		s.count = 0
	}
	if s.count < s.max {
		s.count++
		return true
	}
	return false
}

// slidingWindowState keeps a ring of recent request timestamps.
type slidingWindowState struct {
	window time.Duration
	max    int
	ring   []time.Time
	pos    int
	count  int
}

func (s *slidingWindowState) step(now time.Time) bool {
	cutoff := now.Add(-s.window)
	for s.count > 0 {
		oldest := (s.pos - s.count + len(s.ring)) % len(s.ring)
		if s.ring[oldest].After(cutoff) {
			break
		}
		s.count--
	}
	if s.count >= s.max {
		return false
	}
	s.ring[s.pos] = now
	s.pos = (s.pos + 1) % len(s.ring)
	s.count++
	return true
}

// tokenBucketState refills continuously and spends one token per allow.
type tokenBucketState struct {
	tokens     float64
	cap        float64
	rate       float64
	lastRefill time.Time
}

func (s *tokenBucketState) step(now time.Time) bool {
	elapsed := now.Sub(s.lastRefill).Seconds()
	s.tokens += elapsed * s.rate
	if s.tokens > s.cap {
		s.tokens = s.cap
	}
	s.lastRefill = now
	if s.tokens >= 1 {
		s.tokens--
		return true
	}
	return false
}

// leakyBucketState drains continuously; each allow adds one unit of
// water.
type leakyBucketState struct {
	water    float64
	cap      float64
	rate     float64
	lastLeak time.Time
}

func (s *leakyBucketState) step(now time.Time) bool {
	elapsed := now.Sub(s.lastLeak).Seconds()
	s.water -= elapsed * s.rate
	if s.water < 0 {
		s.water = 0
	}
	s.lastLeak = now
	if s.water+1 <= s.cap {
		s.water++
		return true
	}
	return false
}
