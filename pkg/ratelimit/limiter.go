package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// Keys are the request attributes a Check call can be keyed on. Empty
// fields are skipped.
type Keys struct {
	IP     string
	UserID string
	APIKey string
	Custom string
}

func (k Keys) value(kind KeyKind) string {
	switch kind {
	case KeyAPIKey:
		return k.APIKey
	case KeyUserID:
		return k.UserID
	case KeyIP:
		return k.IP
	default:
		return k.Custom
	}
}

func (k Keys) env() conditionEnv {
	return conditionEnv{IP: k.IP, User: k.UserID, APIKey: k.APIKey, Custom: k.Custom}
}

// stateKey identifies per-client state: one state per (rule, client key)
// pair.
type stateKey struct {
	rule string
	key  string
}

type clientSlot struct {
	mu       sync.Mutex
	state    clientState
	lastSeen time.Time
}

// Limiter is the rule-driven limiter. The RW-lock guards the rules list
// and state map structure; per-client slots carry their own mutex so
// concurrent checks on different clients proceed in parallel.
type Limiter struct {
	mu     sync.RWMutex
	rules  []Rule
	states map[stateKey]*clientSlot

	allowed atomic.Uint64
	denied  atomic.Uint64
}

// NewLimiter creates an empty limiter; with no rules every check is
// allowed.
func NewLimiter() *Limiter {
	return &Limiter{states: make(map[stateKey]*clientSlot)}
}

// AddRule compiles and installs a rule.
func (l *Limiter) AddRule(r Rule) error {
	if err := r.compile(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules = append(l.rules, r)
	return nil
}

// RemoveRule removes rules by name and drops their client state.
func (l *Limiter) RemoveRule(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	kept := l.rules[:0]
	for _, r := range l.rules {
		if r.Name == name {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	l.rules = kept
	for sk := range l.states {
		if sk.rule == name {
			delete(l.states, sk)
		}
	}
	return removed
}

// Check examines the present keys in priority order API > User > IP >
// Custom. For each, the highest-priority matching rule runs its
// algorithm step. The request is allowed when any key's rule allows it,
// or when no rule matched at all; it is denied only when every matching
// key denied.
func (l *Limiter) Check(keys Keys) bool {
	env := keys.env()
	matchedAny := false

	for _, kind := range keyOrder {
		key := keys.value(kind)
		if key == "" {
			continue
		}
		rule, ok := l.bestRule(kind, key, env)
		if !ok {
			continue
		}
		matchedAny = true
		if l.step(rule, key) {
			l.allowed.Add(1)
			return true
		}
	}

	if !matchedAny {
		l.allowed.Add(1)
		return true
	}
	l.denied.Add(1)
	return false
}

// bestRule scans the rules linearly for the highest-priority rule of
// the kind that applies to the key. It returns a copy: AddRule and
// RemoveRule rewrite the backing slice, so a pointer into it would not
// survive past the read lock.
func (l *Limiter) bestRule(kind KeyKind, key string, env conditionEnv) (Rule, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	best := -1
	for i := range l.rules {
		r := &l.rules[i]
		if r.Key != kind || !r.applies(key, env) {
			continue
		}
		if best < 0 || r.Priority > l.rules[best].Priority {
			best = i
		}
	}
	if best < 0 {
		return Rule{}, false
	}
	return l.rules[best], true
}

// step runs one algorithm step on the client's state, creating it
// lazily from the rule's parameters.
func (l *Limiter) step(rule Rule, key string) bool {
	sk := stateKey{rule: rule.Name, key: key}

	l.mu.RLock()
	slot := l.states[sk]
	l.mu.RUnlock()

	if slot == nil {
		l.mu.Lock()
		slot = l.states[sk]
		if slot == nil {
			slot = &clientSlot{state: newClientState(rule.Algorithm, rule.Params)}
			l.states[sk] = slot
		}
		l.mu.Unlock()
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.lastSeen = time.Now()
	return slot.state.step(time.Now())
}

// ClearStates drops all per-client state, keeping the rules.
func (l *Limiter) ClearStates() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = make(map[stateKey]*clientSlot)
}

// Sweep removes client states idle longer than ttl and reports how many
// were removed.
func (l *Limiter) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for sk, slot := range l.states {
		slot.mu.Lock()
		stale := slot.lastSeen.Before(cutoff)
		slot.mu.Unlock()
		if stale {
			delete(l.states, sk)
			removed++
		}
	}
	return removed
}

// LimiterStats is a snapshot of limiter counters.
type LimiterStats struct {
	Rules   int    `json:"rules"`
	Clients int    `json:"clients"`
	Allowed uint64 `json:"allowed"`
	Denied  uint64 `json:"denied"`
}

// Stats returns current counters.
func (l *Limiter) Stats() LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LimiterStats{
		Rules:   len(l.rules),
		Clients: len(l.states),
		Allowed: l.allowed.Load(),
		Denied:  l.denied.Load(),
	}
}
