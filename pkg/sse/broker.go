package sse

import (
	"sync"
	"time"

	"github.com/mcpwire/mcpd/internal/id"
)

// DefaultHistorySize is how many recent events the broker retains for
// Last-Event-ID replay.
const DefaultHistorySize = 256

// subscriber is one connected client.
type subscriber struct {
	ch      chan Event
	types   map[string]struct{} // nil means all types
	session string
}

func (s *subscriber) wants(ev Event) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[ev.Type]
	return ok
}

// Broker fans published events out to subscribers and keeps a bounded
// history for reconnecting clients.
type Broker struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	history []Event // ring, oldest first once full
	histCap int
	closed  bool

	totalPublished uint64
	totalDropped   uint64
}

// NewBroker creates a broker retaining historySize events for replay.
// Zero uses the default.
func NewBroker(historySize int) *Broker {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Broker{
		subs:    make(map[*subscriber]struct{}),
		histCap: historySize,
	}
}

// Publish assigns the event an identifier when it has none and delivers
// it to every matching subscriber. Slow subscribers drop events rather
// than block the publisher.
func (b *Broker) Publish(ev Event) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrStreamClosed
	}
	if ev.ID == "" {
		ev.ID = id.Event()
	}

	if len(b.history) == b.histCap {
		copy(b.history, b.history[1:])
		b.history[len(b.history)-1] = ev
	} else {
		b.history = append(b.history, ev)
	}
	b.totalPublished++

	for s := range b.subs {
		if !s.wants(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.totalDropped++
		}
	}
	return ev.ID, nil
}

// Subscribe registers a client. types filters delivery to the named
// event types; empty means all. lastEventID, when known, replays the
// retained events that followed it. The returned cancel func must be
// called when the client disconnects.
func (b *Broker) Subscribe(types []string, session, lastEventID string) (<-chan Event, func()) {
	s := &subscriber{
		ch:      make(chan Event, 64),
		session: session,
	}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	var replay []Event
	if lastEventID != "" {
		replay = b.eventsAfterLocked(lastEventID)
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	for _, ev := range replay {
		if s.wants(ev) {
			select {
			case s.ch <- ev:
			default:
			}
		}
	}

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[s]; ok {
			delete(b.subs, s)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	return s.ch, cancel
}

// eventsAfterLocked returns retained events newer than lastEventID. An
// unknown ID replays the full history; event IDs are time-ordered so a
// very old cursor behaves the same way.
func (b *Broker) eventsAfterLocked(lastEventID string) []Event {
	for i, ev := range b.history {
		if ev.ID == lastEventID {
			out := make([]Event, len(b.history)-i-1)
			copy(out, b.history[i+1:])
			return out
		}
	}
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// SubscriberCount reports the number of connected clients.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stats is a snapshot of broker counters.
type Stats struct {
	Subscribers    int    `json:"subscribers"`
	TotalPublished uint64 `json:"totalPublished"`
	TotalDropped   uint64 `json:"totalDropped"`
	HistoryLen     int    `json:"historyLen"`
}

// Stats returns current broker counters.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Subscribers:    len(b.subs),
		TotalPublished: b.totalPublished,
		TotalDropped:   b.totalDropped,
		HistoryLen:     len(b.history),
	}
}

// Close disconnects all subscribers and rejects further publishes.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	b.subs = make(map[*subscriber]struct{})
}

// KeepaliveInterval is how often idle connections receive a comment.
const KeepaliveInterval = 15 * time.Second
