// Package bufpool provides the fixed-size receive-buffer pool used by the
// stream transports. Connections borrow a buffer for their receive loop
// and return it on close; buffers that grew past the pool size are left
// for the garbage collector and counted as misses.
package bufpool

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the pool buffer size used when none is configured.
const DefaultBufferSize = 8 * 1024

// Stats reports pool activity counters.
type Stats struct {
	// Allocs counts buffers created because the pool was empty.
	Allocs uint64 `json:"allocs"`

	// Reuses counts Gets satisfied from the pool.
	Reuses uint64 `json:"reuses"`

	// Misses counts Puts discarded because the buffer size did not match.
	Misses uint64 `json:"misses"`
}

// Pool is a fixed-size byte-buffer pool. Safe for concurrent use.
type Pool struct {
	size   int
	pool   sync.Pool
	gets   atomic.Uint64
	allocs atomic.Uint64
	misses atomic.Uint64
}

// New creates a pool of buffers of exactly size bytes. A non-positive
// size applies DefaultBufferSize.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	p := &Pool{size: size}
	p.pool.New = func() any {
		p.allocs.Add(1)
		return make([]byte, p.size)
	}
	return p
}

// Size returns the fixed buffer size.
func (p *Pool) Size() int { return p.size }

// Get borrows a buffer of exactly Size() bytes. Contents are unspecified.
func (p *Pool) Get() []byte {
	p.gets.Add(1)
	return p.pool.Get().([]byte)
}

// Put returns a buffer. Buffers whose length no longer equals the pool
// size (the receive loop grew them) are dropped and counted as misses.
func (p *Pool) Put(buf []byte) {
	if len(buf) != p.size {
		p.misses.Add(1)
		return
	}
	p.pool.Put(buf) //nolint:staticcheck // slice sizes are uniform
}

// Stats returns a snapshot of the pool counters. Reuses is derived:
// every Get not satisfied by a fresh allocation reused a pooled buffer.
func (p *Pool) Stats() Stats {
	gets := p.gets.Load()
	allocs := p.allocs.Load()
	return Stats{
		Allocs: allocs,
		Reuses: gets - allocs,
		Misses: p.misses.Load(),
	}
}
