// Package arena provides per-request scratch allocation for the server
// dispatcher. An Arena is a chunked bump allocator reset between requests;
// a Pool hands each request its own arena so parse scratch never touches
// the general heap. Byte buffers that cross goroutine boundaries (request
// and response strings, content payloads) must never come from an arena.
package arena

import "sync"

// DefaultChunkSize is the chunk allocation unit.
const DefaultChunkSize = 64 * 1024

// Arena is a bump allocator over large chunks. It is not safe for
// concurrent use; each request borrows one arena from a Pool.
type Arena struct {
	chunks    [][]byte
	current   []byte
	offset    int
	chunkSize int
	allocated int64
}

// New creates an arena with the given chunk size. A non-positive size
// applies DefaultChunkSize.
func New(chunkSize int) *Arena {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Arena{chunkSize: chunkSize}
}

// Alloc returns a zeroed slice of size bytes valid until the next Reset.
func (a *Arena) Alloc(size int) []byte {
	if a.current == nil || a.offset+size > len(a.current) {
		chunkSize := a.chunkSize
		if size > chunkSize {
			chunkSize = size
		}
		chunk := make([]byte, chunkSize)
		a.chunks = append(a.chunks, chunk)
		a.current = chunk
		a.offset = 0
		a.allocated += int64(chunkSize)
	}
	out := a.current[a.offset : a.offset+size : a.offset+size]
	a.offset += size
	for i := range out {
		out[i] = 0
	}
	return out
}

// AppendString copies s into the arena and returns the arena-backed copy.
func (a *Arena) AppendString(s string) []byte {
	buf := a.Alloc(len(s))
	copy(buf, s)
	return buf
}

// Reset drops all allocations, keeping the first chunk for reuse.
func (a *Arena) Reset() {
	if len(a.chunks) > 0 {
		a.current = a.chunks[0]
		a.chunks = a.chunks[:1]
		a.allocated = int64(len(a.current))
	} else {
		a.current = nil
		a.allocated = 0
	}
	a.offset = 0
}

// Allocated returns the total chunk bytes held by the arena.
func (a *Arena) Allocated() int64 { return a.allocated }

// Pool hands out arenas per request, resetting each on return. This is
// the Go rendering of a per-thread arena: one arena per in-flight request
// instead of one per OS thread.
type Pool struct {
	pool      sync.Pool
	chunkSize int
}

// NewPool creates an arena pool with the given per-arena chunk size.
func NewPool(chunkSize int) *Pool {
	p := &Pool{chunkSize: chunkSize}
	p.pool.New = func() any { return New(p.chunkSize) }
	return p
}

// Get borrows an arena. The caller must Put it back when the request
// completes.
func (p *Pool) Get() *Arena {
	return p.pool.Get().(*Arena)
}

// Put resets the arena and returns it for reuse. Slices handed out by the
// arena are invalid after this call.
func (p *Pool) Put(a *Arena) {
	if a == nil {
		return
	}
	a.Reset()
	p.pool.Put(a)
}
