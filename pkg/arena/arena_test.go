package arena

import (
	"bytes"
	"testing"
)

func TestAlloc_WithinChunk(t *testing.T) {
	t.Parallel()
	a := New(1024)

	b1 := a.Alloc(100)
	b2 := a.Alloc(100)
	if len(b1) != 100 || len(b2) != 100 {
		t.Fatal("wrong slice sizes")
	}
	// Both allocations come from one chunk.
	if a.Allocated() != 1024 {
		t.Fatalf("expected a single 1024-byte chunk, got %d", a.Allocated())
	}
}

func TestAlloc_Oversized(t *testing.T) {
	t.Parallel()
	a := New(64)
	b := a.Alloc(1000)
	if len(b) != 1000 {
		t.Fatalf("expected 1000-byte slice, got %d", len(b))
	}
}

func TestAlloc_ZeroesReusedMemory(t *testing.T) {
	t.Parallel()
	a := New(128)

	b := a.Alloc(64)
	for i := range b {
		b[i] = 0xff
	}
	a.Reset()

	b = a.Alloc(64)
	if !bytes.Equal(b, make([]byte, 64)) {
		t.Fatal("allocation after reset must be zeroed")
	}
}

func TestReset_KeepsFirstChunk(t *testing.T) {
	t.Parallel()
	a := New(64)
	a.Alloc(64)
	a.Alloc(64) // second chunk
	if a.Allocated() != 128 {
		t.Fatalf("expected two chunks held, got %d", a.Allocated())
	}
	a.Reset()
	if a.Allocated() != 64 {
		t.Fatalf("reset keeps only the first chunk, got %d", a.Allocated())
	}
	a.Alloc(32)
	if a.Allocated() != 64 {
		t.Fatal("reset then small alloc must not allocate a new chunk")
	}
}

func TestAppendString(t *testing.T) {
	t.Parallel()
	a := New(0)
	b := a.AppendString("hello")
	if string(b) != "hello" {
		t.Fatalf("got %q", b)
	}
}

func TestPool_GetPut(t *testing.T) {
	t.Parallel()
	p := NewPool(1024)

	a := p.Get()
	a.Alloc(10)
	p.Put(a)

	// Reused arena starts clean.
	a2 := p.Get()
	buf := a2.Alloc(10)
	if !bytes.Equal(buf, make([]byte, 10)) {
		t.Fatal("pooled arena must hand out zeroed memory")
	}
	p.Put(a2)

	p.Put(nil) // must not panic
}
