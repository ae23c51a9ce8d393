package bufpool

import "testing"

func TestGet_AllocatesAtSize(t *testing.T) {
	t.Parallel()
	p := New(4096)
	buf := p.Get()
	if len(buf) != 4096 {
		t.Fatalf("expected 4096-byte buffer, got %d", len(buf))
	}
	if p.Stats().Allocs != 1 {
		t.Fatalf("expected 1 alloc, got %+v", p.Stats())
	}
}

func TestPut_RecyclesMatchingSize(t *testing.T) {
	t.Parallel()
	p := New(1024)
	buf := p.Get()
	p.Put(buf)

	_ = p.Get()
	s := p.Stats()
	if s.Reuses < 1 {
		t.Fatalf("expected at least one reuse, got %+v", s)
	}
}

func TestPut_DiscardsGrownBuffers(t *testing.T) {
	t.Parallel()
	p := New(1024)
	p.Put(make([]byte, 9000))
	s := p.Stats()
	if s.Misses != 1 {
		t.Fatalf("expected 1 miss, got %+v", s)
	}
}

func TestNew_DefaultSize(t *testing.T) {
	t.Parallel()
	p := New(0)
	if p.Size() != DefaultBufferSize {
		t.Fatalf("expected default size, got %d", p.Size())
	}
}
