package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwire/mcpd/pkg/mcp"
)

func textItems(s string) []mcp.ContentItem {
	return []mcp.ContentItem{mcp.TextItem("text/plain", s)}
}

func TestCache_PutGetReturnsDeepCopies(t *testing.T) {
	t.Parallel()
	c := New()

	original := textItems("hello")
	c.Put("file:///a", original, 0)

	got, ok := c.Get("file:///a")
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", string(got[0].Data))

	// Mutating the returned copy must not affect a later read.
	got[0].Data[0] = 'X'
	again, ok := c.Get("file:///a")
	require.True(t, ok)
	assert.Equal(t, "hello", string(again[0].Data))

	// Nor may mutating the caller's original.
	original[0].Data[0] = 'Y'
	final, ok := c.Get("file:///a")
	require.True(t, ok)
	assert.Equal(t, "hello", string(final[0].Data))
}

func TestCache_LazyExpiry(t *testing.T) {
	t.Parallel()
	c := New()
	c.Put("file:///a", textItems("x"), 30*time.Millisecond)

	_, ok := c.Get("file:///a")
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	_, ok = c.Get("file:///a")
	assert.False(t, ok, "expired entry must miss")
	assert.Equal(t, 0, c.Len(), "expired entry removed on read")
}

func TestCache_SingleFlight(t *testing.T) {
	t.Parallel()
	c := New()

	var fills atomic.Int32
	release := make(chan struct{})
	fill := func(ctx context.Context, uri string) ([]mcp.ContentItem, error) {
		fills.Add(1)
		<-release
		return textItems("filled:" + uri), nil
	}

	const waiters = 10
	var wg sync.WaitGroup
	results := make(chan string, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := c.GetOrFill(context.Background(), "file:///slow", 0, fill)
			if err != nil {
				results <- "err:" + err.Error()
				return
			}
			results <- string(items[0].Data)
		}()
	}

	// Let all goroutines pile onto the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for r := range results {
		assert.Equal(t, "filled:file:///slow", r)
	}
	assert.Equal(t, int32(1), fills.Load(), "handler must run once")
}

func TestCache_FailedFillCachesNothing(t *testing.T) {
	t.Parallel()
	c := New()

	var calls atomic.Int32
	fail := func(ctx context.Context, uri string) ([]mcp.ContentItem, error) {
		calls.Add(1)
		return nil, fmt.Errorf("handler exploded")
	}

	_, err := c.GetOrFill(context.Background(), "file:///bad", 0, fail)
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	// A retry invokes the handler again rather than serving the failure.
	_, err = c.GetOrFill(context.Background(), "file:///bad", 0, fail)
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_LRUEviction(t *testing.T) {
	t.Parallel()
	c := New(WithMaxEntries(2))

	c.Put("a", textItems("1"), 0)
	c.Put("b", textItems("2"), 0)
	_, ok := c.Get("a") // refresh a; b becomes LRU
	require.True(t, ok)
	c.Put("c", textItems("3"), 0)

	_, ok = c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCache_InvalidateAndClear(t *testing.T) {
	t.Parallel()
	c := New()
	c.Put("a", textItems("1"), 0)
	c.Put("b", textItems("2"), 0)

	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}
