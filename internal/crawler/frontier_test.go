package crawler

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"website-extractor/pkg/types"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func newTestFrontier(t *testing.T) *Frontier {
	t.Helper()
	return NewFrontier(NewScope(mustURL(t, "https://example.com/")))
}

func TestFrontierOfferIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t)

	assert.True(t, f.Offer(mustURL(t, "https://example.com/a"), 2, nil))
	assert.False(t, f.Offer(mustURL(t, "https://example.com/a"), 2, nil))
	assert.False(t, f.Offer(mustURL(t, "https://example.com/a#section"), 1, nil), "fragment variants share an identity")
	assert.Equal(t, 1, f.Len())
	assert.Equal(t, 1, f.Visited())
}

func TestFrontierRejectsWithoutSideEffect(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t)

	exhausted := mustURL(t, "https://example.com/deep")
	assert.False(t, f.Offer(exhausted, 0, nil))
	assert.False(t, f.Seen(exhausted))

	offsite := mustURL(t, "https://other.example/")
	assert.False(t, f.Offer(offsite, 3, nil))
	assert.False(t, f.Offer(mustURL(t, "http://example.com/"), 3, nil), "scheme is part of the scope")
	assert.False(t, f.Seen(offsite))
	assert.Zero(t, f.Len())

	// A rejected page can still be scheduled later when depth allows.
	assert.True(t, f.Offer(exhausted, 1, nil))
}

func TestScopeIgnoresDefaultPort(t *testing.T) {
	t.Parallel()
	scope := NewScope(mustURL(t, "https://Example.com:443/"))
	assert.True(t, scope.Contains(mustURL(t, "https://example.com/a")))
	assert.True(t, scope.Contains(mustURL(t, "https://example.com:443/b")))
	assert.False(t, scope.Contains(mustURL(t, "https://example.com:8443/c")))
	assert.False(t, scope.Contains(mustURL(t, "http://example.com:443/d")))

	f := NewFrontier(NewScope(mustURL(t, "http://example.com/")))
	assert.True(t, f.Offer(mustURL(t, "http://example.com:80/page"), 1, nil))
	assert.False(t, f.Offer(mustURL(t, "http://example.com/page"), 1, nil))
	assert.Equal(t, Key(mustURL(t, "http://example.com/page")), Key(mustURL(t, "http://EXAMPLE.com:80/page")))
}

func TestFrontierResources(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t)
	page := mustURL(t, "https://example.com/")

	assert.True(t, f.OfferResource(mustURL(t, "https://cdn.example.net/app.js"), page))
	assert.False(t, f.OfferResource(mustURL(t, "ftp://example.com/file"), page))

	shared := mustURL(t, "https://example.com/logo.png")
	assert.True(t, f.OfferResource(shared, page))
	assert.False(t, f.OfferResource(shared, page))
	assert.False(t, f.Offer(shared, 2, nil), "pages and resources share one visited set")

	task, ok := f.Take()
	require.True(t, ok)
	assert.Equal(t, types.TaskResource, task.Kind)
	assert.Zero(t, task.Depth)
	assert.Equal(t, page, task.Referrer)
}

func TestFrontierConcurrentOffers(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t)
	target := mustURL(t, "https://example.com/race")

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Offer(target, 2, nil) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, 1, f.Len())
}

func TestFrontierTakeIsFIFO(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t)
	for _, p := range []string{"/1", "/2", "/3"} {
		require.True(t, f.Offer(mustURL(t, "https://example.com"+p), 1, nil))
	}

	var order []string
	for {
		task, ok := f.Take()
		if !ok {
			break
		}
		order = append(order, task.URL.Path)
		f.Done()
	}
	assert.Equal(t, []string{"/1", "/2", "/3"}, order)
}

func TestFrontierNextWaitsForInFlightWork(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t)
	require.True(t, f.Offer(mustURL(t, "https://example.com/"), 2, nil))

	ctx := context.Background()
	first, ok := f.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, 1, f.InFlight())

	got := make(chan types.CrawlTask, 1)
	done := make(chan bool, 1)
	go func() {
		task, ok := f.Next(ctx)
		if ok {
			got <- task
		}
		done <- ok
	}()

	// The waiter must not see a drained frontier while the first task is in flight.
	select {
	case <-done:
		t.Fatal("Next returned while work was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	require.True(t, f.Offer(mustURL(t, "https://example.com/child"), first.Depth-1, first.URL))
	assert.True(t, <-done)
	assert.Equal(t, "/child", (<-got).URL.Path)

	f.Done()
	f.Done()
	_, ok = f.Next(ctx)
	assert.False(t, ok, "drained frontier")
}

func TestFrontierCloseUnblocksNext(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t)
	require.True(t, f.Offer(mustURL(t, "https://example.com/"), 1, nil))
	_, ok := f.Take()
	require.True(t, ok)

	done := make(chan bool, 1)
	go func() {
		_, ok := f.Next(context.Background())
		done <- ok
	}()
	f.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
	assert.False(t, f.Offer(mustURL(t, "https://example.com/late"), 1, nil))
}

func TestFrontierNextHonoursContext(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t)
	require.True(t, f.Offer(mustURL(t, "https://example.com/"), 1, nil))
	_, ok := f.Take()
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := f.Next(ctx)
		done <- ok
	}()
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after cancellation")
	}
}
