package crawler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"website-extractor/pkg/types"
)

func TestWorkerPoolRejectsInvalidArgs(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t)
	noop := func(context.Context, types.CrawlTask) {}

	_, err := NewWorkerPool(context.Background(), 0, f, noop)
	assert.Error(t, err)
	_, err = NewWorkerPool(context.Background(), 2, nil, noop)
	assert.Error(t, err)
	_, err = NewWorkerPool(context.Background(), 2, f, nil)
	assert.Error(t, err)
}

func TestWorkerPoolDrainsGrowingFrontier(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t)
	require.True(t, f.Offer(mustURL(t, "https://example.com/0"), 3, nil))

	var handled atomic.Int32
	pool, err := NewWorkerPool(context.Background(), 4, f, func(ctx context.Context, task types.CrawlTask) {
		handled.Add(1)
		for i := 0; i < 3; i++ {
			child := mustURL(t, fmt.Sprintf("%s/%d", task.URL.String(), i))
			f.Offer(child, task.Depth-1, task.URL)
		}
	})
	require.NoError(t, err)
	pool.Wait()

	// 1 + 3 + 9 pages at depths 3, 2 and 1.
	assert.Equal(t, int32(13), handled.Load())
	assert.Zero(t, f.Len())
	assert.Zero(t, f.InFlight())
}
