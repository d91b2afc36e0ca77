package crawler

import (
	"context"
	"errors"
	"sync"

	"website-extractor/pkg/types"
)

// taskSource hands out work to the pool and is told when each task is finished.
type taskSource interface {
	Next(ctx context.Context) (types.CrawlTask, bool)
	Done()
}

// WorkerPool runs a fixed number of workers that pull tasks until the source
// reports it is drained or closed.
type WorkerPool struct {
	wg sync.WaitGroup
}

// NewWorkerPool starts concurrency workers. handle runs once per task; the pool
// calls Done on the source after handle returns.
func NewWorkerPool(ctx context.Context, concurrency int, source taskSource, handle func(ctx context.Context, task types.CrawlTask)) (*WorkerPool, error) {
	if concurrency <= 0 {
		return nil, errors.New("worker pool requires positive concurrency")
	}
	if source == nil || handle == nil {
		return nil, errors.New("worker pool requires a task source and handler")
	}
	pool := &WorkerPool{}
	for i := 0; i < concurrency; i++ {
		pool.wg.Add(1)
		go func() {
			defer pool.wg.Done()
			for {
				task, ok := source.Next(ctx)
				if !ok {
					return
				}
				func() {
					defer source.Done()
					handle(ctx, task)
				}()
			}
		}()
	}
	return pool, nil
}

// Wait blocks until every worker has exited.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
