package chord

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// WorkerPool is an Executor running at most a fixed number of tasks at once.
// Tasks get the pool's context, never the context of whoever submitted them,
// so replication keeps going after an inbound call returned.
type WorkerPool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ Executor = (*WorkerPool)(nil)

// NewWorkerPool creates a pool running up to workers tasks concurrently.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		sem:    semaphore.NewWeighted(int64(workers)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Execute schedules task and returns immediately. Tasks submitted after
// Close are dropped.
func (p *WorkerPool) Execute(task func(ctx context.Context)) {
	if task == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		task(p.ctx)
	}()
}

// Wait blocks until every submitted task finished.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Close cancels the pool context, drops queued tasks and waits for
// running ones.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
}
