package dispatch

import (
	"context"
	"errors"
	"sync"
)

var (
	errPoolFull   = errors.New("queue full")
	errPoolClosed = errors.New("pool closed")
)

// workerPool is a fixed-size goroutine pool with a bounded input queue.
// Submit never blocks; a full queue is reported to the caller.
type workerPool[T any] struct {
	queue   chan T
	process func(ctx context.Context, t T)
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// newWorkerPool starts n workers reading from a queue of capacity depth.
func newWorkerPool[T any](ctx context.Context, n, depth int, fn func(context.Context, T)) *workerPool[T] {
	p := &workerPool[T]{
		queue:   make(chan T, depth),
		process: fn,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	return p
}

func (p *workerPool[T]) run(ctx context.Context) {
	for {
		select {
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, t)
		case <-ctx.Done():
			return
		}
	}
}

// Submit enqueues t without blocking. It fails with errPoolFull when the
// queue is full and errPoolClosed once the pool has been drained.
func (p *workerPool[T]) Submit(t T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errPoolClosed
	}
	select {
	case p.queue <- t:
		return nil
	default:
		return errPoolFull
	}
}

// Drain stops accepting work, lets the workers finish what is queued and
// waits for them.
func (p *workerPool[T]) Drain() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *workerPool[T]) QueueLen() int { return len(p.queue) }
func (p *workerPool[T]) QueueCap() int { return cap(p.queue) }
