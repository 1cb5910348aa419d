// Package workerpool runs jobs on a fixed number of goroutines. Job failures
// are reported through the error handler and never stop the pool.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Job is one unit of work. The ctx passed in is the one given to Start.
type Job func(ctx context.Context) error

var ErrPoolClosed = errors.New("worker pool closed")

type Pool struct {
	jobs    chan Job
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	workers int
	onError func(error)

	mu     sync.RWMutex
	closed bool
}

// New creates a pool with the given number of workers and queue capacity.
// onError may be nil.
func New(workers, queue int, onError func(error)) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = workers * 2
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Pool{
		jobs:    make(chan Job, queue),
		done:    make(chan struct{}),
		workers: workers,
		onError: onError,
	}
}

func (p *Pool) Workers() int {
	return p.workers
}

// Start launches the workers. They stop when ctx is done or after Close once
// the queue is drained.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-p.jobs:
					if !ok {
						return
					}
					if err := run(ctx, job); err != nil {
						p.onError(err)
					}
				}
			}
		}()
	}
}

func run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(ctx)
}

// Submit queues a job, blocking while the queue is full. It returns
// ErrPoolClosed once Close has been called and ctx.Err() when ctx ends first.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	case <-p.done:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for the workers to finish the queue.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.done)
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
	p.wg.Wait()
}
