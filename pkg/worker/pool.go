package worker

import (
	"context"
	"errors"
	"sync"
)

// WorkerPool contains a collection of workers which are started
// together, and a WaitGroup which tracks when they have all stopped.
type WorkerPool struct {
	workers []Worker
	wg      sync.WaitGroup
	started bool
}

// NewWorkerPool creates a new WorkerPool struct
// and initialises the 'workers' slice.
func NewWorkerPool() *WorkerPool {
	return &WorkerPool{workers: make([]Worker, 0)}
}

// Start cycles through all the workers
// currently inside the WorkerPool and creates
// a goroutine for each. The 'Run' method of
// each worker is executed concurrently.
//
// Start does NOT block, consumers should use Wait
// to block until all the workers have stopped (which occurs
// once the provided context is cancelled).
func (pool *WorkerPool) Start(ctx context.Context) error {
	if pool.started {
		return errors.New("cannot start an already started worker pool")
	}

	pool.started = true
	for _, worker := range pool.workers {
		pool.wg.Add(1)
		go func(w Worker) {
			defer pool.wg.Done()
			w.Run(ctx)
		}(worker)
	}

	return nil
}

// PushWorker inserts the workers provided in to the worker pool. Workers
// cannot be added once the pool has started.
func (pool *WorkerPool) PushWorker(workers ...Worker) error {
	if pool.started {
		return errors.New("cannot push worker to already started worker pool")
	}

	pool.workers = append(pool.workers, workers...)
	return nil
}

// Workers returns the workers managed by this pool
func (pool *WorkerPool) Workers() []Worker {
	return pool.workers
}

// Wait blocks until every worker in the pool has stopped
func (pool *WorkerPool) Wait() {
	pool.wg.Wait()
}
