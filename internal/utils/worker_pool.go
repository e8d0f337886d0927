package utils

import (
	"errors"
	"sync"
)

// ErrPoolShutdown is returned when submitting to a pool that has been shut down.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// Job represents a task to be executed by a worker.
type Job struct {
	Task func()
}

// WorkerPool manages a pool of workers to execute jobs.
//
// The queue is unbounded so Submit never blocks, which lets a job submit
// further jobs. A pool with a single worker runs jobs strictly in
// submission order.
type WorkerPool struct {
	workers   int
	mu        sync.Mutex
	cond      *sync.Cond
	jobQueue  []Job
	shutdown  bool
	waitGroup sync.WaitGroup
}

// NewWorkerPool creates a new WorkerPool with the specified number of workers.
func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	pool := &WorkerPool{
		workers: workers,
	}
	pool.cond = sync.NewCond(&pool.mu)

	pool.waitGroup.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool
}

// worker processes jobs from the jobQueue.
func (wp *WorkerPool) worker() {
	defer wp.waitGroup.Done()
	for {
		wp.mu.Lock()
		for len(wp.jobQueue) == 0 && !wp.shutdown {
			wp.cond.Wait()
		}
		if len(wp.jobQueue) == 0 && wp.shutdown {
			wp.mu.Unlock()
			return
		}
		job := wp.jobQueue[0]
		wp.jobQueue[0] = Job{}
		wp.jobQueue = wp.jobQueue[1:]
		wp.mu.Unlock()

		job.Task()
	}
}

// Submit adds a new job to the worker pool.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.shutdown {
		return ErrPoolShutdown
	}
	wp.jobQueue = append(wp.jobQueue, Job{Task: task})
	wp.cond.Signal()
	return nil
}

// Sync blocks until every job submitted before the call has run.
// Only meaningful for single-worker pools; must not be called from a job.
func (wp *WorkerPool) Sync() {
	done := make(chan struct{})
	if err := wp.Submit(func() { close(done) }); err != nil {
		return
	}
	<-done
}

// Shutdown runs the jobs already queued, then stops the workers.
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if wp.shutdown {
		wp.mu.Unlock()
		return
	}
	wp.shutdown = true
	wp.cond.Broadcast()
	wp.mu.Unlock()

	wp.waitGroup.Wait()
}
