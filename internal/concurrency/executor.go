// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package concurrency provides a small worker-pool task executor,
// adapted from the teacher's internal/concurrency/executor.go: same
// global-queue-plus-workers shape, with the NUMA-node pinning and
// per-worker lock-free local queues dropped — this repo has no
// affinity surface to place work on.
package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-wsdriver/api"
)

// Executor dispatches tasks across a fixed pool of worker goroutines
// reading from one shared, buffered queue. It implements api.Executor.
type Executor struct {
	queue   chan func()
	closeCh chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool

	totalTasks     atomic.Int64
	completedTasks atomic.Int64
}

var _ api.Executor = (*Executor)(nil)

// NewExecutor starts a pool of numWorkers goroutines. numWorkers <= 0
// defaults to runtime.NumCPU().
func NewExecutor(numWorkers int) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		queue:   make(chan func(), numWorkers*4),
		closeCh: make(chan struct{}),
	}
	e.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go e.runWorker()
	}
	return e
}

func (e *Executor) runWorker() {
	defer e.wg.Done()
	for {
		select {
		case task := <-e.queue:
			e.execute(task)
		case <-e.closeCh:
			return
		}
	}
}

func (e *Executor) execute(task func()) {
	defer func() {
		recover()
		e.completedTasks.Add(1)
	}()
	task()
}

// Submit enqueues task. Returns ErrExecutorClosed once Close has run.
func (e *Executor) Submit(task func()) error {
	if task == nil {
		return nil
	}
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	e.totalTasks.Add(1)
	select {
	case e.queue <- task:
		return nil
	case <-e.closeCh:
		return ErrExecutorClosed
	}
}

// Close stops accepting new tasks and waits for in-flight tasks to
// finish. Idempotent.
func (e *Executor) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(e.closeCh)
	e.wg.Wait()
	return nil
}

// Stats reports coarse counters, mirroring the teacher's Stats map
// shape but as a typed struct.
func (e *Executor) Stats() api.ExecutorStats {
	return api.ExecutorStats{
		Submitted: e.totalTasks.Load(),
		Completed: e.completedTasks.Load(),
	}
}
