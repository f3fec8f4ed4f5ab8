package jit

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrRejected is returned by Submit once the executor has been shut down.
var ErrRejected = errors.New("jit: executor rejected task")

// Executor runs compile tasks on a small pool of background workers.
//
// No worker exists until work arrives. At most maxWorkers run at once; a
// worker with nothing to do for the idle timeout exits. The queue is
// unbounded, so Submit never blocks the caller.
type Executor struct {
	idle time.Duration
	sem  *semaphore.Weighted

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake    chan struct{}
	stop    chan struct{}
	pending sync.WaitGroup
	workers atomic.Int32
}

// NewExecutor creates an executor with the given worker bound and idle
// timeout.
func NewExecutor(maxWorkers int, idle time.Duration) *Executor {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Executor{
		idle: idle,
		sem:  semaphore.NewWeighted(int64(maxWorkers)),
		wake: make(chan struct{}, maxWorkers),
		stop: make(chan struct{}),
	}
}

// Submit queues task. A worker is started if the pool is below its bound.
func (e *Executor) Submit(task func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrRejected
	}
	e.pending.Add(1)
	e.queue = append(e.queue, task)
	if e.sem.TryAcquire(1) {
		e.workers.Add(1)
		go e.work()
		return nil
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// work drains the queue. The exit decision and the semaphore release happen
// under the queue lock, so a task submitted concurrently either finds this
// worker still running or a free slot to start a new one.
func (e *Executor) work() {
	timer := time.NewTimer(e.idle)
	defer timer.Stop()
	expired := false
	for {
		e.mu.Lock()
		if len(e.queue) > 0 {
			task := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			e.mu.Unlock()
			e.run(task)
			expired = false
			continue
		}
		if expired || e.closed {
			e.workers.Add(-1)
			e.sem.Release(1)
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		timer.Reset(e.idle)
		select {
		case <-e.wake:
		case <-timer.C:
			expired = true
		case <-e.stop:
		}
	}
}

func (e *Executor) run(task func()) {
	defer e.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("compile task panicked: %v", r)
		}
	}()
	task()
}

// Workers returns the number of live workers.
func (e *Executor) Workers() int { return int(e.workers.Load()) }

// Queued returns the number of tasks waiting for a worker.
func (e *Executor) Queued() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Wait blocks until every submitted task has finished.
func (e *Executor) Wait() { e.pending.Wait() }

// Shutdown rejects further submissions. Tasks already queued still run.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.stop)
}

// IsShutdown reports whether Shutdown was called.
func (e *Executor) IsShutdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
