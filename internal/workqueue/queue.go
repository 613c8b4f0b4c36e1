// Package workqueue is the bounded multi-producer/multi-consumer work
// queue C3 describes: a fixed-capacity ring of task entries gated by a
// counting semaphore, with normal and high-priority lanes, cooperative
// draining from any caller thread (not just dedicated workers), and a
// per-worker call-depth counter so a task can tell whether it is already
// running inside another queue task. The ring/semaphore/counter shape is
// grounded on Slidescape's work_queue_t (next_entry_to_submit/execute,
// completion/start counters, semaphore); channels and atomics replace the
// OS semaphore and volatile counters the C version uses.
package workqueue

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Task is one unit of work. logicalThread identifies which worker (or -1
// for the calling/main thread during cooperative draining) is executing
// it, mirroring work_queue_callback_t's logical_thread_index parameter.
type Task func(logicalThread int)

type entry struct {
	task Task
}

// Queue is a fixed-capacity ring buffer of tasks.
type Queue struct {
	sem             chan struct{} // counting semaphore: one token per queued task
	mu              sync.Mutex
	entries         []entry
	nextSubmit      int
	nextExecute     int
	completionCount atomic.Int32
	completionGoal  atomic.Int32
	startCount      atomic.Int32
}

// New creates a queue that can hold up to capacity unexecuted tasks.
func New(capacity int) *Queue {
	return &Queue{
		sem:     make(chan struct{}, capacity),
		entries: make([]entry, capacity),
	}
}

// Submit adds a task to the queue. It blocks if the ring is full, which
// only happens if producers outrun every worker — a back-pressure signal,
// not an error.
func (q *Queue) Submit(t Task) {
	q.mu.Lock()
	for q.nextSubmit-q.nextExecute >= len(q.entries) {
		q.mu.Unlock()
		runtime.Gosched()
		q.mu.Lock()
	}
	slot := q.nextSubmit % len(q.entries)
	q.entries[slot] = entry{task: t}
	q.nextSubmit++
	q.completionGoal.Add(1)
	q.mu.Unlock()

	q.sem <- struct{}{}
}

// popNext dequeues the next task if one is ready, without blocking.
func (q *Queue) popNext() (Task, bool) {
	select {
	case <-q.sem:
	default:
		return nil, false
	}
	q.mu.Lock()
	slot := q.nextExecute % len(q.entries)
	t := q.entries[slot].task
	q.nextExecute++
	q.mu.Unlock()
	q.startCount.Add(1)
	return t, true
}

// Pump executes at most one pending task on the calling goroutine/thread,
// tagging it with logicalThread (a worker index, or any caller-chosen
// value for cooperative draining from the main thread). It returns false
// if the queue had nothing ready.
func (q *Queue) Pump(logicalThread int) bool {
	t, ok := q.popNext()
	if !ok {
		return false
	}
	t(logicalThread)
	q.completionCount.Add(1)
	return true
}

// IsWorkInProgress reports whether any submitted task has not yet
// completed. A running task counts as outstanding, including one running
// on the calling goroutine; CallDepth is not consulted here.
func (q *Queue) IsWorkInProgress() bool {
	return q.completionCount.Load() < q.completionGoal.Load()
}

// IsWorkWaitingToStart reports whether any submitted task has not yet
// begun executing.
func (q *Queue) IsWorkWaitingToStart() bool {
	return q.startCount.Load() < q.completionGoal.Load()
}
