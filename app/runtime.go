package app

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kanblam/kanblam/log"
)

// queueDepth bounds how many operations can wait per task before Enqueue
// reports backpressure.
const queueDepth = 16

// queuedOp is one unit of async work bound to a task. fn runs off the update
// loop and its return value re-enters it as a message.
type queuedOp struct {
	name string
	fn   func(context.Context) tea.Msg
	// main ops touch the shared main worktree and serialize globally across
	// all tasks, not just within their own queue.
	main bool
}

// taskQueue runs one task's operations strictly in order.
type taskQueue struct {
	ops    chan queuedOp
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Runtime executes task-scoped operations in the background. Each task gets a
// FIFO queue with a dedicated worker, so two operations on the same task never
// interleave. Operations that mutate the main worktree additionally hold a
// process-wide lock, since there is only one main worktree to mutate.
type Runtime struct {
	send func(tea.Msg)

	mu     sync.Mutex
	queues map[string]*taskQueue
	closed bool

	// mainMu serializes apply, unapply, and merge across every task.
	mainMu sync.Mutex
}

// NewRuntime wires a runtime to the program's message injection point.
func NewRuntime(send func(tea.Msg)) *Runtime {
	return &Runtime{
		send:   send,
		queues: make(map[string]*taskQueue),
	}
}

// Enqueue schedules fn on the task's queue. Returns false when the queue is
// full (the op is dropped with a logged warning) or the runtime is shutting
// down; it never blocks the update loop.
func (r *Runtime) Enqueue(taskID, name string, fn func(context.Context) tea.Msg) bool {
	return r.enqueue(taskID, queuedOp{name: name, fn: fn})
}

// EnqueueMain schedules fn like Enqueue but the operation also takes the
// global main-worktree lock while it runs.
func (r *Runtime) EnqueueMain(taskID, name string, fn func(context.Context) tea.Msg) bool {
	return r.enqueue(taskID, queuedOp{name: name, fn: fn, main: true})
}

func (r *Runtime) enqueue(taskID string, op queuedOp) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	q := r.queues[taskID]
	if q == nil {
		ctx, cancel := context.WithCancel(context.Background())
		q = &taskQueue{
			ops:    make(chan queuedOp, queueDepth),
			ctx:    ctx,
			cancel: cancel,
			done:   make(chan struct{}),
		}
		r.queues[taskID] = q
		go r.worker(taskID, q)
	}
	r.mu.Unlock()

	select {
	case q.ops <- op:
		return true
	default:
		log.WarningLog.Printf("task %s queue full, dropping %s", taskID, op.name)
		return false
	}
}

// worker drains one task's queue. A cancelled task still produces a terminal
// message per pending operation so the update loop can settle its bookkeeping.
func (r *Runtime) worker(taskID string, q *taskQueue) {
	defer close(q.done)
	for {
		select {
		case <-q.ctx.Done():
			r.drainCancelled(taskID, q)
			return
		case op, ok := <-q.ops:
			if !ok {
				return
			}
			r.run(taskID, q, op)
		}
	}
}

func (r *Runtime) run(taskID string, q *taskQueue, op queuedOp) {
	if q.ctx.Err() != nil {
		r.send(opCancelledMsg{taskID: taskID, op: op.name})
		return
	}
	if op.main {
		r.mainMu.Lock()
		defer r.mainMu.Unlock()
		// The cancel may have landed while we waited for the main lock.
		if q.ctx.Err() != nil {
			r.send(opCancelledMsg{taskID: taskID, op: op.name})
			return
		}
	}
	r.send(op.fn(q.ctx))
}

func (r *Runtime) drainCancelled(taskID string, q *taskQueue) {
	for {
		select {
		case op := <-q.ops:
			r.send(opCancelledMsg{taskID: taskID, op: op.name})
		default:
			return
		}
	}
}

// CancelTask aborts the task's in-flight operation and flushes its queue.
// Pending operations each post an opCancelledMsg. The queue is removed; a
// later Enqueue for the same task starts a fresh one.
func (r *Runtime) CancelTask(taskID string) {
	r.mu.Lock()
	q := r.queues[taskID]
	delete(r.queues, taskID)
	r.mu.Unlock()
	if q == nil {
		return
	}
	q.cancel()
	<-q.done
}

// Shutdown cancels every queue and waits for the workers to exit. Pending
// operations are flushed as cancelled; no new work is accepted afterwards.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	queues := r.queues
	r.queues = nil
	r.mu.Unlock()

	for _, q := range queues {
		q.cancel()
	}
	for _, q := range queues {
		<-q.done
	}
}
