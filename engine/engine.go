package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Community-of-Gia-Lai-Team/ai-statefultask/internal/clock"
)

// Engine dispatches tasks from Mainloop. Each engine is intended to be
// paired with one host goroutine that calls Mainloop from its outer loop;
// Add, WakeUp and Flush may be called from any goroutine.
type Engine struct {
	name string

	// maxDuration caps how long one Mainloop invocation admits new tasks.
	// Zero means no budget: Mainloop runs until quiescent.
	durationMu  sync.Mutex
	maxDuration time.Duration

	frame   atomic.Uint64
	running atomic.Bool

	// state guards the FIFO queue and the waiting flag with one mutex and
	// one condition variable, as a unit.
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Task
	waiting bool
	woken   bool
}

// Option customises an Engine.
type Option func(*Engine)

// WithMaxDuration sets the per-Mainloop duration budget. Values <= 0 leave
// the engine without a budget.
func WithMaxDuration(maxDuration time.Duration) Option {
	return func(e *Engine) {
		e.SetMaxDuration(maxDuration)
	}
}

// New constructs an engine with the given human readable name.
func New(name string, options ...Option) *Engine {
	e := &Engine{name: name}
	e.cond = sync.NewCond(&e.mu)
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Name returns the construction-time label.
func (e *Engine) Name() string {
	return e.name
}

// SetMaxDuration sets the maximum time Mainloop spends admitting new tasks
// per invocation. A value <= 0 clears the budget. Note that a step that is
// already in flight when the budget runs out is never preempted, so the
// time spent in Mainloop can exceed the budget by one step.
func (e *Engine) SetMaxDuration(maxDuration time.Duration) {
	if maxDuration < 0 {
		maxDuration = 0
	}
	e.durationMu.Lock()
	e.maxDuration = maxDuration
	e.durationMu.Unlock()
}

// HasMaxDuration reports whether a duration budget is set. Only engines with
// a budget may be used for frame or wall-clock sleeping, because those rely
// on the host loop regaining control every tick.
func (e *Engine) HasMaxDuration() bool {
	e.durationMu.Lock()
	defer e.durationMu.Unlock()
	return e.maxDuration > 0
}

// MaxDuration returns the configured budget, zero when none is set.
func (e *Engine) MaxDuration() time.Duration {
	e.durationMu.Lock()
	defer e.durationMu.Unlock()
	return e.maxDuration
}

// Frame returns the number of Mainloop passes completed so far. Frame-based
// sleeping compares against this counter.
func (e *Engine) Frame() uint64 {
	return e.frame.Load()
}

// Add appends task to the engine's queue unless it is already queued, and
// wakes the host goroutine when it is parked inside Mainloop. Adding an
// already-queued task is a no-op.
func (e *Engine) Add(task *Task) {
	if task == nil {
		return
	}
	e.mu.Lock()
	for _, queued := range e.queue {
		if queued == task {
			e.mu.Unlock()
			return
		}
	}
	e.queue = append(e.queue, task)
	if e.waiting {
		e.cond.Signal()
	}
	e.mu.Unlock()
}

// WakeUp unblocks a Mainloop parked on the condition variable. Calling it on
// an engine that is not waiting is a no-op. It never blocks on task work.
func (e *Engine) WakeUp() {
	e.mu.Lock()
	if e.waiting {
		e.woken = true
		e.cond.Signal()
	}
	e.mu.Unlock()
}

// Flush atomically removes every queued task and marks each one killed.
// Intended for shutdown, just before the remaining objects are destroyed,
// so that no task runs callbacks against objects that are going away.
// Additions after Flush are accepted but will not run unless the host
// goroutine keeps calling Mainloop.
func (e *Engine) Flush() {
	e.mu.Lock()
	flushed := e.queue
	e.queue = nil
	e.mu.Unlock()
	// Task methods are never called while holding the engine state lock.
	for _, task := range flushed {
		task.kill(e)
	}
}

// Size returns the number of queued tasks.
func (e *Engine) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Has reports whether task is currently queued on this engine.
func (e *Engine) Has(task *Task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, queued := range e.queue {
		if queued == task {
			return true
		}
	}
	return false
}

// Tasks returns a snapshot of the queue in FIFO order, for debugging.
func (e *Engine) Tasks() []*Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Task(nil), e.queue...)
}

// Waiting reports whether the host goroutine is parked inside Mainloop.
func (e *Engine) Waiting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waiting
}

// Mainloop dispatches queued tasks. Without a duration budget it keeps
// draining until every queued task finished, went idle or migrated, then
// parks on the condition variable until Add or WakeUp; a WakeUp that finds
// the queue still empty makes Mainloop return. With a budget it returns as
// soon as the budget is exceeded, leaving the remaining tasks queued in
// FIFO order, so the host loop can poll I/O before calling Mainloop again.
//
// Mainloop must not be called concurrently with itself on the same engine.
func (e *Engine) Mainloop() {
	if !e.running.CompareAndSwap(false, true) {
		panic("engine: Mainloop called re-entrantly on engine " + e.name)
	}
	defer e.running.Store(false)

	start := clock.Now()
	for {
		e.frame.Add(1)
		budget := e.MaxDuration()

		// Snapshot the queue so the state lock is never held while a task
		// runs; tasks added during this pass are seen next pass.
		e.mu.Lock()
		snapshot := append([]*Task(nil), e.queue...)
		e.mu.Unlock()

		exceeded := false
		for _, task := range snapshot {
			task.multiplex(NormalRun, e)

			// Read the task state before taking the engine lock; task
			// methods are never called while the state lock is held.
			current := task.engine()
			schedulable := task.schedulable()
			e.mu.Lock()
			if !schedulable || current != e {
				e.remove(task)
			}
			e.mu.Unlock()

			if budget > 0 && clock.Since(start) >= budget {
				// Stop admitting new tasks; in-flight work was never
				// preempted to begin with.
				exceeded = true
				break
			}
		}

		e.mu.Lock()
		if len(e.queue) > 0 {
			e.mu.Unlock()
			if exceeded {
				return
			}
			// Budgeted engines burn the remaining budget on further passes;
			// unbudgeted ones drain until quiescent.
			continue
		}

		// Quiescent: park until new work or an explicit wake-up.
		e.waiting = true
		for len(e.queue) == 0 && !e.woken {
			e.cond.Wait()
		}
		e.waiting = false
		explicit := e.woken
		e.woken = false
		empty := len(e.queue) == 0
		e.mu.Unlock()

		if explicit && empty {
			return
		}
		// Time spent parked does not count against the budget.
		start = clock.Now()
	}
}

// remove deletes task from the queue preserving FIFO order of the rest.
// Caller holds e.mu.
func (e *Engine) remove(task *Task) {
	for i, queued := range e.queue {
		if queued == task {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}
