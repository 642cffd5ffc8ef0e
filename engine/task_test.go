package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// swapAuxiliary installs a hermetic auxiliary engine for the test duration.
func swapAuxiliary(t *testing.T) *Engine {
	t.Helper()
	aux := New("test-auxiliary")
	previous := SetAuxiliary(aux)
	t.Cleanup(func() { SetAuxiliary(previous) })
	return aux
}

func TestTask_MigratesOnYield(t *testing.T) {
	e1 := New("first")
	e2 := New("second")

	task := NewTask("migrant", ActorFunc(func(task *Task, run RunType) {
		if task.CurrentEngine() == e1 {
			task.Yield(e2)
			return
		}
		task.Finish()
	}))
	task.Run(e1)
	assert.True(t, e1.Has(task))

	drain(t, e1)

	assert.False(t, e1.Has(task), "migrated task left the first queue")
	assert.True(t, e2.Has(task), "migrated task is queued on the target")
	assert.Same(t, e2, task.CurrentEngine())
	assert.Same(t, e2, task.TargetEngine())
	assert.False(t, task.Finished())

	drain(t, e2)
	assert.True(t, task.Finished())
	assert.NoError(t, task.Err())
}

func TestTask_YieldWakesTargetEngine(t *testing.T) {
	e1 := New("source")
	e2 := New("target")

	task := NewTask("waker", ActorFunc(func(task *Task, run RunType) {
		if task.CurrentEngine() == e1 {
			task.Yield(e2)
			return
		}
		task.Finish()
	}))
	task.Run(e1)

	done := make(chan struct{})
	go func() {
		e2.Mainloop()
		close(done)
	}()
	assert.Eventually(t, func() bool { return e2.Waiting() }, time.Second, time.Millisecond)

	// Dispatching on e1 migrates the task and wakes the parked e2.
	drain(t, e1)
	assert.Eventually(t, func() bool { return task.Finished() }, time.Second, time.Millisecond)
	release(t, e2, done)
}

func TestTask_WaitAndSignal(t *testing.T) {
	e := New("main")
	var condition atomic.Bool
	var steps atomic.Int32

	task := NewTask("waiter", ActorFunc(func(task *Task, run RunType) {
		switch steps.Add(1) {
		case 1:
			task.Wait(condition.Load)
		default:
			task.Finish()
		}
	}))
	task.Run(e)
	drain(t, e)

	assert.True(t, task.Idle())
	assert.Nil(t, task.CurrentEngine())
	assert.False(t, e.Has(task), "waiting task left the queue")

	// A signal with the condition still false leaves the task waiting.
	task.Signal()
	assert.True(t, task.Idle())

	condition.Store(true)
	task.Signal()
	assert.False(t, task.Idle())
	assert.True(t, e.Has(task), "signalled task is re-queued on its canonical engine")

	drain(t, e)
	assert.True(t, task.Finished())
	assert.Equal(t, int32(2), steps.Load())
}

func TestTask_SignalWhileActiveIsConsumedByNextWait(t *testing.T) {
	e := New("main")
	var steps atomic.Int32

	task := NewTask("eager", ActorFunc(func(task *Task, run RunType) {
		switch steps.Add(1) {
		case 1:
			// The wake arrives while the task is still active ...
			task.Signal()
			// ... so the next wait consumes it instead of suspending.
			task.Wait(nil)
		default:
			task.Finish()
		}
	}))
	task.Run(e)
	drain(t, e)

	assert.True(t, task.Finished())
	assert.Equal(t, int32(2), steps.Load())
}

type abortActor struct {
	steps    atomic.Int32
	aborts   atomic.Int32
	finishes atomic.Int32
}

func (a *abortActor) MultiplexImpl(task *Task, run RunType) {
	a.steps.Add(1)
	task.Wait(nil)
}

func (a *abortActor) OnAbort(task *Task) { a.aborts.Add(1) }

func (a *abortActor) OnFinish(task *Task) { a.finishes.Add(1) }

func TestTask_AbortIsIdempotent(t *testing.T) {
	e := New("main")
	actor := &abortActor{}
	task := NewTask("doomed", actor)
	task.Run(e)
	drain(t, e)
	assert.True(t, task.Idle())

	// Abort wakes the waiting task so the next step observes it; repeating
	// it does not reset anything.
	task.Abort()
	task.Abort()
	assert.True(t, e.Has(task))

	drain(t, e)

	assert.True(t, task.Aborted())
	assert.True(t, task.Finished())
	assert.False(t, task.Active())
	assert.ErrorIs(t, task.Err(), ErrAborted)
	assert.Equal(t, int32(1), actor.aborts.Load())
	assert.Equal(t, int32(1), actor.finishes.Load())
	assert.Equal(t, int32(1), actor.steps.Load(), "aborted task never ran a normal step again")

	task.Abort()
	assert.Equal(t, int32(1), actor.aborts.Load())
}

func TestTask_EnginelessRunsInline(t *testing.T) {
	var steps atomic.Int32
	task := NewTask("inline", ActorFunc(func(task *Task, run RunType) {
		if steps.Add(1) == 3 {
			task.Finish()
		}
	}))
	task.Run(nil)

	// Without a default engine the task ran to completion on this
	// goroutine before Run returned.
	assert.Equal(t, int32(3), steps.Load())
	assert.True(t, task.Finished())
}

func TestTask_EnginelessYieldRoutesToAuxiliary(t *testing.T) {
	aux := swapAuxiliary(t)

	task := NewTask("drifter", ActorFunc(func(task *Task, run RunType) {
		if task.CurrentEngine() == nil {
			task.Yield(nil)
			return
		}
		task.Finish()
	}))
	task.Run(nil)

	assert.True(t, aux.Has(task), "engineless yield routed to the auxiliary engine")
	assert.Same(t, aux, task.CurrentEngine())

	drain(t, aux)
	assert.True(t, task.Finished())
}

func TestTask_EnginelessSignalRunsInline(t *testing.T) {
	var steps atomic.Int32
	task := NewTask("nomad", ActorFunc(func(task *Task, run RunType) {
		if steps.Add(1) == 1 {
			task.Wait(nil)
			return
		}
		task.Finish()
	}))
	task.Run(nil)
	assert.True(t, task.Idle())

	task.Signal()
	assert.True(t, task.Finished(), "signal stepped the engineless task on this goroutine")
	assert.Equal(t, int32(2), steps.Load())
}

func TestTask_RunTypeProgression(t *testing.T) {
	e := New("main")
	var runs []RunType
	task := NewTask("typed", ActorFunc(func(task *Task, run RunType) {
		runs = append(runs, run)
		switch len(runs) {
		case 1:
			task.Wait(nil)
		case 2:
			task.Finish()
		}
	}))
	// Engineless initial run, then a signal wake.
	task.Run(nil)
	task.Signal()

	assert.Equal(t, []RunType{InitialRun, ScheduledRun}, runs)
	assert.True(t, task.Finished())
	assert.Equal(t, 0, e.Size())
}

func TestTask_YieldFramesRequiresBudgetedEngine(t *testing.T) {
	unbudgeted := New("plain")
	budgeted := New("frames", WithMaxDuration(2*time.Millisecond))

	task := NewTask("sleeper", ActorFunc(func(task *Task, run RunType) {}))
	assert.Panics(t, func() { task.YieldFrames(unbudgeted, 1) })
	assert.Panics(t, func() { task.YieldMs(unbudgeted, time.Millisecond) })
	assert.NotPanics(t, func() { task.YieldFrames(budgeted, 1) })
}

func TestTask_YieldMsSleepsAcrossTicks(t *testing.T) {
	e := New("ticker", WithMaxDuration(2*time.Millisecond))
	var steps atomic.Int32
	start := time.Now()
	var woke time.Time

	task := NewTask("napper", ActorFunc(func(task *Task, run RunType) {
		if steps.Add(1) == 1 {
			task.YieldMs(e, 30*time.Millisecond)
			return
		}
		woke = time.Now()
		task.Finish()
	}))
	task.Run(e)

	done := make(chan struct{})
	go func() {
		for !task.Finished() {
			e.Mainloop()
		}
		close(done)
	}()
	assert.Eventually(t, func() bool { return task.Finished() }, time.Second, time.Millisecond)
	release(t, e, done)

	assert.Equal(t, int32(2), steps.Load(), "sleeping steps were skipped, not dispatched")
	assert.GreaterOrEqual(t, woke.Sub(start), 30*time.Millisecond)
}

func TestTask_YieldFramesSkipsTicks(t *testing.T) {
	e := New("frames", WithMaxDuration(time.Millisecond))
	var steps atomic.Int32
	var wakeFrame uint64

	task := NewTask("frame-sleeper", ActorFunc(func(task *Task, run RunType) {
		if steps.Add(1) == 1 {
			wakeFrame = e.Frame() + 3
			task.YieldFrames(e, 3)
			return
		}
		assert.GreaterOrEqual(t, e.Frame(), wakeFrame)
		task.Finish()
	}))
	task.Run(e)

	done := make(chan struct{})
	go func() {
		for !task.Finished() {
			e.Mainloop()
		}
		close(done)
	}()
	assert.Eventually(t, func() bool { return task.Finished() }, time.Second, time.Millisecond)
	release(t, e, done)
	assert.Equal(t, int32(2), steps.Load())
}

func TestTask_TargetOverridesDefault(t *testing.T) {
	e1 := New("default")
	e2 := New("preferred")

	task := NewTask("picky", ActorFunc(func(task *Task, run RunType) {
		if task.TargetEngine() == nil {
			task.Target(e2)
			task.Yield(nil)
			return
		}
		task.Finish()
	}))
	task.Run(e1)
	drain(t, e1)

	// The target engine heads the canonical chain.
	assert.True(t, e2.Has(task))
	assert.False(t, e1.Has(task))

	drain(t, e2)
	assert.True(t, task.Finished())
}

func TestTask_RunPreconditions(t *testing.T) {
	e := New("main")
	task := NewTask("once", ActorFunc(func(task *Task, run RunType) {}))
	task.Run(e)
	assert.Panics(t, func() { task.Run(e) }, "running an active task")

	task.Abort()
	drain(t, e)
	assert.Panics(t, func() { task.Run(e) }, "running a terminated task")
}
