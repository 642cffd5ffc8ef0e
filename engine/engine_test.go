package engine

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// drain runs Mainloop on its own goroutine and releases it once it parks on
// an empty queue.
func drain(t *testing.T, e *Engine) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		e.Mainloop()
		close(done)
	}()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("Mainloop did not come to rest")
		default:
			e.WakeUp()
			time.Sleep(time.Millisecond)
		}
	}
}

// release wakes e until the goroutine signalling done has returned from
// Mainloop.
func release(t *testing.T, e *Engine, done <-chan struct{}) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("Mainloop did not return")
		default:
			e.WakeUp()
			time.Sleep(time.Millisecond)
		}
	}
}

func TestEngine_SingleTaskRunsUntilFinish(t *testing.T) {
	e := New("main")
	var steps atomic.Int32
	task := NewTask("counter", ActorFunc(func(task *Task, run RunType) {
		if steps.Add(1) == 5 {
			task.Finish()
		}
	}))
	task.Run(e)

	done := make(chan struct{})
	go func() {
		e.Mainloop()
		close(done)
	}()

	assert.Eventually(t, func() bool { return task.Finished() }, time.Second, time.Millisecond)
	assert.Equal(t, int32(5), steps.Load())
	assert.Equal(t, 0, e.Size())

	// The queue is empty, so the engine sleeps until an explicit wake-up.
	assert.Eventually(t, func() bool { return e.Waiting() }, time.Second, time.Millisecond)
	e.WakeUp()
	<-done
	assert.False(t, e.Waiting())
}

func TestEngine_EmptyQueueSleepsUntilWakeUp(t *testing.T) {
	e := New("sleeper")

	// A wake-up delivered while the engine is not waiting is a no-op.
	e.WakeUp()
	assert.False(t, e.Waiting())

	done := make(chan struct{})
	go func() {
		e.Mainloop()
		close(done)
	}()

	assert.Eventually(t, func() bool { return e.Waiting() }, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("Mainloop returned while parked")
	case <-time.After(20 * time.Millisecond):
	}

	e.WakeUp()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WakeUp did not release Mainloop")
	}
}

func TestEngine_AddIsIdempotent(t *testing.T) {
	e := New("main")
	task := NewTask("noop", ActorFunc(func(task *Task, run RunType) {
		task.Finish()
	}))
	task.Run(e)
	e.Add(task)
	e.Add(task)
	assert.Equal(t, 1, e.Size())
	drain(t, e)
	assert.True(t, task.Finished())
}

func TestEngine_MainloopReentrancyPanics(t *testing.T) {
	e := New("main")
	task := NewTask("reenter", ActorFunc(func(task *Task, run RunType) {
		defer task.Finish()
		assert.Panics(t, func() { e.Mainloop() })
	}))
	task.Run(e)
	drain(t, e)
}

func TestEngine_BudgetedMainloop(t *testing.T) {
	e := New("budgeted", WithMaxDuration(10*time.Millisecond))
	assert.True(t, e.HasMaxDuration())

	var tasks []*Task
	for i := 0; i < 100; i++ {
		task := NewTask(fmt.Sprintf("busy-%d", i), ActorFunc(func(task *Task, run RunType) {
			// Stays active; the budget bounds the invocation.
		}))
		task.Run(e)
		tasks = append(tasks, task)
	}

	start := time.Now()
	e.Mainloop()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	assert.Equal(t, 100, e.Size(), "unfinished tasks stay queued")
	assert.Equal(t, tasks, e.Tasks(), "FIFO order preserved")

	for _, task := range tasks {
		task.Abort()
	}
	drain(t, e)
}

func TestEngine_SetMaxDuration(t *testing.T) {
	e := New("main")
	assert.False(t, e.HasMaxDuration())
	e.SetMaxDuration(5 * time.Millisecond)
	assert.True(t, e.HasMaxDuration())
	assert.Equal(t, 5*time.Millisecond, e.MaxDuration())
	e.SetMaxDuration(0)
	assert.False(t, e.HasMaxDuration())
	assert.Equal(t, "main", e.Name())
}

func TestEngine_FlushKillsQueuedTasks(t *testing.T) {
	e := New("doomed")
	var finished atomic.Int32
	var tasks []*Task
	for i := 0; i < 3; i++ {
		task := NewTask(fmt.Sprintf("victim-%d", i), ActorFunc(func(task *Task, run RunType) {
		}), WithOnFinish(func(*Task) {
			finished.Add(1)
		}))
		task.Run(e)
		tasks = append(tasks, task)
	}
	assert.Equal(t, 3, e.Size())

	e.Flush()

	assert.Equal(t, 0, e.Size())
	for _, task := range tasks {
		assert.True(t, task.Killed())
		assert.False(t, task.Active())
		assert.ErrorIs(t, task.Err(), ErrKilled)
	}
	// Killed tasks never call back.
	assert.Equal(t, int32(0), finished.Load())

	// Post-flush additions are accepted.
	late := NewTask("late", ActorFunc(func(task *Task, run RunType) {
		task.Finish()
	}))
	late.Run(e)
	assert.Equal(t, 1, e.Size())
	drain(t, e)
	assert.True(t, late.Finished())
}
