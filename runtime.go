package statefultask

import (
	"context"
	"fmt"
	"time"

	"github.com/Community-of-Gia-Lai-Team/ai-statefultask/engine"
	"github.com/Community-of-Gia-Lai-Team/ai-statefultask/timer"
)

// Runtime is the operational façade over an assembled Service.
type Runtime struct {
	service *Service
}

// Start launches the timer service. Engines do not need starting: the host
// pairs a goroutine with each and calls Mainloop from its outer loop.
func (r *Runtime) Start(ctx context.Context) error {
	return r.service.timer.Start(ctx)
}

// Engine returns the engine with the given name, or nil.
func (r *Runtime) Engine(name string) *engine.Engine {
	return r.service.engines[name]
}

// Engines returns all configured engines in configuration order.
func (r *Runtime) Engines() []*engine.Engine {
	result := make([]*engine.Engine, 0, len(r.service.order))
	for _, name := range r.service.order {
		result = append(result, r.service.engines[name])
	}
	return result
}

// Timer returns the timer service.
func (r *Runtime) Timer() *timer.Service {
	return r.service.timer
}

// NewTask creates a task around actor. The task does nothing until Run.
func (r *Runtime) NewTask(name string, actor engine.Actor, options ...engine.TaskOption) *engine.Task {
	return engine.NewTask(name, actor, options...)
}

// After schedules a timer that signals task once interval has passed. The
// returned handle can cancel the wake-up while it is still pending.
func (r *Runtime) After(task *engine.Task, interval time.Duration) timer.Handle {
	return r.service.timer.After(interval, task)
}

// CancelTimer cancels a pending wake-up scheduled with After.
func (r *Runtime) CancelTimer(handle timer.Handle) bool {
	return r.service.timer.Cancel(handle)
}

// Shutdown flushes every engine (queued tasks are marked killed), wakes any
// parked host goroutines so they can observe the shutdown, and stops the
// timer service. Call it while other threads are quiescent, just before the
// remaining objects are destroyed.
func (r *Runtime) Shutdown(ctx context.Context) error {
	for _, name := range r.service.order {
		e := r.service.engines[name]
		e.Flush()
		e.WakeUp()
	}
	r.service.timer.Shutdown()
	if r.service.events != nil {
		r.service.events.Shutdown()
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	default:
	}
	return nil
}
