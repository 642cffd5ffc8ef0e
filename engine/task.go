package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Community-of-Gia-Lai-Team/ai-statefultask/internal/clock"
	"github.com/Community-of-Gia-Lai-Team/ai-statefultask/internal/idgen"
	"github.com/Community-of-Gia-Lai-Team/ai-statefultask/tracing"
)

// ErrAborted is reported by Task.Err for tasks that ended through Abort.
var ErrAborted = errors.New("task aborted")

// ErrKilled is reported by Task.Err for tasks removed by Engine.Flush or Kill.
var ErrKilled = errors.New("task killed")

// Task is the control block of one cooperative task. Its Actor is stepped by
// engines; between steps the task records where it wants to run next through
// the target/current/default engine references. All control methods are safe
// to call from any goroutine unless noted otherwise; Yield, Wait, Target,
// Finish and the timed yields are meant to be called from inside the task's
// own step.
type Task struct {
	id    string
	name  string
	actor Actor

	flags bits

	// mu guards the engine references and the per-step scratch state below.
	// It is never held while an engine lock is held or while the actor runs.
	mu            sync.Mutex
	targetEngine  *Engine
	currentEngine *Engine
	defaultEngine *Engine
	condition     func() bool
	yielded       bool
	sleepUntil    time.Time
	sleepFrame    uint64
	sleepEngine   *Engine
	onFinish      func(*Task)
	span          *tracing.TaskSpan

	// stepMu serialises multiplex so a Signal racing a dispatch tick can
	// never step the task twice concurrently.
	stepMu     sync.Mutex
	finishOnce sync.Once
}

// TaskOption customises a Task at construction.
type TaskOption func(*Task)

// WithOnFinish registers a callback invoked exactly once when the task
// reaches finished or aborted. Tasks removed by Flush do not call back.
func WithOnFinish(onFinish func(*Task)) TaskOption {
	return func(t *Task) {
		t.onFinish = onFinish
	}
}

// NewTask creates a task around the supplied actor. The task does nothing
// until Run is called.
func NewTask(name string, actor Actor, options ...TaskOption) *Task {
	if actor == nil {
		panic("engine: NewTask called with nil actor")
	}
	t := &Task{
		id:    idgen.New(),
		name:  name,
		actor: actor,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// ID returns the task's opaque identity.
func (t *Task) ID() string { return t.id }

// Name returns the task's human readable name.
func (t *Task) Name() string { return t.name }

// Active reports whether the task has been run and not yet terminated.
func (t *Task) Active() bool { return t.flags.has(flagActive) }

// Idle reports whether the task is waiting for a signal.
func (t *Task) Idle() bool { return t.flags.has(flagIdle) }

// Finished reports whether the task reached a terminal state through Finish
// or Abort.
func (t *Task) Finished() bool { return t.flags.has(flagFinished) }

// Aborted reports whether Abort was requested or completed.
func (t *Task) Aborted() bool { return t.flags.has(flagAborted) }

// Killed reports whether the task was removed by Kill or Engine.Flush.
func (t *Task) Killed() bool { return t.flags.has(flagKilled) }

// Err returns ErrAborted or ErrKilled for tasks that ended abnormally, nil
// otherwise.
func (t *Task) Err() error {
	switch {
	case t.flags.has(flagKilled):
		return ErrKilled
	case t.flags.has(flagAborted):
		return ErrAborted
	}
	return nil
}

// schedulable reports whether an engine should keep this task queued.
func (t *Task) schedulable() bool {
	flags := t.flags.load()
	return flags&flagActive != 0 && flags&(flagIdle|flagFinished|flagKilled) == 0
}

// engine returns the task's current engine reference.
func (t *Task) engine() *Engine {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentEngine
}

// CurrentEngine returns the engine the task is presently queued on, nil when
// it is idle or engineless.
func (t *Task) CurrentEngine() *Engine { return t.engine() }

// DefaultEngine returns the engine fixed at Run, possibly nil.
func (t *Task) DefaultEngine() *Engine {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.defaultEngine
}

// TargetEngine returns the last engine passed to Target or a yield, possibly
// nil.
func (t *Task) TargetEngine() *Engine {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.targetEngine
}

// Run starts the task. With a default engine the task is queued there and
// stepped by that engine's Mainloop. Without one the task runs immediately
// on the calling goroutine and keeps running until it goes idle, terminates
// or acquires an engine through a yield; make sure such a task yields or
// waits quickly.
func (t *Task) Run(defaultEngine *Engine) {
	if t.flags.has(flagActive) {
		panic(fmt.Sprintf("engine: task %s already running", t.name))
	}
	if t.flags.has(flagFinished | flagKilled) {
		panic(fmt.Sprintf("engine: task %s already terminated", t.name))
	}
	span := tracing.BeginTask(t.id, t.name)

	t.mu.Lock()
	t.defaultEngine = defaultEngine
	t.currentEngine = defaultEngine
	t.span = span
	t.mu.Unlock()
	t.flags.set(flagActive)
	notify(t, defaultEngine, EventRun)

	if defaultEngine != nil {
		defaultEngine.Add(t)
		return
	}
	t.runInline(InitialRun)
}

// runInline steps an engineless task on the calling goroutine until it goes
// idle, terminates or migrates onto an engine.
func (t *Task) runInline(run RunType) {
	for {
		t.multiplex(run, nil)
		run = NormalRun
		if !t.schedulable() {
			return
		}
		t.mu.Lock()
		current := t.currentEngine
		t.mu.Unlock()
		if current != nil {
			// Reconciliation queued the task there already.
			return
		}
	}
}

// Target records engine as the task's explicit next-engine preference
// without rescheduling it. Passing nil clears the preference.
func (t *Task) Target(engine *Engine) {
	t.mu.Lock()
	t.targetEngine = engine
	t.mu.Unlock()
}

// Yield ends the current step and reschedules the task. With an engine the
// task migrates there (and the engine becomes the target); with nil it is
// rescheduled on its current engine, or on the auxiliary engine when it has
// none. Meant to be called from inside the task's step.
func (t *Task) Yield(engine *Engine) {
	t.mu.Lock()
	if engine != nil {
		t.targetEngine = engine
	}
	t.yielded = true
	t.mu.Unlock()
}

// YieldFrames reschedules the task on engine and skips its step until the
// engine has completed frames more Mainloop passes. The engine must have a
// max duration set: frame sleeping relies on the host loop regaining
// control every tick.
func (t *Task) YieldFrames(engine *Engine, frames uint64) {
	if engine == nil || !engine.HasMaxDuration() {
		panic("engine: YieldFrames requires an engine with a max duration")
	}
	t.mu.Lock()
	t.targetEngine = engine
	t.yielded = true
	t.sleepEngine = engine
	t.sleepFrame = engine.Frame() + frames
	t.sleepUntil = time.Time{}
	t.mu.Unlock()
}

// YieldMs reschedules the task on engine and skips its step until the given
// wall-clock duration has passed. The engine must have a max duration set.
func (t *Task) YieldMs(engine *Engine, duration time.Duration) {
	if engine == nil || !engine.HasMaxDuration() {
		panic("engine: YieldMs requires an engine with a max duration")
	}
	t.mu.Lock()
	t.targetEngine = engine
	t.yielded = true
	t.sleepUntil = clock.Now().Add(duration)
	t.sleepFrame = 0
	t.sleepEngine = nil
	t.mu.Unlock()
}

// Wait suspends the task until Signal arrives and the condition, when given,
// holds. A wake that arrived while the task was still active is consumed
// instead of suspending. Meant to be called from inside the task's step.
func (t *Task) Wait(condition func() bool) {
	for {
		old := t.flags.load()
		if old&flagSignalPending == 0 {
			break
		}
		if t.flags.cas(old, old&^flagSignalPending) {
			return
		}
	}
	if condition != nil && condition() {
		return
	}
	t.mu.Lock()
	t.condition = condition
	t.mu.Unlock()
	t.flags.set(flagIdle)
	// A Signal that slipped in between the pending-wake check and going
	// idle recorded flagSignalPending; consume it so the wake is not lost.
	for {
		old := t.flags.load()
		if old&flagSignalPending == 0 || old&flagIdle == 0 {
			return
		}
		if t.flags.cas(old, old&^(flagSignalPending|flagIdle)) {
			t.mu.Lock()
			t.condition = nil
			t.mu.Unlock()
			return
		}
	}
}

// Signal notifies a waiting task that it may resume. If the task is still
// active the wake is recorded and consumed by its next Wait; if it is
// waiting it is rescheduled on its canonical engine, or stepped inline on
// the calling goroutine when it has none. Safe from any goroutine.
func (t *Task) Signal() {
	for {
		old := t.flags.load()
		if old&(flagFinished|flagKilled) != 0 {
			return
		}
		if old&flagIdle == 0 {
			if old&flagActive == 0 {
				return
			}
			if t.flags.cas(old, old|flagSignalPending) {
				return
			}
			continue
		}
		break
	}

	t.mu.Lock()
	if !t.flags.has(flagIdle) {
		// Lost the race against another Signal.
		t.mu.Unlock()
		return
	}
	if t.condition != nil && !t.condition() {
		t.mu.Unlock()
		return
	}
	t.condition = nil
	t.flags.clear(flagIdle)
	canonical := t.targetEngine
	if canonical == nil {
		canonical = t.defaultEngine
	}
	t.currentEngine = canonical
	t.mu.Unlock()

	notify(t, canonical, EventSignal)
	if canonical != nil {
		canonical.Add(t)
		return
	}
	t.runInline(ScheduledRun)
}

// Finish marks the task as successfully completed. The terminal transition
// happens when the current step returns. Meant to be called from inside the
// task's step.
func (t *Task) Finish() {
	t.flags.set(flagFinished)
}

// Abort requests abnormal termination. It is level-triggered and idempotent:
// the next step observes the bit and ends the task. A waiting task is woken
// so the abort is observed promptly; unlike Signal, an engineless waiting
// task is routed to the auxiliary engine rather than stepped inline, so the
// terminal callbacks never run on the aborting goroutine. Safe from any
// goroutine.
func (t *Task) Abort() {
	for {
		old := t.flags.load()
		if old&(flagFinished|flagKilled|flagAborted) != 0 {
			return
		}
		if t.flags.cas(old, old|flagAborted) {
			break
		}
	}

	t.mu.Lock()
	if !t.flags.has(flagIdle) {
		t.mu.Unlock()
		return
	}
	t.condition = nil
	t.flags.clear(flagIdle)
	canonical := t.targetEngine
	if canonical == nil {
		canonical = t.defaultEngine
	}
	if canonical == nil {
		canonical = Auxiliary()
	}
	t.currentEngine = canonical
	t.mu.Unlock()
	canonical.Add(t)
}

// Kill terminates the task without running any further steps or callbacks.
// Used by Engine.Flush at shutdown; may also be called directly.
func (t *Task) Kill() {
	t.kill(nil)
}

func (t *Task) kill(from *Engine) {
	for {
		old := t.flags.load()
		if old&(flagFinished|flagKilled) != 0 {
			return
		}
		if t.flags.cas(old, old|flagKilled) {
			break
		}
	}
	t.terminate(from, EventKill, false)
}

// multiplex performs one dispatched step of the task on behalf of ran (nil
// for inline running) and reconciles the engine references afterwards.
func (t *Task) multiplex(run RunType, ran *Engine) {
	t.stepMu.Lock()
	defer t.stepMu.Unlock()

	flags := t.flags.load()
	if flags&(flagFinished|flagKilled) != 0 {
		return
	}
	if flags&flagAborted != 0 {
		t.finishAborted(ran)
		return
	}
	if flags&flagActive == 0 || flags&flagIdle != 0 {
		// Stale queue entry; the engine drops it after this call.
		return
	}
	if run == NormalRun && t.sleeping(ran) {
		return
	}

	t.mu.Lock()
	t.yielded = false
	t.mu.Unlock()

	t.actor.MultiplexImpl(t, run)

	if t.flags.has(flagAborted) && !t.flags.has(flagFinished) {
		t.finishAborted(ran)
		return
	}
	t.reconcile(ran)
}

// sleeping reports whether a frame or wall-clock sleep target is still in
// the future, clearing expired targets as a side effect.
func (t *Task) sleeping(ran *Engine) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sleepUntil.IsZero() {
		if clock.Now().Before(t.sleepUntil) {
			return true
		}
		t.sleepUntil = time.Time{}
	}
	if t.sleepFrame != 0 {
		if t.sleepEngine == ran && ran != nil && ran.Frame() < t.sleepFrame {
			return true
		}
		t.sleepFrame = 0
		t.sleepEngine = nil
	}
	return false
}

// reconcile picks the canonical engine for the next tick and moves the task
// there when it differs from the engine that just ran it. All transitions
// funnel through here so the dispatcher rules live in one place.
func (t *Task) reconcile(ran *Engine) {
	if t.flags.has(flagKilled) {
		return
	}
	if t.flags.has(flagFinished) {
		t.terminate(ran, EventFinish, true)
		return
	}
	if t.flags.has(flagIdle) {
		t.mu.Lock()
		t.currentEngine = nil
		t.mu.Unlock()
		notify(t, ran, EventIdle)
		return
	}

	t.mu.Lock()
	canonical := t.targetEngine
	if canonical == nil {
		canonical = t.currentEngine
	}
	if canonical == nil {
		canonical = t.defaultEngine
	}
	if canonical == nil && t.yielded {
		canonical = Auxiliary()
	}
	t.currentEngine = canonical
	t.mu.Unlock()

	if canonical != nil && canonical != ran {
		notify(t, canonical, EventMigrate)
		canonical.Add(t)
	}
}

// finishAborted runs the terminal abort step and ends the task.
func (t *Task) finishAborted(ran *Engine) {
	if aborter, ok := t.actor.(Aborter); ok {
		aborter.OnAbort(t)
	}
	t.flags.set(flagFinished)
	t.terminate(ran, EventAbort, true)
}

// terminate releases the engine references, fires the terminal callbacks and
// closes the lifecycle span. Callbacks are suppressed for killed tasks.
func (t *Task) terminate(ran *Engine, event EventType, callbacks bool) {
	t.flags.clear(flagActive | flagIdle)
	t.mu.Lock()
	t.targetEngine = nil
	t.currentEngine = nil
	span := t.span
	t.span = nil
	onFinish := t.onFinish
	t.mu.Unlock()

	notify(t, ran, event)
	if callbacks {
		t.finishOnce.Do(func() {
			if finisher, ok := t.actor.(Finisher); ok {
				finisher.OnFinish(t)
			}
			if onFinish != nil {
				onFinish(t)
			}
		})
	}
	span.End(t.Err())
}
