// Package engine implements the core of the cooperative task runtime: the
// Engine (a FIFO queue plus dispatch loop bound to one host goroutine), the
// Task control block whose state machine is stepped by engines, and the
// process-wide auxiliary engine used as the scheduling fallback.
//
// Tasks are cooperative. A task's step function must return promptly; the
// dispatcher never preempts it. Between steps a task decides where it runs
// next through three engine references: the target engine (last explicit
// preference), the current engine (where it is queued now) and the default
// engine (fixed at Run). The first non-nil of the three is the canonical
// engine; while the task is active and yields with none set, the auxiliary
// engine takes over.
package engine
