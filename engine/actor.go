package engine

// Actor supplies a task's incremental step function. The engine invokes
// MultiplexImpl once per dispatch tick; the implementation drives the task
// through the control surface of the Task it receives (Yield, Wait, Finish,
// Abort and friends) and must return promptly.
type Actor interface {
	MultiplexImpl(task *Task, run RunType)
}

// Aborter is implemented by actors that want the terminal abort step.
type Aborter interface {
	OnAbort(task *Task)
}

// Finisher is implemented by actors that want to observe the terminal
// transition of their task when it finishes or is aborted. Killed tasks are
// not called back.
type Finisher interface {
	OnFinish(task *Task)
}

// ActorFunc adapts a plain function to the Actor interface.
type ActorFunc func(task *Task, run RunType)

// MultiplexImpl invokes f.
func (f ActorFunc) MultiplexImpl(task *Task, run RunType) {
	f(task, run)
}
