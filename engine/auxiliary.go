package engine

import "sync"

// The auxiliary engine is the process-wide fallback: a task with no target,
// current or default engine is added here when it yields, or when it is
// aborted while waiting; an engineless task that does neither keeps running
// inline. It has no
// duration budget and is created at first use. A host that wants those
// tasks to actually run pairs a goroutine with it like with any engine.
var (
	auxiliaryMu sync.Mutex
	auxiliary   *Engine
)

// Auxiliary returns the process-wide fallback engine, creating it on first
// use.
func Auxiliary() *Engine {
	auxiliaryMu.Lock()
	defer auxiliaryMu.Unlock()
	if auxiliary == nil {
		auxiliary = New("auxiliary")
	}
	return auxiliary
}

// SetAuxiliary replaces the process-wide fallback engine and returns the
// previous one. Tests use it to keep scheduling hermetic; pass nil to reset
// to lazy creation.
func SetAuxiliary(e *Engine) *Engine {
	auxiliaryMu.Lock()
	defer auxiliaryMu.Unlock()
	previous := auxiliary
	auxiliary = e
	return previous
}
