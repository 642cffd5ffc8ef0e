// Package event journals task state transitions and distributes them to
// interested listeners. It is the observe-only debug surface of the
// runtime: handlers may watch every transition but never mutate tasks or
// engines, and publishing never stalls the engines that emit.
package event
