package event

import "context"

// Vendor selects the journal implementation backing the event service.
type Vendor string

const (
	// VendorMemory keeps the journal in a bounded in-memory ring.
	VendorMemory Vendor = "memory"

	// VendorFs persists the journal through afs.
	VendorFs Vendor = "fs"
)

// Journal records task transition events in arrival order and replays them
// to a single consumer. Appending must never stall the engines that
// publish: transition events are diagnostics, and a slow consumer costs
// entries, never scheduling latency.
type Journal[T any] interface {
	// Append records an event at the tail of the journal.
	Append(ctx context.Context, event *Event[T]) error

	// Next returns the oldest unconsumed entry, blocking until one arrives
	// or ctx is cancelled. Implementations that cannot block report an
	// exhausted journal as (nil, nil).
	Next(ctx context.Context) (Entry[T], error)
}

// Entry is one journal record handed to the consumer. Exactly one of Done
// or Discard must be called, once.
type Entry[T any] interface {
	// Event returns the recorded event.
	Event() *Event[T]

	// Done marks the entry consumed.
	Done() error

	// Discard marks the entry skipped, recording the reason.
	Discard(err error) error
}
