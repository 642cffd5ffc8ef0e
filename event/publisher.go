package event

import (
	"context"
	"time"
)

// Publisher appends typed events to a journal.
type Publisher[T any] struct {
	journal Journal[T]
}

// NewPublisher creates a publisher backed by the given journal.
func NewPublisher[T any](journal Journal[T]) *Publisher[T] {
	return &Publisher[T]{journal: journal}
}

// Publish stamps and appends the event.
func (p *Publisher[T]) Publish(ctx context.Context, event *Event[T]) error {
	event.CreatedAt = time.Now()
	return p.journal.Append(ctx, event)
}

// Consume returns the next journal entry's event, marking it consumed.
// It returns (nil, nil) when a non-blocking journal is exhausted.
func (p *Publisher[T]) Consume(ctx context.Context) (*Event[T], error) {
	entry, err := p.journal.Next(ctx)
	if err != nil || entry == nil {
		return nil, err
	}
	if err := entry.Done(); err != nil {
		return nil, err
	}
	return entry.Event(), nil
}
