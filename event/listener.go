package event

import (
	"context"
	"log"
	"time"
)

// Listener consumes events from a publisher's journal and hands them to a
// handler on its own goroutine. Handlers observe; they must not mutate
// tasks or engines.
type Listener[T any] struct {
	publisher *Publisher[T]
	handler   func(*Event[T])
	cancelFn  context.CancelFunc
}

// NewListener creates a listener for the given publisher and handler.
func NewListener[T any](publisher *Publisher[T], handler func(*Event[T])) *Listener[T] {
	return &Listener[T]{
		publisher: publisher,
		handler:   handler,
	}
}

// Start launches the consuming goroutine.
func (l *Listener[T]) Start() {
	ctx, cancelFn := context.WithCancel(context.Background())
	l.cancelFn = cancelFn
	go func() {
		for {
			event, err := l.publisher.Consume(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("event: error consuming event: %v", err)
				continue
			}
			if event == nil {
				// Non-blocking journals report exhaustion rather than park.
				time.Sleep(10 * time.Millisecond)
				continue
			}
			l.handler(event)
		}
	}()
}

// Stop terminates the consuming goroutine.
func (l *Listener[T]) Stop() {
	if l.cancelFn != nil {
		l.cancelFn()
	}
}
