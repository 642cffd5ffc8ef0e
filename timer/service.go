package timer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Community-of-Gia-Lai-Team/ai-statefultask/internal/clock"
)

// Config represents timer service configuration.
type Config struct {
	// Resolution caps how long the expiration loop sleeps when no timer is
	// running, so that a stubbed clock still makes progress.
	Resolution time.Duration
}

// DefaultConfig returns the default timer service configuration.
func DefaultConfig() Config {
	return Config{
		Resolution: time.Second,
	}
}

// Service owns one Queue per distinct interval and hosts the goroutine that
// sleeps until the earliest expiration point, pops expired timers and
// signals their targets. All queue access goes through the service mutex;
// the queues themselves are not thread-safe.
type Service struct {
	config Config

	mu     sync.Mutex
	queues map[time.Duration]*Queue

	wake     chan struct{}
	started  bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// Option customises a timer Service.
type Option func(*Service)

// WithResolution overrides the idle polling resolution.
func WithResolution(resolution time.Duration) Option {
	return func(s *Service) {
		s.config.Resolution = resolution
	}
}

// New creates a timer service.
func New(options ...Option) *Service {
	s := &Service{
		config: DefaultConfig(),
		queues: make(map[time.Duration]*Queue),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Start launches the expiration goroutine. It may be called once.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("timer service already started")
	}
	ctx, s.cancelFn = context.WithCancel(ctx)
	s.started = true
	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// After schedules a wake-up for target after the given interval and returns
// a handle that can be passed to Cancel while the timer is still running.
func (s *Service) After(interval time.Duration, target Signaler) Handle {
	if target == nil {
		panic("timer: After called with nil target")
	}
	s.mu.Lock()
	queue, ok := s.queues[interval]
	if !ok {
		queue = NewQueue()
		s.queues[interval] = queue
	}
	sequence := queue.Push(NewTimer(clock.Now().Add(interval), target))
	s.mu.Unlock()

	s.notify()
	return Handle{Interval: interval, Sequence: sequence}
}

// Cancel cancels a running timer. The handle must identify a timer that has
// not expired yet; cancelling an expired or already-cancelled timer is a
// programmer error. It returns true when the cancelled timer was the front
// one of its interval queue.
func (s *Service) Cancel(handle Handle) bool {
	s.mu.Lock()
	queue, ok := s.queues[handle.Interval]
	if !ok {
		s.mu.Unlock()
		panic(fmt.Sprintf("timer: Cancel: no queue for interval %v", handle.Interval))
	}
	wasCurrent := queue.Cancel(handle.Sequence)
	s.mu.Unlock()
	if wasCurrent {
		s.notify()
	}
	return wasCurrent
}

// NextExpirationPoint returns the earliest expiration point across all
// interval queues, or NoExpiration when no timer is running.
func (s *Service) NextExpirationPoint() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextExpirationLocked()
}

// Shutdown stops the expiration goroutine and waits for it to exit.
func (s *Service) Shutdown() {
	s.mu.Lock()
	cancelFn := s.cancelFn
	s.cancelFn = nil
	s.mu.Unlock()
	if cancelFn != nil {
		cancelFn()
	}
	s.wg.Wait()
}

func (s *Service) nextExpirationLocked() time.Time {
	next := NoExpiration
	for _, queue := range s.queues {
		if queue.Empty() {
			continue
		}
		expiration := queue.NextExpirationPoint()
		if next.IsZero() || expiration.Before(next) {
			next = expiration
		}
	}
	return next
}

func (s *Service) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run pops expired timers and signals their targets until ctx is cancelled.
func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		now := clock.Now()

		s.mu.Lock()
		var fired []*Timer
		for _, queue := range s.queues {
			for !queue.Empty() && !queue.NextExpirationPoint().After(now) {
				fired = append(fired, queue.Pop())
			}
		}
		next := s.nextExpirationLocked()
		s.mu.Unlock()

		// Signal outside the service lock; Signal may re-enter After.
		for _, timer := range fired {
			timer.Target().Signal()
		}

		sleep := s.config.Resolution
		if !next.IsZero() {
			if until := next.Sub(clock.Now()); until < sleep {
				sleep = until
			}
		}
		if sleep <= 0 {
			// More work is already due; just re-check the context.
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}

		wait := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			wait.Stop()
			return
		case <-s.wake:
			wait.Stop()
		case <-wait.C:
		}
	}
}

// LogStats writes a one-line summary of queue occupancy, for debugging.
func (s *Service) LogStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for interval, queue := range s.queues {
		log.Printf("timer: interval=%v size=%d cancelled=%d offset=%d",
			interval, queue.Size(), queue.CancelledInQueue(), queue.SequenceOffset())
	}
}
