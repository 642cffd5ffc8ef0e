package statefultask

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Community-of-Gia-Lai-Team/ai-statefultask/engine"
	"github.com/Community-of-Gia-Lai-Team/ai-statefultask/event"
	"github.com/Community-of-Gia-Lai-Team/ai-statefultask/timer"
	"github.com/Community-of-Gia-Lai-Team/ai-statefultask/tracing"
)

// Version identifies this runtime build to the tracing resource.
const Version = "0.1.0"

// Service assembles the runtime: the configured engines, the timer service
// that wakes sleeping tasks and the event service distributing transition
// events to listeners.
type Service struct {
	config  *Config
	engines map[string]*engine.Engine
	order   []string
	timer   *timer.Service
	events  *event.Service
	runtime *Runtime
}

// New builds a Service from the supplied options.
func New(options ...Option) (*Service, error) {
	s := &Service{config: DefaultConfig()}
	for _, opt := range options {
		opt(s)
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) init() error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	if s.config.Tracing.Enabled {
		name := s.config.Tracing.ServiceName
		if name == "" {
			name = "statefultask"
		}
		version := s.config.Tracing.ServiceVersion
		if version == "" {
			version = Version
		}
		if err := tracing.Init(name, version, s.config.Tracing.OutputFile); err != nil {
			return fmt.Errorf("failed to initialise tracing: %w", err)
		}
	}

	s.engines = make(map[string]*engine.Engine, len(s.config.Engines))
	for i := range s.config.Engines {
		ec := &s.config.Engines[i]
		e := engine.New(ec.Name, engine.WithMaxDuration(ec.MaxDuration()))
		s.engines[ec.Name] = e
		s.order = append(s.order, ec.Name)
		if ec.Auxiliary {
			engine.SetAuxiliary(e)
		}
	}

	if s.timer == nil {
		options := []timer.Option(nil)
		if s.config.Timer.ResolutionMs > 0 {
			options = append(options, timer.WithResolution(time.Duration(s.config.Timer.ResolutionMs)*time.Millisecond))
		}
		s.timer = timer.New(options...)
	}

	if s.events == nil {
		events, err := s.newEventService()
		if err != nil {
			return err
		}
		s.events = events
	}
	if err := s.bridgeTransitions(); err != nil {
		return err
	}

	s.runtime = &Runtime{service: s}
	return nil
}

func (s *Service) newEventService() (*event.Service, error) {
	switch s.config.Events.Vendor {
	case "", "memory":
		return event.New(event.VendorMemory)
	case "fs":
		baseURL := s.config.Events.BaseURL
		return event.New(event.VendorFs,
			event.WithNewFsJournalConfig(func(name string) event.FsConfig {
				return event.FsConfig{BaseURL: baseURL + "/" + name}
			}))
	}
	return nil, fmt.Errorf("unsupported events vendor: %s", s.config.Events.Vendor)
}

// The engine observer hook is process-wide and permanent, so it is
// registered once and routed through a swappable publisher pointer; the
// most recently initialised Service owns the stream.
var (
	transitionOnce      sync.Once
	transitionPublisher atomic.Pointer[event.Publisher[engine.Transition]]
)

func (s *Service) bridgeTransitions() error {
	publisher, err := event.PublisherOf[engine.Transition](s.events)
	if err != nil {
		return fmt.Errorf("failed to create transition publisher: %w", err)
	}
	transitionPublisher.Store(publisher)
	transitionOnce.Do(func() {
		engine.RegisterObserver(func(transition engine.Transition) {
			target := transitionPublisher.Load()
			if target == nil {
				return
			}
			ctx := &event.Context{
				TaskID:    transition.TaskID,
				TaskName:  transition.TaskName,
				Engine:    transition.Engine,
				EventType: string(transition.Event),
			}
			if err := target.Publish(context.Background(), event.NewEvent(ctx, transition)); err != nil {
				log.Printf("statefultask: failed to publish transition event: %v", err)
			}
		})
	})
	return nil
}

// Runtime returns the runtime façade.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}

// Events returns the event service distributing transition events.
func (s *Service) Events() *event.Service {
	return s.events
}
