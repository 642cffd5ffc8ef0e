package statefultask

import (
	"github.com/Community-of-Gia-Lai-Team/ai-statefultask/event"
	"github.com/Community-of-Gia-Lai-Team/ai-statefultask/timer"
)

// Option customises the Service.
type Option func(s *Service)

// WithConfig replaces the entire configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithEngines replaces the configured engine set.
func WithEngines(engines ...EngineConfig) Option {
	return func(s *Service) {
		s.config.Engines = engines
	}
}

// WithEventService sets a pre-built event service.
func WithEventService(service *event.Service) Option {
	return func(s *Service) {
		s.events = service
	}
}

// WithTimerService sets a pre-built timer service.
func WithTimerService(service *timer.Service) Option {
	return func(s *Service) {
		s.timer = service
	}
}
