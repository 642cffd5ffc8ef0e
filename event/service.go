package event

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/viant/afs"
)

// Service hands out typed publishers and listeners backed by the configured
// journal vendor.
type Service struct {
	typedPublishers     map[reflect.Type]any
	typedListeners      map[reflect.Type]any
	mux                 *sync.RWMutex
	vendor              Vendor
	fsNewJournalConfig  func(name string) FsConfig
	memNewJournalConfig func(name string) MemoryConfig
}

// Option customises the event service.
type Option func(s *Service)

// WithNewFsJournalConfig sets the filesystem journal configuration factory.
func WithNewFsJournalConfig(newConfig func(name string) FsConfig) Option {
	return func(s *Service) {
		s.fsNewJournalConfig = newConfig
	}
}

// WithNewMemoryJournalConfig sets the memory journal configuration factory.
func WithNewMemoryJournalConfig(newConfig func(name string) MemoryConfig) Option {
	return func(s *Service) {
		s.memNewJournalConfig = newConfig
	}
}

// New creates an event service for the given journal vendor.
func New(vendor Vendor, opts ...Option) (*Service, error) {
	ret := &Service{
		vendor:          vendor,
		typedPublishers: make(map[reflect.Type]any),
		typedListeners:  make(map[reflect.Type]any),
		mux:             &sync.RWMutex{},
	}
	for _, opt := range opts {
		opt(ret)
	}
	switch vendor {
	case VendorFs:
		if ret.fsNewJournalConfig == nil {
			return nil, fmt.Errorf("fs journal vendor requires fsNewJournalConfig")
		}
	case VendorMemory:
		if ret.memNewJournalConfig == nil {
			ret.memNewJournalConfig = func(string) MemoryConfig { return DefaultMemoryConfig() }
		}
	default:
		return nil, fmt.Errorf("unsupported journal vendor: %s", vendor)
	}
	return ret, nil
}

// JournalOf returns a journal of T from the service's vendor.
func JournalOf[T any](s *Service, name string) (Journal[T], error) {
	switch s.vendor {
	case VendorFs:
		return NewFsJournal[T](afs.New(), s.fsNewJournalConfig(name))
	case VendorMemory:
		return NewMemoryJournal[T](s.memNewJournalConfig(name)), nil
	}
	return nil, fmt.Errorf("unsupported journal vendor: %s", s.vendor)
}

func keyOf[T any]() reflect.Type {
	var t T
	rType := reflect.TypeOf(&t).Elem()
	for rType.Kind() == reflect.Ptr {
		rType = rType.Elem()
	}
	return rType
}

// PublisherOf returns the shared publisher for the provided type.
func PublisherOf[T any](s *Service) (*Publisher[T], error) {
	key := keyOf[T]()
	s.mux.RLock()
	ret, ok := s.typedPublishers[key]
	s.mux.RUnlock()
	if ok {
		return ret.(*Publisher[T]), nil
	}
	journal, err := JournalOf[T](s, key.String())
	if err != nil {
		return nil, err
	}
	publisher := NewPublisher[T](journal)
	s.mux.Lock()
	s.typedPublishers[key] = publisher
	s.mux.Unlock()
	return publisher, nil
}

// SetListenerOf installs (or replaces) the listener for the provided type.
func SetListenerOf[T any](s *Service, handler func(*Event[T])) error {
	key := keyOf[T]()
	s.mux.RLock()
	existing, ok := s.typedListeners[key]
	s.mux.RUnlock()
	if ok {
		existing.(*Listener[T]).Stop()
	}
	publisher, err := PublisherOf[T](s)
	if err != nil {
		return err
	}
	listener := NewListener[T](publisher, handler)
	s.mux.Lock()
	s.typedListeners[key] = listener
	s.mux.Unlock()
	listener.Start()
	return nil
}

// Shutdown stops every listener.
func (s *Service) Shutdown() {
	s.mux.Lock()
	defer s.mux.Unlock()
	for _, listener := range s.typedListeners {
		if stopper, ok := listener.(interface{ Stop() }); ok {
			stopper.Stop()
		}
	}
}
