package eventstore

import (
	"context"
	"sync"

	"github.com/ecomhub/gateway/internal/domain/cqrs"
)

// InMemoryEventStore implements cqrs.EventStore with a process-local
// slice. Appended events are copied in and copied out so callers cannot
// mutate the log.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events []cqrs.APIEvent
	seen   map[string]struct{}
}

// NewInMemoryEventStore creates a new in-memory event store
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		seen: make(map[string]struct{}),
	}
}

// Append writes an event to the log. A previously appended event id is
// rejected with ErrDuplicateEvent and the stored event is kept.
func (s *InMemoryEventStore) Append(_ context.Context, event *cqrs.APIEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[event.ID]; exists {
		return cqrs.ErrDuplicateEvent
	}
	s.seen[event.ID] = struct{}{}
	s.events = append(s.events, *event)
	return nil
}

// Events returns every event in append order
func (s *InMemoryEventStore) Events(_ context.Context) ([]cqrs.APIEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]cqrs.APIEvent, len(s.events))
	copy(out, s.events)
	return out, nil
}

// EventsForAggregate returns one aggregate's events in append order
func (s *InMemoryEventStore) EventsForAggregate(_ context.Context, aggregateID string) ([]cqrs.APIEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []cqrs.APIEvent
	for _, event := range s.events {
		if event.AggregateID == aggregateID {
			out = append(out, event)
		}
	}
	return out, nil
}

// AggregateVersion returns the highest stored version for an aggregate,
// zero when the aggregate has no events
func (s *InMemoryEventStore) AggregateVersion(_ context.Context, aggregateID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	version := 0
	for _, event := range s.events {
		if event.AggregateID == aggregateID && event.Version > version {
			version = event.Version
		}
	}
	return version, nil
}

// Size returns the number of stored events (for testing/monitoring)
func (s *InMemoryEventStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Ensure InMemoryEventStore implements EventStore
var _ cqrs.EventStore = (*InMemoryEventStore)(nil)
