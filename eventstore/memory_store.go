package eventstore

import (
	"context"
	"sync"

	"example.com/backstage/services/checkout/domain"
)

// MemoryStore is an in-memory EventStore with the same contract as the
// GORM store. Used in tests and local runs without Postgres.
type MemoryStore struct {
	mu        sync.Mutex
	streams   map[string][]domain.Event
	order     []string
	published map[string]bool
}

// NewMemoryStore creates a new in-memory event store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams:   map[string][]domain.Event{},
		published: map[string]bool{},
	}
}

// Append atomically appends events to a stream with an optimistic
// concurrency check
func (s *MemoryStore) Append(ctx context.Context, streamID string, events []domain.Event, expectedVersion int, correlationID string) (int, error) {
	if len(events) == 0 {
		return expectedVersion, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[streamID]
	if len(stream) != expectedVersion {
		return 0, domain.ErrConcurrency
	}

	for i, event := range events {
		event.StreamID = streamID
		event.Version = expectedVersion + i + 1
		event.CorrelationID = correlationID
		s.streams[streamID] = append(s.streams[streamID], event)
		s.order = append(s.order, event.ID)
	}

	return len(s.streams[streamID]), nil
}

// Load loads all events of a stream in version order
func (s *MemoryStore) Load(ctx context.Context, streamID string) ([]domain.Event, error) {
	return s.LoadFromVersion(ctx, streamID, 0)
}

// LoadFromVersion loads the events after fromVersion
func (s *MemoryStore) LoadFromVersion(ctx context.Context, streamID string, fromVersion int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[streamID]
	events := make([]domain.Event, 0, len(stream))
	for _, event := range stream {
		if event.Version > fromVersion {
			events = append(events, event)
		}
	}

	return events, nil
}

// Unpublished returns events not yet relayed, in append order
func (s *MemoryStore) Unpublished(ctx context.Context, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := map[string]domain.Event{}
	for _, stream := range s.streams {
		for _, event := range stream {
			byID[event.ID] = event
		}
	}

	var events []domain.Event
	for _, id := range s.order {
		if s.published[id] {
			continue
		}
		events = append(events, byID[id])
		if len(events) == limit {
			break
		}
	}

	return events, nil
}

// MarkPublished marks an event as relayed
func (s *MemoryStore) MarkPublished(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.published[eventID] = true
	return nil
}
