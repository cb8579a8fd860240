package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the wire schema version stamped on new events
const SchemaVersion = 1

// AggregateBase provides common aggregate functionality
type AggregateBase struct {
	id            string
	aggregateType string
	version       int
	uncommitted   []Event
	applier       func(event interface{}) error
}

// Aggregate is the interface for all aggregates
type Aggregate interface {
	GetID() string
	GetType() string
	GetVersion() int
	StreamID() string
	UncommittedEvents() []Event
	ClearUncommitted()
	Apply(event interface{}) error
	LoadFromHistory(events []Event) error
}

// NewAggregateBase creates a new aggregate base
func NewAggregateBase(aggregateType string, applier func(interface{}) error) *AggregateBase {
	return &AggregateBase{
		id:            uuid.New().String(),
		aggregateType: aggregateType,
		version:       0,
		uncommitted:   []Event{},
		applier:       applier,
	}
}

// GetID returns the aggregate ID
func (a *AggregateBase) GetID() string {
	return a.id
}

// SetID sets the aggregate ID
func (a *AggregateBase) SetID(id string) {
	a.id = id
}

// GetType returns the aggregate type
func (a *AggregateBase) GetType() string {
	return a.aggregateType
}

// GetVersion returns the number of events applied to the aggregate
func (a *AggregateBase) GetVersion() int {
	return a.version
}

// StreamID returns the stream identifier for this aggregate instance
func (a *AggregateBase) StreamID() string {
	return StreamID(a.aggregateType, a.id)
}

// UncommittedEvents returns the events applied since the last save
func (a *AggregateBase) UncommittedEvents() []Event {
	return a.uncommitted
}

// ClearUncommitted clears the uncommitted event list
func (a *AggregateBase) ClearUncommitted() {
	a.uncommitted = []Event{}
}

// Apply mutates state through the applier and records a new uncommitted event.
// All state transitions go through the applier so that replayed state always
// matches live-derived state.
func (a *AggregateBase) Apply(event interface{}) error {
	if a.applier == nil {
		return fmt.Errorf("applier is not set")
	}

	eventType, err := EventTypeOf(event)
	if err != nil {
		return err
	}

	if err := a.applier(event); err != nil {
		return fmt.Errorf("failed to apply event: %w", err)
	}

	a.version++
	a.uncommitted = append(a.uncommitted, Event{
		ID:            uuid.New().String(),
		StreamID:      a.StreamID(),
		AggregateID:   a.id,
		AggregateType: a.aggregateType,
		Type:          eventType,
		SchemaVersion: SchemaVersion,
		Version:       a.version,
		Timestamp:     time.Now().UTC(),
		Data:          event,
	})

	return nil
}

// LoadFromHistory replays persisted events in stream order without
// recording them as uncommitted
func (a *AggregateBase) LoadFromHistory(events []Event) error {
	if a.applier == nil {
		return fmt.Errorf("applier is not set")
	}

	for _, event := range events {
		if err := a.applier(event.Data); err != nil {
			return fmt.Errorf("failed to replay event %s at version %d: %w", event.Type, event.Version, err)
		}
		a.version = event.Version
	}

	return nil
}
