package eventstore

import (
	"context"

	"example.com/backstage/services/checkout/domain"
)

// EventStore is the interface for append-only event storage
type EventStore interface {
	// Append atomically appends events to a stream. expectedVersion must
	// equal the stream's current version or domain.ErrConcurrency is
	// returned and nothing is persisted. Returns the new stream version.
	Append(ctx context.Context, streamID string, events []domain.Event, expectedVersion int, correlationID string) (int, error)

	// Load loads all events of a stream in version order. A missing
	// stream yields an empty slice, not an error: callers treat it as
	// "aggregate not found".
	Load(ctx context.Context, streamID string) ([]domain.Event, error)

	// LoadFromVersion loads the events after fromVersion, for incremental
	// catch-up.
	LoadFromVersion(ctx context.Context, streamID string, fromVersion int) ([]domain.Event, error)

	// Unpublished returns events not yet relayed to the event bus
	Unpublished(ctx context.Context, limit int) ([]domain.Event, error)

	// MarkPublished marks an event as relayed
	MarkPublished(ctx context.Context, eventID string) error
}
