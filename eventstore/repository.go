package eventstore

import (
	"context"

	"github.com/pkg/errors"

	"example.com/backstage/services/checkout/domain"
)

// Repository binds aggregates to the event store: load by replay, save by
// append-only of the uncommitted batch.
type Repository struct {
	store EventStore
}

// NewRepository creates a new repository over a store
func NewRepository(store EventStore) *Repository {
	return &Repository{store: store}
}

// Load replays an aggregate's stream into the given empty aggregate.
// Returns domain.ErrNotFound when the stream has no events.
func (r *Repository) Load(ctx context.Context, aggregate domain.Aggregate) error {
	events, err := r.store.Load(ctx, aggregate.StreamID())
	if err != nil {
		return errors.Wrap(err, "failed to load stream")
	}

	if len(events) == 0 {
		return domain.ErrNotFound
	}

	if err := aggregate.LoadFromHistory(events); err != nil {
		return errors.Wrap(err, "failed to replay stream")
	}

	return nil
}

// Save appends the aggregate's uncommitted events. The expected version is
// the aggregate's version before this batch. On domain.ErrConcurrency the
// caller reloads the aggregate and reapplies its operation; the repository
// never merges.
func (r *Repository) Save(ctx context.Context, aggregate domain.Aggregate, correlationID string) error {
	events := aggregate.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	expectedVersion := aggregate.GetVersion() - len(events)

	if _, err := r.store.Append(ctx, aggregate.StreamID(), events, expectedVersion, correlationID); err != nil {
		if errors.Is(err, domain.ErrConcurrency) {
			return err
		}
		return errors.Wrap(err, "failed to append events")
	}

	aggregate.ClearUncommitted()
	return nil
}
