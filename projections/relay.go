package projections

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/checkout/domain"
	"example.com/backstage/services/checkout/eventstore"
	"example.com/backstage/services/checkout/messaging"
)

// Relay moves stored events onto the event bus and into the read models.
// The append and the publish are not one transaction; the published flag
// on each event row closes the gap. Publishing is therefore at least
// once and every consumer downstream deduplicates.
type Relay struct {
	store             eventstore.EventStore
	bus               messaging.Publisher
	checkoutProjector *CheckoutProjector
	orderProjector    *OrderProjector
	batchSize         int
	interval          time.Duration
}

// NewRelay creates a new event relay
func NewRelay(store eventstore.EventStore, bus messaging.Publisher, checkoutProjector *CheckoutProjector, orderProjector *OrderProjector, batchSize int, interval time.Duration) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{
		store:             store,
		bus:               bus,
		checkoutProjector: checkoutProjector,
		orderProjector:    orderProjector,
		batchSize:         batchSize,
		interval:          interval,
	}
}

// Run relays events until the context is cancelled
func (r *Relay) Run(ctx context.Context) error {
	log.Info().Dur("interval", r.interval).Int("batchSize", r.batchSize).Msg("Starting event relay")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.ProcessBatch(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to relay event batch")
			}
		}
	}
}

// ProcessBatch relays one batch of unpublished events in store order
func (r *Relay) ProcessBatch(ctx context.Context) error {
	events, err := r.store.Unpublished(ctx, r.batchSize)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	log.Info().Msgf("Relaying %d events", len(events))

	for _, event := range events {
		if err := r.relayEvent(ctx, event); err != nil {
			// Stop the batch so stream order is preserved on retry
			log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to relay event")
			return err
		}

		if err := r.store.MarkPublished(ctx, event.ID); err != nil {
			return err
		}
	}

	return nil
}

func (r *Relay) relayEvent(ctx context.Context, event domain.Event) error {
	meta := messaging.Metadata{
		CorrelationID: event.CorrelationID,
		CausationID:   event.ID,
	}

	if err := r.bus.Publish(ctx, event.Type, event.Data, meta); err != nil {
		return err
	}

	switch event.AggregateType {
	case "checkout":
		return r.checkoutProjector.Project(ctx, event)
	case "order":
		return r.orderProjector.Project(ctx, event)
	default:
		return nil
	}
}
