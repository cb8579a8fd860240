package handlers

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/checkout/domain"
	"example.com/backstage/services/checkout/messaging"
)

// CommandProcessor dispatches command bus messages to the handlers.
// Malformed envelopes and unknown command types are poison: redelivery
// cannot fix them, so they surface as domain.ErrPoisonMessage and the
// consumer dead-letters them.
type CommandProcessor struct {
	checkout  *CheckoutHandler
	cart      *CartHandler
	catalog   *CatalogHandler
	inventory *InventoryHandler
	order     *OrderHandler
}

// NewCommandProcessor creates a new command processor
func NewCommandProcessor(checkout *CheckoutHandler, cart *CartHandler, catalog *CatalogHandler, inventory *InventoryHandler, order *OrderHandler) *CommandProcessor {
	return &CommandProcessor{
		checkout:  checkout,
		cart:      cart,
		catalog:   catalog,
		inventory: inventory,
		order:     order,
	}
}

// ProcessMessage dispatches one command bus message
func (p *CommandProcessor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var envelope messaging.CommandEnvelope
	if err := json.Unmarshal(message.Body, &envelope); err != nil {
		return errors.Wrapf(domain.ErrPoisonMessage, "malformed command envelope: %v", err)
	}

	log.Info().Str("commandType", envelope.CommandType).Str("correlationID", envelope.Metadata.CorrelationID).Msg("Processing command")

	switch envelope.CommandType {
	case InitiateCheckout:
		var cmd InitiateCheckoutCommand
		if err := decodePayload(envelope.Payload, &cmd); err != nil {
			return err
		}
		_, err := p.checkout.HandleInitiateCheckout(ctx, cmd)
		return err

	case TakeCartSnapshot:
		var cmd TakeCartSnapshotCommand
		if err := decodePayload(envelope.Payload, &cmd); err != nil {
			return err
		}
		return p.cart.HandleTakeCartSnapshot(ctx, cmd)

	case CollectProductSnapshots:
		var cmd CollectProductSnapshotsCommand
		if err := decodePayload(envelope.Payload, &cmd); err != nil {
			return err
		}
		return p.catalog.HandleCollectProductSnapshots(ctx, cmd)

	case ValidateStock:
		var cmd ValidateStockCommand
		if err := decodePayload(envelope.Payload, &cmd); err != nil {
			return err
		}
		return p.inventory.HandleValidateStock(ctx, cmd)

	case DeductStock:
		var cmd DeductStockCommand
		if err := decodePayload(envelope.Payload, &cmd); err != nil {
			return err
		}
		return p.inventory.HandleDeductStock(ctx, cmd)

	case CreateOrder:
		var cmd CreateOrderCommand
		if err := decodePayload(envelope.Payload, &cmd); err != nil {
			return err
		}
		return p.order.HandleCreateOrder(ctx, cmd)

	case ClearCart:
		var cmd ClearCartCommand
		if err := decodePayload(envelope.Payload, &cmd); err != nil {
			return err
		}
		return p.cart.HandleClearCart(ctx, cmd)

	case ReleaseStock:
		var cmd ReleaseStockCommand
		if err := decodePayload(envelope.Payload, &cmd); err != nil {
			return err
		}
		return p.inventory.HandleReleaseStock(ctx, cmd)

	case CreateCart:
		var cmd CreateCartCommand
		if err := decodePayload(envelope.Payload, &cmd); err != nil {
			return err
		}
		return p.cart.HandleCreateCart(ctx, cmd)

	case AddCartItem:
		var cmd AddCartItemCommand
		if err := decodePayload(envelope.Payload, &cmd); err != nil {
			return err
		}
		return p.cart.HandleAddCartItem(ctx, cmd)

	case RemoveCartItem:
		var cmd RemoveCartItemCommand
		if err := decodePayload(envelope.Payload, &cmd); err != nil {
			return err
		}
		return p.cart.HandleRemoveCartItem(ctx, cmd)

	case RegisterProduct:
		var cmd RegisterProductCommand
		if err := decodePayload(envelope.Payload, &cmd); err != nil {
			return err
		}
		return p.catalog.HandleRegisterProduct(ctx, cmd)

	case ChangeProductPrice:
		var cmd ChangeProductPriceCommand
		if err := decodePayload(envelope.Payload, &cmd); err != nil {
			return err
		}
		return p.catalog.HandleChangeProductPrice(ctx, cmd)

	case DeactivateProduct:
		var cmd DeactivateProductCommand
		if err := decodePayload(envelope.Payload, &cmd); err != nil {
			return err
		}
		return p.catalog.HandleDeactivateProduct(ctx, cmd)

	case RegisterInventoryItem:
		var cmd RegisterInventoryItemCommand
		if err := decodePayload(envelope.Payload, &cmd); err != nil {
			return err
		}
		return p.inventory.HandleRegisterInventoryItem(ctx, cmd)

	case AdjustStock:
		var cmd AdjustStockCommand
		if err := decodePayload(envelope.Payload, &cmd); err != nil {
			return err
		}
		return p.inventory.HandleAdjustStock(ctx, cmd)

	default:
		return errors.Wrapf(domain.ErrPoisonMessage, "unsupported command type: %s", envelope.CommandType)
	}
}

// EventProcessor dispatches event bus messages to the checkout saga.
// Event types the saga is not interested in are acknowledged without
// action; other services subscribe to the same bus for their own needs.
type EventProcessor struct {
	checkout *CheckoutHandler
}

// NewEventProcessor creates a new event processor
func NewEventProcessor(checkout *CheckoutHandler) *EventProcessor {
	return &EventProcessor{checkout: checkout}
}

// ProcessMessage dispatches one event bus message
func (p *EventProcessor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var envelope messaging.EventEnvelope
	if err := json.Unmarshal(message.Body, &envelope); err != nil {
		return errors.Wrapf(domain.ErrPoisonMessage, "malformed event envelope: %v", err)
	}

	log.Info().Str("eventType", envelope.EventType).Str("correlationID", envelope.Metadata.CorrelationID).Msg("Processing event")

	switch envelope.EventType {
	case domain.CheckoutStepRequested:
		var event domain.CheckoutStepRequestedEvent
		if err := decodePayload(envelope.Payload, &event); err != nil {
			return err
		}
		return p.checkout.HandleStepRequested(ctx, event)

	case domain.CheckoutSagaFailed:
		var event domain.CheckoutSagaFailedEvent
		if err := decodePayload(envelope.Payload, &event); err != nil {
			return err
		}
		return p.checkout.HandleSagaFailed(ctx, event)

	case domain.CartSnapshotTaken:
		var event domain.CartSnapshotTakenEvent
		if err := decodePayload(envelope.Payload, &event); err != nil {
			return err
		}
		return p.checkout.HandleCartSnapshotTaken(ctx, event)

	case domain.CartSnapshotFailed:
		var event domain.CartSnapshotFailedEvent
		if err := decodePayload(envelope.Payload, &event); err != nil {
			return err
		}
		return p.checkout.HandleCartSnapshotFailed(ctx, event)

	case domain.ProductSnapshotsCollected:
		var event domain.ProductSnapshotsCollectedEvent
		if err := decodePayload(envelope.Payload, &event); err != nil {
			return err
		}
		return p.checkout.HandleProductSnapshotsCollected(ctx, event)

	case domain.ProductSnapshotsFailed:
		var event domain.ProductSnapshotsFailedEvent
		if err := decodePayload(envelope.Payload, &event); err != nil {
			return err
		}
		return p.checkout.HandleProductSnapshotsFailed(ctx, event)

	case domain.StockValidationCompleted:
		var event domain.StockValidationCompletedEvent
		if err := decodePayload(envelope.Payload, &event); err != nil {
			return err
		}
		return p.checkout.HandleStockValidationCompleted(ctx, event)

	case domain.StockDeductionCompleted:
		var event domain.StockDeductionCompletedEvent
		if err := decodePayload(envelope.Payload, &event); err != nil {
			return err
		}
		return p.checkout.HandleStockDeductionCompleted(ctx, event)

	case domain.OrderCreated:
		var event domain.OrderCreatedEvent
		if err := decodePayload(envelope.Payload, &event); err != nil {
			return err
		}
		return p.checkout.HandleOrderCreated(ctx, event)

	case domain.OrderCreationFailed:
		var event domain.OrderCreationFailedEvent
		if err := decodePayload(envelope.Payload, &event); err != nil {
			return err
		}
		return p.checkout.HandleOrderCreationFailed(ctx, event)

	case domain.CartCleared:
		var event domain.CartClearedEvent
		if err := decodePayload(envelope.Payload, &event); err != nil {
			return err
		}
		return p.checkout.HandleCartCleared(ctx, event)

	default:
		return nil
	}
}

func decodePayload(payload json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return errors.Wrapf(domain.ErrPoisonMessage, "malformed payload: %v", err)
	}
	return nil
}
