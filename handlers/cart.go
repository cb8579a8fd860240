package handlers

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/checkout/domain"
	"example.com/backstage/services/checkout/eventstore"
	"example.com/backstage/services/checkout/messaging"
)

// CartHandler handles all cart-related commands
type CartHandler struct {
	repo *eventstore.Repository
	bus  messaging.Publisher
}

// NewCartHandler creates a new cart handler
func NewCartHandler(repo *eventstore.Repository, bus messaging.Publisher) *CartHandler {
	return &CartHandler{repo: repo, bus: bus}
}

// HandleCreateCart creates a new cart. Creating a cart that already
// exists is a no-op.
func (h *CartHandler) HandleCreateCart(ctx context.Context, cmd CreateCartCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	log.Info().Str("cartID", cmd.CartID).Msg("Handling CreateCart command")

	cart := domain.NewCartAggregate(cmd.CartID)
	err := h.repo.Load(ctx, cart)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if err := cart.Create(cmd.GuestToken); err != nil {
		return err
	}

	return h.repo.Save(ctx, cart, cmd.CartID)
}

// HandleAddCartItem adds a line item to a cart
func (h *CartHandler) HandleAddCartItem(ctx context.Context, cmd AddCartItemCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	log.Info().Str("cartID", cmd.CartID).Str("sku", cmd.SKU).Msg("Handling AddCartItem command")

	cart := domain.NewCartAggregate(cmd.CartID)
	if err := h.repo.Load(ctx, cart); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewValidationError("cart_id", "cart not found")
		}
		return err
	}

	if err := cart.AddItem(cmd.SKU, cmd.Name, cmd.Quantity, cmd.Price); err != nil {
		return err
	}

	return h.repo.Save(ctx, cart, cmd.CartID)
}

// HandleRemoveCartItem removes a line item from a cart
func (h *CartHandler) HandleRemoveCartItem(ctx context.Context, cmd RemoveCartItemCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	log.Info().Str("cartID", cmd.CartID).Str("sku", cmd.SKU).Msg("Handling RemoveCartItem command")

	cart := domain.NewCartAggregate(cmd.CartID)
	if err := h.repo.Load(ctx, cart); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewValidationError("cart_id", "cart not found")
		}
		return err
	}

	if err := cart.RemoveItem(cmd.SKU); err != nil {
		return err
	}

	return h.repo.Save(ctx, cart, cmd.CartID)
}

// HandleTakeCartSnapshot replies to the checkout saga with the cart's
// line items. A missing, empty or cleared cart produces a failure reply
// rather than an error; the saga consumes the failure as data.
func (h *CartHandler) HandleTakeCartSnapshot(ctx context.Context, cmd TakeCartSnapshotCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	log.Info().Str("cartID", cmd.CartID).Str("checkoutID", cmd.CheckoutID).Msg("Handling TakeCartSnapshot command")

	meta := messaging.Metadata{CorrelationID: cmd.CheckoutID}

	cart := domain.NewCartAggregate(cmd.CartID)
	if err := h.repo.Load(ctx, cart); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return h.bus.Publish(ctx, domain.CartSnapshotFailed, domain.CartSnapshotFailedEvent{
				CartID:     cmd.CartID,
				CheckoutID: cmd.CheckoutID,
				Reason:     "cart not found",
			}, meta)
		}
		return err
	}

	if err := cart.TakeSnapshot(cmd.CheckoutID); err != nil {
		if domain.IsValidationError(err) {
			return h.bus.Publish(ctx, domain.CartSnapshotFailed, domain.CartSnapshotFailedEvent{
				CartID:     cmd.CartID,
				CheckoutID: cmd.CheckoutID,
				Reason:     err.Error(),
			}, meta)
		}
		return err
	}

	// The snapshot reply reaches the saga through the event relay
	return h.repo.Save(ctx, cart, cmd.CheckoutID)
}

// HandleClearCart empties a cart after a completed order. A missing cart
// counts as already cleared so the saga can still finish.
func (h *CartHandler) HandleClearCart(ctx context.Context, cmd ClearCartCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	log.Info().Str("cartID", cmd.CartID).Str("checkoutID", cmd.CheckoutID).Msg("Handling ClearCart command")

	cart := domain.NewCartAggregate(cmd.CartID)
	if err := h.repo.Load(ctx, cart); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Str("cartID", cmd.CartID).Msg("Clearing a cart that does not exist")
			return h.bus.Publish(ctx, domain.CartCleared, domain.CartClearedEvent{
				CartID:     cmd.CartID,
				CheckoutID: cmd.CheckoutID,
			}, messaging.Metadata{CorrelationID: cmd.CheckoutID})
		}
		return err
	}

	alreadyCleared := cart.State.Cleared

	if err := cart.Clear(cmd.CheckoutID); err != nil {
		return err
	}

	if alreadyCleared {
		// No new event was emitted, so nothing will reach the relay.
		// Republish the reply for the redelivered command.
		return h.bus.Publish(ctx, domain.CartCleared, domain.CartClearedEvent{
			CartID:     cmd.CartID,
			CheckoutID: cmd.CheckoutID,
		}, messaging.Metadata{CorrelationID: cmd.CheckoutID})
	}

	return h.repo.Save(ctx, cart, cmd.CheckoutID)
}
