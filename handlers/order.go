package handlers

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/checkout/domain"
	"example.com/backstage/services/checkout/eventstore"
	"example.com/backstage/services/checkout/idempotency"
)

// OrderHandler handles order commands
type OrderHandler struct {
	repo *eventstore.Repository
	idem idempotency.Store
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(repo *eventstore.Repository, idem idempotency.Store) *OrderHandler {
	return &OrderHandler{repo: repo, idem: idem}
}

// HandleCreateOrder places an order from the saga's collected checkout
// data. The order id is fixed at saga initiation, so a redelivered
// command lands on the same aggregate and creation is a no-op the second
// time. Both the success and the failure reply reach the saga through
// the event relay.
func (h *OrderHandler) HandleCreateOrder(ctx context.Context, cmd CreateOrderCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	log.Info().Str("orderID", cmd.OrderID).Str("checkoutID", cmd.CheckoutID).Msg("Handling CreateOrder command")

	key := "create-order:" + cmd.OrderID
	if _, found, err := h.idem.Check(ctx, key); err != nil {
		return err
	} else if found {
		log.Info().Str("orderID", cmd.OrderID).Msg("Order command already processed")
		return nil
	}

	order := domain.NewOrderAggregate(cmd.OrderID)
	if err := h.repo.Load(ctx, order); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if err := order.Create(cmd.CheckoutID, cmd.CartID, cmd.Items, cmd.Customer, cmd.ShippingAddress); err != nil {
		if !domain.IsValidationError(err) {
			return err
		}
		// The order cannot be placed from this data. Record the failure
		// on the order stream so the saga learns about it.
		if err := order.MarkFailed(cmd.CheckoutID, err.Error()); err != nil {
			return err
		}
	}

	if err := h.repo.Save(ctx, order, cmd.CheckoutID); err != nil {
		return err
	}

	return h.idem.MarkProcessed(ctx, key, cmd.OrderID, Response{
		Success: !order.State.Failed,
		OrderID: cmd.OrderID,
		Error:   order.State.FailureReason,
	})
}
