package handlers

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/checkout/domain"
	"example.com/backstage/services/checkout/eventstore"
	"example.com/backstage/services/checkout/idempotency"
	"example.com/backstage/services/checkout/messaging"
)

// InventoryHandler handles stock commands
type InventoryHandler struct {
	repo *eventstore.Repository
	idem idempotency.Store
	bus  messaging.Publisher
}

// NewInventoryHandler creates a new inventory handler
func NewInventoryHandler(repo *eventstore.Repository, idem idempotency.Store, bus messaging.Publisher) *InventoryHandler {
	return &InventoryHandler{repo: repo, idem: idem, bus: bus}
}

// HandleRegisterInventoryItem starts tracking stock for a SKU. Registering
// a tracked SKU again is a no-op.
func (h *InventoryHandler) HandleRegisterInventoryItem(ctx context.Context, cmd RegisterInventoryItemCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	log.Info().Str("sku", cmd.SKU).Int("available", cmd.Available).Msg("Handling RegisterInventoryItem command")

	item := domain.NewInventoryAggregate(cmd.SKU)
	err := h.repo.Load(ctx, item)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if err := item.Register(cmd.Available); err != nil {
		return err
	}

	return h.repo.Save(ctx, item, cmd.SKU)
}

// HandleAdjustStock applies a manual stock level change
func (h *InventoryHandler) HandleAdjustStock(ctx context.Context, cmd AdjustStockCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	log.Info().Str("sku", cmd.SKU).Int("delta", cmd.Delta).Msg("Handling AdjustStock command")

	item := domain.NewInventoryAggregate(cmd.SKU)
	if err := h.repo.Load(ctx, item); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewValidationError("sku", "inventory item not found")
		}
		return err
	}

	if err := item.Adjust(cmd.Delta, cmd.Reason); err != nil {
		return err
	}

	return h.repo.Save(ctx, item, cmd.SKU)
}

// HandleValidateStock replies to the checkout saga with per-SKU
// availability. Validation is read-only and carries no reservation; the
// deduction step re-checks under its own append.
func (h *InventoryHandler) HandleValidateStock(ctx context.Context, cmd ValidateStockCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	log.Info().Str("checkoutID", cmd.CheckoutID).Int("items", len(cmd.Items)).Msg("Handling ValidateStock command")

	results := make([]domain.StockCheckResult, 0, len(cmd.Items))
	allAvailable := true
	for _, lineItem := range cmd.Items {
		item := domain.NewInventoryAggregate(lineItem.SKU)
		if err := h.repo.Load(ctx, item); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				results = append(results, domain.StockCheckResult{
					SKU:       lineItem.SKU,
					Requested: lineItem.Quantity,
					Available: 0,
					Ok:        false,
				})
				allAvailable = false
				continue
			}
			return err
		}

		result := item.Check(lineItem.Quantity)
		if !result.Ok {
			allAvailable = false
		}
		results = append(results, result)
	}

	return h.bus.Publish(ctx, domain.StockValidationCompleted, domain.StockValidationCompletedEvent{
		CheckoutID:   cmd.CheckoutID,
		Results:      results,
		AllAvailable: allAvailable,
	}, messaging.Metadata{CorrelationID: cmd.CheckoutID})
}

// HandleDeductStock deducts stock for every line item of an order and
// publishes one combined reply. Deduction per SKU is idempotent by order
// id, so a partially applied command can be retried safely; the combined
// reply itself is deduplicated through the idempotency store so the saga
// sees one outcome per order.
//
// A failed line item does not roll back earlier ones. The saga reacts to
// a failed reply by issuing ReleaseStock for the whole order.
func (h *InventoryHandler) HandleDeductStock(ctx context.Context, cmd DeductStockCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	log.Info().Str("checkoutID", cmd.CheckoutID).Str("orderID", cmd.OrderID).Msg("Handling DeductStock command")

	meta := messaging.Metadata{CorrelationID: cmd.CheckoutID}

	key := "deduct-stock:" + cmd.OrderID
	if prior, found, err := h.idem.Check(ctx, key); err != nil {
		return err
	} else if found {
		var reply domain.StockDeductionCompletedEvent
		if err := prior.Decode(&reply); err != nil {
			return err
		}
		log.Info().Str("orderID", cmd.OrderID).Msg("Republishing stock deduction reply for redelivered command")
		return h.bus.Publish(ctx, domain.StockDeductionCompleted, reply, meta)
	}

	var reasons []string
	for _, lineItem := range cmd.Items {
		item := domain.NewInventoryAggregate(lineItem.SKU)
		if err := h.repo.Load(ctx, item); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				reasons = append(reasons, fmt.Sprintf("%s: stock not tracked", lineItem.SKU))
				continue
			}
			return err
		}

		deducted, err := item.DeductForOrder(cmd.OrderID, cmd.CheckoutID, lineItem.Quantity)
		if err != nil {
			return err
		}
		if err := h.repo.Save(ctx, item, cmd.CheckoutID); err != nil {
			return err
		}
		if !deducted {
			reasons = append(reasons, fmt.Sprintf("%s: requested %d but only %d available", lineItem.SKU, lineItem.Quantity, item.State.Available))
		}
	}

	reply := domain.StockDeductionCompletedEvent{
		CheckoutID: cmd.CheckoutID,
		OrderID:    cmd.OrderID,
		Success:    len(reasons) == 0,
		Reasons:    reasons,
	}

	if err := h.bus.Publish(ctx, domain.StockDeductionCompleted, reply, meta); err != nil {
		return err
	}

	return h.idem.MarkProcessed(ctx, key, cmd.OrderID, reply)
}

// HandleReleaseStock returns deducted stock when the saga fails after
// deduction. Releasing a SKU that was never deducted, or releasing twice,
// is a no-op inside the aggregate, so the command is safe to redeliver.
func (h *InventoryHandler) HandleReleaseStock(ctx context.Context, cmd ReleaseStockCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	log.Info().Str("checkoutID", cmd.CheckoutID).Str("orderID", cmd.OrderID).Msg("Handling ReleaseStock command")

	for _, lineItem := range cmd.Items {
		item := domain.NewInventoryAggregate(lineItem.SKU)
		if err := h.repo.Load(ctx, item); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return err
		}

		if err := item.ReleaseForOrder(cmd.OrderID, cmd.CheckoutID); err != nil {
			return err
		}
		if err := h.repo.Save(ctx, item, cmd.CheckoutID); err != nil {
			return err
		}
	}

	return nil
}
