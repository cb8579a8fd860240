package domain

import "fmt"

// InventoryState represents the state of tracked stock for one SKU
type InventoryState struct {
	SKU       string
	Available int
	// Deductions tracks quantity deducted per order id, making
	// DeductForOrder idempotent across redeliveries.
	Deductions map[string]int
	Released   map[string]bool
}

// InventoryAggregate is the aggregate for one SKU's stock, keyed by SKU
type InventoryAggregate struct {
	*AggregateBase
	State InventoryState
}

// NewInventoryAggregate creates a new inventory aggregate
func NewInventoryAggregate(sku string) *InventoryAggregate {
	aggregate := &InventoryAggregate{
		State: InventoryState{
			SKU:        sku,
			Deductions: map[string]int{},
			Released:   map[string]bool{},
		},
	}

	base := NewAggregateBase("inventory", aggregate.applyEvent)
	base.SetID(sku)
	aggregate.AggregateBase = base

	return aggregate
}

// Exists reports whether stock is tracked for this SKU
func (a *InventoryAggregate) Exists() bool {
	return a.GetVersion() > 0
}

// Register starts tracking stock for the SKU
func (a *InventoryAggregate) Register(available int) error {
	if a.Exists() {
		return NewValidationError("sku", "inventory item already registered")
	}
	if available < 0 {
		return NewValidationError("available", "available must not be negative")
	}

	return a.Apply(InventoryItemRegisteredEvent{
		SKU:       a.GetID(),
		Available: available,
	})
}

// Adjust applies a manual stock level change
func (a *InventoryAggregate) Adjust(delta int, reason string) error {
	if a.State.Available+delta < 0 {
		return NewValidationError("delta", "adjustment would make stock negative")
	}

	return a.Apply(StockAdjustedEvent{
		SKU:    a.GetID(),
		Delta:  delta,
		Reason: reason,
	})
}

// Check returns the validation result for a requested quantity without
// changing state
func (a *InventoryAggregate) Check(requested int) StockCheckResult {
	return StockCheckResult{
		SKU:       a.State.SKU,
		Requested: requested,
		Available: a.State.Available,
		Ok:        a.State.Available >= requested,
	}
}

// DeductForOrder deducts stock for an order. Idempotent per order id: a
// repeated deduction for an order already deducted emits no new event and
// reports success. Insufficient stock emits a rejection event and changes
// no quantity; the saga consumes the rejection as data, not as an error.
func (a *InventoryAggregate) DeductForOrder(orderID, checkoutID string, quantity int) (deducted bool, err error) {
	if quantity <= 0 {
		return false, NewValidationError("quantity", "quantity must be positive")
	}

	if _, done := a.State.Deductions[orderID]; done {
		return true, nil
	}

	if a.State.Available < quantity {
		err := a.Apply(StockDeductionRejectedEvent{
			SKU:        a.GetID(),
			OrderID:    orderID,
			CheckoutID: checkoutID,
			Requested:  quantity,
			Available:  a.State.Available,
			Reason:     fmt.Sprintf("requested %d but only %d available", quantity, a.State.Available),
		})
		return false, err
	}

	err = a.Apply(StockDeductedForOrderEvent{
		SKU:        a.GetID(),
		OrderID:    orderID,
		CheckoutID: checkoutID,
		Quantity:   quantity,
		Remaining:  a.State.Available - quantity,
	})
	return err == nil, err
}

// ReleaseForOrder compensates a prior deduction when a later saga step
// fails. Releasing an order that was never deducted, or twice, is a no-op.
func (a *InventoryAggregate) ReleaseForOrder(orderID, checkoutID string) error {
	quantity, deducted := a.State.Deductions[orderID]
	if !deducted || a.State.Released[orderID] {
		return nil
	}

	return a.Apply(StockReleasedForOrderEvent{
		SKU:        a.GetID(),
		OrderID:    orderID,
		CheckoutID: checkoutID,
		Quantity:   quantity,
		Remaining:  a.State.Available + quantity,
	})
}

// applyEvent applies an event to the inventory aggregate
func (a *InventoryAggregate) applyEvent(event interface{}) error {
	switch e := event.(type) {
	case InventoryItemRegisteredEvent:
		a.State.SKU = e.SKU
		a.State.Available = e.Available

	case StockAdjustedEvent:
		a.State.Available += e.Delta

	case StockDeductedForOrderEvent:
		a.State.Available -= e.Quantity
		a.State.Deductions[e.OrderID] = e.Quantity

	case StockDeductionRejectedEvent:
		// Rejection changes no quantity

	case StockReleasedForOrderEvent:
		a.State.Available += e.Quantity
		a.State.Released[e.OrderID] = true
	}

	return nil
}
