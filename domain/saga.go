package domain

import (
	"fmt"
	"strings"
)

// Checkout saga statuses. The happy path is linear; FAILED is an absorbing
// state reachable from any non-terminal status.
const (
	SagaInitiated                 = "INITIATED"
	SagaCartSnapshotRequested     = "CART_SNAPSHOT_REQUESTED"
	SagaCartSnapshotReceived      = "CART_SNAPSHOT_RECEIVED"
	SagaProductSnapshotsRequested = "PRODUCT_SNAPSHOTS_REQUESTED"
	SagaProductSnapshotsReceived  = "PRODUCT_SNAPSHOTS_RECEIVED"
	SagaStockValidationRequested  = "STOCK_VALIDATION_REQUESTED"
	SagaStockValidated            = "STOCK_VALIDATED"
	SagaStockDeductionRequested   = "STOCK_DEDUCTION_REQUESTED"
	SagaStockDeducted             = "STOCK_DEDUCTED"
	SagaOrderCreationRequested    = "ORDER_CREATION_REQUESTED"
	SagaOrderCreated              = "ORDER_CREATED"
	SagaCartClearRequested        = "CART_CLEAR_REQUESTED"
	SagaCartCleared               = "CART_CLEARED"
	SagaCompleted                 = "COMPLETED"
	SagaFailed                    = "FAILED"
)

// SagaState holds the checkout saga's own data. Other services never read
// or write it; the saga stores only DTO snapshots of their replies.
type SagaState struct {
	CheckoutID      string
	OrderID         string
	CartID          string
	GuestToken      string
	Customer        CustomerInfo
	ShippingAddress string
	Status          string
	CartSnapshot    []CartItem
	Products        []ProductSnapshot
	StockValidation []StockCheckResult
	OrderNumber     string
	StockDeducted   bool
	FailureReason   string
}

// SagaAggregate is the checkout saga orchestrator state machine. It is
// persisted and replayed through the event store like any other aggregate.
type SagaAggregate struct {
	*AggregateBase
	State SagaState
}

// NewSagaAggregate creates a new checkout saga aggregate
func NewSagaAggregate(checkoutID string) *SagaAggregate {
	aggregate := &SagaAggregate{
		State: SagaState{
			CheckoutID: checkoutID,
		},
	}

	base := NewAggregateBase("checkout", aggregate.applyEvent)
	base.SetID(checkoutID)
	aggregate.AggregateBase = base

	return aggregate
}

// Exists reports whether the saga has been initiated
func (a *SagaAggregate) Exists() bool {
	return a.GetVersion() > 0
}

// IsTerminal reports whether the saga reached COMPLETED or FAILED
func (a *SagaAggregate) IsTerminal() bool {
	return a.State.Status == SagaCompleted || a.State.Status == SagaFailed
}

// Initiate starts the saga
func (a *SagaAggregate) Initiate(orderID, cartID, guestToken string, customer CustomerInfo, shippingAddress string) error {
	if a.Exists() {
		return NewValidationError("checkout_id", "checkout saga already initiated")
	}
	if cartID == "" {
		return NewValidationError("cart_id", "cart_id is required")
	}

	return a.Apply(CheckoutSagaInitiatedEvent{
		CheckoutID:      a.GetID(),
		OrderID:         orderID,
		CartID:          cartID,
		GuestToken:      guestToken,
		Customer:        customer,
		ShippingAddress: shippingAddress,
	})
}

// requestStep advances to a *_REQUESTED status when the saga sits in the
// status that precedes it. Requesting from any other status is an
// idempotent no-op so redelivered replies cannot re-advance the machine.
func (a *SagaAggregate) requestStep(from, to string) (bool, error) {
	if a.State.Status != from {
		return false, nil
	}

	err := a.Apply(CheckoutStepRequestedEvent{
		CheckoutID: a.GetID(),
		Step:       to,
	})
	return err == nil, err
}

// RequestCartSnapshot asks the cart service for the line items
func (a *SagaAggregate) RequestCartSnapshot() (bool, error) {
	return a.requestStep(SagaInitiated, SagaCartSnapshotRequested)
}

// RequestProductSnapshots asks the catalog for product data
func (a *SagaAggregate) RequestProductSnapshots() (bool, error) {
	return a.requestStep(SagaCartSnapshotReceived, SagaProductSnapshotsRequested)
}

// RequestStockValidation asks inventory to check every line item
func (a *SagaAggregate) RequestStockValidation() (bool, error) {
	return a.requestStep(SagaProductSnapshotsReceived, SagaStockValidationRequested)
}

// RequestStockDeduction asks inventory to deduct the validated quantities
func (a *SagaAggregate) RequestStockDeduction() (bool, error) {
	return a.requestStep(SagaStockValidated, SagaStockDeductionRequested)
}

// RequestOrderCreation asks the order service to place the order
func (a *SagaAggregate) RequestOrderCreation() (bool, error) {
	return a.requestStep(SagaStockDeducted, SagaOrderCreationRequested)
}

// RequestCartClear asks the cart service to empty the cart
func (a *SagaAggregate) RequestCartClear() (bool, error) {
	return a.requestStep(SagaOrderCreated, SagaCartClearRequested)
}

// RecordCartSnapshot applies the cart's snapshot reply. Replies arriving in
// any other status are ignored.
func (a *SagaAggregate) RecordCartSnapshot(items []CartItem) (bool, error) {
	if a.State.Status != SagaCartSnapshotRequested {
		return false, nil
	}
	if len(items) == 0 {
		return true, a.fail("cart snapshot returned no items", false)
	}

	err := a.Apply(CartSnapshotRecordedEvent{
		CheckoutID: a.GetID(),
		Items:      items,
	})
	return err == nil, err
}

// RecordProductSnapshots applies the catalog's reply once snapshots for all
// snapshot SKUs have been collected. An inactive product fails the whole
// checkout.
func (a *SagaAggregate) RecordProductSnapshots(snapshots []ProductSnapshot) (bool, error) {
	if a.State.Status != SagaProductSnapshotsRequested {
		return false, nil
	}

	var inactive []string
	for _, snapshot := range snapshots {
		if !snapshot.Active {
			inactive = append(inactive, snapshot.SKU)
		}
	}
	if len(inactive) > 0 {
		return true, a.fail(fmt.Sprintf("products not available for sale: %s", strings.Join(inactive, ", ")), false)
	}

	err := a.Apply(ProductSnapshotsRecordedEvent{
		CheckoutID: a.GetID(),
		Snapshots:  snapshots,
	})
	return err == nil, err
}

// RecordStockValidation applies the inventory validation reply. Partial
// availability is total failure: the saga only advances when every line
// item is available.
func (a *SagaAggregate) RecordStockValidation(results []StockCheckResult) (bool, error) {
	if a.State.Status != SagaStockValidationRequested {
		return false, nil
	}

	var unavailable []string
	for _, result := range results {
		if !result.Ok {
			unavailable = append(unavailable, fmt.Sprintf("%s (requested %d, available %d)", result.SKU, result.Requested, result.Available))
		}
	}
	if len(unavailable) > 0 {
		return true, a.fail(fmt.Sprintf("insufficient stock: %s", strings.Join(unavailable, "; ")), false)
	}

	err := a.Apply(StockValidationRecordedEvent{
		CheckoutID:   a.GetID(),
		Results:      results,
		AllAvailable: true,
	})
	return err == nil, err
}

// RecordStockDeduction applies a successful deduction reply
func (a *SagaAggregate) RecordStockDeduction(orderID string) (bool, error) {
	if a.State.Status != SagaStockDeductionRequested {
		return false, nil
	}

	err := a.Apply(StockDeductionRecordedEvent{
		CheckoutID: a.GetID(),
		OrderID:    orderID,
	})
	return err == nil, err
}

// RecordOrderCreated applies the order service's success reply
func (a *SagaAggregate) RecordOrderCreated(orderID, orderNumber string) (bool, error) {
	if a.State.Status != SagaOrderCreationRequested {
		return false, nil
	}

	err := a.Apply(OrderCreationRecordedEvent{
		CheckoutID:  a.GetID(),
		OrderID:     orderID,
		OrderNumber: orderNumber,
	})
	return err == nil, err
}

// RecordCartCleared applies the cart service's clear reply
func (a *SagaAggregate) RecordCartCleared() (bool, error) {
	if a.State.Status != SagaCartClearRequested {
		return false, nil
	}

	err := a.Apply(CartClearRecordedEvent{
		CheckoutID: a.GetID(),
	})
	return err == nil, err
}

// Complete finishes the saga after the cart clear was recorded
func (a *SagaAggregate) Complete() (bool, error) {
	if a.State.Status != SagaCartCleared {
		return false, nil
	}

	err := a.Apply(CheckoutSagaCompletedEvent{
		CheckoutID:  a.GetID(),
		OrderID:     a.State.OrderID,
		OrderNumber: a.State.OrderNumber,
	})
	return err == nil, err
}

// Fail moves the saga to FAILED from any non-terminal status. Failing a
// terminal saga is a no-op.
func (a *SagaAggregate) Fail(reason string, compensated bool) (bool, error) {
	if a.IsTerminal() {
		return false, nil
	}
	return true, a.fail(reason, compensated)
}

// NeedsStockRelease reports whether stock was deducted without the order
// having been created, which is the one point requiring compensation.
func (a *SagaAggregate) NeedsStockRelease() bool {
	return a.State.StockDeducted && a.State.OrderNumber == ""
}

func (a *SagaAggregate) fail(reason string, compensated bool) error {
	return a.Apply(CheckoutSagaFailedEvent{
		CheckoutID:    a.GetID(),
		FailedAt:      a.State.Status,
		FailureReason: reason,
		Compensated:   compensated,
	})
}

// applyEvent applies an event to the saga aggregate
func (a *SagaAggregate) applyEvent(event interface{}) error {
	switch e := event.(type) {
	case CheckoutSagaInitiatedEvent:
		a.State.CheckoutID = e.CheckoutID
		a.State.OrderID = e.OrderID
		a.State.CartID = e.CartID
		a.State.GuestToken = e.GuestToken
		a.State.Customer = e.Customer
		a.State.ShippingAddress = e.ShippingAddress
		a.State.Status = SagaInitiated

	case CheckoutStepRequestedEvent:
		a.State.Status = e.Step

	case CartSnapshotRecordedEvent:
		a.State.CartSnapshot = e.Items
		a.State.Status = SagaCartSnapshotReceived

	case ProductSnapshotsRecordedEvent:
		a.State.Products = e.Snapshots
		a.State.Status = SagaProductSnapshotsReceived

	case StockValidationRecordedEvent:
		a.State.StockValidation = e.Results
		a.State.Status = SagaStockValidated

	case StockDeductionRecordedEvent:
		a.State.StockDeducted = true
		a.State.Status = SagaStockDeducted

	case OrderCreationRecordedEvent:
		a.State.OrderID = e.OrderID
		a.State.OrderNumber = e.OrderNumber
		a.State.Status = SagaOrderCreated

	case CartClearRecordedEvent:
		a.State.Status = SagaCartCleared

	case CheckoutSagaCompletedEvent:
		a.State.Status = SagaCompleted

	case CheckoutSagaFailedEvent:
		a.State.FailureReason = e.FailureReason
		a.State.Status = SagaFailed
	}

	return nil
}
