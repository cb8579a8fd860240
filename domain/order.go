package domain

import (
	"fmt"
	"time"
)

// OrderState represents the state of a placed order
type OrderState struct {
	OrderID         string
	CheckoutID      string
	OrderNumber     string
	CartID          string
	Items           []CartItem
	Total           float64
	Customer        CustomerInfo
	ShippingAddress string
	Failed          bool
	FailureReason   string
}

// OrderAggregate is the aggregate for an order
type OrderAggregate struct {
	*AggregateBase
	State OrderState
}

// NewOrderAggregate creates a new order aggregate
func NewOrderAggregate(id string) *OrderAggregate {
	aggregate := &OrderAggregate{
		State: OrderState{
			OrderID: id,
		},
	}

	base := NewAggregateBase("order", aggregate.applyEvent)
	base.SetID(id)
	aggregate.AggregateBase = base

	return aggregate
}

// Exists reports whether the order has been created
func (a *OrderAggregate) Exists() bool {
	return a.GetVersion() > 0
}

// Create places the order from the saga's collected checkout data and
// assigns an order number. Creating an already created order is a no-op so
// redelivered CreateOrder commands stay safe.
func (a *OrderAggregate) Create(checkoutID, cartID string, items []CartItem, customer CustomerInfo, shippingAddress string) error {
	if a.Exists() {
		return nil
	}
	if len(items) == 0 {
		return NewValidationError("items", "order requires at least one item")
	}

	var total float64
	for _, item := range items {
		total += item.Price * float64(item.Quantity)
	}

	return a.Apply(OrderCreatedEvent{
		OrderID:         a.GetID(),
		CheckoutID:      checkoutID,
		OrderNumber:     newOrderNumber(),
		CartID:          cartID,
		Items:           items,
		Total:           total,
		Customer:        customer,
		ShippingAddress: shippingAddress,
	})
}

// MarkFailed records that the order could not be placed
func (a *OrderAggregate) MarkFailed(checkoutID, reason string) error {
	if a.State.Failed {
		return nil
	}

	return a.Apply(OrderCreationFailedEvent{
		OrderID:    a.GetID(),
		CheckoutID: checkoutID,
		Reason:     reason,
	})
}

// applyEvent applies an event to the order aggregate
func (a *OrderAggregate) applyEvent(event interface{}) error {
	switch e := event.(type) {
	case OrderCreatedEvent:
		a.State.OrderID = e.OrderID
		a.State.CheckoutID = e.CheckoutID
		a.State.OrderNumber = e.OrderNumber
		a.State.CartID = e.CartID
		a.State.Items = e.Items
		a.State.Total = e.Total
		a.State.Customer = e.Customer
		a.State.ShippingAddress = e.ShippingAddress

	case OrderCreationFailedEvent:
		a.State.Failed = true
		a.State.FailureReason = e.Reason
	}

	return nil
}

func newOrderNumber() string {
	return fmt.Sprintf("ORD-%d", time.Now().UnixNano())
}
