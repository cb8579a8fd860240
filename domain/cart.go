package domain

// CartState represents the state of a shopping cart
type CartState struct {
	CartID     string
	GuestToken string
	Items      []CartItem
	Cleared    bool
}

// CartAggregate is the aggregate for a shopping cart
type CartAggregate struct {
	*AggregateBase
	State CartState
}

// NewCartAggregate creates a new cart aggregate
func NewCartAggregate(id string) *CartAggregate {
	aggregate := &CartAggregate{
		State: CartState{
			CartID: id,
		},
	}

	base := NewAggregateBase("cart", aggregate.applyEvent)
	base.SetID(id)
	aggregate.AggregateBase = base

	return aggregate
}

// Exists reports whether the cart has been created
func (a *CartAggregate) Exists() bool {
	return a.GetVersion() > 0
}

// Create initializes the cart
func (a *CartAggregate) Create(guestToken string) error {
	if a.Exists() {
		return NewValidationError("cart_id", "cart already exists")
	}

	return a.Apply(CartCreatedEvent{
		CartID:     a.GetID(),
		GuestToken: guestToken,
	})
}

// AddItem adds a line item to the cart, merging quantity on duplicate SKU
func (a *CartAggregate) AddItem(sku, name string, quantity int, price float64) error {
	if a.State.Cleared {
		return NewValidationError("cart_id", "cart has been cleared")
	}
	if sku == "" {
		return NewValidationError("sku", "sku is required")
	}
	if quantity <= 0 {
		return NewValidationError("quantity", "quantity must be positive")
	}
	if price < 0 {
		return NewValidationError("price", "price must not be negative")
	}

	return a.Apply(CartItemAddedEvent{
		CartID:   a.GetID(),
		SKU:      sku,
		Name:     name,
		Quantity: quantity,
		Price:    price,
	})
}

// RemoveItem removes a line item from the cart
func (a *CartAggregate) RemoveItem(sku string) error {
	if !a.hasItem(sku) {
		return NewValidationError("sku", "item not in cart")
	}

	return a.Apply(CartItemRemovedEvent{
		CartID: a.GetID(),
		SKU:    sku,
	})
}

// TakeSnapshot emits the cart's current line items as a checkout reply
func (a *CartAggregate) TakeSnapshot(checkoutID string) error {
	if a.State.Cleared {
		return NewValidationError("cart_id", "cart has been cleared")
	}
	if len(a.State.Items) == 0 {
		return NewValidationError("cart_id", "cart is empty")
	}

	items := make([]CartItem, len(a.State.Items))
	copy(items, a.State.Items)

	return a.Apply(CartSnapshotTakenEvent{
		CartID:     a.GetID(),
		CheckoutID: checkoutID,
		Items:      items,
	})
}

// Clear empties the cart after a completed checkout. Clearing an already
// cleared cart is a no-op so redelivered ClearCart commands stay safe.
func (a *CartAggregate) Clear(checkoutID string) error {
	if a.State.Cleared {
		return nil
	}

	return a.Apply(CartClearedEvent{
		CartID:     a.GetID(),
		CheckoutID: checkoutID,
	})
}

func (a *CartAggregate) hasItem(sku string) bool {
	for _, item := range a.State.Items {
		if item.SKU == sku {
			return true
		}
	}
	return false
}

// applyEvent applies an event to the cart aggregate
func (a *CartAggregate) applyEvent(event interface{}) error {
	switch e := event.(type) {
	case CartCreatedEvent:
		a.State.CartID = e.CartID
		a.State.GuestToken = e.GuestToken

	case CartItemAddedEvent:
		for i, item := range a.State.Items {
			if item.SKU == e.SKU {
				a.State.Items[i].Quantity += e.Quantity
				return nil
			}
		}
		a.State.Items = append(a.State.Items, CartItem{
			SKU:      e.SKU,
			Name:     e.Name,
			Quantity: e.Quantity,
			Price:    e.Price,
		})

	case CartItemRemovedEvent:
		items := a.State.Items[:0]
		for _, item := range a.State.Items {
			if item.SKU != e.SKU {
				items = append(items, item)
			}
		}
		a.State.Items = items

	case CartSnapshotTakenEvent:
		// Snapshot does not change cart state

	case CartClearedEvent:
		a.State.Items = nil
		a.State.Cleared = true
	}

	return nil
}
