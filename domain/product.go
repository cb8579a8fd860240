package domain

// ProductState represents the state of a catalog product
type ProductState struct {
	SKU    string
	Name   string
	Price  float64
	Active bool
}

// ProductAggregate is the aggregate for a catalog product, keyed by SKU
type ProductAggregate struct {
	*AggregateBase
	State ProductState
}

// NewProductAggregate creates a new product aggregate
func NewProductAggregate(sku string) *ProductAggregate {
	aggregate := &ProductAggregate{
		State: ProductState{
			SKU: sku,
		},
	}

	base := NewAggregateBase("product", aggregate.applyEvent)
	base.SetID(sku)
	aggregate.AggregateBase = base

	return aggregate
}

// Exists reports whether the product has been registered
func (a *ProductAggregate) Exists() bool {
	return a.GetVersion() > 0
}

// Register adds the product to the catalog
func (a *ProductAggregate) Register(name string, price float64) error {
	if a.Exists() {
		return NewValidationError("sku", "product already registered")
	}
	if price < 0 {
		return NewValidationError("price", "price must not be negative")
	}

	return a.Apply(ProductRegisteredEvent{
		SKU:    a.GetID(),
		Name:   name,
		Price:  price,
		Active: true,
	})
}

// ChangePrice updates the product price
func (a *ProductAggregate) ChangePrice(price float64) error {
	if price < 0 {
		return NewValidationError("price", "price must not be negative")
	}
	if price == a.State.Price {
		return nil
	}

	return a.Apply(ProductPriceChangedEvent{
		SKU:   a.GetID(),
		Price: price,
	})
}

// Deactivate removes the product from sale
func (a *ProductAggregate) Deactivate(reason string) error {
	if !a.State.Active {
		return nil
	}

	return a.Apply(ProductDeactivatedEvent{
		SKU:    a.GetID(),
		Reason: reason,
	})
}

// Snapshot returns a narrow copy of the catalog data for a checkout.
// Read-only; the combined reply is published by the catalog handler.
func (a *ProductAggregate) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		SKU:    a.State.SKU,
		Name:   a.State.Name,
		Price:  a.State.Price,
		Active: a.State.Active,
	}
}

// applyEvent applies an event to the product aggregate
func (a *ProductAggregate) applyEvent(event interface{}) error {
	switch e := event.(type) {
	case ProductRegisteredEvent:
		a.State.SKU = e.SKU
		a.State.Name = e.Name
		a.State.Price = e.Price
		a.State.Active = e.Active

	case ProductPriceChangedEvent:
		a.State.Price = e.Price

	case ProductDeactivatedEvent:
		a.State.Active = false
	}

	return nil
}
