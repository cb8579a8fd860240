package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"example.com/backstage/services/checkout/domain"
)

// Command type constants as they appear on the command bus
const (
	InitiateCheckout        = "InitiateCheckout"
	TakeCartSnapshot        = "TakeCartSnapshot"
	CollectProductSnapshots = "CollectProductSnapshots"
	ValidateStock           = "ValidateStock"
	DeductStock             = "DeductStock"
	CreateOrder             = "CreateOrder"
	ClearCart               = "ClearCart"
	ReleaseStock            = "ReleaseStock"

	CreateCart            = "CreateCart"
	AddCartItem           = "AddCartItem"
	RemoveCartItem        = "RemoveCartItem"
	RegisterProduct       = "RegisterProduct"
	ChangeProductPrice    = "ChangeProductPrice"
	DeactivateProduct     = "DeactivateProduct"
	RegisterInventoryItem = "RegisterInventoryItem"
	AdjustStock           = "AdjustStock"
)

// Command structs

type InitiateCheckoutCommand struct {
	CheckoutID      string              `json:"checkout_id" validate:"required"`
	CartID          string              `json:"cart_id" validate:"required"`
	GuestToken      string              `json:"guest_token"`
	Customer        domain.CustomerInfo `json:"customer"`
	ShippingAddress string              `json:"shipping_address" validate:"required"`
}

type TakeCartSnapshotCommand struct {
	CheckoutID string `json:"checkout_id" validate:"required"`
	CartID     string `json:"cart_id" validate:"required"`
}

type CollectProductSnapshotsCommand struct {
	CheckoutID string   `json:"checkout_id" validate:"required"`
	SKUs       []string `json:"skus" validate:"required,min=1"`
}

type ValidateStockCommand struct {
	CheckoutID string            `json:"checkout_id" validate:"required"`
	Items      []domain.CartItem `json:"items" validate:"required,min=1"`
}

type DeductStockCommand struct {
	CheckoutID string            `json:"checkout_id" validate:"required"`
	OrderID    string            `json:"order_id" validate:"required"`
	Items      []domain.CartItem `json:"items" validate:"required,min=1"`
}

type CreateOrderCommand struct {
	CheckoutID      string              `json:"checkout_id" validate:"required"`
	OrderID         string              `json:"order_id" validate:"required"`
	CartID          string              `json:"cart_id" validate:"required"`
	Items           []domain.CartItem   `json:"items" validate:"required,min=1"`
	Customer        domain.CustomerInfo `json:"customer"`
	ShippingAddress string              `json:"shipping_address"`
}

type ClearCartCommand struct {
	CheckoutID string `json:"checkout_id" validate:"required"`
	CartID     string `json:"cart_id" validate:"required"`
}

type ReleaseStockCommand struct {
	CheckoutID string            `json:"checkout_id" validate:"required"`
	OrderID    string            `json:"order_id" validate:"required"`
	Items      []domain.CartItem `json:"items" validate:"required,min=1"`
}

type CreateCartCommand struct {
	CartID     string `json:"cart_id" validate:"required"`
	GuestToken string `json:"guest_token"`
}

type AddCartItemCommand struct {
	CartID   string  `json:"cart_id" validate:"required"`
	SKU      string  `json:"sku" validate:"required"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity" validate:"gt=0"`
	Price    float64 `json:"price" validate:"gte=0"`
}

type RemoveCartItemCommand struct {
	CartID string `json:"cart_id" validate:"required"`
	SKU    string `json:"sku" validate:"required"`
}

type RegisterProductCommand struct {
	SKU   string  `json:"sku" validate:"required"`
	Name  string  `json:"name" validate:"required"`
	Price float64 `json:"price" validate:"gte=0"`
}

type ChangeProductPriceCommand struct {
	SKU   string  `json:"sku" validate:"required"`
	Price float64 `json:"price" validate:"gte=0"`
}

type DeactivateProductCommand struct {
	SKU    string `json:"sku" validate:"required"`
	Reason string `json:"reason"`
}

type RegisterInventoryItemCommand struct {
	SKU       string `json:"sku" validate:"required"`
	Available int    `json:"available" validate:"gte=0"`
}

type AdjustStockCommand struct {
	SKU    string `json:"sku" validate:"required"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

var validate = validator.New()

// validateCommand rejects malformed commands as poison so they are
// dead-lettered instead of redelivered forever
func validateCommand(cmd interface{}) error {
	if err := validate.Struct(cmd); err != nil {
		return errors.Wrap(domain.ErrPoisonMessage, err.Error())
	}
	return nil
}
