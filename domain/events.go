package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType constants
const (
	// Cart events
	CartCreated        = "V1_CART_CREATED"
	CartItemAdded      = "V1_CART_ITEM_ADDED"
	CartItemRemoved    = "V1_CART_ITEM_REMOVED"
	CartSnapshotTaken  = "V1_CART_SNAPSHOT_TAKEN"
	CartSnapshotFailed = "V1_CART_SNAPSHOT_FAILED"
	CartCleared        = "V1_CART_CLEARED"

	// Product catalog events
	ProductRegistered         = "V1_PRODUCT_REGISTERED"
	ProductPriceChanged       = "V1_PRODUCT_PRICE_CHANGED"
	ProductDeactivated        = "V1_PRODUCT_DEACTIVATED"
	ProductSnapshotsCollected = "V1_PRODUCT_SNAPSHOTS_COLLECTED"
	ProductSnapshotsFailed    = "V1_PRODUCT_SNAPSHOTS_FAILED"

	// Inventory events
	InventoryItemRegistered  = "V1_INVENTORY_ITEM_REGISTERED"
	StockAdjusted            = "V1_STOCK_ADJUSTED"
	StockValidationCompleted = "V1_STOCK_VALIDATION_COMPLETED"
	StockDeductedForOrder    = "V1_STOCK_DEDUCTED_FOR_ORDER"
	StockDeductionRejected   = "V1_STOCK_DEDUCTION_REJECTED"
	StockDeductionCompleted  = "V1_STOCK_DEDUCTION_COMPLETED"
	StockReleasedForOrder    = "V1_STOCK_RELEASED_FOR_ORDER"

	// Order events
	OrderCreated        = "V1_ORDER_CREATED"
	OrderCreationFailed = "V1_ORDER_CREATION_FAILED"

	// Checkout saga events
	CheckoutSagaInitiated    = "V1_CHECKOUT_SAGA_INITIATED"
	CheckoutStepRequested    = "V1_CHECKOUT_STEP_REQUESTED"
	CartSnapshotRecorded     = "V1_CART_SNAPSHOT_RECORDED"
	ProductSnapshotsRecorded = "V1_PRODUCT_SNAPSHOTS_RECORDED"
	StockValidationRecorded  = "V1_STOCK_VALIDATION_RECORDED"
	StockDeductionRecorded   = "V1_STOCK_DEDUCTION_RECORDED"
	OrderCreationRecorded    = "V1_ORDER_CREATION_RECORDED"
	CartClearRecorded        = "V1_CART_CLEAR_RECORDED"
	CheckoutSagaCompleted    = "V1_CHECKOUT_SAGA_COMPLETED"
	CheckoutSagaFailed       = "V1_CHECKOUT_SAGA_FAILED"
)

// Event represents a domain event on an aggregate's stream
type Event struct {
	ID            string      `json:"id"`
	StreamID      string      `json:"stream_id"`
	AggregateID   string      `json:"aggregate_id"`
	AggregateType string      `json:"aggregate_type"`
	Type          string      `json:"type"`
	SchemaVersion int         `json:"schema_version"`
	Version       int         `json:"version"`
	CorrelationID string      `json:"correlation_id"`
	Timestamp     time.Time   `json:"timestamp"`
	Data          interface{} `json:"data"`
}

// StreamID builds the stream identifier for an aggregate instance
func StreamID(aggregateType, aggregateID string) string {
	return aggregateType + "-" + aggregateID
}

// CartItem is a line item in a cart, snapshot or validation request
type CartItem struct {
	SKU      string  `json:"sku"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// ProductSnapshot is a narrow copy of catalog data taken at snapshot time
type ProductSnapshot struct {
	SKU    string  `json:"sku"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
	Active bool    `json:"active"`
}

// StockCheckResult is the per-SKU outcome of a stock validation
type StockCheckResult struct {
	SKU       string `json:"sku"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Ok        bool   `json:"ok"`
}

// CustomerInfo identifies the customer placing the checkout
type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Cart Events

// CartCreatedEvent represents a cart created event
type CartCreatedEvent struct {
	CartID     string `json:"cart_id"`
	GuestToken string `json:"guest_token"`
}

// CartItemAddedEvent represents an item added to a cart
type CartItemAddedEvent struct {
	CartID   string  `json:"cart_id"`
	SKU      string  `json:"sku"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// CartItemRemovedEvent represents an item removed from a cart
type CartItemRemovedEvent struct {
	CartID string `json:"cart_id"`
	SKU    string `json:"sku"`
}

// CartSnapshotTakenEvent is the cart's reply to a snapshot request
type CartSnapshotTakenEvent struct {
	CartID     string     `json:"cart_id"`
	CheckoutID string     `json:"checkout_id"`
	Items      []CartItem `json:"items"`
}

// CartSnapshotFailedEvent is the reply when a cart cannot be snapshot.
// Published directly to the bus when the cart is missing or empty; there
// may be no cart stream to record it on.
type CartSnapshotFailedEvent struct {
	CartID     string `json:"cart_id"`
	CheckoutID string `json:"checkout_id"`
	Reason     string `json:"reason"`
}

// CartClearedEvent represents a cart emptied after checkout
type CartClearedEvent struct {
	CartID     string `json:"cart_id"`
	CheckoutID string `json:"checkout_id"`
}

// Product Catalog Events

// ProductRegisteredEvent represents a product added to the catalog
type ProductRegisteredEvent struct {
	SKU    string  `json:"sku"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
	Active bool    `json:"active"`
}

// ProductPriceChangedEvent represents a price update
type ProductPriceChangedEvent struct {
	SKU   string  `json:"sku"`
	Price float64 `json:"price"`
}

// ProductDeactivatedEvent represents a product removed from sale
type ProductDeactivatedEvent struct {
	SKU    string `json:"sku"`
	Reason string `json:"reason"`
}

// ProductSnapshotsCollectedEvent is the catalog's combined reply to a
// snapshot request. Collecting snapshots is a query, so the reply is
// published directly rather than recorded on a product stream.
type ProductSnapshotsCollectedEvent struct {
	CheckoutID string            `json:"checkout_id"`
	Snapshots  []ProductSnapshot `json:"snapshots"`
}

// ProductSnapshotsFailedEvent is the catalog's reply when SKUs are unknown
type ProductSnapshotsFailedEvent struct {
	CheckoutID string   `json:"checkout_id"`
	SKUs       []string `json:"skus"`
	Reason     string   `json:"reason"`
}

// Inventory Events

// InventoryItemRegisteredEvent represents stock tracked for a SKU
type InventoryItemRegisteredEvent struct {
	SKU       string `json:"sku"`
	Available int    `json:"available"`
}

// StockAdjustedEvent represents a manual stock level change
type StockAdjustedEvent struct {
	SKU    string `json:"sku"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

// StockValidationCompletedEvent is inventory's combined reply to a stock
// validation request. Validation is read-only, so the reply is published
// directly rather than recorded on an inventory stream.
type StockValidationCompletedEvent struct {
	CheckoutID   string             `json:"checkout_id"`
	Results      []StockCheckResult `json:"results"`
	AllAvailable bool               `json:"all_available"`
}

// StockDeductedForOrderEvent represents stock deducted for one order
type StockDeductedForOrderEvent struct {
	SKU        string `json:"sku"`
	OrderID    string `json:"order_id"`
	CheckoutID string `json:"checkout_id"`
	Quantity   int    `json:"quantity"`
	Remaining  int    `json:"remaining"`
}

// StockDeductionRejectedEvent represents a deduction refused on insufficient stock
type StockDeductionRejectedEvent struct {
	SKU        string `json:"sku"`
	OrderID    string `json:"order_id"`
	CheckoutID string `json:"checkout_id"`
	Requested  int    `json:"requested"`
	Available  int    `json:"available"`
	Reason     string `json:"reason"`
}

// StockDeductionCompletedEvent is inventory's combined reply after
// processing a deduction request across all line items
type StockDeductionCompletedEvent struct {
	CheckoutID string   `json:"checkout_id"`
	OrderID    string   `json:"order_id"`
	Success    bool     `json:"success"`
	Reasons    []string `json:"reasons"`
}

// StockReleasedForOrderEvent represents a compensating release of deducted stock
type StockReleasedForOrderEvent struct {
	SKU        string `json:"sku"`
	OrderID    string `json:"order_id"`
	CheckoutID string `json:"checkout_id"`
	Quantity   int    `json:"quantity"`
	Remaining  int    `json:"remaining"`
}

// Order Events

// OrderCreatedEvent represents an order placed from a checkout
type OrderCreatedEvent struct {
	OrderID         string       `json:"order_id"`
	CheckoutID      string       `json:"checkout_id"`
	OrderNumber     string       `json:"order_number"`
	CartID          string       `json:"cart_id"`
	Items           []CartItem   `json:"items"`
	Total           float64      `json:"total"`
	Customer        CustomerInfo `json:"customer"`
	ShippingAddress string       `json:"shipping_address"`
}

// OrderCreationFailedEvent represents an order that could not be placed
type OrderCreationFailedEvent struct {
	OrderID    string `json:"order_id"`
	CheckoutID string `json:"checkout_id"`
	Reason     string `json:"reason"`
}

// Checkout Saga Events

// CheckoutSagaInitiatedEvent starts a checkout saga
type CheckoutSagaInitiatedEvent struct {
	CheckoutID      string       `json:"checkout_id"`
	OrderID         string       `json:"order_id"`
	CartID          string       `json:"cart_id"`
	GuestToken      string       `json:"guest_token"`
	Customer        CustomerInfo `json:"customer"`
	ShippingAddress string       `json:"shipping_address"`
}

// CheckoutStepRequestedEvent records that the saga asked a participant to act
type CheckoutStepRequestedEvent struct {
	CheckoutID string `json:"checkout_id"`
	Step       string `json:"step"`
}

// CartSnapshotRecordedEvent records the cart snapshot reply in the saga
type CartSnapshotRecordedEvent struct {
	CheckoutID string     `json:"checkout_id"`
	Items      []CartItem `json:"items"`
}

// ProductSnapshotsRecordedEvent records catalog snapshots in the saga
type ProductSnapshotsRecordedEvent struct {
	CheckoutID string            `json:"checkout_id"`
	Snapshots  []ProductSnapshot `json:"snapshots"`
}

// StockValidationRecordedEvent records the stock validation outcome in the saga
type StockValidationRecordedEvent struct {
	CheckoutID   string             `json:"checkout_id"`
	Results      []StockCheckResult `json:"results"`
	AllAvailable bool               `json:"all_available"`
}

// StockDeductionRecordedEvent records a completed deduction in the saga
type StockDeductionRecordedEvent struct {
	CheckoutID string `json:"checkout_id"`
	OrderID    string `json:"order_id"`
}

// OrderCreationRecordedEvent records the created order in the saga
type OrderCreationRecordedEvent struct {
	CheckoutID  string `json:"checkout_id"`
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

// CartClearRecordedEvent records that the cart was emptied
type CartClearRecordedEvent struct {
	CheckoutID string `json:"checkout_id"`
}

// CheckoutSagaCompletedEvent is the saga's terminal success event
type CheckoutSagaCompletedEvent struct {
	CheckoutID  string `json:"checkout_id"`
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

// CheckoutSagaFailedEvent is the saga's terminal failure event
type CheckoutSagaFailedEvent struct {
	CheckoutID    string `json:"checkout_id"`
	FailedAt      string `json:"failed_at"`
	FailureReason string `json:"failure_reason"`
	Compensated   bool   `json:"compensated"`
}

// EventTypeOf maps an event struct to its type constant
func EventTypeOf(event interface{}) (string, error) {
	switch event.(type) {
	case CartCreatedEvent:
		return CartCreated, nil
	case CartItemAddedEvent:
		return CartItemAdded, nil
	case CartItemRemovedEvent:
		return CartItemRemoved, nil
	case CartSnapshotTakenEvent:
		return CartSnapshotTaken, nil
	case CartSnapshotFailedEvent:
		return CartSnapshotFailed, nil
	case CartClearedEvent:
		return CartCleared, nil
	case ProductRegisteredEvent:
		return ProductRegistered, nil
	case ProductPriceChangedEvent:
		return ProductPriceChanged, nil
	case ProductDeactivatedEvent:
		return ProductDeactivated, nil
	case ProductSnapshotsCollectedEvent:
		return ProductSnapshotsCollected, nil
	case ProductSnapshotsFailedEvent:
		return ProductSnapshotsFailed, nil
	case InventoryItemRegisteredEvent:
		return InventoryItemRegistered, nil
	case StockAdjustedEvent:
		return StockAdjusted, nil
	case StockValidationCompletedEvent:
		return StockValidationCompleted, nil
	case StockDeductionCompletedEvent:
		return StockDeductionCompleted, nil
	case StockDeductedForOrderEvent:
		return StockDeductedForOrder, nil
	case StockDeductionRejectedEvent:
		return StockDeductionRejected, nil
	case StockReleasedForOrderEvent:
		return StockReleasedForOrder, nil
	case OrderCreatedEvent:
		return OrderCreated, nil
	case OrderCreationFailedEvent:
		return OrderCreationFailed, nil
	case CheckoutSagaInitiatedEvent:
		return CheckoutSagaInitiated, nil
	case CheckoutStepRequestedEvent:
		return CheckoutStepRequested, nil
	case CartSnapshotRecordedEvent:
		return CartSnapshotRecorded, nil
	case ProductSnapshotsRecordedEvent:
		return ProductSnapshotsRecorded, nil
	case StockValidationRecordedEvent:
		return StockValidationRecorded, nil
	case StockDeductionRecordedEvent:
		return StockDeductionRecorded, nil
	case OrderCreationRecordedEvent:
		return OrderCreationRecorded, nil
	case CartClearRecordedEvent:
		return CartClearRecorded, nil
	case CheckoutSagaCompletedEvent:
		return CheckoutSagaCompleted, nil
	case CheckoutSagaFailedEvent:
		return CheckoutSagaFailed, nil
	default:
		return "", fmt.Errorf("unknown event type: %T", event)
	}
}

// UnmarshalEventData decodes a stored event payload into its typed struct
func UnmarshalEventData(eventType string, data []byte) (interface{}, error) {
	switch eventType {
	case CartCreated:
		var e CartCreatedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case CartItemAdded:
		var e CartItemAddedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case CartItemRemoved:
		var e CartItemRemovedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case CartSnapshotTaken:
		var e CartSnapshotTakenEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case CartSnapshotFailed:
		var e CartSnapshotFailedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case CartCleared:
		var e CartClearedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case ProductRegistered:
		var e ProductRegisteredEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case ProductPriceChanged:
		var e ProductPriceChangedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case ProductDeactivated:
		var e ProductDeactivatedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case ProductSnapshotsCollected:
		var e ProductSnapshotsCollectedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case ProductSnapshotsFailed:
		var e ProductSnapshotsFailedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case StockValidationCompleted:
		var e StockValidationCompletedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case StockDeductionCompleted:
		var e StockDeductionCompletedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case InventoryItemRegistered:
		var e InventoryItemRegisteredEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case StockAdjusted:
		var e StockAdjustedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case StockDeductedForOrder:
		var e StockDeductedForOrderEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case StockDeductionRejected:
		var e StockDeductionRejectedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case StockReleasedForOrder:
		var e StockReleasedForOrderEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case OrderCreated:
		var e OrderCreatedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case OrderCreationFailed:
		var e OrderCreationFailedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case CheckoutSagaInitiated:
		var e CheckoutSagaInitiatedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case CheckoutStepRequested:
		var e CheckoutStepRequestedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case CartSnapshotRecorded:
		var e CartSnapshotRecordedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case ProductSnapshotsRecorded:
		var e ProductSnapshotsRecordedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case StockValidationRecorded:
		var e StockValidationRecordedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case StockDeductionRecorded:
		var e StockDeductionRecordedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case OrderCreationRecorded:
		var e OrderCreationRecordedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case CartClearRecorded:
		var e CartClearRecordedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case CheckoutSagaCompleted:
		var e CheckoutSagaCompletedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	case CheckoutSagaFailed:
		var e CheckoutSagaFailedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}
