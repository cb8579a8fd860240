package models

import (
	"time"

	"gorm.io/gorm"
)

// Event represents a domain event in the database. The composite unique
// index on (stream_id, version) is the optimistic-concurrency backstop:
// two racing appends for the same expected version cannot both insert.
type Event struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	EventID       string         `gorm:"uniqueIndex" json:"event_id"`
	StreamID      string         `gorm:"index;uniqueIndex:idx_stream_version" json:"stream_id"`
	AggregateID   string         `gorm:"index" json:"aggregate_id"`
	AggregateType string         `json:"aggregate_type"`
	EventType     string         `json:"event_type"`
	Data          []byte         `json:"data"`
	SchemaVersion int            `json:"schema_version"`
	Version       int            `gorm:"uniqueIndex:idx_stream_version" json:"version"`
	CorrelationID string         `gorm:"index" json:"correlation_id"`
	Timestamp     time.Time      `json:"timestamp"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at"`
	Error         *string        `json:"error"`
	Published     bool           `gorm:"index" json:"published"`
}

// IdempotencyRecord maps a processed command key to the result it produced.
// The unique index on key makes concurrent inserts race-safe: only one
// delivery of a key ever wins.
type IdempotencyRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Key         string    `gorm:"uniqueIndex" json:"key"`
	AggregateID string    `json:"aggregate_id"`
	Result      []byte    `json:"result"`
	CreatedAt   time.Time `json:"created_at"`
}

// CheckoutView is the query-optimized read model for a checkout saga
type CheckoutView struct {
	CheckoutID    string    `gorm:"primaryKey" json:"checkout_id"`
	OrderID       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	CartID        string    `gorm:"index" json:"cart_id"`
	Status        string    `gorm:"index" json:"status"`
	FailureReason string    `json:"failure_reason"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `gorm:"index" json:"updated_at"`
}

// OrderView is the query-optimized read model for a placed order
type OrderView struct {
	OrderID         string    `gorm:"primaryKey" json:"order_id"`
	CheckoutID      string    `gorm:"index" json:"checkout_id"`
	OrderNumber     string    `gorm:"index" json:"order_number"`
	CartID          string    `json:"cart_id"`
	Total           float64   `json:"total"`
	ItemCount       int       `json:"item_count"`
	CustomerName    string    `json:"customer_name"`
	CustomerEmail   string    `json:"customer_email"`
	ShippingAddress string    `json:"shipping_address"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SetupModels runs the schema migrations
func SetupModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Event{},
		&IdempotencyRecord{},
		&CheckoutView{},
		&OrderView{},
	)
}
