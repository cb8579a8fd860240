package messaging

import "encoding/json"

// Queue roles. Commands are point-to-point (one consumer group per
// service); events fan out to every subscribed service.
const (
	CommandQueue = "checkout-commands"
	EventQueue   = "checkout-events"
)

// Metadata carries correlation across the command and event buses
type Metadata struct {
	CorrelationID string `json:"correlationId"`
	CausationID   string `json:"causationId,omitempty"`
}

// CommandEnvelope is the wire format on the command bus
type CommandEnvelope struct {
	CommandType string          `json:"commandType"`
	Metadata    Metadata        `json:"metadata"`
	Payload     json.RawMessage `json:"payload"`
}

// EventEnvelope is the wire format on the event bus
type EventEnvelope struct {
	EventType string          `json:"eventType"`
	Metadata  Metadata        `json:"metadata"`
	Payload   json.RawMessage `json:"payload"`
}
