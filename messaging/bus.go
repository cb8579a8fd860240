package messaging

import "context"

// Publisher sends events to the event bus. Fire-and-forget from the
// caller's perspective; durable once the bus accepts the message.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}, meta Metadata) error
}

// Enqueuer sends commands to the command bus
type Enqueuer interface {
	Enqueue(ctx context.Context, commandType string, payload interface{}, meta Metadata) error
}
