package idempotency

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// Result is the stored outcome of a previously processed command
type Result struct {
	AggregateID string
	Payload     []byte
}

// Decode unmarshals the stored result payload into v
func (r Result) Decode(v interface{}) error {
	if len(r.Payload) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(r.Payload, v), "failed to decode idempotency result")
}

// Store records which command keys have already been processed and the
// result each produced. A key maps to at most one result ever; concurrent
// deliveries of the same key must resolve to a single winner.
type Store interface {
	// Check returns the prior result for a key if it was already processed
	Check(ctx context.Context, key string) (Result, bool, error)

	// MarkProcessed records the result for a key. Marking an already
	// processed key keeps the original result (first writer wins).
	MarkProcessed(ctx context.Context, key, aggregateID string, result interface{}) error
}
