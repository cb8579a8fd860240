package idempotency

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStore is an in-memory Store for tests and local runs
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Result
}

// NewMemoryStore creates a new in-memory idempotency store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Result{}}
}

// Check returns the prior result for a key if it was already processed
func (s *MemoryStore) Check(ctx context.Context, key string) (Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, ok := s.records[key]
	return result, ok, nil
}

// MarkProcessed records the result for a key; first writer wins
func (s *MemoryStore) MarkProcessed(ctx context.Context, key, aggregateID string, result interface{}) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "failed to marshal idempotency result")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; ok {
		return nil
	}
	s.records[key] = Result{AggregateID: aggregateID, Payload: payload}
	return nil
}
