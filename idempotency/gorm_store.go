package idempotency

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/checkout/models"
)

// GormStore implements Store on a table with a unique key constraint. The
// conditional insert makes the check-and-set atomic across service
// instances, which an in-process map could not survive.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM idempotency store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Check returns the prior result for a key if it was already processed
func (s *GormStore) Check(ctx context.Context, key string) (Result, bool, error) {
	var record models.IdempotencyRecord
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, false, nil
		}
		return Result{}, false, errors.Wrap(err, "failed to check idempotency key")
	}

	return Result{AggregateID: record.AggregateID, Payload: record.Result}, true, nil
}

// MarkProcessed records the result for a key with a conditional insert.
// The loser of a concurrent race keeps the winner's record.
func (s *GormStore) MarkProcessed(ctx context.Context, key, aggregateID string, result interface{}) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "failed to marshal idempotency result")
	}

	record := models.IdempotencyRecord{
		Key:         key,
		AggregateID: aggregateID,
		Result:      payload,
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
		Create(&record).Error
	if err != nil {
		return errors.Wrap(err, "failed to mark key as processed")
	}

	return nil
}
