package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/checkout/domain"
	"example.com/backstage/services/checkout/models"
)

// GormStore implements EventStore using GORM
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM event store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Append atomically appends events to a stream with an optimistic
// concurrency check. The whole batch commits or nothing does.
func (s *GormStore) Append(ctx context.Context, streamID string, events []domain.Event, expectedVersion int, correlationID string) (int, error) {
	if len(events) == 0 {
		return expectedVersion, nil
	}

	newVersion := expectedVersion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int64
		if err := tx.Model(&models.Event{}).
			Where("stream_id = ?", streamID).
			Count(&current).Error; err != nil {
			return fmt.Errorf("failed to read stream version: %w", err)
		}

		if int(current) != expectedVersion {
			return domain.ErrConcurrency
		}

		for i, event := range events {
			data, err := json.Marshal(event.Data)
			if err != nil {
				return fmt.Errorf("failed to marshal event data: %w", err)
			}

			dbEvent := models.Event{
				EventID:       event.ID,
				StreamID:      streamID,
				AggregateID:   event.AggregateID,
				AggregateType: event.AggregateType,
				EventType:     event.Type,
				Data:          data,
				SchemaVersion: event.SchemaVersion,
				Version:       expectedVersion + i + 1,
				CorrelationID: correlationID,
				Timestamp:     event.Timestamp,
				Published:     false,
			}

			if err := tx.Create(&dbEvent).Error; err != nil {
				// A racing writer that passed the version check first
				// trips the (stream_id, version) unique index here.
				if isDuplicateKey(err) {
					return domain.ErrConcurrency
				}
				return fmt.Errorf("failed to save event: %w", err)
			}

			log.Info().
				Str("streamID", streamID).
				Str("eventType", event.Type).
				Int("version", dbEvent.Version).
				Str("correlationID", correlationID).
				Msg("Event appended")
		}

		newVersion = expectedVersion + len(events)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return newVersion, nil
}

// Load loads all events of a stream in version order
func (s *GormStore) Load(ctx context.Context, streamID string) ([]domain.Event, error) {
	return s.loadFrom(ctx, streamID, 0)
}

// LoadFromVersion loads the events after fromVersion
func (s *GormStore) LoadFromVersion(ctx context.Context, streamID string, fromVersion int) ([]domain.Event, error) {
	return s.loadFrom(ctx, streamID, fromVersion)
}

func (s *GormStore) loadFrom(ctx context.Context, streamID string, fromVersion int) ([]domain.Event, error) {
	var dbEvents []models.Event
	if err := s.db.WithContext(ctx).
		Where("stream_id = ? AND version > ?", streamID, fromVersion).
		Order("version ASC").
		Find(&dbEvents).Error; err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	events := make([]domain.Event, 0, len(dbEvents))
	for _, dbEvent := range dbEvents {
		event, err := toDomainEvent(dbEvent)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, nil
}

// Unpublished returns events not yet relayed to the event bus
func (s *GormStore) Unpublished(ctx context.Context, limit int) ([]domain.Event, error) {
	var dbEvents []models.Event
	if err := s.db.WithContext(ctx).
		Where("published = ?", false).
		Order("id ASC").
		Limit(limit).
		Find(&dbEvents).Error; err != nil {
		return nil, fmt.Errorf("failed to get unpublished events: %w", err)
	}

	events := make([]domain.Event, 0, len(dbEvents))
	for _, dbEvent := range dbEvents {
		event, err := toDomainEvent(dbEvent)
		if err != nil {
			// A payload that no longer decodes must not wedge the relay
			errMsg := err.Error()
			s.db.WithContext(ctx).Model(&models.Event{}).
				Where("event_id = ?", dbEvent.EventID).
				Updates(map[string]interface{}{"error": &errMsg, "published": true})
			log.Error().Err(err).Str("event_id", dbEvent.EventID).Msg("Skipping undecodable event")
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

// MarkPublished marks an event as relayed
func (s *GormStore) MarkPublished(ctx context.Context, eventID string) error {
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("event_id = ?", eventID).
		Update("published", true).
		Error; err != nil {
		return fmt.Errorf("failed to mark event as published: %w", err)
	}

	return nil
}

func toDomainEvent(dbEvent models.Event) (domain.Event, error) {
	data, err := domain.UnmarshalEventData(dbEvent.EventType, dbEvent.Data)
	if err != nil {
		return domain.Event{}, fmt.Errorf("failed to decode event %s: %w", dbEvent.EventID, err)
	}

	return domain.Event{
		ID:            dbEvent.EventID,
		StreamID:      dbEvent.StreamID,
		AggregateID:   dbEvent.AggregateID,
		AggregateType: dbEvent.AggregateType,
		Type:          dbEvent.EventType,
		SchemaVersion: dbEvent.SchemaVersion,
		Version:       dbEvent.Version,
		CorrelationID: dbEvent.CorrelationID,
		Timestamp:     dbEvent.Timestamp,
		Data:          data,
	}, nil
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if err == gorm.ErrDuplicatedKey {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
