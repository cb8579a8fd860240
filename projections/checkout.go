package projections

import (
	"context"
	"fmt"

	"github.com/elastic/go-elasticsearch/v7"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/checkout/cache"
	"example.com/backstage/services/checkout/config"
	"example.com/backstage/services/checkout/domain"
	"example.com/backstage/services/checkout/models"
)

// CheckoutProjector maintains the checkout read model from saga events.
// Terminal checkouts are additionally indexed in Elasticsearch for
// search and reporting.
type CheckoutProjector struct {
	db            *gorm.DB
	elasticClient *elasticsearch.Client
	views         *cache.RedisCache
	cfg           config.ElasticConfig
}

// NewCheckoutProjector creates a new checkout projector
func NewCheckoutProjector(db *gorm.DB, elasticClient *elasticsearch.Client, views *cache.RedisCache, cfg config.ElasticConfig) *CheckoutProjector {
	return &CheckoutProjector{
		db:            db,
		elasticClient: elasticClient,
		views:         views,
		cfg:           cfg,
	}
}

// Project projects one checkout saga event into the read model
func (p *CheckoutProjector) Project(ctx context.Context, event domain.Event) error {
	switch data := event.Data.(type) {
	case domain.CheckoutSagaInitiatedEvent:
		return p.projectInitiated(ctx, event, data)

	case domain.CheckoutStepRequestedEvent:
		return p.updateView(ctx, event, map[string]interface{}{
			"status": data.Step,
		})

	case domain.CartSnapshotRecordedEvent:
		return p.updateView(ctx, event, map[string]interface{}{
			"status": domain.SagaCartSnapshotReceived,
		})

	case domain.ProductSnapshotsRecordedEvent:
		return p.updateView(ctx, event, map[string]interface{}{
			"status": domain.SagaProductSnapshotsReceived,
		})

	case domain.StockValidationRecordedEvent:
		return p.updateView(ctx, event, map[string]interface{}{
			"status": domain.SagaStockValidated,
		})

	case domain.StockDeductionRecordedEvent:
		return p.updateView(ctx, event, map[string]interface{}{
			"status": domain.SagaStockDeducted,
		})

	case domain.OrderCreationRecordedEvent:
		return p.updateView(ctx, event, map[string]interface{}{
			"status":       domain.SagaOrderCreated,
			"order_id":     data.OrderID,
			"order_number": data.OrderNumber,
		})

	case domain.CartClearRecordedEvent:
		return p.updateView(ctx, event, map[string]interface{}{
			"status": domain.SagaCartCleared,
		})

	case domain.CheckoutSagaCompletedEvent:
		if err := p.updateView(ctx, event, map[string]interface{}{
			"status":       domain.SagaCompleted,
			"order_id":     data.OrderID,
			"order_number": data.OrderNumber,
		}); err != nil {
			return err
		}
		return p.indexCheckout(ctx, event.AggregateID)

	case domain.CheckoutSagaFailedEvent:
		if err := p.updateView(ctx, event, map[string]interface{}{
			"status":         domain.SagaFailed,
			"failure_reason": data.FailureReason,
		}); err != nil {
			return err
		}
		return p.indexCheckout(ctx, event.AggregateID)

	default:
		return nil
	}
}

func (p *CheckoutProjector) projectInitiated(ctx context.Context, event domain.Event, data domain.CheckoutSagaInitiatedEvent) error {
	view := models.CheckoutView{
		CheckoutID: data.CheckoutID,
		OrderID:    data.OrderID,
		CartID:     data.CartID,
		Status:     domain.SagaInitiated,
		CreatedAt:  event.Timestamp,
		UpdatedAt:  event.Timestamp,
	}

	// Replaying the relay must not fail on an existing row
	if err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "checkout_id"}},
			DoNothing: true,
		}).
		Create(&view).Error; err != nil {
		return fmt.Errorf("failed to create checkout view: %w", err)
	}

	return p.invalidate(ctx, data.CheckoutID)
}

func (p *CheckoutProjector) updateView(ctx context.Context, event domain.Event, fields map[string]interface{}) error {
	fields["updated_at"] = event.Timestamp

	if err := p.db.WithContext(ctx).
		Model(&models.CheckoutView{}).
		Where("checkout_id = ?", event.AggregateID).
		Updates(fields).Error; err != nil {
		return fmt.Errorf("failed to update checkout view: %w", err)
	}

	return p.invalidate(ctx, event.AggregateID)
}

func (p *CheckoutProjector) indexCheckout(ctx context.Context, checkoutID string) error {
	var view models.CheckoutView
	if err := p.db.WithContext(ctx).
		Where("checkout_id = ?", checkoutID).
		First(&view).Error; err != nil {
		return fmt.Errorf("failed to get checkout view: %w", err)
	}

	index := config.FormatIndex(p.cfg, CheckoutsIndex)
	return indexDocument(ctx, p.elasticClient, index, view.CheckoutID, view)
}

func (p *CheckoutProjector) invalidate(ctx context.Context, checkoutID string) error {
	if p.views == nil {
		return nil
	}
	return p.views.Invalidate(ctx, cache.GetCheckoutCacheKey(checkoutID))
}
