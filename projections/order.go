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

// OrderProjector maintains the order read model
type OrderProjector struct {
	db            *gorm.DB
	elasticClient *elasticsearch.Client
	views         *cache.RedisCache
	cfg           config.ElasticConfig
}

// NewOrderProjector creates a new order projector
func NewOrderProjector(db *gorm.DB, elasticClient *elasticsearch.Client, views *cache.RedisCache, cfg config.ElasticConfig) *OrderProjector {
	return &OrderProjector{
		db:            db,
		elasticClient: elasticClient,
		views:         views,
		cfg:           cfg,
	}
}

// Project projects one order event into the read model
func (p *OrderProjector) Project(ctx context.Context, event domain.Event) error {
	data, ok := event.Data.(domain.OrderCreatedEvent)
	if !ok {
		return nil
	}

	itemCount := 0
	for _, item := range data.Items {
		itemCount += item.Quantity
	}

	view := models.OrderView{
		OrderID:         data.OrderID,
		CheckoutID:      data.CheckoutID,
		OrderNumber:     data.OrderNumber,
		CartID:          data.CartID,
		Total:           data.Total,
		ItemCount:       itemCount,
		CustomerName:    data.Customer.Name,
		CustomerEmail:   data.Customer.Email,
		ShippingAddress: data.ShippingAddress,
		CreatedAt:       event.Timestamp,
		UpdatedAt:       event.Timestamp,
	}

	if err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoNothing: true,
		}).
		Create(&view).Error; err != nil {
		return fmt.Errorf("failed to create order view: %w", err)
	}

	if p.views != nil {
		if err := p.views.Invalidate(ctx, cache.GetOrderCacheKey(data.OrderID)); err != nil {
			return err
		}
	}

	index := config.FormatIndex(p.cfg, OrdersIndex)
	return indexDocument(ctx, p.elasticClient, index, view.OrderID, view)
}
