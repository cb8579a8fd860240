package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/checkout/domain"
	"example.com/backstage/services/checkout/eventstore"
	"example.com/backstage/services/checkout/messaging"
)

// CatalogHandler handles product catalog commands
type CatalogHandler struct {
	repo *eventstore.Repository
	bus  messaging.Publisher
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(repo *eventstore.Repository, bus messaging.Publisher) *CatalogHandler {
	return &CatalogHandler{repo: repo, bus: bus}
}

// HandleRegisterProduct adds a product to the catalog
func (h *CatalogHandler) HandleRegisterProduct(ctx context.Context, cmd RegisterProductCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	log.Info().Str("sku", cmd.SKU).Msg("Handling RegisterProduct command")

	product := domain.NewProductAggregate(cmd.SKU)
	err := h.repo.Load(ctx, product)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if err := product.Register(cmd.Name, cmd.Price); err != nil {
		return err
	}

	return h.repo.Save(ctx, product, cmd.SKU)
}

// HandleChangeProductPrice updates a product price
func (h *CatalogHandler) HandleChangeProductPrice(ctx context.Context, cmd ChangeProductPriceCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	log.Info().Str("sku", cmd.SKU).Msg("Handling ChangeProductPrice command")

	product := domain.NewProductAggregate(cmd.SKU)
	if err := h.repo.Load(ctx, product); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewValidationError("sku", "product not found")
		}
		return err
	}

	if err := product.ChangePrice(cmd.Price); err != nil {
		return err
	}

	return h.repo.Save(ctx, product, cmd.SKU)
}

// HandleDeactivateProduct removes a product from sale
func (h *CatalogHandler) HandleDeactivateProduct(ctx context.Context, cmd DeactivateProductCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	log.Info().Str("sku", cmd.SKU).Msg("Handling DeactivateProduct command")

	product := domain.NewProductAggregate(cmd.SKU)
	if err := h.repo.Load(ctx, product); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewValidationError("sku", "product not found")
		}
		return err
	}

	if err := product.Deactivate(cmd.Reason); err != nil {
		return err
	}

	return h.repo.Save(ctx, product, cmd.SKU)
}

// HandleCollectProductSnapshots replies to the checkout saga with
// point-in-time catalog data for the requested SKUs. Collection is a
// query; it stores nothing and publishes the combined reply directly.
func (h *CatalogHandler) HandleCollectProductSnapshots(ctx context.Context, cmd CollectProductSnapshotsCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	log.Info().Str("checkoutID", cmd.CheckoutID).Int("skus", len(cmd.SKUs)).Msg("Handling CollectProductSnapshots command")

	meta := messaging.Metadata{CorrelationID: cmd.CheckoutID}

	var snapshots []domain.ProductSnapshot
	var missing []string
	for _, sku := range cmd.SKUs {
		product := domain.NewProductAggregate(sku)
		if err := h.repo.Load(ctx, product); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				missing = append(missing, sku)
				continue
			}
			return err
		}
		snapshots = append(snapshots, product.Snapshot())
	}

	if len(missing) > 0 {
		return h.bus.Publish(ctx, domain.ProductSnapshotsFailed, domain.ProductSnapshotsFailedEvent{
			CheckoutID: cmd.CheckoutID,
			SKUs:       missing,
			Reason:     fmt.Sprintf("unknown products: %s", strings.Join(missing, ", ")),
		}, meta)
	}

	return h.bus.Publish(ctx, domain.ProductSnapshotsCollected, domain.ProductSnapshotsCollectedEvent{
		CheckoutID: cmd.CheckoutID,
		Snapshots:  snapshots,
	}, meta)
}
