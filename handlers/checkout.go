package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/checkout/domain"
	"example.com/backstage/services/checkout/eventstore"
	"example.com/backstage/services/checkout/idempotency"
	"example.com/backstage/services/checkout/messaging"
)

// CheckoutHandler is the checkout saga orchestrator. It owns the saga
// aggregate and is the only writer of its stream: it records replies,
// advances the state machine and persists the next step as a saga event.
//
// Outbound commands ride the outbox. Reply handlers only append the step
// or failure event; the relay publishes it to the bus and
// HandleStepRequested / HandleSagaFailed turn it into the participant
// command. A transient enqueue failure abandons only that message, so
// redelivery issues the command again without touching saga state.
//
// Optimistic concurrency is resolved by redelivery. When two deliveries
// race on the same saga the loser's append fails, the message is
// abandoned and the redelivered reply is re-evaluated against the fresh
// saga state, where it is either applied or ignored as a duplicate.
type CheckoutHandler struct {
	repo     *eventstore.Repository
	idem     idempotency.Store
	commands messaging.Enqueuer
}

// NewCheckoutHandler creates a new checkout saga handler
func NewCheckoutHandler(repo *eventstore.Repository, idem idempotency.Store, commands messaging.Enqueuer) *CheckoutHandler {
	return &CheckoutHandler{repo: repo, idem: idem, commands: commands}
}

// HandleInitiateCheckout starts a checkout saga and requests the first
// step. The checkout id is the idempotency key: a retried initiation
// returns the response the first attempt produced and starts nothing new.
func (h *CheckoutHandler) HandleInitiateCheckout(ctx context.Context, cmd InitiateCheckoutCommand) (Response, error) {
	if err := validateCommand(cmd); err != nil {
		return Response{Error: err.Error()}, err
	}

	log.Info().Str("checkoutID", cmd.CheckoutID).Str("cartID", cmd.CartID).Msg("Handling InitiateCheckout command")

	key := "initiate-checkout:" + cmd.CheckoutID
	if prior, found, err := h.idem.Check(ctx, key); err != nil {
		return Response{}, err
	} else if found {
		var resp Response
		if err := prior.Decode(&resp); err != nil {
			return Response{}, err
		}
		log.Info().Str("checkoutID", cmd.CheckoutID).Msg("Checkout already initiated, returning prior response")
		return resp, nil
	}

	saga := domain.NewSagaAggregate(cmd.CheckoutID)
	err := h.repo.Load(ctx, saga)
	if err == nil {
		// Initiated by a racing delivery that did not get to mark the
		// idempotency record yet.
		return Response{Success: true, CheckoutID: cmd.CheckoutID, OrderID: saga.State.OrderID}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return Response{}, err
	}

	orderID := uuid.New().String()
	if err := saga.Initiate(orderID, cmd.CartID, cmd.GuestToken, cmd.Customer, cmd.ShippingAddress); err != nil {
		return Response{Error: err.Error()}, err
	}
	if _, err := saga.RequestCartSnapshot(); err != nil {
		return Response{}, err
	}

	if err := h.repo.Save(ctx, saga, cmd.CheckoutID); err != nil {
		if errors.Is(err, domain.ErrConcurrency) {
			winner := domain.NewSagaAggregate(cmd.CheckoutID)
			if err := h.repo.Load(ctx, winner); err != nil {
				return Response{}, err
			}
			return Response{Success: true, CheckoutID: cmd.CheckoutID, OrderID: winner.State.OrderID}, nil
		}
		return Response{}, err
	}

	resp := Response{Success: true, CheckoutID: cmd.CheckoutID, OrderID: orderID}
	if err := h.idem.MarkProcessed(ctx, key, cmd.CheckoutID, resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// HandleStepRequested turns a relayed step event into the participant
// command for that step. A saga that already moved past the step makes
// the event stale and no command goes out; a failed enqueue surfaces so
// the message is abandoned and the redelivery tries again.
func (h *CheckoutHandler) HandleStepRequested(ctx context.Context, event domain.CheckoutStepRequestedEvent) error {
	saga, err := h.loadSaga(ctx, event.CheckoutID)
	if err != nil || saga == nil {
		return err
	}
	if saga.State.Status != event.Step {
		return h.ignore(saga, domain.CheckoutStepRequested)
	}

	switch event.Step {
	case domain.SagaCartSnapshotRequested:
		return h.commands.Enqueue(ctx, TakeCartSnapshot, TakeCartSnapshotCommand{
			CheckoutID: saga.GetID(),
			CartID:     saga.State.CartID,
		}, h.meta(saga))

	case domain.SagaProductSnapshotsRequested:
		skus := make([]string, 0, len(saga.State.CartSnapshot))
		for _, item := range saga.State.CartSnapshot {
			skus = append(skus, item.SKU)
		}
		return h.commands.Enqueue(ctx, CollectProductSnapshots, CollectProductSnapshotsCommand{
			CheckoutID: saga.GetID(),
			SKUs:       skus,
		}, h.meta(saga))

	case domain.SagaStockValidationRequested:
		return h.commands.Enqueue(ctx, ValidateStock, ValidateStockCommand{
			CheckoutID: saga.GetID(),
			Items:      saga.State.CartSnapshot,
		}, h.meta(saga))

	case domain.SagaStockDeductionRequested:
		return h.commands.Enqueue(ctx, DeductStock, DeductStockCommand{
			CheckoutID: saga.GetID(),
			OrderID:    saga.State.OrderID,
			Items:      saga.State.CartSnapshot,
		}, h.meta(saga))

	case domain.SagaOrderCreationRequested:
		return h.commands.Enqueue(ctx, CreateOrder, CreateOrderCommand{
			CheckoutID:      saga.GetID(),
			OrderID:         saga.State.OrderID,
			CartID:          saga.State.CartID,
			Items:           saga.State.CartSnapshot,
			Customer:        saga.State.Customer,
			ShippingAddress: saga.State.ShippingAddress,
		}, h.meta(saga))

	case domain.SagaCartClearRequested:
		return h.commands.Enqueue(ctx, ClearCart, ClearCartCommand{
			CheckoutID: saga.GetID(),
			CartID:     saga.State.CartID,
		}, h.meta(saga))

	default:
		return nil
	}
}

// HandleSagaFailed issues the compensating stock release for a failed
// saga that deducted stock. The terminal event keeps coming back until
// the release is on the queue; releasing twice, or for SKUs that were
// never deducted, is a no-op on the inventory side.
func (h *CheckoutHandler) HandleSagaFailed(ctx context.Context, event domain.CheckoutSagaFailedEvent) error {
	if !event.Compensated {
		return nil
	}

	saga, err := h.loadSaga(ctx, event.CheckoutID)
	if err != nil || saga == nil {
		return err
	}
	return h.releaseStock(ctx, saga)
}

// HandleCartSnapshotTaken records the cart reply and requests catalog
// snapshots for the line item SKUs
func (h *CheckoutHandler) HandleCartSnapshotTaken(ctx context.Context, event domain.CartSnapshotTakenEvent) error {
	saga, err := h.loadSaga(ctx, event.CheckoutID)
	if err != nil || saga == nil {
		return err
	}

	handled, err := saga.RecordCartSnapshot(event.Items)
	if err != nil {
		return err
	}
	if !handled {
		return h.ignore(saga, domain.CartSnapshotTaken)
	}
	if saga.State.Status == domain.SagaFailed {
		return h.saveFailed(ctx, saga)
	}

	if _, err := saga.RequestProductSnapshots(); err != nil {
		return err
	}
	return h.repo.Save(ctx, saga, saga.GetID())
}

// HandleCartSnapshotFailed fails the saga when the cart cannot be snapshot
func (h *CheckoutHandler) HandleCartSnapshotFailed(ctx context.Context, event domain.CartSnapshotFailedEvent) error {
	return h.failFromReply(ctx, event.CheckoutID, domain.SagaCartSnapshotRequested, event.Reason)
}

// HandleProductSnapshotsCollected records catalog data and requests stock
// validation
func (h *CheckoutHandler) HandleProductSnapshotsCollected(ctx context.Context, event domain.ProductSnapshotsCollectedEvent) error {
	saga, err := h.loadSaga(ctx, event.CheckoutID)
	if err != nil || saga == nil {
		return err
	}

	handled, err := saga.RecordProductSnapshots(event.Snapshots)
	if err != nil {
		return err
	}
	if !handled {
		return h.ignore(saga, domain.ProductSnapshotsCollected)
	}
	if saga.State.Status == domain.SagaFailed {
		return h.saveFailed(ctx, saga)
	}

	if _, err := saga.RequestStockValidation(); err != nil {
		return err
	}
	return h.repo.Save(ctx, saga, saga.GetID())
}

// HandleProductSnapshotsFailed fails the saga on unknown products
func (h *CheckoutHandler) HandleProductSnapshotsFailed(ctx context.Context, event domain.ProductSnapshotsFailedEvent) error {
	return h.failFromReply(ctx, event.CheckoutID, domain.SagaProductSnapshotsRequested, event.Reason)
}

// HandleStockValidationCompleted records the validation outcome and, when
// every line item is available, requests the deduction
func (h *CheckoutHandler) HandleStockValidationCompleted(ctx context.Context, event domain.StockValidationCompletedEvent) error {
	saga, err := h.loadSaga(ctx, event.CheckoutID)
	if err != nil || saga == nil {
		return err
	}

	handled, err := saga.RecordStockValidation(event.Results)
	if err != nil {
		return err
	}
	if !handled {
		return h.ignore(saga, domain.StockValidationCompleted)
	}
	if saga.State.Status == domain.SagaFailed {
		return h.saveFailed(ctx, saga)
	}

	if _, err := saga.RequestStockDeduction(); err != nil {
		return err
	}
	return h.repo.Save(ctx, saga, saga.GetID())
}

// HandleStockDeductionCompleted records a successful deduction and
// requests order creation. A failed deduction fails the saga; the
// compensating release for the whole order rides the terminal event, and
// SKUs that were never deducted make the release a no-op.
func (h *CheckoutHandler) HandleStockDeductionCompleted(ctx context.Context, event domain.StockDeductionCompletedEvent) error {
	saga, err := h.loadSaga(ctx, event.CheckoutID)
	if err != nil || saga == nil {
		return err
	}

	if !event.Success {
		if saga.State.Status != domain.SagaStockDeductionRequested {
			return h.ignore(saga, domain.StockDeductionCompleted)
		}
		reason := fmt.Sprintf("stock deduction failed: %v", event.Reasons)
		if _, err := saga.Fail(reason, true); err != nil {
			return err
		}
		return h.saveFailed(ctx, saga)
	}

	handled, err := saga.RecordStockDeduction(event.OrderID)
	if err != nil {
		return err
	}
	if !handled {
		return h.ignore(saga, domain.StockDeductionCompleted)
	}

	if _, err := saga.RequestOrderCreation(); err != nil {
		return err
	}
	return h.repo.Save(ctx, saga, saga.GetID())
}

// HandleOrderCreated records the placed order and requests the cart clear
func (h *CheckoutHandler) HandleOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error {
	saga, err := h.loadSaga(ctx, event.CheckoutID)
	if err != nil || saga == nil {
		return err
	}

	handled, err := saga.RecordOrderCreated(event.OrderID, event.OrderNumber)
	if err != nil {
		return err
	}
	if !handled {
		return h.ignore(saga, domain.OrderCreated)
	}

	if _, err := saga.RequestCartClear(); err != nil {
		return err
	}
	return h.repo.Save(ctx, saga, saga.GetID())
}

// HandleOrderCreationFailed fails the saga; the stock deducted for the
// order is released when the terminal event is relayed
func (h *CheckoutHandler) HandleOrderCreationFailed(ctx context.Context, event domain.OrderCreationFailedEvent) error {
	return h.failFromReply(ctx, event.CheckoutID, domain.SagaOrderCreationRequested, "order creation failed: "+event.Reason)
}

// HandleCartCleared records the clear reply and completes the saga
func (h *CheckoutHandler) HandleCartCleared(ctx context.Context, event domain.CartClearedEvent) error {
	if event.CheckoutID == "" {
		// Carts can be cleared outside a checkout
		return nil
	}

	saga, err := h.loadSaga(ctx, event.CheckoutID)
	if err != nil || saga == nil {
		return err
	}

	handled, err := saga.RecordCartCleared()
	if err != nil {
		return err
	}
	if !handled {
		return h.ignore(saga, domain.CartCleared)
	}

	if _, err := saga.Complete(); err != nil {
		return err
	}
	if err := h.repo.Save(ctx, saga, saga.GetID()); err != nil {
		return err
	}

	log.Info().Str("checkoutID", saga.GetID()).Str("orderNumber", saga.State.OrderNumber).Msg("Checkout saga completed")
	return nil
}

// FailTimedOut fails a saga stuck in a non-terminal status past its
// deadline. Called by the worker's sweep job; failing a saga that
// finished in the meantime is a no-op.
func (h *CheckoutHandler) FailTimedOut(ctx context.Context, checkoutID string) error {
	saga, err := h.loadSaga(ctx, checkoutID)
	if err != nil || saga == nil {
		return err
	}
	if saga.IsTerminal() {
		return nil
	}

	reason := fmt.Sprintf("checkout timed out in status %s", saga.State.Status)
	log.Warn().Str("checkoutID", checkoutID).Str("status", saga.State.Status).Msg("Failing timed out checkout saga")

	if _, err := saga.Fail(reason, saga.NeedsStockRelease()); err != nil {
		return err
	}
	return h.repo.Save(ctx, saga, saga.GetID())
}

// loadSaga loads the saga for a reply. A reply for an unknown checkout is
// logged and dropped; redelivery cannot make the saga appear.
func (h *CheckoutHandler) loadSaga(ctx context.Context, checkoutID string) (*domain.SagaAggregate, error) {
	saga := domain.NewSagaAggregate(checkoutID)
	if err := h.repo.Load(ctx, saga); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Str("checkoutID", checkoutID).Msg("Reply for unknown checkout saga, dropping")
			return nil, nil
		}
		return nil, err
	}
	return saga, nil
}

// failFromReply fails the saga on a failure reply. The reply only counts
// when the saga is still waiting in the matching status; anything else is
// a duplicate or out-of-order delivery and is ignored.
func (h *CheckoutHandler) failFromReply(ctx context.Context, checkoutID, expectedStatus, reason string) error {
	saga, err := h.loadSaga(ctx, checkoutID)
	if err != nil || saga == nil {
		return err
	}
	if saga.State.Status != expectedStatus {
		return h.ignore(saga, "failure reply")
	}

	if _, err := saga.Fail(reason, saga.NeedsStockRelease()); err != nil {
		return err
	}
	return h.saveFailed(ctx, saga)
}

func (h *CheckoutHandler) saveFailed(ctx context.Context, saga *domain.SagaAggregate) error {
	if err := h.repo.Save(ctx, saga, saga.GetID()); err != nil {
		return err
	}
	log.Warn().Str("checkoutID", saga.GetID()).Str("reason", saga.State.FailureReason).Msg("Checkout saga failed")
	return nil
}

func (h *CheckoutHandler) releaseStock(ctx context.Context, saga *domain.SagaAggregate) error {
	return h.commands.Enqueue(ctx, ReleaseStock, ReleaseStockCommand{
		CheckoutID: saga.GetID(),
		OrderID:    saga.State.OrderID,
		Items:      saga.State.CartSnapshot,
	}, h.meta(saga))
}

func (h *CheckoutHandler) ignore(saga *domain.SagaAggregate, replyType string) error {
	log.Info().
		Str("checkoutID", saga.GetID()).
		Str("status", saga.State.Status).
		Str("reply", replyType).
		Msg("Ignoring reply the saga is not waiting for")
	return nil
}

func (h *CheckoutHandler) meta(saga *domain.SagaAggregate) messaging.Metadata {
	return messaging.Metadata{CorrelationID: saga.GetID()}
}
