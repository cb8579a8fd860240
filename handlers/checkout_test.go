package handlers

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/checkout/domain"
	"example.com/backstage/services/checkout/eventstore"
	"example.com/backstage/services/checkout/idempotency"
	"example.com/backstage/services/checkout/messaging"
)

type publishedEvent struct {
	eventType string
	payload   interface{}
}

// fakeBus records direct event publications
type fakeBus struct {
	events []publishedEvent
}

func (b *fakeBus) Publish(ctx context.Context, eventType string, payload interface{}, meta messaging.Metadata) error {
	b.events = append(b.events, publishedEvent{eventType: eventType, payload: payload})
	return nil
}

type enqueuedCommand struct {
	commandType string
	payload     interface{}
}

// fakeCommandBus records enqueued commands
type fakeCommandBus struct {
	commands []enqueuedCommand
}

func (b *fakeCommandBus) Enqueue(ctx context.Context, commandType string, payload interface{}, meta messaging.Metadata) error {
	b.commands = append(b.commands, enqueuedCommand{commandType: commandType, payload: payload})
	return nil
}

// flakyEnqueuer fails the first n enqueues the way a bus outage would
type flakyEnqueuer struct {
	inner    messaging.Enqueuer
	failures int
}

func (f *flakyEnqueuer) Enqueue(ctx context.Context, commandType string, payload interface{}, meta messaging.Metadata) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("service bus unavailable")
	}
	return f.inner.Enqueue(ctx, commandType, payload, meta)
}

// raceStore lets another writer commit between a caller's load and its
// append, producing a genuine version conflict on the first save
type raceStore struct {
	eventstore.EventStore
	winner func()
	once   sync.Once
}

func (s *raceStore) Append(ctx context.Context, streamID string, events []domain.Event, expectedVersion int, correlationID string) (int, error) {
	s.once.Do(s.winner)
	return s.EventStore.Append(ctx, streamID, events, expectedVersion, correlationID)
}

// testEnv wires every handler over one in-memory store with fake buses.
// Its pump plays the roles of the worker's queue consumers and the event
// relay so a checkout can run end to end inside a test.
type testEnv struct {
	store     *eventstore.MemoryStore
	repo      *eventstore.Repository
	idem      *idempotency.MemoryStore
	bus       *fakeBus
	commands  *fakeCommandBus
	checkout  *CheckoutHandler
	cart      *CartHandler
	catalog   *CatalogHandler
	inventory *InventoryHandler
	order     *OrderHandler
}

func newTestEnv() *testEnv {
	store := eventstore.NewMemoryStore()
	repo := eventstore.NewRepository(store)
	idem := idempotency.NewMemoryStore()
	bus := &fakeBus{}
	commands := &fakeCommandBus{}

	return &testEnv{
		store:     store,
		repo:      repo,
		idem:      idem,
		bus:       bus,
		commands:  commands,
		checkout:  NewCheckoutHandler(repo, idem, commands),
		cart:      NewCartHandler(repo, bus),
		catalog:   NewCatalogHandler(repo, bus),
		inventory: NewInventoryHandler(repo, idem, bus),
		order:     NewOrderHandler(repo, idem),
	}
}

// seedCatalog registers a product and its tracked stock
func (env *testEnv) seedCatalog(ctx context.Context, t *testing.T, sku string, price float64, available int) {
	t.Helper()
	require.NoError(t, env.catalog.HandleRegisterProduct(ctx, RegisterProductCommand{SKU: sku, Name: sku, Price: price}))
	require.NoError(t, env.inventory.HandleRegisterInventoryItem(ctx, RegisterInventoryItemCommand{SKU: sku, Available: available}))
}

// seedCart creates a cart holding the given items
func (env *testEnv) seedCart(ctx context.Context, t *testing.T, cartID string, items ...domain.CartItem) {
	t.Helper()
	require.NoError(t, env.cart.HandleCreateCart(ctx, CreateCartCommand{CartID: cartID}))
	for _, item := range items {
		require.NoError(t, env.cart.HandleAddCartItem(ctx, AddCartItemCommand{
			CartID:   cartID,
			SKU:      item.SKU,
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.Price,
		}))
	}
	// Drain the bookkeeping so tests only see checkout traffic
	env.drain(ctx, t)
}

// drain relays seeded events without asserting on them
func (env *testEnv) drain(ctx context.Context, t *testing.T) {
	t.Helper()
	pending, err := env.store.Unpublished(ctx, 1000)
	require.NoError(t, err)
	for _, event := range pending {
		require.NoError(t, env.store.MarkPublished(ctx, event.ID))
	}
	env.bus.events = nil
}

// pump runs queued commands, relays stored events and forwards replies
// until the system goes quiet
func (env *testEnv) pump(ctx context.Context, t *testing.T) {
	t.Helper()
	for {
		progressed := false

		for len(env.commands.commands) > 0 {
			cmd := env.commands.commands[0]
			env.commands.commands = env.commands.commands[1:]
			env.dispatchCommand(ctx, t, cmd)
			progressed = true
		}

		pending, err := env.store.Unpublished(ctx, 1000)
		require.NoError(t, err)
		for _, event := range pending {
			require.NoError(t, env.store.MarkPublished(ctx, event.ID))
			env.dispatchStoredEvent(ctx, t, event)
			progressed = true
		}

		for len(env.bus.events) > 0 {
			reply := env.bus.events[0]
			env.bus.events = env.bus.events[1:]
			env.dispatchReply(ctx, t, reply)
			progressed = true
		}

		if !progressed {
			return
		}
	}
}

func (env *testEnv) dispatchCommand(ctx context.Context, t *testing.T, cmd enqueuedCommand) {
	t.Helper()
	var err error
	switch cmd.commandType {
	case TakeCartSnapshot:
		err = env.cart.HandleTakeCartSnapshot(ctx, cmd.payload.(TakeCartSnapshotCommand))
	case CollectProductSnapshots:
		err = env.catalog.HandleCollectProductSnapshots(ctx, cmd.payload.(CollectProductSnapshotsCommand))
	case ValidateStock:
		err = env.inventory.HandleValidateStock(ctx, cmd.payload.(ValidateStockCommand))
	case DeductStock:
		err = env.inventory.HandleDeductStock(ctx, cmd.payload.(DeductStockCommand))
	case CreateOrder:
		err = env.order.HandleCreateOrder(ctx, cmd.payload.(CreateOrderCommand))
	case ClearCart:
		err = env.cart.HandleClearCart(ctx, cmd.payload.(ClearCartCommand))
	case ReleaseStock:
		err = env.inventory.HandleReleaseStock(ctx, cmd.payload.(ReleaseStockCommand))
	default:
		t.Fatalf("unexpected command type %s", cmd.commandType)
	}
	require.NoError(t, err)
}

// dispatchStoredEvent plays the relay: aggregate events reach the saga
// through the store, not through direct publication
func (env *testEnv) dispatchStoredEvent(ctx context.Context, t *testing.T, event domain.Event) {
	t.Helper()
	var err error
	switch event.Type {
	case domain.CheckoutStepRequested:
		err = env.checkout.HandleStepRequested(ctx, event.Data.(domain.CheckoutStepRequestedEvent))
	case domain.CheckoutSagaFailed:
		err = env.checkout.HandleSagaFailed(ctx, event.Data.(domain.CheckoutSagaFailedEvent))
	case domain.CartSnapshotTaken:
		err = env.checkout.HandleCartSnapshotTaken(ctx, event.Data.(domain.CartSnapshotTakenEvent))
	case domain.CartCleared:
		err = env.checkout.HandleCartCleared(ctx, event.Data.(domain.CartClearedEvent))
	case domain.OrderCreated:
		err = env.checkout.HandleOrderCreated(ctx, event.Data.(domain.OrderCreatedEvent))
	case domain.OrderCreationFailed:
		err = env.checkout.HandleOrderCreationFailed(ctx, event.Data.(domain.OrderCreationFailedEvent))
	}
	require.NoError(t, err)
}

// dispatchReply forwards directly published combined replies to the saga
func (env *testEnv) dispatchReply(ctx context.Context, t *testing.T, reply publishedEvent) {
	t.Helper()
	var err error
	switch reply.eventType {
	case domain.CartSnapshotFailed:
		err = env.checkout.HandleCartSnapshotFailed(ctx, reply.payload.(domain.CartSnapshotFailedEvent))
	case domain.ProductSnapshotsCollected:
		err = env.checkout.HandleProductSnapshotsCollected(ctx, reply.payload.(domain.ProductSnapshotsCollectedEvent))
	case domain.ProductSnapshotsFailed:
		err = env.checkout.HandleProductSnapshotsFailed(ctx, reply.payload.(domain.ProductSnapshotsFailedEvent))
	case domain.StockValidationCompleted:
		err = env.checkout.HandleStockValidationCompleted(ctx, reply.payload.(domain.StockValidationCompletedEvent))
	case domain.StockDeductionCompleted:
		err = env.checkout.HandleStockDeductionCompleted(ctx, reply.payload.(domain.StockDeductionCompletedEvent))
	case domain.CartCleared:
		err = env.checkout.HandleCartCleared(ctx, reply.payload.(domain.CartClearedEvent))
	}
	require.NoError(t, err)
}

// relayOnce plays one relay pass over the outbox without touching the
// command queue
func (env *testEnv) relayOnce(ctx context.Context, t *testing.T) {
	t.Helper()
	pending, err := env.store.Unpublished(ctx, 1000)
	require.NoError(t, err)
	for _, event := range pending {
		require.NoError(t, env.store.MarkPublished(ctx, event.ID))
		env.dispatchStoredEvent(ctx, t, event)
	}
}

// storedSagaEvent finds the newest outbox event of the given type
func (env *testEnv) storedSagaEvent(ctx context.Context, t *testing.T, eventType string) domain.Event {
	t.Helper()
	pending, err := env.store.Unpublished(ctx, 1000)
	require.NoError(t, err)
	for i := len(pending) - 1; i >= 0; i-- {
		if pending[i].Type == eventType {
			return pending[i]
		}
	}
	t.Fatalf("no stored %s event", eventType)
	return domain.Event{}
}

func (env *testEnv) loadSaga(ctx context.Context, t *testing.T, checkoutID string) *domain.SagaAggregate {
	t.Helper()
	saga := domain.NewSagaAggregate(checkoutID)
	require.NoError(t, env.repo.Load(ctx, saga))
	return saga
}

func (env *testEnv) loadInventory(ctx context.Context, t *testing.T, sku string) *domain.InventoryAggregate {
	t.Helper()
	item := domain.NewInventoryAggregate(sku)
	require.NoError(t, env.repo.Load(ctx, item))
	return item
}

func TestCheckoutHappyPath(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	env.seedCatalog(ctx, t, "SKU1", 9.99, 5)
	env.seedCart(ctx, t, "cart-1", domain.CartItem{SKU: "SKU1", Name: "Widget", Quantity: 2, Price: 9.99})

	resp, err := env.checkout.HandleInitiateCheckout(ctx, InitiateCheckoutCommand{
		CheckoutID:      "checkout-1",
		CartID:          "cart-1",
		Customer:        domain.CustomerInfo{Name: "Jane", Email: "jane@example.com"},
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.OrderID)

	env.pump(ctx, t)

	saga := env.loadSaga(ctx, t, "checkout-1")
	require.Equal(t, domain.SagaCompleted, saga.State.Status)
	require.Equal(t, resp.OrderID, saga.State.OrderID)
	require.NotEmpty(t, saga.State.OrderNumber)

	item := env.loadInventory(ctx, t, "SKU1")
	require.Equal(t, 3, item.State.Available)

	order := domain.NewOrderAggregate(resp.OrderID)
	require.NoError(t, env.repo.Load(ctx, order))
	require.InDelta(t, 19.98, order.State.Total, 0.0001)
	require.Equal(t, saga.State.OrderNumber, order.State.OrderNumber)

	cart := domain.NewCartAggregate("cart-1")
	require.NoError(t, env.repo.Load(ctx, cart))
	require.True(t, cart.State.Cleared)
}

func TestInitiateCheckoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	env.seedCatalog(ctx, t, "SKU1", 9.99, 5)
	env.seedCart(ctx, t, "cart-1", domain.CartItem{SKU: "SKU1", Quantity: 1, Price: 9.99})

	cmd := InitiateCheckoutCommand{
		CheckoutID:      "checkout-1",
		CartID:          "cart-1",
		ShippingAddress: "1 Main St",
	}

	first, err := env.checkout.HandleInitiateCheckout(ctx, cmd)
	require.NoError(t, err)

	second, err := env.checkout.HandleInitiateCheckout(ctx, cmd)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// Only the first delivery put a step event in the outbox, so relaying
	// it requests the cart snapshot exactly once
	env.relayOnce(ctx, t)
	require.Len(t, env.commands.commands, 1)
	require.Equal(t, TakeCartSnapshot, env.commands.commands[0].commandType)
}

func TestInitiateCheckoutRejectsMissingCart(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, err := env.checkout.HandleInitiateCheckout(ctx, InitiateCheckoutCommand{
		CheckoutID:      "checkout-1",
		ShippingAddress: "1 Main St",
	})
	require.ErrorIs(t, err, domain.ErrPoisonMessage)
}

func TestCheckoutFailsOnEmptyCart(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	env.seedCart(ctx, t, "cart-1")

	_, err := env.checkout.HandleInitiateCheckout(ctx, InitiateCheckoutCommand{
		CheckoutID:      "checkout-1",
		CartID:          "cart-1",
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)

	env.pump(ctx, t)

	saga := env.loadSaga(ctx, t, "checkout-1")
	require.Equal(t, domain.SagaFailed, saga.State.Status)
	require.Contains(t, saga.State.FailureReason, "empty")
}

func TestCheckoutFailsOnUnknownProduct(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	// Cart holds a SKU the catalog never registered
	env.seedCart(ctx, t, "cart-1", domain.CartItem{SKU: "GHOST", Quantity: 1, Price: 5})

	_, err := env.checkout.HandleInitiateCheckout(ctx, InitiateCheckoutCommand{
		CheckoutID:      "checkout-1",
		CartID:          "cart-1",
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)

	env.pump(ctx, t)

	saga := env.loadSaga(ctx, t, "checkout-1")
	require.Equal(t, domain.SagaFailed, saga.State.Status)
	require.Contains(t, saga.State.FailureReason, "GHOST")
}

func TestCheckoutFailsOnInsufficientStock(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	env.seedCatalog(ctx, t, "SKU1", 9.99, 1)
	env.seedCart(ctx, t, "cart-1", domain.CartItem{SKU: "SKU1", Quantity: 2, Price: 9.99})

	_, err := env.checkout.HandleInitiateCheckout(ctx, InitiateCheckoutCommand{
		CheckoutID:      "checkout-1",
		CartID:          "cart-1",
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)

	env.pump(ctx, t)

	saga := env.loadSaga(ctx, t, "checkout-1")
	require.Equal(t, domain.SagaFailed, saga.State.Status)
	require.Contains(t, saga.State.FailureReason, "insufficient stock")

	// Validation failed before any deduction
	item := env.loadInventory(ctx, t, "SKU1")
	require.Equal(t, 1, item.State.Available)

	cart := domain.NewCartAggregate("cart-1")
	require.NoError(t, env.repo.Load(ctx, cart))
	require.False(t, cart.State.Cleared)
}

// Two checkouts compete for the same stock. Both validate while stock is
// still there; the second deduction comes up short, its saga fails and
// the released SKUs return to the shelf.
func TestCheckoutCompensatesContendedStock(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	env.seedCatalog(ctx, t, "SKU1", 9.99, 10)
	env.seedCatalog(ctx, t, "SKU2", 4.50, 3)

	items := []domain.CartItem{
		{SKU: "SKU1", Name: "Widget", Quantity: 1, Price: 9.99},
		{SKU: "SKU2", Name: "Gadget", Quantity: 2, Price: 4.50},
	}
	env.seedCart(ctx, t, "cart-a", items...)
	env.seedCart(ctx, t, "cart-b", items...)

	_, err := env.checkout.HandleInitiateCheckout(ctx, InitiateCheckoutCommand{
		CheckoutID:      "checkout-a",
		CartID:          "cart-a",
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)
	_, err = env.checkout.HandleInitiateCheckout(ctx, InitiateCheckoutCommand{
		CheckoutID:      "checkout-b",
		CartID:          "cart-b",
		ShippingAddress: "2 Main St",
	})
	require.NoError(t, err)

	env.pump(ctx, t)

	sagaA := env.loadSaga(ctx, t, "checkout-a")
	require.Equal(t, domain.SagaCompleted, sagaA.State.Status)

	sagaB := env.loadSaga(ctx, t, "checkout-b")
	require.Equal(t, domain.SagaFailed, sagaB.State.Status)
	require.Contains(t, sagaB.State.FailureReason, "stock deduction failed")

	// Checkout B deducted SKU1 before SKU2 came up short; the release
	// returned it. Only checkout A's quantities stay deducted.
	require.Equal(t, 9, env.loadInventory(ctx, t, "SKU1").State.Available)
	require.Equal(t, 1, env.loadInventory(ctx, t, "SKU2").State.Available)
}

func TestDuplicateReplyAfterCompletionIsIgnored(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	env.seedCatalog(ctx, t, "SKU1", 9.99, 5)
	snapshot := domain.CartItem{SKU: "SKU1", Name: "Widget", Quantity: 2, Price: 9.99}
	env.seedCart(ctx, t, "cart-1", snapshot)

	_, err := env.checkout.HandleInitiateCheckout(ctx, InitiateCheckoutCommand{
		CheckoutID:      "checkout-1",
		CartID:          "cart-1",
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)
	env.pump(ctx, t)

	// Redeliver an early reply long after the saga finished
	require.NoError(t, env.checkout.HandleCartSnapshotTaken(ctx, domain.CartSnapshotTakenEvent{
		CartID:     "cart-1",
		CheckoutID: "checkout-1",
		Items:      []domain.CartItem{snapshot},
	}))

	require.Empty(t, env.commands.commands)
	saga := env.loadSaga(ctx, t, "checkout-1")
	require.Equal(t, domain.SagaCompleted, saga.State.Status)
}

func TestReplyForUnknownCheckoutIsDropped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	err := env.checkout.HandleCartSnapshotTaken(ctx, domain.CartSnapshotTakenEvent{
		CartID:     "cart-1",
		CheckoutID: "checkout-ghost",
		Items:      []domain.CartItem{{SKU: "SKU1", Quantity: 1}},
	})
	require.NoError(t, err)
	require.Empty(t, env.commands.commands)
}

func TestDeductStockRepliesOncePerOrder(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	env.seedCatalog(ctx, t, "SKU1", 9.99, 5)

	cmd := DeductStockCommand{
		CheckoutID: "checkout-1",
		OrderID:    "order-1",
		Items:      []domain.CartItem{{SKU: "SKU1", Quantity: 2, Price: 9.99}},
	}

	require.NoError(t, env.inventory.HandleDeductStock(ctx, cmd))
	require.NoError(t, env.inventory.HandleDeductStock(ctx, cmd))

	// Stock moved once, but both deliveries produced the same reply
	require.Equal(t, 3, env.loadInventory(ctx, t, "SKU1").State.Available)
	require.Len(t, env.bus.events, 2)

	first := env.bus.events[0].payload.(domain.StockDeductionCompletedEvent)
	second := env.bus.events[1].payload.(domain.StockDeductionCompletedEvent)
	require.True(t, first.Success)
	require.Equal(t, first, second)
}

func TestFailTimedOutCheckout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	env.seedCatalog(ctx, t, "SKU1", 9.99, 5)
	env.seedCart(ctx, t, "cart-1", domain.CartItem{SKU: "SKU1", Quantity: 1, Price: 9.99})

	_, err := env.checkout.HandleInitiateCheckout(ctx, InitiateCheckoutCommand{
		CheckoutID:      "checkout-1",
		CartID:          "cart-1",
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)

	// The cart never replies; the sweep gives up on the saga
	require.NoError(t, env.checkout.FailTimedOut(ctx, "checkout-1"))

	saga := env.loadSaga(ctx, t, "checkout-1")
	require.Equal(t, domain.SagaFailed, saga.State.Status)
	require.Contains(t, saga.State.FailureReason, "timed out")

	// The snapshot request still parked in the outbox is stale now and no
	// command goes out for it
	env.relayOnce(ctx, t)
	require.Empty(t, env.commands.commands)

	// A straggler reply after the timeout cannot revive the checkout
	require.NoError(t, env.checkout.HandleCartSnapshotTaken(ctx, domain.CartSnapshotTakenEvent{
		CartID:     "cart-1",
		CheckoutID: "checkout-1",
		Items:      []domain.CartItem{{SKU: "SKU1", Quantity: 1, Price: 9.99}},
	}))
	saga = env.loadSaga(ctx, t, "checkout-1")
	require.Equal(t, domain.SagaFailed, saga.State.Status)

	// Failing an already terminal saga is a no-op
	require.NoError(t, env.checkout.FailTimedOut(ctx, "checkout-1"))
}

// A step command must survive a bus outage. The enqueue failure abandons
// only the step event's delivery; the redelivered event issues the
// command and the checkout still completes.
func TestStepCommandSurvivesTransientEnqueueFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	env.seedCatalog(ctx, t, "SKU1", 9.99, 5)
	env.seedCart(ctx, t, "cart-1", domain.CartItem{SKU: "SKU1", Name: "Widget", Quantity: 1, Price: 9.99})

	_, err := env.checkout.HandleInitiateCheckout(ctx, InitiateCheckoutCommand{
		CheckoutID:      "checkout-1",
		CartID:          "cart-1",
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)

	step := env.storedSagaEvent(ctx, t, domain.CheckoutStepRequested).Data.(domain.CheckoutStepRequestedEvent)
	require.Equal(t, domain.SagaCartSnapshotRequested, step.Step)

	flaky := NewCheckoutHandler(env.repo, env.idem, &flakyEnqueuer{inner: env.commands, failures: 1})
	require.Error(t, flaky.HandleStepRequested(ctx, step))
	require.Empty(t, env.commands.commands)

	// The abandoned delivery comes back and the command still goes out
	require.NoError(t, flaky.HandleStepRequested(ctx, step))
	require.Len(t, env.commands.commands, 1)
	require.Equal(t, TakeCartSnapshot, env.commands.commands[0].commandType)

	env.pump(ctx, t)
	require.Equal(t, domain.SagaCompleted, env.loadSaga(ctx, t, "checkout-1").State.Status)
}

func TestRedeliveredStepEventIsStaleAfterAdvance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	env.seedCatalog(ctx, t, "SKU1", 9.99, 5)
	env.seedCart(ctx, t, "cart-1", domain.CartItem{SKU: "SKU1", Name: "Widget", Quantity: 1, Price: 9.99})

	_, err := env.checkout.HandleInitiateCheckout(ctx, InitiateCheckoutCommand{
		CheckoutID:      "checkout-1",
		CartID:          "cart-1",
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)
	env.pump(ctx, t)
	require.Equal(t, domain.SagaCompleted, env.loadSaga(ctx, t, "checkout-1").State.Status)

	// The first step event comes back long after the saga finished
	require.NoError(t, env.checkout.HandleStepRequested(ctx, domain.CheckoutStepRequestedEvent{
		CheckoutID: "checkout-1",
		Step:       domain.SagaCartSnapshotRequested,
	}))
	require.Empty(t, env.commands.commands)
}

// A deduction that comes up short after validation passed forces the
// compensating release. The release must survive a bus outage: the
// failed delivery of the terminal event is abandoned and its redelivery
// puts the release on the queue, so no deducted stock is leaked.
func TestCompensationSurvivesTransientEnqueueFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	env.seedCatalog(ctx, t, "SKU1", 9.99, 5)
	env.seedCatalog(ctx, t, "SKU2", 4.50, 3)
	items := []domain.CartItem{
		{SKU: "SKU1", Name: "Widget", Quantity: 1, Price: 9.99},
		{SKU: "SKU2", Name: "Gadget", Quantity: 5, Price: 4.50},
	}
	env.seedCart(ctx, t, "cart-1", items...)

	resp, err := env.checkout.HandleInitiateCheckout(ctx, InitiateCheckoutCommand{
		CheckoutID:      "checkout-1",
		CartID:          "cart-1",
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)

	require.NoError(t, env.checkout.HandleCartSnapshotTaken(ctx, domain.CartSnapshotTakenEvent{
		CartID:     "cart-1",
		CheckoutID: "checkout-1",
		Items:      items,
	}))
	require.NoError(t, env.checkout.HandleProductSnapshotsCollected(ctx, domain.ProductSnapshotsCollectedEvent{
		CheckoutID: "checkout-1",
		Snapshots: []domain.ProductSnapshot{
			{SKU: "SKU1", Name: "Widget", Price: 9.99, Active: true},
			{SKU: "SKU2", Name: "Gadget", Price: 4.50, Active: true},
		},
	}))
	// Validation raced a competing deduction and saw stock the shelf no
	// longer holds
	require.NoError(t, env.checkout.HandleStockValidationCompleted(ctx, domain.StockValidationCompletedEvent{
		CheckoutID: "checkout-1",
		Results: []domain.StockCheckResult{
			{SKU: "SKU1", Requested: 1, Available: 5, Ok: true},
			{SKU: "SKU2", Requested: 5, Available: 5, Ok: true},
		},
		AllAvailable: true,
	}))

	// SKU1 is deducted before SKU2 comes up short
	require.NoError(t, env.inventory.HandleDeductStock(ctx, DeductStockCommand{
		CheckoutID: "checkout-1",
		OrderID:    resp.OrderID,
		Items:      items,
	}))
	require.Equal(t, 4, env.loadInventory(ctx, t, "SKU1").State.Available)

	require.Len(t, env.bus.events, 1)
	reply := env.bus.events[0].payload.(domain.StockDeductionCompletedEvent)
	require.False(t, reply.Success)

	require.NoError(t, env.checkout.HandleStockDeductionCompleted(ctx, reply))
	require.Equal(t, domain.SagaFailed, env.loadSaga(ctx, t, "checkout-1").State.Status)

	// The release rides the terminal event, not the reply delivery
	require.Empty(t, env.commands.commands)
	failed := env.storedSagaEvent(ctx, t, domain.CheckoutSagaFailed).Data.(domain.CheckoutSagaFailedEvent)
	require.True(t, failed.Compensated)

	flaky := NewCheckoutHandler(env.repo, env.idem, &flakyEnqueuer{inner: env.commands, failures: 1})
	require.Error(t, flaky.HandleSagaFailed(ctx, failed))
	require.Empty(t, env.commands.commands)
	require.Equal(t, 4, env.loadInventory(ctx, t, "SKU1").State.Available)

	// The redelivered terminal event gets the release onto the queue
	require.NoError(t, flaky.HandleSagaFailed(ctx, failed))
	require.Len(t, env.commands.commands, 1)
	require.Equal(t, ReleaseStock, env.commands.commands[0].commandType)

	release := env.commands.commands[0].payload.(ReleaseStockCommand)
	env.commands.commands = nil
	require.NoError(t, env.inventory.HandleReleaseStock(ctx, release))
	require.Equal(t, 5, env.loadInventory(ctx, t, "SKU1").State.Available)
	require.Equal(t, 3, env.loadInventory(ctx, t, "SKU2").State.Available)
}

// Two concurrent initiations for the same checkout: the append loser must
// hand back the winner's full response, order id included.
func TestInitiateCheckoutConcurrentLoserReturnsWinnerResponse(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	env.seedCatalog(ctx, t, "SKU1", 9.99, 5)
	env.seedCart(ctx, t, "cart-1", domain.CartItem{SKU: "SKU1", Quantity: 1, Price: 9.99})

	cmd := InitiateCheckoutCommand{
		CheckoutID:      "checkout-1",
		CartID:          "cart-1",
		ShippingAddress: "1 Main St",
	}

	// The winner commits between the loser's load and its append
	var winner Response
	racing := &raceStore{EventStore: env.store, winner: func() {
		var err error
		winner, err = env.checkout.HandleInitiateCheckout(ctx, cmd)
		require.NoError(t, err)
	}}
	loser := NewCheckoutHandler(eventstore.NewRepository(racing), idempotency.NewMemoryStore(), env.commands)

	resp, err := loser.HandleInitiateCheckout(ctx, cmd)
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.OrderID)
	require.Equal(t, winner, resp)
}
