package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/checkout/domain"
	"example.com/backstage/services/checkout/messaging"
)

func commandMessage(t *testing.T, commandType string, payload interface{}) *azservicebus.ReceivedMessage {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(messaging.CommandEnvelope{
		CommandType: commandType,
		Metadata:    messaging.Metadata{CorrelationID: "corr-1"},
		Payload:     raw,
	})
	require.NoError(t, err)
	return &azservicebus.ReceivedMessage{Body: body}
}

func eventMessage(t *testing.T, eventType string, payload interface{}) *azservicebus.ReceivedMessage {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(messaging.EventEnvelope{
		EventType: eventType,
		Metadata:  messaging.Metadata{CorrelationID: "corr-1"},
		Payload:   raw,
	})
	require.NoError(t, err)
	return &azservicebus.ReceivedMessage{Body: body}
}

func newTestProcessors() (*CommandProcessor, *EventProcessor, *testEnv) {
	env := newTestEnv()
	commandProcessor := NewCommandProcessor(env.checkout, env.cart, env.catalog, env.inventory, env.order)
	eventProcessor := NewEventProcessor(env.checkout)
	return commandProcessor, eventProcessor, env
}

func TestCommandProcessorDispatches(t *testing.T) {
	ctx := context.Background()
	processor, _, env := newTestProcessors()

	message := commandMessage(t, RegisterProduct, RegisterProductCommand{
		SKU:   "SKU1",
		Name:  "Widget",
		Price: 9.99,
	})
	require.NoError(t, processor.ProcessMessage(ctx, message))

	product := domain.NewProductAggregate("SKU1")
	require.NoError(t, env.repo.Load(ctx, product))
	require.Equal(t, "Widget", product.State.Name)
}

func TestCommandProcessorMalformedEnvelopeIsPoison(t *testing.T) {
	processor, _, _ := newTestProcessors()

	message := &azservicebus.ReceivedMessage{Body: []byte("not json")}
	err := processor.ProcessMessage(context.Background(), message)
	require.ErrorIs(t, err, domain.ErrPoisonMessage)
}

func TestCommandProcessorUnknownTypeIsPoison(t *testing.T) {
	processor, _, _ := newTestProcessors()

	message := commandMessage(t, "TeleportStock", map[string]string{"sku": "SKU1"})
	err := processor.ProcessMessage(context.Background(), message)
	require.ErrorIs(t, err, domain.ErrPoisonMessage)
}

func TestCommandProcessorMalformedPayloadIsPoison(t *testing.T) {
	processor, _, _ := newTestProcessors()

	// The envelope parses but the payload has the wrong shape
	body := []byte(`{"commandType":"RegisterProduct","payload":{"sku":42}}`)

	err := processor.ProcessMessage(context.Background(), &azservicebus.ReceivedMessage{Body: body})
	require.ErrorIs(t, err, domain.ErrPoisonMessage)
}

func TestCommandProcessorInvalidCommandIsPoison(t *testing.T) {
	processor, _, _ := newTestProcessors()

	// Well-formed envelope, but the command fails validation
	message := commandMessage(t, RegisterProduct, RegisterProductCommand{Name: "Widget"})
	err := processor.ProcessMessage(context.Background(), message)
	require.ErrorIs(t, err, domain.ErrPoisonMessage)
}

func TestEventProcessorDispatchesReplies(t *testing.T) {
	ctx := context.Background()
	_, processor, env := newTestProcessors()

	env.seedCatalog(ctx, t, "SKU1", 9.99, 5)
	env.seedCart(ctx, t, "cart-1", domain.CartItem{SKU: "SKU1", Name: "Widget", Quantity: 1, Price: 9.99})

	_, err := env.checkout.HandleInitiateCheckout(ctx, InitiateCheckoutCommand{
		CheckoutID:      "checkout-1",
		CartID:          "cart-1",
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)

	message := eventMessage(t, domain.CartSnapshotTaken, domain.CartSnapshotTakenEvent{
		CartID:     "cart-1",
		CheckoutID: "checkout-1",
		Items:      []domain.CartItem{{SKU: "SKU1", Name: "Widget", Quantity: 1, Price: 9.99}},
	})
	require.NoError(t, processor.ProcessMessage(ctx, message))

	saga := env.loadSaga(ctx, t, "checkout-1")
	require.Equal(t, domain.SagaProductSnapshotsRequested, saga.State.Status)
}

func TestEventProcessorIgnoresUnrelatedEvents(t *testing.T) {
	_, processor, _ := newTestProcessors()

	message := eventMessage(t, domain.StockAdjusted, domain.StockAdjustedEvent{SKU: "SKU1", Delta: 3})
	require.NoError(t, processor.ProcessMessage(context.Background(), message))
}

func TestEventProcessorMalformedEnvelopeIsPoison(t *testing.T) {
	_, processor, _ := newTestProcessors()

	err := processor.ProcessMessage(context.Background(), &azservicebus.ReceivedMessage{Body: []byte("{")})
	require.ErrorIs(t, err, domain.ErrPoisonMessage)
}
