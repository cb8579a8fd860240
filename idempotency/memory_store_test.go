package idempotency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type storedReply struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id"`
}

func TestMemoryStoreCheckUnknownKey(t *testing.T) {
	store := NewMemoryStore()

	_, found, err := store.Check(context.Background(), "initiate-checkout:missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemoryStoreMarkAndCheck(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	reply := storedReply{Success: true, OrderID: "order-1"}
	require.NoError(t, store.MarkProcessed(ctx, "deduct-stock:order-1", "order-1", reply))

	result, found, err := store.Check(ctx, "deduct-stock:order-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "order-1", result.AggregateID)

	var decoded storedReply
	require.NoError(t, result.Decode(&decoded))
	require.Equal(t, reply, decoded)
}

func TestMemoryStoreFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.MarkProcessed(ctx, "create-order:order-1", "order-1", storedReply{Success: true, OrderID: "order-1"}))
	require.NoError(t, store.MarkProcessed(ctx, "create-order:order-1", "order-1", storedReply{Success: false, OrderID: "order-1"}))

	result, found, err := store.Check(ctx, "create-order:order-1")
	require.NoError(t, err)
	require.True(t, found)

	var decoded storedReply
	require.NoError(t, result.Decode(&decoded))
	require.True(t, decoded.Success)
}

func TestResultDecodeEmptyPayload(t *testing.T) {
	var decoded storedReply
	require.NoError(t, Result{}.Decode(&decoded))
	require.Equal(t, storedReply{}, decoded)
}
