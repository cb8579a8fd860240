package eventstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/backstage/services/checkout/domain"
)

func TestRepositoryLoadUnknownAggregate(t *testing.T) {
	repo := NewRepository(NewMemoryStore())

	saga := domain.NewSagaAggregate("checkout-1")
	err := repo.Load(context.Background(), saga)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepositorySaveAndLoadRoundtrip(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryStore())

	cart := domain.NewCartAggregate("cart-1")
	require.NoError(t, cart.Create("guest-1"))
	require.NoError(t, cart.AddItem("SKU1", "Widget", 2, 9.99))

	require.NoError(t, repo.Save(ctx, cart, "corr-1"))
	require.Empty(t, cart.UncommittedEvents())

	loaded := domain.NewCartAggregate("cart-1")
	require.NoError(t, repo.Load(ctx, loaded))
	require.Equal(t, cart.State, loaded.State)
	require.Equal(t, 2, loaded.GetVersion())
}

func TestRepositorySaveNothingPending(t *testing.T) {
	repo := NewRepository(NewMemoryStore())

	cart := domain.NewCartAggregate("cart-1")
	require.NoError(t, repo.Save(context.Background(), cart, ""))
}

func TestRepositoryConcurrencyConflictOnStaleSave(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryStore())

	cart := domain.NewCartAggregate("cart-1")
	require.NoError(t, cart.Create(""))
	require.NoError(t, repo.Save(ctx, cart, ""))

	// Two handlers load version 1 and race their appends
	first := domain.NewCartAggregate("cart-1")
	require.NoError(t, repo.Load(ctx, first))
	second := domain.NewCartAggregate("cart-1")
	require.NoError(t, repo.Load(ctx, second))

	require.NoError(t, first.AddItem("SKU1", "Widget", 1, 9.99))
	require.NoError(t, repo.Save(ctx, first, ""))

	require.NoError(t, second.AddItem("SKU2", "Gadget", 1, 4.50))
	err := repo.Save(ctx, second, "")
	require.ErrorIs(t, err, domain.ErrConcurrency)

	// The loser's events stay uncommitted; reloading shows only the winner
	require.Len(t, second.UncommittedEvents(), 1)

	reloaded := domain.NewCartAggregate("cart-1")
	require.NoError(t, repo.Load(ctx, reloaded))
	require.Len(t, reloaded.State.Items, 1)
	require.Equal(t, "SKU1", reloaded.State.Items[0].SKU)
}

func TestRepositorySaveAppendsOnlyNewEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := NewRepository(store)

	cart := domain.NewCartAggregate("cart-1")
	require.NoError(t, cart.Create(""))
	require.NoError(t, repo.Save(ctx, cart, ""))

	require.NoError(t, cart.AddItem("SKU1", "Widget", 1, 9.99))
	require.NoError(t, repo.Save(ctx, cart, ""))

	events, err := store.Load(ctx, cart.StreamID())
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.CartCreated, events[0].Type)
	require.Equal(t, domain.CartItemAdded, events[1].Type)
}
