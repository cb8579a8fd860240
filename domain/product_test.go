package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProductLifecycle(t *testing.T) {
	product := NewProductAggregate("SKU1")
	require.NoError(t, product.Register("Widget", 9.99))
	require.True(t, product.State.Active)

	require.NoError(t, product.ChangePrice(12.50))
	require.Equal(t, 12.50, product.State.Price)

	// Same price emits nothing
	version := product.GetVersion()
	require.NoError(t, product.ChangePrice(12.50))
	require.Equal(t, version, product.GetVersion())

	require.NoError(t, product.Deactivate("discontinued"))
	require.False(t, product.State.Active)

	snapshot := product.Snapshot()
	require.Equal(t, "SKU1", snapshot.SKU)
	require.Equal(t, 12.50, snapshot.Price)
	require.False(t, snapshot.Active)
}

func TestProductRegisterTwice(t *testing.T) {
	product := NewProductAggregate("SKU1")
	require.NoError(t, product.Register("Widget", 9.99))

	err := product.Register("Widget", 8.00)
	require.True(t, IsValidationError(err))
	require.Equal(t, 9.99, product.State.Price)
}

func TestProductDeactivateIsIdempotent(t *testing.T) {
	product := NewProductAggregate("SKU1")
	require.NoError(t, product.Register("Widget", 9.99))
	require.NoError(t, product.Deactivate("discontinued"))

	version := product.GetVersion()
	require.NoError(t, product.Deactivate("again"))
	require.Equal(t, version, product.GetVersion())
}
