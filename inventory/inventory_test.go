package inventory_test

import (
	"context"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/backoffice/inventory"
	"github.com/warp/backoffice/ledger"
	"github.com/warp/backoffice/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newService(t *testing.T) (*inventory.Service, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	t.Cleanup(func() { s.Close() })
	logger, _ := logtest.NewNullLogger()
	return inventory.New(s, ledger.NewAuditRecorder(s, logger, nil), logger, nil), s
}

var admin = ledger.Actor{ID: "u-admin", Role: "admin"}

func register(t *testing.T, svc *inventory.Service, sku string, qty int64) *ledger.Product {
	t.Helper()
	p, err := svc.RegisterProduct(context.Background(), inventory.RegisterInput{
		Actor: admin, SKU: sku, Name: "Widget " + sku,
		SellingPrice: ledger.MustMoney("9.99"), MinimumSellingPrice: ledger.MustMoney("8.00"),
		InitialStock: qty,
	})
	require.NoError(t, err)
	return p
}

// =============================================================================
// REGISTRATION
// =============================================================================

func TestRegisterProduct_OpeningStockIsAMovement(t *testing.T) {
	// GIVEN: A new product with 12 units on hand
	// WHEN: Registering it
	// THEN: Stock is 12 and the trail holds one initial_stock movement of +12

	svc, s := newService(t)
	ctx := context.Background()

	p := register(t, svc, "W-1", 12)

	assert.Equal(t, int64(12), p.QuantityInStock)
	movs, err := svc.Movements(ctx, ledger.MovementFilter{ProductID: p.ID})
	require.NoError(t, err)
	require.Len(t, movs, 1)
	assert.Equal(t, ledger.ReasonInitialStock, movs[0].Reason)
	assert.Equal(t, int64(12), movs[0].Delta)
	assert.Equal(t, "u-admin", movs[0].Actor)

	audit, err := s.QueryAudit(ctx, ledger.AuditFilter{EntityID: string(p.ID)})
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "product.create", audit[0].Action)
}

func TestRegisterProduct_ZeroStock_NoMovement(t *testing.T) {
	svc, _ := newService(t)

	p := register(t, svc, "W-0", 0)

	movs, err := svc.Movements(context.Background(), ledger.MovementFilter{ProductID: p.ID})
	require.NoError(t, err)
	assert.Empty(t, movs)
}

func TestRegisterProduct_DuplicateSKU_Conflict(t *testing.T) {
	svc, _ := newService(t)
	register(t, svc, "W-1", 1)

	_, err := svc.RegisterProduct(context.Background(), inventory.RegisterInput{Actor: admin, SKU: "W-1", Name: "Other"})

	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestRegisterProduct_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.RegisterProduct(ctx, inventory.RegisterInput{Name: " "})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = svc.RegisterProduct(ctx, inventory.RegisterInput{Name: "x", InitialStock: -1})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = svc.RegisterProduct(ctx, inventory.RegisterInput{Name: "x", SellingPrice: ledger.MustMoney("-1")})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = svc.RegisterProduct(ctx, inventory.RegisterInput{Name: "x", CostPrice: ledger.MustMoney("100000000000000000")})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func TestAdjust_Delta(t *testing.T) {
	svc, _ := newService(t)
	p := register(t, svc, "W-1", 10)

	res, err := svc.Adjust(context.Background(), inventory.AdjustInput{
		Actor: admin, ProductID: p.ID, Quantity: -4, Notes: "damaged",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Product.QuantityInStock)
	assert.Equal(t, int64(-4), res.Delta)
	require.NotNil(t, res.Movement)
	assert.Equal(t, ledger.ReasonManualAdjustment, res.Movement.Reason)
}

func TestAdjust_DeltaBelowZero_RejectedWithoutMovement(t *testing.T) {
	// GIVEN: 3 units
	// WHEN: Removing 5
	// THEN: NegativeStockError, stock stays 3, only the opening movement exists

	svc, _ := newService(t)
	ctx := context.Background()
	p := register(t, svc, "W-1", 3)

	_, err := svc.Adjust(ctx, inventory.AdjustInput{Actor: admin, ProductID: p.ID, Quantity: -5})

	var negErr *ledger.NegativeStockError
	require.ErrorAs(t, err, &negErr)
	assert.Equal(t, int64(3), negErr.Current)

	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.QuantityInStock)
	movs, err := svc.Movements(ctx, ledger.MovementFilter{ProductID: p.ID})
	require.NoError(t, err)
	assert.Len(t, movs, 1)
}

func TestAdjust_Set_ComputesDelta(t *testing.T) {
	// GIVEN: 10 units on record
	// WHEN: A stock count finds 7
	// THEN: One stock_count movement of -3

	svc, _ := newService(t)
	p := register(t, svc, "W-1", 10)

	res, err := svc.Adjust(context.Background(), inventory.AdjustInput{
		Actor: admin, ProductID: p.ID, Mode: inventory.ModeSet, Quantity: 7,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(-3), res.Delta)
	assert.Equal(t, int64(7), res.Product.QuantityInStock)
	require.NotNil(t, res.Movement)
	assert.Equal(t, ledger.ReasonStockCount, res.Movement.Reason)
}

func TestAdjust_SetToCurrent_NoMovement(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p := register(t, svc, "W-1", 5)

	res, err := svc.Adjust(ctx, inventory.AdjustInput{Actor: admin, ProductID: p.ID, Mode: inventory.ModeSet, Quantity: 5})

	require.NoError(t, err)
	assert.Nil(t, res.Movement)
	assert.Zero(t, res.Delta)
	movs, err := svc.Movements(ctx, ledger.MovementFilter{ProductID: p.ID})
	require.NoError(t, err)
	assert.Len(t, movs, 1)
}

func TestAdjust_InvalidInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p := register(t, svc, "W-1", 5)

	tests := []struct {
		name string
		in   inventory.AdjustInput
	}{
		{"missing product", inventory.AdjustInput{Quantity: 1}},
		{"zero delta", inventory.AdjustInput{ProductID: p.ID}},
		{"negative target", inventory.AdjustInput{ProductID: p.ID, Mode: inventory.ModeSet, Quantity: -1}},
		{"unknown mode", inventory.AdjustInput{ProductID: p.ID, Mode: "teleport", Quantity: 1}},
		{"document reason", inventory.AdjustInput{ProductID: p.ID, Quantity: 1, Reason: ledger.ReasonSale}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Adjust(ctx, tt.in)
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
}

func TestAdjust_UnknownProduct_NotFound(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Adjust(context.Background(), inventory.AdjustInput{ProductID: "missing", Quantity: 1})

	assert.True(t, ledger.IsNotFound(err))
}
