package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/backoffice/ledger"
)

func seedProduct(t *testing.T, m *Memory, id string, qty int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.WithTx(ctx, func(tx ledger.Tx) error {
		now := ledger.Now()
		if err := tx.InsertProduct(ctx, &ledger.Product{
			ID: ledger.ProductID(id), SKU: "SKU-" + id, Name: id, IsActive: true, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		_, err := ledger.MoveStock(ctx, tx, ledger.StockMovement{ProductID: ledger.ProductID(id), Delta: qty, Reason: ledger.ReasonInitialStock})
		return err
	}))
}

func TestMemory_RollbackRestoresSnapshot(t *testing.T) {
	// GIVEN: A product with 10 units
	// WHEN: A unit moves stock, inserts a product, then fails
	// THEN: Neither write survives and the SKU is free again

	m := NewMemory()
	seedProduct(t, m, "p1", 10)
	ctx := context.Background()

	err := m.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := ledger.MoveStock(ctx, tx, ledger.StockMovement{ProductID: "p1", Delta: -4, Reason: ledger.ReasonSale}); err != nil {
			return err
		}
		now := ledger.Now()
		if err := tx.InsertProduct(ctx, &ledger.Product{ID: "p2", SKU: "SKU-p2", Name: "p2", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return ledger.Conflict("abort")
	})
	require.ErrorIs(t, err, ledger.ErrConflict)

	p, err := m.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.QuantityInStock)
	sum, err := m.SumMovements(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), sum)

	_, err = m.GetProduct(ctx, "p2")
	assert.True(t, ledger.IsNotFound(err))
	seedProduct(t, m, "p2", 0)
}

func TestMemory_DuplicateSKU(t *testing.T) {
	m := NewMemory()
	seedProduct(t, m, "p1", 0)

	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		return tx.InsertProduct(context.Background(), &ledger.Product{ID: "p9", SKU: "SKU-p1", Name: "dup"})
	})

	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestMemory_GuardedIncrement(t *testing.T) {
	m := NewMemory()
	seedProduct(t, m, "p1", 2)
	ctx := context.Background()

	tests := []struct {
		name    string
		id      ledger.ProductID
		delta   int64
		applied bool
		qty     int64
	}{
		{"below zero", "p1", -3, false, 0},
		{"to zero", "p1", -2, true, 0},
		{"unknown product", "nope", 1, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				qty     int64
				applied bool
			)
			require.NoError(t, m.WithTx(ctx, func(tx ledger.Tx) error {
				var err error
				qty, applied, err = tx.IncrementStock(ctx, tt.id, tt.delta)
				return err
			}))
			assert.Equal(t, tt.applied, applied)
			assert.Equal(t, tt.qty, qty)
		})
	}
}

func TestMemory_ConcurrentDeductions(t *testing.T) {
	// GIVEN: 50 units and 80 writers each taking one
	// THEN: Exactly 50 succeed and stock ends at zero

	m := NewMemory()
	seedProduct(t, m, "p1", 50)
	ctx := context.Background()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithTx(ctx, func(tx ledger.Tx) error {
				_, err := ledger.MoveStock(ctx, tx, ledger.StockMovement{ProductID: "p1", Delta: -1, Reason: ledger.ReasonSale})
				return err
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ledger.ErrNegativeStock)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, ok)
	p, err := m.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, p.QuantityInStock)
	sum, err := m.SumMovements(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, sum)
}
