package sales_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/backoffice/ledger"
	"github.com/warp/backoffice/ledger/store"
	"github.com/warp/backoffice/metrics"
	"github.com/warp/backoffice/sales"
	"github.com/warp/backoffice/store/sqldb"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var cashier = ledger.Actor{ID: "u-cashier", Role: "staff"}

// backends runs a test against the memory store and SQLite.
func backends(t *testing.T, fn func(t *testing.T, s ledger.Store)) {
	t.Run("memory", func(t *testing.T) {
		s := store.NewMemory()
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := sqldb.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func newService(s ledger.Store) *sales.Service {
	logger, _ := logtest.NewNullLogger()
	return sales.New(s, ledger.NewAuditRecorder(s, logger, nil), logger, nil)
}

func seedProduct(t *testing.T, s ledger.Store, id string, qty int64, price, minimum string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error {
		now := ledger.Now()
		if err := tx.InsertProduct(ctx, &ledger.Product{
			ID: ledger.ProductID(id), SKU: "SKU-" + id, Name: "Product " + id,
			SellingPrice: ledger.MustMoney(price), MinimumSellingPrice: ledger.MustMoney(minimum),
			IsActive: true, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		_, err := ledger.MoveStock(ctx, tx, ledger.StockMovement{ProductID: ledger.ProductID(id), Delta: qty, Reason: ledger.ReasonInitialStock})
		return err
	}))
}

func seedCustomer(t *testing.T, s ledger.Store, id string) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), func(tx ledger.Tx) error {
		return tx.InsertCustomer(context.Background(), &ledger.Customer{ID: ledger.CustomerID(id), Name: id, CreatedAt: ledger.Now()})
	}))
}

func stockOf(t *testing.T, s ledger.Store, id string) int64 {
	t.Helper()
	p, err := s.GetProduct(context.Background(), ledger.ProductID(id))
	require.NoError(t, err)
	return p.QuantityInStock
}

func creditOf(t *testing.T, s ledger.Store, id string) ledger.Money {
	t.Helper()
	c, err := s.GetCustomer(context.Background(), ledger.CustomerID(id))
	require.NoError(t, err)
	return c.CreditedAmount
}

// assertTrailMatchesStock checks stock == Σ movements for a product.
func assertTrailMatchesStock(t *testing.T, s ledger.Store, id string) {
	t.Helper()
	sum, err := s.SumMovements(context.Background(), ledger.ProductID(id))
	require.NoError(t, err)
	assert.Equal(t, stockOf(t, s, id), sum, "stock of %s must equal its movement sum", id)
}

func line(product string, qty int64, price string) sales.LineInput {
	return sales.LineInput{ProductID: ledger.ProductID(product), Quantity: qty, UnitPrice: ledger.MustMoney(price)}
}

// asInputs turns a stored sale back into update lines.
func asInputs(sale *ledger.Sale) []sales.LineInput {
	out := make([]sales.LineInput, len(sale.Lines))
	for i, l := range sale.Lines {
		out[i] = sales.LineInput{
			ID: l.ID, ProductID: l.ProductID, ProductName: l.ProductName, SKU: l.SKU,
			Quantity: l.Quantity, UnitPrice: l.UnitPrice,
		}
	}
	return out
}

func money(s string) *ledger.Money {
	m := ledger.MustMoney(s)
	return &m
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_DeductsStockAndRecordsMovement(t *testing.T) {
	// GIVEN: Product P at stock 10
	// WHEN: Selling 3 at 5.00
	// THEN: subtotal 15.00, stock 7, one movement of -3

	backends(t, func(t *testing.T, s ledger.Store) {
		seedProduct(t, s, "P", 10, "5.00", "4.00")
		svc := newService(s)
		ctx := context.Background()

		sale, err := svc.Create(ctx, sales.CreateInput{Actor: cashier, Lines: []sales.LineInput{line("P", 3, "5.00")}})

		require.NoError(t, err)
		assert.True(t, ledger.MustMoney("15.00").Equal(sale.Subtotal))
		assert.True(t, ledger.MustMoney("15.00").Equal(sale.TotalAmount))
		assert.NotEmpty(t, sale.SaleNo)
		require.Len(t, sale.Lines, 1)
		assert.Equal(t, "Product P", sale.Lines[0].ProductName)
		assert.Equal(t, int64(7), stockOf(t, s, "P"))

		movs, err := s.ListMovements(ctx, ledger.MovementFilter{Reference: "sale:" + string(sale.ID)})
		require.NoError(t, err)
		require.Len(t, movs, 1)
		assert.Equal(t, int64(-3), movs[0].Delta)
		assert.Equal(t, ledger.ReasonSale, movs[0].Reason)
		assert.Equal(t, "u-cashier", movs[0].Actor)
		assertTrailMatchesStock(t, s, "P")
	})
}

func TestCreate_TotalFromTaxAndDiscount(t *testing.T) {
	s := store.NewMemory()
	seedProduct(t, s, "P", 10, "10.00", "0")
	svc := newService(s)

	sale, err := svc.Create(context.Background(), sales.CreateInput{
		Header: sales.Header{Tax: ledger.MustMoney("1.50"), Discount: ledger.MustMoney("2.00")},
		Lines:  []sales.LineInput{line("P", 2, "10.00")},
	})

	require.NoError(t, err)
	assert.Equal(t, "19.50", sale.TotalAmount.StringFixed(2))

	sale, err = svc.Create(context.Background(), sales.CreateInput{
		Header: sales.Header{TotalAmount: money("18.00")},
		Lines:  []sales.LineInput{line("P", 2, "10.00")},
	})
	require.NoError(t, err)
	assert.Equal(t, "18.00", sale.TotalAmount.StringFixed(2), "caller total wins")
}

func TestCreate_InsufficientStock_RollsBackEveryLine(t *testing.T) {
	// GIVEN: A at 10, B at 1
	// WHEN: Selling 4 A and 2 B in one sale
	// THEN: NegativeStockError for B, A untouched, no sale stored

	backends(t, func(t *testing.T, s ledger.Store) {
		seedProduct(t, s, "A", 10, "1.00", "0")
		seedProduct(t, s, "B", 1, "1.00", "0")
		svc := newService(s)

		_, err := svc.Create(context.Background(), sales.CreateInput{
			Header: sales.Header{SaleNo: "SO-FAIL"},
			Lines:  []sales.LineInput{line("A", 4, "1.00"), line("B", 2, "1.00")},
		})

		var negErr *ledger.NegativeStockError
		require.ErrorAs(t, err, &negErr)
		assert.Equal(t, ledger.ProductID("B"), negErr.ProductID)
		assert.Equal(t, int64(10), stockOf(t, s, "A"))
		assert.Equal(t, int64(1), stockOf(t, s, "B"))
		assertTrailMatchesStock(t, s, "A")
	})
}

func TestCreate_FreeTextLine_NoStockEffect(t *testing.T) {
	s := store.NewMemory()
	svc := newService(s)

	sale, err := svc.Create(context.Background(), sales.CreateInput{Lines: []sales.LineInput{
		{ProductName: "Installation", Quantity: 1, UnitPrice: ledger.MustMoney("40")},
	}})

	require.NoError(t, err)
	assert.Equal(t, "40.00", sale.TotalAmount.StringFixed(2))
	movs, err := s.ListMovements(context.Background(), ledger.MovementFilter{})
	require.NoError(t, err)
	assert.Empty(t, movs)
}

func TestCreate_Validation(t *testing.T) {
	s := store.NewMemory()
	seedProduct(t, s, "P", 10, "5.00", "0")
	svc := newService(s)

	tests := []struct {
		name string
		in   sales.CreateInput
	}{
		{"no lines", sales.CreateInput{}},
		{"zero quantity", sales.CreateInput{Lines: []sales.LineInput{line("P", 0, "5")}}},
		{"negative quantity", sales.CreateInput{Lines: []sales.LineInput{line("P", -1, "5")}}},
		{"negative price", sales.CreateInput{Lines: []sales.LineInput{line("P", 1, "-5")}}},
		{"nameless free text", sales.CreateInput{Lines: []sales.LineInput{{Quantity: 1}}}},
		{"negative tax", sales.CreateInput{Header: sales.Header{Tax: ledger.MustMoney("-1")}, Lines: []sales.LineInput{line("P", 1, "5")}}},
		{"discount above total", sales.CreateInput{Header: sales.Header{Discount: ledger.MustMoney("6")}, Lines: []sales.LineInput{line("P", 1, "5")}}},
		{"credit without customer", sales.CreateInput{Header: sales.Header{IsCredit: true}, Lines: []sales.LineInput{line("P", 1, "5")}}},
		{"line id on create", sales.CreateInput{Lines: []sales.LineInput{{ID: "x", ProductID: "P", Quantity: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.in)
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
	assert.Equal(t, int64(10), stockOf(t, s, "P"))
}

func TestCreate_AmountsBeyondMoneyBound_Rejected(t *testing.T) {
	// GIVEN: A product with 10 units
	// WHEN: A sale carries an amount too large to persist as cents
	// THEN: ValidationError on both backends, and nothing is written

	huge := "100000000000000000"
	backends(t, func(t *testing.T, s ledger.Store) {
		seedProduct(t, s, "P", 10, "5.00", "0")
		seedCustomer(t, s, "C")
		svc := newService(s)

		tests := []struct {
			name string
			in   sales.CreateInput
		}{
			{"unit price", sales.CreateInput{Lines: []sales.LineInput{line("P", 1, huge)}}},
			{"line total", sales.CreateInput{Lines: []sales.LineInput{line("P", 2, ledger.MaxMoney.String())}}},
			{"subtotal", sales.CreateInput{Lines: []sales.LineInput{
				line("P", 1, ledger.MaxMoney.String()),
				{ProductName: "Fee", Quantity: 1, UnitPrice: ledger.MustMoney("1")},
			}}},
			{"tax", sales.CreateInput{Header: sales.Header{Tax: ledger.MustMoney(huge)}, Lines: []sales.LineInput{line("P", 1, "5")}}},
			{"total override", sales.CreateInput{Header: sales.Header{TotalAmount: money(huge)}, Lines: []sales.LineInput{line("P", 1, "5")}}},
			{"credit sale", sales.CreateInput{
				Header:            sales.Header{CustomerID: "C", IsCredit: true},
				AllowBelowMinimum: true,
				Lines:             []sales.LineInput{line("P", 1, huge)},
			}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.Create(context.Background(), tt.in)
				assert.ErrorIs(t, err, ledger.ErrValidation)
			})
		}
		assert.Equal(t, int64(10), stockOf(t, s, "P"))
		assert.True(t, creditOf(t, s, "C").IsZero())
		assertTrailMatchesStock(t, s, "P")
	})
}

func TestCreate_UnknownProductOrCustomer_NotFound(t *testing.T) {
	s := store.NewMemory()
	svc := newService(s)

	_, err := svc.Create(context.Background(), sales.CreateInput{Lines: []sales.LineInput{line("ghost", 1, "1")}})
	assert.True(t, ledger.IsNotFound(err))

	_, err = svc.Create(context.Background(), sales.CreateInput{
		Header: sales.Header{CustomerID: "ghost"},
		Lines:  []sales.LineInput{{ProductName: "x", Quantity: 1}},
	})
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// PRICES
// =============================================================================

func TestCreate_BelowMinimumPrice_RequiresPermission(t *testing.T) {
	// GIVEN: P lists at 10.00 with a 8.00 minimum
	// WHEN: Selling at 7.00 without and then with AllowBelowMinimum
	// THEN: First is a validation error; second succeeds and records an override

	backends(t, func(t *testing.T, s ledger.Store) {
		seedProduct(t, s, "P", 10, "10.00", "8.00")
		svc := newService(s)
		ctx := context.Background()
		lines := []sales.LineInput{{ProductID: "P", Quantity: 1, UnitPrice: ledger.MustMoney("7.00"), OverrideReason: "loyal customer"}}

		_, err := svc.Create(ctx, sales.CreateInput{Actor: cashier, Lines: lines})
		assert.ErrorIs(t, err, ledger.ErrValidation)
		assert.Equal(t, int64(10), stockOf(t, s, "P"))

		sale, err := svc.Create(ctx, sales.CreateInput{Actor: cashier, Lines: lines, AllowBelowMinimum: true})
		require.NoError(t, err)

		overrides, err := svc.Overrides(ctx, sale.ID)
		require.NoError(t, err)
		require.Len(t, overrides, 1)
		assert.Equal(t, "10.00", overrides[0].OriginalUnitPrice.StringFixed(2))
		assert.Equal(t, "7.00", overrides[0].FinalUnitPrice.StringFixed(2))
		assert.Equal(t, "loyal customer", overrides[0].Reason)
		assert.Equal(t, sale.Lines[0].ID, overrides[0].SaleLineID)
	})
}

func TestCreate_ListPrice_NoOverride(t *testing.T) {
	s := store.NewMemory()
	seedProduct(t, s, "P", 10, "10.00", "8.00")
	svc := newService(s)

	sale, err := svc.Create(context.Background(), sales.CreateInput{Lines: []sales.LineInput{line("P", 1, "10.00")}})
	require.NoError(t, err)

	overrides, err := svc.Overrides(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Empty(t, overrides)
	assert.Equal(t, "10.00", sale.Lines[0].OriginalUnitPrice.StringFixed(2))
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdate_OwnStateIsIdempotent(t *testing.T) {
	// GIVEN: A sale just created
	// WHEN: Submitting its own lines back
	// THEN: No stock change, no new movement, same totals

	backends(t, func(t *testing.T, s ledger.Store) {
		seedProduct(t, s, "A", 10, "5.00", "0")
		seedProduct(t, s, "B", 10, "2.00", "0")
		svc := newService(s)
		ctx := context.Background()

		sale, err := svc.Create(ctx, sales.CreateInput{Lines: []sales.LineInput{line("A", 3, "5.00"), line("B", 1, "2.00")}})
		require.NoError(t, err)

		again, err := svc.Update(ctx, sales.UpdateInput{SaleID: sale.ID, Lines: asInputs(sale)})

		require.NoError(t, err)
		assert.True(t, sale.TotalAmount.Equal(again.TotalAmount))
		assert.True(t, sale.Subtotal.Equal(again.Subtotal))
		assert.Equal(t, int64(7), stockOf(t, s, "A"))
		assert.Equal(t, int64(9), stockOf(t, s, "B"))
		movs, err := s.ListMovements(ctx, ledger.MovementFilter{Reference: "sale:" + string(sale.ID)})
		require.NoError(t, err)
		assert.Len(t, movs, 2)
	})
}

func TestUpdate_QuantityEdit_MovesNetDifference(t *testing.T) {
	backends(t, func(t *testing.T, s ledger.Store) {
		seedProduct(t, s, "P", 10, "5.00", "0")
		svc := newService(s)
		ctx := context.Background()
		sale, err := svc.Create(ctx, sales.CreateInput{Lines: []sales.LineInput{line("P", 3, "5.00")}})
		require.NoError(t, err)

		lines := asInputs(sale)
		lines[0].Quantity = 5
		updated, err := svc.Update(ctx, sales.UpdateInput{SaleID: sale.ID, Lines: lines})

		require.NoError(t, err)
		assert.Equal(t, "25.00", updated.Subtotal.StringFixed(2))
		assert.Equal(t, int64(5), stockOf(t, s, "P"))
		movs, err := s.ListMovements(ctx, ledger.MovementFilter{Reason: ledger.ReasonSaleEdit})
		require.NoError(t, err)
		require.Len(t, movs, 1)
		assert.Equal(t, int64(-2), movs[0].Delta)
		assertTrailMatchesStock(t, s, "P")
	})
}

func TestUpdate_ProductChange_ReversesOldDeductsNew(t *testing.T) {
	s := store.NewMemory()
	seedProduct(t, s, "A", 10, "5.00", "0")
	seedProduct(t, s, "B", 10, "5.00", "0")
	svc := newService(s)
	ctx := context.Background()
	sale, err := svc.Create(ctx, sales.CreateInput{Lines: []sales.LineInput{line("A", 4, "5.00")}})
	require.NoError(t, err)

	lines := asInputs(sale)
	lines[0].ProductID, lines[0].ProductName, lines[0].SKU = "B", "", ""
	updated, err := svc.Update(ctx, sales.UpdateInput{SaleID: sale.ID, Lines: lines})

	require.NoError(t, err)
	assert.Equal(t, sale.Lines[0].ID, updated.Lines[0].ID, "line edited in place")
	assert.Equal(t, "Product B", updated.Lines[0].ProductName)
	assert.Equal(t, int64(10), stockOf(t, s, "A"))
	assert.Equal(t, int64(6), stockOf(t, s, "B"))
	assertTrailMatchesStock(t, s, "A")
	assertTrailMatchesStock(t, s, "B")
}

func TestUpdate_AddAndRemoveLines(t *testing.T) {
	// GIVEN: A sale with lines A(2) and B(3)
	// WHEN: Update keeps A, drops B and adds C(1)
	// THEN: B gets 3 back, C loses 1, subtotal recomputed from the final set

	backends(t, func(t *testing.T, s ledger.Store) {
		seedProduct(t, s, "A", 10, "1.00", "0")
		seedProduct(t, s, "B", 10, "1.00", "0")
		seedProduct(t, s, "C", 10, "4.00", "0")
		svc := newService(s)
		ctx := context.Background()
		sale, err := svc.Create(ctx, sales.CreateInput{Lines: []sales.LineInput{line("A", 2, "1.00"), line("B", 3, "1.00")}})
		require.NoError(t, err)

		lines := asInputs(sale)
		updated, err := svc.Update(ctx, sales.UpdateInput{SaleID: sale.ID, Lines: []sales.LineInput{lines[0], line("C", 1, "4.00")}})

		require.NoError(t, err)
		require.Len(t, updated.Lines, 2)
		assert.Equal(t, "6.00", updated.Subtotal.StringFixed(2))
		assert.Equal(t, int64(8), stockOf(t, s, "A"))
		assert.Equal(t, int64(10), stockOf(t, s, "B"))
		assert.Equal(t, int64(9), stockOf(t, s, "C"))

		removed, err := s.ListMovements(ctx, ledger.MovementFilter{ProductID: "B", Reason: ledger.ReasonSaleLineRemoved})
		require.NoError(t, err)
		require.Len(t, removed, 1)
		assert.Equal(t, int64(3), removed[0].Delta)
	})
}

func TestUpdate_ShiftBetweenLinesAtZeroStock(t *testing.T) {
	// GIVEN: P fully sold out by one line of 5
	// WHEN: Replacing that line with a new line of 5 for the same product
	// THEN: Succeeds, since the removed line's units return before the new ones leave

	s := store.NewMemory()
	seedProduct(t, s, "P", 5, "1.00", "0")
	svc := newService(s)
	ctx := context.Background()
	sale, err := svc.Create(ctx, sales.CreateInput{Lines: []sales.LineInput{line("P", 5, "1.00")}})
	require.NoError(t, err)
	require.Equal(t, int64(0), stockOf(t, s, "P"))

	_, err = svc.Update(ctx, sales.UpdateInput{SaleID: sale.ID, Lines: []sales.LineInput{line("P", 5, "1.00")}})

	require.NoError(t, err)
	assert.Equal(t, int64(0), stockOf(t, s, "P"))
	assertTrailMatchesStock(t, s, "P")
}

func TestUpdate_FailurePartway_RollsBackEverything(t *testing.T) {
	// GIVEN: A sale of A(1); B has 1 unit left
	// WHEN: Update raises A to 3 and adds B(2)
	// THEN: NegativeStockError for B and A's edit is rolled back too

	backends(t, func(t *testing.T, s ledger.Store) {
		seedProduct(t, s, "A", 10, "1.00", "0")
		seedProduct(t, s, "B", 1, "1.00", "0")
		svc := newService(s)
		ctx := context.Background()
		sale, err := svc.Create(ctx, sales.CreateInput{Lines: []sales.LineInput{line("A", 1, "1.00")}})
		require.NoError(t, err)

		lines := asInputs(sale)
		lines[0].Quantity = 3
		_, err = svc.Update(ctx, sales.UpdateInput{SaleID: sale.ID, Lines: append(lines, line("B", 2, "1.00"))})

		assert.ErrorIs(t, err, ledger.ErrNegativeStock)
		assert.Equal(t, int64(9), stockOf(t, s, "A"))
		assert.Equal(t, int64(1), stockOf(t, s, "B"))
		stored, err := svc.Get(ctx, sale.ID)
		require.NoError(t, err)
		require.Len(t, stored.Lines, 1)
		assert.Equal(t, int64(1), stored.Lines[0].Quantity)
	})
}

func TestUpdate_ForeignLineID_Conflict(t *testing.T) {
	s := store.NewMemory()
	seedProduct(t, s, "P", 10, "1.00", "0")
	svc := newService(s)
	ctx := context.Background()
	first, err := svc.Create(ctx, sales.CreateInput{Lines: []sales.LineInput{line("P", 1, "1.00")}})
	require.NoError(t, err)
	second, err := svc.Create(ctx, sales.CreateInput{Lines: []sales.LineInput{line("P", 1, "1.00")}})
	require.NoError(t, err)

	_, err = svc.Update(ctx, sales.UpdateInput{SaleID: second.ID, Lines: asInputs(first)})

	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.Equal(t, int64(8), stockOf(t, s, "P"))
}

func TestUpdate_DuplicateLineIDs_Validation(t *testing.T) {
	s := store.NewMemory()
	seedProduct(t, s, "P", 10, "1.00", "0")
	svc := newService(s)
	ctx := context.Background()
	sale, err := svc.Create(ctx, sales.CreateInput{Lines: []sales.LineInput{line("P", 1, "1.00")}})
	require.NoError(t, err)

	lines := asInputs(sale)
	_, err = svc.Update(ctx, sales.UpdateInput{SaleID: sale.ID, Lines: append(lines, lines[0])})

	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestUpdate_UnknownSale_NotFound(t *testing.T) {
	svc := newService(store.NewMemory())

	_, err := svc.Update(context.Background(), sales.UpdateInput{SaleID: "ghost", Lines: []sales.LineInput{{ProductName: "x", Quantity: 1}}})

	assert.True(t, ledger.IsNotFound(err))
}

func TestUpdate_AcceptedBelowMinimumPrice_NotRechecked(t *testing.T) {
	// GIVEN: A line sold below minimum with permission
	// WHEN: A caller without permission changes only its quantity
	// THEN: Allowed, the accepted price is not re-checked

	s := store.NewMemory()
	seedProduct(t, s, "P", 10, "10.00", "8.00")
	svc := newService(s)
	ctx := context.Background()
	sale, err := svc.Create(ctx, sales.CreateInput{Lines: []sales.LineInput{line("P", 1, "7.00")}, AllowBelowMinimum: true})
	require.NoError(t, err)

	lines := asInputs(sale)
	lines[0].Quantity = 2
	_, err = svc.Update(ctx, sales.UpdateInput{SaleID: sale.ID, Lines: lines})
	require.NoError(t, err)

	lines[0].UnitPrice = ledger.MustMoney("6.00")
	_, err = svc.Update(ctx, sales.UpdateInput{SaleID: sale.ID, Lines: lines})
	assert.ErrorIs(t, err, ledger.ErrValidation, "a new below-minimum price is checked")
}

// =============================================================================
// CREDIT
// =============================================================================

func TestCreditSale_FollowsCreateUpdateDelete(t *testing.T) {
	// GIVEN: Customers C1 and C2 with no credit
	// WHEN: A 30.00 credit sale to C1 is raised to 40.00, moved to C2, then deleted
	// THEN: Credited amounts track each step and always equal Σ credit events

	backends(t, func(t *testing.T, s ledger.Store) {
		seedProduct(t, s, "P", 10, "10.00", "0")
		seedCustomer(t, s, "C1")
		seedCustomer(t, s, "C2")
		svc := newService(s)
		ctx := context.Background()
		header := sales.Header{CustomerID: "C1", IsCredit: true}

		sale, err := svc.Create(ctx, sales.CreateInput{Header: header, Lines: []sales.LineInput{line("P", 3, "10.00")}})
		require.NoError(t, err)
		assert.Equal(t, "30.00", creditOf(t, s, "C1").StringFixed(2))

		lines := asInputs(sale)
		lines[0].Quantity = 4
		sale, err = svc.Update(ctx, sales.UpdateInput{SaleID: sale.ID, Header: header, Lines: lines})
		require.NoError(t, err)
		assert.Equal(t, "40.00", creditOf(t, s, "C1").StringFixed(2))

		header.CustomerID = "C2"
		sale, err = svc.Update(ctx, sales.UpdateInput{SaleID: sale.ID, Header: header, Lines: asInputs(sale)})
		require.NoError(t, err)
		assert.True(t, creditOf(t, s, "C1").IsZero())
		assert.Equal(t, "40.00", creditOf(t, s, "C2").StringFixed(2))

		require.NoError(t, svc.Delete(ctx, sale.ID, cashier))
		assert.True(t, creditOf(t, s, "C2").IsZero())

		for _, id := range []string{"C1", "C2"} {
			events, err := s.EventTotal(ctx, ledger.CustomerCredit(ledger.CustomerID(id)))
			require.NoError(t, err)
			assert.True(t, events.Equal(creditOf(t, s, id)), "credited_amount of %s must equal Σ events", id)
		}
	})
}

func TestCreditSale_EditBelowPaidDown_NegativeBalance(t *testing.T) {
	// GIVEN: A 30.00 credit sale the customer already paid 25.00 of
	// WHEN: The sale is cut to 10.00 (reversal of 20.00 > remaining 5.00)
	// THEN: NegativeBalanceError and nothing changes

	s := store.NewMemory()
	seedProduct(t, s, "P", 10, "10.00", "0")
	seedCustomer(t, s, "C1")
	svc := newService(s)
	ctx := context.Background()
	header := sales.Header{CustomerID: "C1", IsCredit: true}
	sale, err := svc.Create(ctx, sales.CreateInput{Header: header, Lines: []sales.LineInput{line("P", 3, "10.00")}})
	require.NoError(t, err)
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error {
		_, err := ledger.AdjustBalance(ctx, tx, ledger.CustomerCredit("C1"), ledger.MustMoney("-25"))
		return err
	}))

	lines := asInputs(sale)
	lines[0].Quantity = 1
	_, err = svc.Update(ctx, sales.UpdateInput{SaleID: sale.ID, Header: header, Lines: lines})

	assert.ErrorIs(t, err, ledger.ErrNegativeBalance)
	assert.Equal(t, "5.00", creditOf(t, s, "C1").StringFixed(2))
	assert.Equal(t, int64(7), stockOf(t, s, "P"))
}

// =============================================================================
// DELETE
// =============================================================================

func TestDelete_RestoresStockAndRemovesSale(t *testing.T) {
	backends(t, func(t *testing.T, s ledger.Store) {
		seedProduct(t, s, "P", 10, "10.00", "8.00")
		svc := newService(s)
		ctx := context.Background()
		sale, err := svc.Create(ctx, sales.CreateInput{
			Lines:             []sales.LineInput{line("P", 4, "7.00"), {ProductName: "Gift wrap", Quantity: 1, UnitPrice: ledger.MustMoney("1")}},
			AllowBelowMinimum: true,
		})
		require.NoError(t, err)

		require.NoError(t, svc.Delete(ctx, sale.ID, cashier))

		assert.Equal(t, int64(10), stockOf(t, s, "P"))
		_, err = svc.Get(ctx, sale.ID)
		assert.True(t, ledger.IsNotFound(err))
		deleted, err := s.ListMovements(ctx, ledger.MovementFilter{Reason: ledger.ReasonSaleDeleted})
		require.NoError(t, err)
		require.Len(t, deleted, 1)
		assert.Equal(t, int64(4), deleted[0].Delta)
		assertTrailMatchesStock(t, s, "P")

		audit, err := s.QueryAudit(ctx, ledger.AuditFilter{EntityType: "sale", EntityID: string(sale.ID), Action: "sale.delete"})
		require.NoError(t, err)
		assert.Len(t, audit, 1)
	})
}

func TestDelete_UnknownSale_NotFound(t *testing.T) {
	svc := newService(store.NewMemory())

	err := svc.Delete(context.Background(), "ghost", cashier)

	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// AUDIT AND CONCURRENCY
// =============================================================================

type failingAuditLog struct{}

func (failingAuditLog) AppendAudit(context.Context, ledger.AuditEntry) error {
	return errors.New("audit table locked")
}

func (failingAuditLog) QueryAudit(context.Context, ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	return nil, nil
}

func TestCreate_AuditFailureDoesNotFailSale(t *testing.T) {
	// GIVEN: An audit log that always fails
	// WHEN: Creating a sale
	// THEN: The sale commits, the failure is counted

	s := store.NewMemory()
	seedProduct(t, s, "P", 10, "1.00", "0")
	logger, hook := logtest.NewNullLogger()
	m := metrics.New()
	svc := sales.New(s, ledger.NewAuditRecorder(failingAuditLog{}, logger, m), logger, m)

	_, err := svc.Create(context.Background(), sales.CreateInput{Lines: []sales.LineInput{line("P", 1, "1.00")}})

	require.NoError(t, err)
	assert.Equal(t, int64(9), stockOf(t, s, "P"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditFailures.WithLabelValues("sale.create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockMovements.WithLabelValues(string(ledger.ReasonSale))))
	assert.NotEmpty(t, hook.AllEntries())
}

func TestCreate_ConcurrentSales_NeverOversell(t *testing.T) {
	// GIVEN: 20 units
	// WHEN: 20 concurrent single-unit sales
	// THEN: All succeed, stock is 0, 20 sale movements exist

	const n = 20
	s := store.NewMemory()
	seedProduct(t, s, "P", n, "1.00", "0")
	svc := newService(s)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Create(context.Background(), sales.CreateInput{
				Header: sales.Header{SaleNo: fmt.Sprintf("SO-%03d", i)},
				Lines:  []sales.LineInput{line("P", 1, "1.00")},
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(0), stockOf(t, s, "P"))
	movs, err := s.ListMovements(context.Background(), ledger.MovementFilter{Reason: ledger.ReasonSale})
	require.NoError(t, err)
	assert.Len(t, movs, n)
}
