package purchasing_test

import (
	"context"
	"sync"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/backoffice/ledger"
	"github.com/warp/backoffice/ledger/store"
	"github.com/warp/backoffice/purchasing"
	"github.com/warp/backoffice/store/sqldb"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var buyer = ledger.Actor{ID: "u-buyer", Role: "manager"}

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

func newService(s ledger.Store, fallback purchasing.Fallback) *purchasing.Service {
	logger, _ := logtest.NewNullLogger()
	return purchasing.New(s, ledger.NewAuditRecorder(s, logger, nil), logger, nil, fallback)
}

func seedProducts(t *testing.T, s ledger.Store, ids ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error {
		for _, id := range ids {
			now := ledger.Now()
			if err := tx.InsertProduct(ctx, &ledger.Product{
				ID: ledger.ProductID(id), Name: "Product " + id, IsActive: true, CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				return err
			}
		}
		return tx.InsertSupplier(ctx, &ledger.Supplier{ID: "SUP", Name: "Acme", CreatedAt: ledger.Now()})
	}))
}

func stockOf(t *testing.T, s ledger.Store, id string) int64 {
	t.Helper()
	p, err := s.GetProduct(context.Background(), ledger.ProductID(id))
	require.NoError(t, err)
	return p.QuantityInStock
}

// orderAB creates the order with lines A(10) and B(5), placed.
func orderAB(t *testing.T, svc *purchasing.Service) *ledger.PurchaseOrder {
	t.Helper()
	po, err := svc.Create(context.Background(), purchasing.CreateInput{
		Actor: buyer, SupplierID: "SUP", Place: true,
		Lines: []purchasing.LineInput{
			{ProductID: "A", QtyOrdered: 10, UnitCost: ledger.MustMoney("2.00")},
			{ProductID: "B", QtyOrdered: 5, UnitCost: ledger.MustMoney("3.00")},
		},
	})
	require.NoError(t, err)
	return po
}

func assertStatusInvariant(t *testing.T, po *ledger.PurchaseOrder) {
	t.Helper()
	var ordered, received int64
	for _, l := range po.Lines {
		assert.LessOrEqual(t, l.QtyReceived, l.QtyOrdered)
		ordered += l.QtyOrdered
		received += l.QtyReceived
	}
	switch {
	case received == ordered:
		assert.Equal(t, ledger.StatusCompleted, po.Status)
	case received > 0:
		assert.Equal(t, ledger.StatusPartiallyReceived, po.Status)
	}
}

// =============================================================================
// CREATE / PLACE / CANCEL
// =============================================================================

func TestCreate_ComputesTotals(t *testing.T) {
	backends(t, func(t *testing.T, s ledger.Store) {
		seedProducts(t, s, "A", "B")
		svc := newService(s, purchasing.FallbackWarn)

		po := orderAB(t, svc)

		assert.Equal(t, ledger.StatusPlaced, po.Status)
		assert.Equal(t, "35.00", po.TotalAmount.StringFixed(2))
		assert.Contains(t, po.PONo, "PO-")
		require.Len(t, po.Lines, 2)
		assert.Equal(t, ledger.ProductID("A"), po.Lines[0].ProductID)
		assert.Equal(t, "15.00", po.Lines[1].LineTotal.StringFixed(2))
	})
}

func TestCreate_Validation(t *testing.T) {
	s := store.NewMemory()
	seedProducts(t, s, "A")
	svc := newService(s, "")
	ctx := context.Background()

	_, err := svc.Create(ctx, purchasing.CreateInput{})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = svc.Create(ctx, purchasing.CreateInput{Lines: []purchasing.LineInput{{ProductID: "A", QtyOrdered: 0}}})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = svc.Create(ctx, purchasing.CreateInput{Lines: []purchasing.LineInput{{QtyOrdered: 1}}})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = svc.Create(ctx, purchasing.CreateInput{SupplierID: "ghost", Lines: []purchasing.LineInput{{ProductID: "A", QtyOrdered: 1}}})
	assert.True(t, ledger.IsNotFound(err))
}

func TestPlaceAndCancel_Transitions(t *testing.T) {
	s := store.NewMemory()
	seedProducts(t, s, "A")
	svc := newService(s, "")
	ctx := context.Background()
	po, err := svc.Create(ctx, purchasing.CreateInput{SupplierID: "SUP", Lines: []purchasing.LineInput{{ProductID: "A", QtyOrdered: 1}}})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusDraft, po.Status)

	po, err = svc.Place(ctx, po.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPlaced, po.Status)

	_, err = svc.Place(ctx, po.ID, buyer)
	assert.ErrorIs(t, err, ledger.ErrConflict, "only drafts can be placed")

	po, err = svc.Cancel(ctx, po.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCancelled, po.Status)

	_, err = svc.Cancel(ctx, po.ID, buyer)
	assert.ErrorIs(t, err, ledger.ErrConflict, "cancelled is terminal")
}

// =============================================================================
// RECEIVE
// =============================================================================

func TestReceive_ByProduct_PartialThenComplete(t *testing.T) {
	// GIVEN: Order O with lines A(10, received 0) and B(5, received 0)
	// WHEN: Receiving {A: 10}, then {B: 5}
	// THEN: partially_received with A stock +10, then completed

	backends(t, func(t *testing.T, s ledger.Store) {
		seedProducts(t, s, "A", "B")
		svc := newService(s, purchasing.FallbackWarn)
		ctx := context.Background()
		po := orderAB(t, svc)

		res, err := svc.Receive(ctx, purchasing.ReceiveInput{
			Actor: buyer, OrderID: po.ID, Entries: []purchasing.ReceiveEntry{{ProductID: "A", Quantity: 10}},
		})
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusPartiallyReceived, res.Order.Status)
		assert.Equal(t, int64(10), res.Order.Lines[0].QtyReceived)
		assert.Equal(t, int64(10), stockOf(t, s, "A"))
		assert.Equal(t, purchasing.MatchProduct, res.Lines[0].MatchedBy)
		assert.Empty(t, res.Warnings)
		assertStatusInvariant(t, res.Order)

		res, err = svc.Receive(ctx, purchasing.ReceiveInput{
			Actor: buyer, OrderID: po.ID, Entries: []purchasing.ReceiveEntry{{ProductID: "B", Quantity: 5}},
		})
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusCompleted, res.Order.Status)
		assert.Equal(t, int64(5), stockOf(t, s, "B"))
		assertStatusInvariant(t, res.Order)

		movs, err := s.ListMovements(ctx, ledger.MovementFilter{Reference: "po:" + string(po.ID)})
		require.NoError(t, err)
		assert.Len(t, movs, 2)
	})
}

func TestReceive_ExplicitLineID(t *testing.T) {
	s := store.NewMemory()
	seedProducts(t, s, "A", "B")
	svc := newService(s, purchasing.FallbackReject)
	po := orderAB(t, svc)

	res, err := svc.Receive(context.Background(), purchasing.ReceiveInput{
		OrderID: po.ID, Entries: []purchasing.ReceiveEntry{{LineID: po.Lines[1].ID, Quantity: 2}},
	})

	require.NoError(t, err)
	assert.Equal(t, purchasing.MatchLineID, res.Lines[0].MatchedBy)
	assert.Equal(t, int64(2), res.Order.Lines[1].QtyReceived)
	assert.Equal(t, int64(2), stockOf(t, s, "B"))
}

func TestReceive_ForeignLineID_ConflictWithoutStockChange(t *testing.T) {
	// GIVEN: Two orders
	// WHEN: Receiving on the first with a valid entry plus a line id of the second
	// THEN: ConflictError and the valid entry is rolled back

	backends(t, func(t *testing.T, s ledger.Store) {
		seedProducts(t, s, "A", "B")
		svc := newService(s, purchasing.FallbackWarn)
		first := orderAB(t, svc)
		second := orderAB(t, svc)

		_, err := svc.Receive(context.Background(), purchasing.ReceiveInput{
			OrderID: first.ID,
			Entries: []purchasing.ReceiveEntry{
				{ProductID: "A", Quantity: 4},
				{LineID: second.Lines[0].ID, Quantity: 1},
			},
		})

		assert.ErrorIs(t, err, ledger.ErrConflict)
		assert.Equal(t, int64(0), stockOf(t, s, "A"))
		got, err := svc.Get(context.Background(), first.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.Lines[0].QtyReceived)
		assert.Equal(t, ledger.StatusPlaced, got.Status)
	})
}

func TestReceive_PositionalFallback(t *testing.T) {
	// GIVEN: Entries that carry neither a line id nor a known product
	// WHEN: Receiving under each fallback policy
	// THEN: positional matches silently, warn matches with a warning, reject fails

	tests := []struct {
		fallback purchasing.Fallback
		wantErr  bool
		warnings int
	}{
		{purchasing.FallbackPositional, false, 0},
		{purchasing.FallbackWarn, false, 1},
		{purchasing.FallbackReject, true, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.fallback), func(t *testing.T) {
			s := store.NewMemory()
			seedProducts(t, s, "A", "B", "Z")
			svc := newService(s, tt.fallback)
			po := orderAB(t, svc)

			res, err := svc.Receive(context.Background(), purchasing.ReceiveInput{
				OrderID: po.ID, Entries: []purchasing.ReceiveEntry{{ProductID: "Z", Quantity: 3}},
			})

			if tt.wantErr {
				assert.ErrorIs(t, err, ledger.ErrConflict)
				assert.Equal(t, int64(0), stockOf(t, s, "A"))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, purchasing.MatchPosition, res.Lines[0].MatchedBy)
			assert.Equal(t, po.Lines[0].ID, res.Lines[0].LineID)
			assert.Len(t, res.Warnings, tt.warnings)
			assert.Equal(t, int64(3), stockOf(t, s, "A"), "positional match credits the first line's product")
		})
	}
}

func TestReceive_SameProductTwoLines_FillsOutstandingFirst(t *testing.T) {
	s := store.NewMemory()
	seedProducts(t, s, "A")
	svc := newService(s, purchasing.FallbackReject)
	ctx := context.Background()
	po, err := svc.Create(ctx, purchasing.CreateInput{SupplierID: "SUP", Lines: []purchasing.LineInput{
		{ProductID: "A", QtyOrdered: 2},
		{ProductID: "A", QtyOrdered: 3},
	}})
	require.NoError(t, err)

	res, err := svc.Receive(ctx, purchasing.ReceiveInput{OrderID: po.ID, Entries: []purchasing.ReceiveEntry{
		{ProductID: "A", Quantity: 2},
		{ProductID: "A", Quantity: 3},
	}})

	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Order.Lines[0].QtyReceived)
	assert.Equal(t, int64(3), res.Order.Lines[1].QtyReceived)
	assert.Equal(t, ledger.StatusCompleted, res.Order.Status)
}

func TestReceive_ClampsToRemaining(t *testing.T) {
	s := store.NewMemory()
	seedProducts(t, s, "A", "B")
	svc := newService(s, purchasing.FallbackWarn)
	po := orderAB(t, svc)

	res, err := svc.Receive(context.Background(), purchasing.ReceiveInput{
		OrderID: po.ID, Entries: []purchasing.ReceiveEntry{{ProductID: "A", Quantity: 15}},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(15), res.Lines[0].Requested)
	assert.Equal(t, int64(10), res.Lines[0].Received)
	assert.Equal(t, int64(10), stockOf(t, s, "A"))
	assert.Len(t, res.Warnings, 1)
}

func TestReceive_ProductExhausted_NeverCrossesToOtherProduct(t *testing.T) {
	// GIVEN: Order A(10) / B(5)
	// WHEN: Two entries for A arrive, the second after A is full
	// THEN: The second is clamped to zero on A's line with a warning; B is untouched

	backends(t, func(t *testing.T, s ledger.Store) {
		seedProducts(t, s, "A", "B")
		svc := newService(s, purchasing.FallbackPositional)
		po := orderAB(t, svc)

		res, err := svc.Receive(context.Background(), purchasing.ReceiveInput{
			OrderID: po.ID, Entries: []purchasing.ReceiveEntry{
				{ProductID: "A", Quantity: 10},
				{ProductID: "A", Quantity: 3},
			},
		})

		require.NoError(t, err)
		require.Len(t, res.Lines, 2)
		assert.Equal(t, po.Lines[0].ID, res.Lines[1].LineID)
		assert.Equal(t, purchasing.MatchProduct, res.Lines[1].MatchedBy)
		assert.Zero(t, res.Lines[1].Received)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "only 0 outstanding")
		assert.Equal(t, int64(10), res.Order.Lines[0].QtyReceived)
		assert.Zero(t, res.Order.Lines[1].QtyReceived)
		assert.Equal(t, int64(10), stockOf(t, s, "A"))
		assert.Zero(t, stockOf(t, s, "B"))
		assertStatusInvariant(t, res.Order)
	})
}

func TestReceive_AmountsBeyondMoneyBound_Rejected(t *testing.T) {
	backends(t, func(t *testing.T, s ledger.Store) {
		seedProducts(t, s, "A", "B")
		svc := newService(s, purchasing.FallbackWarn)
		ctx := context.Background()
		huge := ledger.MustMoney("100000000000000000")

		_, err := svc.Create(ctx, purchasing.CreateInput{SupplierID: "SUP", Lines: []purchasing.LineInput{
			{ProductID: "A", QtyOrdered: 1, UnitCost: huge},
		}})
		assert.ErrorIs(t, err, ledger.ErrValidation)

		_, err = svc.Create(ctx, purchasing.CreateInput{SupplierID: "SUP", Lines: []purchasing.LineInput{
			{ProductID: "A", QtyOrdered: 3, UnitCost: ledger.MaxMoney},
		}})
		assert.ErrorIs(t, err, ledger.ErrValidation)

		po := orderAB(t, svc)
		_, err = svc.Receive(ctx, purchasing.ReceiveInput{
			OrderID: po.ID,
			Entries: []purchasing.ReceiveEntry{{ProductID: "A", Quantity: 2}},
			Payment: &purchasing.PaymentInput{Amount: huge},
		})
		assert.ErrorIs(t, err, ledger.ErrValidation)
		assert.Zero(t, stockOf(t, s, "A"))
		got, err := svc.Get(ctx, po.ID)
		require.NoError(t, err)
		assert.True(t, got.AmountPaid.IsZero())
	})
}

func TestReceive_NegativeQuantity_Validation(t *testing.T) {
	s := store.NewMemory()
	seedProducts(t, s, "A", "B")
	svc := newService(s, "")
	po := orderAB(t, svc)

	_, err := svc.Receive(context.Background(), purchasing.ReceiveInput{
		OrderID: po.ID, Entries: []purchasing.ReceiveEntry{{ProductID: "A", Quantity: -1}},
	})

	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestReceive_NonStockLine_NoMovement(t *testing.T) {
	s := store.NewMemory()
	seedProducts(t, s)
	svc := newService(s, "")
	ctx := context.Background()
	po, err := svc.Create(ctx, purchasing.CreateInput{SupplierID: "SUP", Lines: []purchasing.LineInput{{Description: "Freight", QtyOrdered: 1}}})
	require.NoError(t, err)

	res, err := svc.Receive(ctx, purchasing.ReceiveInput{OrderID: po.ID, Entries: []purchasing.ReceiveEntry{{LineID: po.Lines[0].ID, Quantity: 1}}})

	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, res.Order.Status)
	movs, err := s.ListMovements(ctx, ledger.MovementFilter{})
	require.NoError(t, err)
	assert.Empty(t, movs)
}

func TestReceive_MarkComplete_ReceivesEverything(t *testing.T) {
	backends(t, func(t *testing.T, s ledger.Store) {
		seedProducts(t, s, "A", "B")
		svc := newService(s, "")
		po := orderAB(t, svc)

		res, err := svc.Receive(context.Background(), purchasing.ReceiveInput{OrderID: po.ID, MarkComplete: true})

		require.NoError(t, err)
		assert.Equal(t, ledger.StatusCompleted, res.Order.Status)
		assert.Equal(t, int64(10), stockOf(t, s, "A"))
		assert.Equal(t, int64(5), stockOf(t, s, "B"))
		assertStatusInvariant(t, res.Order)
	})
}

func TestReceive_TerminalOrder_Conflict(t *testing.T) {
	s := store.NewMemory()
	seedProducts(t, s, "A", "B")
	svc := newService(s, "")
	ctx := context.Background()
	po := orderAB(t, svc)
	_, err := svc.Cancel(ctx, po.ID, buyer)
	require.NoError(t, err)

	_, err = svc.Receive(ctx, purchasing.ReceiveInput{OrderID: po.ID, MarkComplete: true})

	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.Equal(t, int64(0), stockOf(t, s, "A"))
}

func TestReceive_WithPayment(t *testing.T) {
	// GIVEN: A placed order
	// WHEN: Receiving A with a 12.50 payment attached
	// THEN: amount_paid is 12.50 and matches Σ supplier payments

	backends(t, func(t *testing.T, s ledger.Store) {
		seedProducts(t, s, "A", "B")
		svc := newService(s, "")
		ctx := context.Background()
		po := orderAB(t, svc)

		res, err := svc.Receive(ctx, purchasing.ReceiveInput{
			Actor: buyer, OrderID: po.ID,
			Entries: []purchasing.ReceiveEntry{{ProductID: "A", Quantity: 1}},
			Payment: &purchasing.PaymentInput{Amount: ledger.MustMoney("12.50"), PaymentMethod: "cash"},
		})

		require.NoError(t, err)
		require.NotNil(t, res.Payment)
		assert.Equal(t, "12.50", res.Order.AmountPaid.StringFixed(2))
		events, err := s.EventTotal(ctx, ledger.OrderPaid(po.ID))
		require.NoError(t, err)
		assert.True(t, events.Equal(res.Order.AmountPaid))
		pays, err := svc.Payments(ctx, po.ID)
		require.NoError(t, err)
		assert.Len(t, pays, 1)
	})
}

func TestReceive_PaymentWithoutSupplier_RollsBackReceipt(t *testing.T) {
	s := store.NewMemory()
	seedProducts(t, s, "A")
	svc := newService(s, "")
	ctx := context.Background()
	po, err := svc.Create(ctx, purchasing.CreateInput{Lines: []purchasing.LineInput{{ProductID: "A", QtyOrdered: 3}}})
	require.NoError(t, err)

	_, err = svc.Receive(ctx, purchasing.ReceiveInput{
		OrderID: po.ID, Entries: []purchasing.ReceiveEntry{{ProductID: "A", Quantity: 3}},
		Payment: &purchasing.PaymentInput{Amount: ledger.MustMoney("5")},
	})

	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.Equal(t, int64(0), stockOf(t, s, "A"))
}

// =============================================================================
// COMPLETE
// =============================================================================

func TestComplete_ReceivesRemainderAndIsIdempotent(t *testing.T) {
	s := store.NewMemory()
	seedProducts(t, s, "A", "B")
	svc := newService(s, "")
	ctx := context.Background()
	po := orderAB(t, svc)
	_, err := svc.Receive(ctx, purchasing.ReceiveInput{OrderID: po.ID, Entries: []purchasing.ReceiveEntry{{ProductID: "A", Quantity: 4}}})
	require.NoError(t, err)

	done, err := svc.Complete(ctx, po.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, done.Status)
	assert.Equal(t, int64(10), stockOf(t, s, "A"))
	assert.Equal(t, int64(5), stockOf(t, s, "B"))

	again, err := svc.Complete(ctx, po.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, again.Status)
	assert.Equal(t, int64(10), stockOf(t, s, "A"), "second complete moves nothing")
}

func TestComplete_AlreadyCompletedInsideUnit_NoOp(t *testing.T) {
	// GIVEN: A completed order
	// WHEN: A close-only receive runs against it
	// THEN: The order comes back unchanged; entries still conflict

	backends(t, func(t *testing.T, s ledger.Store) {
		seedProducts(t, s, "A", "B")
		svc := newService(s, "")
		ctx := context.Background()
		po := orderAB(t, svc)
		_, err := svc.Complete(ctx, po.ID, buyer)
		require.NoError(t, err)

		res, err := svc.Receive(ctx, purchasing.ReceiveInput{OrderID: po.ID, MarkComplete: true})
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusCompleted, res.Order.Status)
		assert.Empty(t, res.Lines)
		assert.Equal(t, int64(10), stockOf(t, s, "A"))

		_, err = svc.Receive(ctx, purchasing.ReceiveInput{
			OrderID: po.ID, MarkComplete: true, Entries: []purchasing.ReceiveEntry{{ProductID: "A", Quantity: 1}},
		})
		assert.ErrorIs(t, err, ledger.ErrConflict)
	})
}

func TestComplete_Concurrent_AllSucceed(t *testing.T) {
	// GIVEN: A placed order
	// WHEN: Several callers complete it at once
	// THEN: Every call succeeds and stock moves exactly once

	s := store.NewMemory()
	seedProducts(t, s, "A", "B")
	svc := newService(s, "")
	po := orderAB(t, svc)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Complete(context.Background(), po.ID, buyer)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(10), stockOf(t, s, "A"))
	assert.Equal(t, int64(5), stockOf(t, s, "B"))
}

func TestParseFallback(t *testing.T) {
	f, err := purchasing.ParseFallback(" Reject ")
	require.NoError(t, err)
	assert.Equal(t, purchasing.FallbackReject, f)

	f, err = purchasing.ParseFallback("")
	require.NoError(t, err)
	assert.Equal(t, purchasing.FallbackWarn, f)

	_, err = purchasing.ParseFallback("guess")
	assert.Error(t, err)
}
