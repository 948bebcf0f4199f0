package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/backoffice/ledger"
)

func newTestReconciler(s ledger.Store) *ledger.Reconciler {
	return ledger.NewReconciler(s, ledger.NewAuditRecorder(s, nil, nil), nil, nil)
}

// creditCustomer applies a credit the way the payments service does: event
// and running total in one unit.
func creditCustomer(t *testing.T, s ledger.Store, id string, amount string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertCreditEvent(ctx, &ledger.CreditEvent{
			ID:         ledger.PaymentID(ledger.NewID()),
			CustomerID: ledger.CustomerID(id),
			Kind:       ledger.CreditAdjustment,
			Delta:      ledger.MustMoney(amount),
			CreatedAt:  ledger.Now(),
		}); err != nil {
			return err
		}
		_, err := ledger.AdjustBalance(ctx, tx, ledger.CustomerCredit(ledger.CustomerID(id)), ledger.MustMoney(amount))
		return err
	}))
}

func TestReconciler_ConsistentStore_NoDiscrepancies(t *testing.T) {
	s := newTestStore(t)
	seedProduct(t, s, "p1", 10)
	seedCustomer(t, s, "c1")
	creditCustomer(t, s, "c1", "25.00")

	report, err := newTestReconciler(s).Check(context.Background())

	require.NoError(t, err)
	assert.True(t, report.OK(), "unexpected discrepancies: %+v", report.Discrepancies)
	assert.Equal(t, 1, report.ProductsChecked)
	assert.Equal(t, 1, report.TotalsChecked)
}

func TestReconciler_StockDrift_RepairedWithOffsettingMovement(t *testing.T) {
	// GIVEN: Stock changed outside the primitives (no movement row)
	// WHEN: Check then Repair
	// THEN: Drift of +4 reported, a reconciliation movement of +4 completes
	//       the trail, stored stock is kept

	ctx := context.Background()
	s := newTestStore(t)
	seedProduct(t, s, "p1", 10)
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error {
		_, _, err := tx.IncrementStock(ctx, "p1", 4)
		return err
	}))
	r := newTestReconciler(s)

	report, err := r.Check(ctx)
	require.NoError(t, err)
	require.Len(t, report.Discrepancies, 1)
	d := report.Discrepancies[0]
	assert.Equal(t, ledger.KindStock, d.Kind)
	assert.Equal(t, "4", d.Drift().String())

	n, err := r.Repair(ctx, report, ledger.Actor{ID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, int64(14), stockOf(t, s, "p1"))
	movs, err := s.ListMovements(ctx, ledger.MovementFilter{ProductID: "p1", Reason: ledger.ReasonReconciliation})
	require.NoError(t, err)
	require.Len(t, movs, 1)
	assert.Equal(t, int64(4), movs[0].Delta)
	assert.Equal(t, "admin", movs[0].Actor)

	after, err := r.Check(ctx)
	require.NoError(t, err)
	assert.True(t, after.OK())

	audit, err := s.QueryAudit(ctx, ledger.AuditFilter{Action: "reconciliation.repair"})
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestReconciler_MoneyDrift_ResetToEventSum(t *testing.T) {
	// GIVEN: credited_amount overwritten to 80 while the events sum to 50
	// WHEN: Repair
	// THEN: credited_amount is back to 50

	ctx := context.Background()
	s := newTestStore(t)
	seedCustomer(t, s, "c1")
	creditCustomer(t, s, "c1", "50.00")
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.SetBalance(ctx, ledger.CustomerCredit("c1"), ledger.MustMoney("80.00"))
	}))
	r := newTestReconciler(s)

	report, err := r.Check(ctx)
	require.NoError(t, err)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, string(ledger.BalanceCustomerCredit), report.Discrepancies[0].Kind)
	assert.Equal(t, 1, report.Counts()[string(ledger.BalanceCustomerCredit)])

	_, err = r.Repair(ctx, report, ledger.Actor{})
	require.NoError(t, err)

	bal, err := s.Balance(ctx, ledger.CustomerCredit("c1"))
	require.NoError(t, err)
	assert.True(t, ledger.MustMoney("50").Equal(bal), "got %s", bal)
}

func TestReconciler_Repair_SkipsDriftResolvedSinceCheck(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedProduct(t, s, "p1", 10)
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error {
		_, _, err := tx.IncrementStock(ctx, "p1", 2)
		return err
	}))
	r := newTestReconciler(s)
	report, err := r.Check(ctx)
	require.NoError(t, err)

	// Someone fixes the stock by hand before the repair runs.
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error {
		_, _, err := tx.IncrementStock(ctx, "p1", -2)
		return err
	}))

	n, err := r.Repair(ctx, report, ledger.Actor{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconciler_Run_PersistsOutcome(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedProduct(t, s, "p1", 3)
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error {
		_, _, err := tx.IncrementStock(ctx, "p1", -1)
		return err
	}))
	r := newTestReconciler(s)

	run, _, err := r.Run(ctx, false, ledger.Actor{})
	require.NoError(t, err)
	assert.Equal(t, ledger.RunDrift, run.Status)
	assert.Equal(t, 1, run.Discrepancies)

	run, _, err = r.Run(ctx, true, ledger.Actor{})
	require.NoError(t, err)
	assert.Equal(t, ledger.RunRepaired, run.Status)
	assert.Equal(t, 1, run.Repaired)
	require.NotNil(t, run.CompletedAt)

	runs, err := s.ListReconciliationRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
