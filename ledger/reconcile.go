/*
reconcile.go - Consistency check and repair

PURPOSE:
  Verifies the two invariants every service maintains:
    quantity_in_stock == Σ movement.delta            (per product)
    running total     == Σ immutable events          (per order/customer/inquiry)
  and repairs drift introduced outside the primitives (manual SQL, imports,
  bugs).

REPAIR SEMANTICS:
  Stock drift:  the stored quantity is kept and an offsetting
                "reconciliation" movement completes the trail.
  Money drift:  the running total is reset to Σ events, since the
                events are the record of what actually happened.
  Each repaired item is its own unit of work and is audited.

SEE ALSO:
  - api/scheduler.go: periodic runs
  - cmd/reconcile: on-demand runs
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/backoffice/metrics"
)

// KindStock labels product stock discrepancies. Money discrepancies use
// their BalanceKind.
const KindStock = "stock"

// Run status values.
const (
	RunRunning  = "running"
	RunOK       = "ok"
	RunDrift    = "drift"
	RunRepaired = "repaired"
	RunFailed   = "failed"
)

// Discrepancy is one stored value that disagrees with its event history.
type Discrepancy struct {
	Kind     string
	EntityID string
	Stored   decimal.Decimal
	Expected decimal.Decimal
}

// Drift is Stored - Expected.
func (d Discrepancy) Drift() decimal.Decimal {
	return d.Stored.Sub(d.Expected)
}

// Report is the outcome of one Check.
type Report struct {
	CheckedAt       time.Time
	ProductsChecked int
	TotalsChecked   int
	Discrepancies   []Discrepancy
}

func (r *Report) OK() bool { return len(r.Discrepancies) == 0 }

// Counts groups discrepancies by kind.
func (r *Report) Counts() map[string]int {
	counts := map[string]int{KindStock: 0}
	for _, k := range BalanceKinds {
		counts[string(k)] = 0
	}
	for _, d := range r.Discrepancies {
		counts[d.Kind]++
	}
	return counts
}

// Reconciler checks and repairs the stock and running-total invariants.
type Reconciler struct {
	store   Store
	audit   *AuditRecorder
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewReconciler(store Store, audit *AuditRecorder, logger logrus.FieldLogger, m *metrics.Metrics) *Reconciler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{store: store, audit: audit, logger: logger.WithField("module", "reconcile"), metrics: m}
}

// Check compares every stored value with its event history. It does not
// write.
func (r *Reconciler) Check(ctx context.Context) (*Report, error) {
	report := &Report{CheckedAt: Now()}

	products, err := r.store.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	sums, err := r.store.MovementTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("movement totals: %w", err)
	}
	for _, p := range products {
		report.ProductsChecked++
		if p.QuantityInStock != sums[p.ID] {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Kind:     KindStock,
				EntityID: string(p.ID),
				Stored:   decimal.NewFromInt(p.QuantityInStock),
				Expected: decimal.NewFromInt(sums[p.ID]),
			})
		}
	}

	for _, kind := range BalanceKinds {
		stored, err := r.store.RunningTotals(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("running totals %s: %w", kind, err)
		}
		events, err := r.store.EventTotals(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("event totals %s: %w", kind, err)
		}
		for id, v := range stored {
			report.TotalsChecked++
			expected := events[id]
			if !v.Equal(expected) {
				report.Discrepancies = append(report.Discrepancies, Discrepancy{
					Kind:     string(kind),
					EntityID: id,
					Stored:   v,
					Expected: expected,
				})
			}
		}
	}

	sort.Slice(report.Discrepancies, func(i, j int) bool {
		a, b := report.Discrepancies[i], report.Discrepancies[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.EntityID < b.EntityID
	})
	r.metrics.SetDiscrepancies(report.Counts())
	return report, nil
}

// Repair fixes every discrepancy in report, re-reading each value inside its
// own unit so drift that resolved since the check is left alone. It returns
// the number of items repaired; failures are joined into the error.
func (r *Reconciler) Repair(ctx context.Context, report *Report, actor Actor) (int, error) {
	var (
		repaired int
		errs     []error
	)
	for _, d := range report.Discrepancies {
		var (
			changed bool
			entry   AuditEntry
			err     error
		)
		if d.Kind == KindStock {
			changed, entry, err = r.repairStock(ctx, ProductID(d.EntityID), actor)
		} else {
			changed, entry, err = r.repairBalance(ctx, BalanceRef{Kind: BalanceKind(d.Kind), ID: d.EntityID})
		}
		if err != nil {
			r.logger.WithFields(logrus.Fields{"kind": d.Kind, "entity_id": d.EntityID}).WithError(err).Error("repair failed")
			errs = append(errs, fmt.Errorf("repair %s %s: %w", d.Kind, d.EntityID, err))
			continue
		}
		if !changed {
			continue
		}
		repaired++
		entry.Actor = actor.Name()
		entry.Action = "reconciliation.repair"
		r.audit.Record(ctx, entry)
		r.logger.WithFields(logrus.Fields{"kind": d.Kind, "entity_id": d.EntityID}).Info("repaired drift")
	}
	return repaired, errors.Join(errs...)
}

func (r *Reconciler) repairStock(ctx context.Context, id ProductID, actor Actor) (bool, AuditEntry, error) {
	var entry AuditEntry
	changed := false
	err := r.store.WithTx(ctx, func(tx Tx) error {
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		sum, err := tx.SumMovements(ctx, id)
		if err != nil {
			return err
		}
		drift := p.QuantityInStock - sum
		if drift == 0 {
			return nil
		}
		if _, err := RecordMovement(ctx, tx, StockMovement{
			ProductID: id,
			Delta:     drift,
			Reason:    ReasonReconciliation,
			Reference: "reconciliation",
			Actor:     actor.Name(),
			Notes:     fmt.Sprintf("movement trail summed to %d, stock is %d", sum, p.QuantityInStock),
		}); err != nil {
			return err
		}
		changed = true
		entry = AuditEntry{
			EntityType: "product",
			EntityID:   string(id),
			Changes:    Diff(map[string]any{"movement_sum": sum}, map[string]any{"movement_sum": p.QuantityInStock}),
		}
		return nil
	})
	if err == nil && changed {
		r.metrics.RecordMovement(string(ReasonReconciliation))
	}
	return changed, entry, err
}

func (r *Reconciler) repairBalance(ctx context.Context, ref BalanceRef) (bool, AuditEntry, error) {
	var entry AuditEntry
	changed := false
	err := r.store.WithTx(ctx, func(tx Tx) error {
		stored, err := tx.Balance(ctx, ref)
		if err != nil {
			return err
		}
		expected, err := tx.EventTotal(ctx, ref)
		if err != nil {
			return err
		}
		if stored.Equal(expected) {
			return nil
		}
		if expected.IsNegative() {
			return &NegativeBalanceError{Ref: ref, Current: stored, Delta: expected.Sub(stored)}
		}
		if err := tx.SetBalance(ctx, ref, expected); err != nil {
			return err
		}
		changed = true
		entry = AuditEntry{
			EntityType: ref.Kind.Entity(),
			EntityID:   ref.ID,
			Changes:    Diff(map[string]any{string(ref.Kind): stored}, map[string]any{string(ref.Kind): expected}),
		}
		return nil
	})
	return changed, entry, err
}

// Run performs a Check, optionally followed by Repair, and persists the
// outcome as a ReconciliationRun.
func (r *Reconciler) Run(ctx context.Context, repair bool, actor Actor) (*ReconciliationRun, *Report, error) {
	run := &ReconciliationRun{ID: NewID(), StartedAt: Now(), Status: RunRunning}
	if err := r.store.SaveReconciliationRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("save run: %w", err)
	}

	report, runErr := r.Check(ctx)
	if runErr == nil {
		run.Discrepancies = len(report.Discrepancies)
		switch {
		case report.OK():
			run.Status = RunOK
		case repair:
			run.Repaired, runErr = r.Repair(ctx, report, actor)
			run.Status = RunRepaired
		default:
			run.Status = RunDrift
		}
	}
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	}

	done := Now()
	run.CompletedAt = &done
	if err := r.store.SaveReconciliationRun(ctx, run); err != nil {
		return run, report, errors.Join(runErr, fmt.Errorf("save run: %w", err))
	}
	r.metrics.RecordReconciliationRun(run.Status)
	r.logger.WithFields(logrus.Fields{
		"run_id":        run.ID,
		"status":        run.Status,
		"discrepancies": run.Discrepancies,
		"repaired":      run.Repaired,
	}).Info("reconciliation run finished")
	return run, report, runErr
}
