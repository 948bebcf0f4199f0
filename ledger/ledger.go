/*
ledger.go - Stock and running-total primitives

PURPOSE:
  The only code allowed to change a quantity_in_stock or a denormalized
  running total. Services call these inside Store.WithTx so the change,
  its movement row and the document edit commit or roll back together.

KEY FUNCTIONS:
  AdjustStock:    guarded atomic stock += delta
  SetStock:       lock, compute delta = target - current, apply
  AdjustBalance:  guarded atomic total += delta
  RecordMovement: append one movement row
  MoveStock:      AdjustStock + RecordMovement, what services use

NON-NEGATIVITY:
  Neither stock nor a running total is ever clamped. A change that would
  cross zero fails with NegativeStockError / NegativeBalanceError and the
  caller's unit rolls back.

SEE ALSO:
  - store.go: IncrementStock / IncrementBalance contract
  - reconcile.go: verifies the invariants these maintain
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// Now is the clock used for created_at stamps. Tests may replace it.
var Now = func() time.Time { return time.Now().UTC() }

// =============================================================================
// STOCK
// =============================================================================

// AdjustStock applies delta to the product's stock in one guarded statement
// and returns the new quantity.
func AdjustStock(ctx context.Context, tx Tx, id ProductID, delta int64) (int64, error) {
	if id == "" {
		return 0, Invalid("product_id", "required")
	}
	qty, applied, err := tx.IncrementStock(ctx, id, delta)
	if err != nil {
		return 0, fmt.Errorf("adjust stock %s: %w", id, err)
	}
	if applied {
		return qty, nil
	}

	// Guard rejected the change, or the row does not exist.
	p, err := tx.GetProduct(ctx, id)
	if err != nil {
		return 0, err
	}
	return 0, &NegativeStockError{ProductID: id, Current: p.QuantityInStock, Delta: delta}
}

// SetStock moves the product to an absolute quantity. The delta is computed
// against the locked row so a concurrent change cannot slip between the read
// and the write.
func SetStock(ctx context.Context, tx Tx, id ProductID, target int64) (delta, newQty int64, err error) {
	if target < 0 {
		return 0, 0, Invalid("quantity", "target stock must be >= 0, got %d", target)
	}
	p, err := tx.LockProduct(ctx, id)
	if err != nil {
		return 0, 0, err
	}
	delta = target - p.QuantityInStock
	if delta == 0 {
		return 0, p.QuantityInStock, nil
	}
	newQty, err = AdjustStock(ctx, tx, id, delta)
	if err != nil {
		return 0, 0, err
	}
	return delta, newQty, nil
}

// RecordMovement appends a movement row. Delta must be non-zero.
func RecordMovement(ctx context.Context, tx Tx, m StockMovement) (*StockMovement, error) {
	if m.ProductID == "" {
		return nil, Invalid("product_id", "required")
	}
	if m.Delta == 0 {
		return nil, Invalid("delta", "movement delta must be non-zero")
	}
	if m.Reason == "" {
		return nil, Invalid("reason", "required")
	}
	if m.ID == "" {
		m.ID = MovementID(NewID())
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = Now()
	}
	if err := tx.InsertMovement(ctx, &m); err != nil {
		return nil, fmt.Errorf("record movement: %w", err)
	}
	return &m, nil
}

// MoveStock changes stock and records the matching movement. A zero delta
// writes nothing and returns (nil, nil).
func MoveStock(ctx context.Context, tx Tx, m StockMovement) (*StockMovement, error) {
	if m.Delta == 0 {
		return nil, nil
	}
	if _, err := AdjustStock(ctx, tx, m.ProductID, m.Delta); err != nil {
		return nil, err
	}
	return RecordMovement(ctx, tx, m)
}

// =============================================================================
// RUNNING TOTALS
// =============================================================================

// AdjustBalance applies delta to a running total in one guarded statement
// and returns the new value.
func AdjustBalance(ctx context.Context, tx Tx, ref BalanceRef, delta Money) (Money, error) {
	if !ref.Kind.Valid() {
		return Money{}, Invalid("kind", "unknown balance kind %q", ref.Kind)
	}
	if ref.ID == "" {
		return Money{}, Invalid("id", "required")
	}
	if err := CheckMoney("delta", delta); err != nil {
		return Money{}, err
	}
	delta = RoundMoney(delta)
	v, applied, err := tx.IncrementBalance(ctx, ref, delta)
	if err != nil {
		return Money{}, fmt.Errorf("adjust %s %s: %w", ref.Kind, ref.ID, err)
	}
	if applied {
		return v, nil
	}

	current, err := tx.Balance(ctx, ref)
	if err != nil {
		return Money{}, err
	}
	return Money{}, &NegativeBalanceError{Ref: ref, Current: current, Delta: delta}
}

// Valid reports whether k is one of the known running totals.
func (k BalanceKind) Valid() bool {
	for _, known := range BalanceKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Entity returns the audit entity type owning this running total.
func (k BalanceKind) Entity() string {
	switch k {
	case BalanceOrderPaid:
		return "purchase_order"
	case BalanceCustomerCredit:
		return "customer"
	case BalanceInquiryAdvance:
		return "inquiry"
	}
	return string(k)
}
