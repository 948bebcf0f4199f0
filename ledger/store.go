/*
store.go - Persistence contract for the reconciliation core

PURPOSE:
  Defines the interface between the domain services and the database.
  Every mutating operation runs inside Store.WithTx and sees only the Tx
  it is handed, so a single unit of work covers stock, lines, movements,
  events and running totals together.

KEY INTERFACES:
  Reader:   queries usable both inside and outside a unit of work
  Tx:       the writes available inside a unit of work
  Store:    WithTx plus reads, audit and reconciliation-run persistence
  AuditLog: append-only audit trail, written after commit

APPEND-ONLY CONTRACT:
  Stock movements, payments, credit events and price overrides have
  Insert methods only. NO Update() or Delete() exists for them.
  Corrections are new offsetting rows.

GUARDED INCREMENTS:
  IncrementStock and IncrementBalance apply "col = col + delta" in one
  statement that is a no-op when the result would be negative. They
  report applied=false instead of an error so the ledger primitives can
  decide between NotFound and Negative* by re-reading the row.

IMPLEMENTATIONS:
  - store/sqldb: SQLite and PostgreSQL on database/sql
  - ledger/store: in-memory for tests and demos

SEE ALSO:
  - ledger.go: primitives built on Tx
  - store/sqldb/sqldb.go: concrete implementation
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// READER - Queries shared by Store and Tx
// =============================================================================

type Reader interface {
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)

	// ListMovements returns movements newest first.
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error)
	// SumMovements returns Σ delta for one product.
	SumMovements(ctx context.Context, id ProductID) (int64, error)
	// MovementTotals returns Σ delta per product that has movements.
	MovementTotals(ctx context.Context) (map[ProductID]int64, error)

	// GetSale and GetPurchaseOrder return the document with its lines in
	// position order.
	GetSale(ctx context.Context, id SaleID) (*Sale, error)
	GetPurchaseOrder(ctx context.Context, id OrderID) (*PurchaseOrder, error)

	GetSupplier(ctx context.Context, id SupplierID) (*Supplier, error)
	GetCustomer(ctx context.Context, id CustomerID) (*Customer, error)
	GetInquiry(ctx context.Context, id InquiryID) (*Inquiry, error)

	// Balance reads one running total.
	Balance(ctx context.Context, ref BalanceRef) (Money, error)
	// EventTotal is the Σ of the immutable events behind one running total.
	EventTotal(ctx context.Context, ref BalanceRef) (Money, error)
	// RunningTotals returns the stored total of every row of a kind.
	RunningTotals(ctx context.Context, kind BalanceKind) (map[string]Money, error)
	// EventTotals returns Σ events per id, for ids that have events.
	EventTotals(ctx context.Context, kind BalanceKind) (map[string]Money, error)

	ListPriceOverrides(ctx context.Context, saleID SaleID) ([]PriceOverride, error)
	ListSupplierPayments(ctx context.Context, orderID OrderID) ([]SupplierPayment, error)
	ListInquiryPayments(ctx context.Context, inquiryID InquiryID) ([]InquiryPayment, error)
	ListCreditEvents(ctx context.Context, customerID CustomerID) ([]CreditEvent, error)
}

// =============================================================================
// TX - Writes inside one unit of work
// =============================================================================

type Tx interface {
	Reader

	// Inventory
	InsertProduct(ctx context.Context, p *Product) error
	// LockProduct reads the product and holds its row lock until the unit ends.
	LockProduct(ctx context.Context, id ProductID) (*Product, error)
	IncrementStock(ctx context.Context, id ProductID, delta int64) (newQty int64, applied bool, err error)
	InsertMovement(ctx context.Context, m *StockMovement) error

	// Running totals
	IncrementBalance(ctx context.Context, ref BalanceRef, delta Money) (newValue Money, applied bool, err error)
	SetBalance(ctx context.Context, ref BalanceRef, value Money) error

	// Sales
	InsertSale(ctx context.Context, s *Sale) error
	LockSale(ctx context.Context, id SaleID) (*Sale, error)
	UpdateSale(ctx context.Context, s *Sale) error
	DeleteSale(ctx context.Context, id SaleID) error
	InsertSaleLine(ctx context.Context, l *SaleLine) error
	UpdateSaleLine(ctx context.Context, l *SaleLine) error
	DeleteSaleLine(ctx context.Context, id SaleLineID) error
	InsertPriceOverride(ctx context.Context, o *PriceOverride) error

	// Purchasing
	InsertPurchaseOrder(ctx context.Context, po *PurchaseOrder) error
	LockPurchaseOrder(ctx context.Context, id OrderID) (*PurchaseOrder, error)
	UpdateOrderStatus(ctx context.Context, id OrderID, status OrderStatus) error
	UpdateOrderLineReceived(ctx context.Context, id OrderLineID, qtyReceived int64) error

	// Parties
	InsertSupplier(ctx context.Context, s *Supplier) error
	InsertCustomer(ctx context.Context, c *Customer) error
	InsertInquiry(ctx context.Context, i *Inquiry) error
	MarkAdvanceReceived(ctx context.Context, id InquiryID) error

	// Financial events
	InsertSupplierPayment(ctx context.Context, p *SupplierPayment) error
	InsertInquiryPayment(ctx context.Context, p *InquiryPayment) error
	InsertCreditEvent(ctx context.Context, e *CreditEvent) error
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Reader
	AuditLog

	// WithTx executes fn within a unit of work.
	// If fn returns error, every write is rolled back.
	// If fn returns nil, the unit is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error

	SaveReconciliationRun(ctx context.Context, run *ReconciliationRun) error
	ListReconciliationRuns(ctx context.Context, limit int) ([]ReconciliationRun, error)

	Close() error
}

// =============================================================================
// AUDIT LOG - Separate from the ledger, tracks who did what when
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID         string
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Changes    map[string]any
	CreatedAt  time.Time
}

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	EntityType string
	EntityID   string
	Actor      string
	Action     string
	Limit      int
}
