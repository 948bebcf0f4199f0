/*
Package ledger provides the stock-and-money reconciliation core.

PURPOSE:
  Domain types, the error taxonomy, the persistence contract and the
  primitives every mutating operation is built on. The sales, purchasing,
  payments and inventory packages never touch a quantity or a running total
  directly; they go through AdjustStock / AdjustBalance / RecordMovement
  inside a single Store.WithTx unit.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amounts, persisted as integer cents
  - Product, StockMovement: inventory and its append-only trail
  - Sale / SaleLine, PurchaseOrder / OrderLine: documents owning lines
  - Payments and CreditEvents: immutable financial events behind the
    denormalized running totals (amount_paid, credited_amount, advance_amount)

DESIGN PRINCIPLES:
  1. Stock never goes negative; balances never go negative.
  2. Every stock change has exactly one movement in the same unit of work.
  3. Running totals are maintained by guarded increments, and checked
     against the sum of their events by the Reconciler.

SEE ALSO:
  - ledger.go: AdjustStock, SetStock, AdjustBalance, RecordMovement
  - store.go: Store / Tx interfaces
  - reconcile.go: consistency check and repair
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Money is a decimal amount rounded to two places.
type Money = decimal.Decimal

// MoneyPlaces is the number of decimal places kept for every amount.
const MoneyPlaces = 2

// MaxMoney bounds every amount accepted as input or produced by a total.
// Kept well inside what int64 cents can carry so sums of bounded amounts
// persist exactly.
var MaxMoney = decimal.New(1, 13)

// CheckMoney rejects amounts whose magnitude exceeds MaxMoney.
func CheckMoney(field string, m Money) error {
	if m.Abs().GreaterThan(MaxMoney) {
		return Invalid(field, "must be within ±%s, got %s", MaxMoney.String(), m.String())
	}
	return nil
}

// Cents converts an amount to integer cents, rounding half away from zero.
// Callers bound amounts with CheckMoney first; the conversion wraps past
// the int64 range.
func Cents(m Money) int64 {
	return m.Round(MoneyPlaces).Shift(MoneyPlaces).IntPart()
}

// FromCents converts integer cents back to an amount.
func FromCents(c int64) Money {
	return decimal.New(c, -MoneyPlaces)
}

// RoundMoney rounds to the persisted precision.
func RoundMoney(m Money) Money {
	return m.Round(MoneyPlaces)
}

// MustMoney parses a decimal string and panics on malformed input.
// Intended for tests and fixtures.
func MustMoney(s string) Money {
	return decimal.RequireFromString(s)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type MovementID string
type SaleID string
type SaleLineID string
type OrderID string
type OrderLineID string
type SupplierID string
type CustomerID string
type InquiryID string
type PaymentID string

// Actor is the already-authenticated caller. Zero value means "system".
type Actor struct {
	ID   string
	Role string
}

// Name returns the identifier stored on audit and movement rows.
func (a Actor) Name() string {
	if a.ID == "" {
		return "system"
	}
	return a.ID
}

// =============================================================================
// INVENTORY
// =============================================================================

type Product struct {
	ID                  ProductID
	SKU                 string // empty = no SKU
	Name                string
	Description         string
	CostPrice           Money
	SellingPrice        Money
	MinimumSellingPrice Money
	QuantityInStock     int64
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// MovementReason tags why a stock quantity changed.
type MovementReason string

const (
	ReasonInitialStock     MovementReason = "initial_stock"
	ReasonSale             MovementReason = "sale"
	ReasonSaleEdit         MovementReason = "sale_edit"
	ReasonSaleLineRemoved  MovementReason = "sale_line_removed"
	ReasonSaleDeleted      MovementReason = "sale_deleted"
	ReasonPurchaseReceive  MovementReason = "purchase_receive"
	ReasonManualAdjustment MovementReason = "manual_adjustment"
	ReasonStockCount       MovementReason = "stock_count"
	ReasonReconciliation   MovementReason = "reconciliation"
)

// StockMovement is immutable. Corrections are new offsetting movements.
type StockMovement struct {
	ID        MovementID
	ProductID ProductID
	Delta     int64
	Reason    MovementReason
	Reference string
	Actor     string
	Notes     string
	CreatedAt time.Time
}

// MovementFilter narrows ListMovements. Zero values mean "any".
type MovementFilter struct {
	ProductID ProductID
	Reason    MovementReason
	Reference string
	Limit     int
}

// =============================================================================
// SALES
// =============================================================================

type Sale struct {
	ID            SaleID
	SaleNo        string
	CustomerID    CustomerID // empty = walk-in
	EmployeeID    string
	Subtotal      Money
	Tax           Money
	Discount      Money
	TotalAmount   Money
	PaymentMethod string
	IsCredit      bool
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Lines         []SaleLine
}

// CreditContribution is the amount this sale adds to its customer's
// credited_amount.
func (s *Sale) CreditContribution() Money {
	if !s.IsCredit || s.CustomerID == "" {
		return decimal.Zero
	}
	return s.TotalAmount
}

type SaleLine struct {
	ID                SaleLineID
	SaleID            SaleID
	ProductID         ProductID // empty = free-text line, no stock effect
	ProductName       string
	SKU               string
	Quantity          int64
	UnitPrice         Money
	OriginalUnitPrice Money
	LineTotal         Money
	Position          int
}

// PriceOverride records a linked line sold at a price other than the
// product's list price.
type PriceOverride struct {
	ID                string
	SaleID            SaleID
	SaleLineID        SaleLineID
	Actor             string
	OriginalUnitPrice Money
	FinalUnitPrice    Money
	Reason            string
	CreatedAt         time.Time
}

// =============================================================================
// PURCHASING
// =============================================================================

type OrderStatus string

const (
	StatusDraft             OrderStatus = "draft"
	StatusPlaced            OrderStatus = "placed"
	StatusPartiallyReceived OrderStatus = "partially_received"
	StatusCompleted         OrderStatus = "completed"
	StatusCancelled         OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type PurchaseOrder struct {
	ID           OrderID
	PONo         string
	SupplierID   SupplierID
	Status       OrderStatus
	ExpectedDate *time.Time
	TotalAmount  Money
	AmountPaid   Money
	Notes        string
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Lines        []OrderLine
}

type OrderLine struct {
	ID          OrderLineID
	OrderID     OrderID
	ProductID   ProductID
	Description string
	QtyOrdered  int64
	QtyReceived int64
	UnitCost    Money
	LineTotal   Money
	Position    int
}

// Remaining is the quantity still expected on this line.
func (l OrderLine) Remaining() int64 {
	if l.QtyReceived >= l.QtyOrdered {
		return 0
	}
	return l.QtyOrdered - l.QtyReceived
}

// =============================================================================
// PARTIES
// =============================================================================

type Supplier struct {
	ID        SupplierID
	Name      string
	Phone     string
	CreatedAt time.Time
}

type Customer struct {
	ID             CustomerID
	Name           string
	Phone          string
	CreditedAmount Money
	CreatedAt      time.Time
}

type Inquiry struct {
	ID              InquiryID
	InquiryNo       string
	CustomerID      CustomerID
	Description     string
	AdvanceAmount   Money
	AdvanceReceived bool
	Status          string
	CreatedAt       time.Time
}

// =============================================================================
// FINANCIAL EVENTS
// =============================================================================

type SupplierPayment struct {
	ID            PaymentID
	SupplierID    SupplierID
	OrderID       OrderID // empty = not linked to an order
	Amount        Money
	PaymentMethod string
	Reference     string
	Notes         string
	Actor         string
	CreatedAt     time.Time
}

type InquiryPayment struct {
	ID            PaymentID
	InquiryID     InquiryID
	Amount        Money
	PaymentMethod string
	Reference     string
	Actor         string
	CreatedAt     time.Time
}

type CreditEventKind string

const (
	CreditSale          CreditEventKind = "credit_sale"
	CreditSaleReversal  CreditEventKind = "sale_reversal"
	CreditPayment       CreditEventKind = "payment"
	CreditAdjustment    CreditEventKind = "adjustment"
	CreditReconcileDiff CreditEventKind = "reconciliation"
)

// CreditEvent is one signed change to a customer's credited amount.
type CreditEvent struct {
	ID            PaymentID
	CustomerID    CustomerID
	Kind          CreditEventKind
	Delta         Money
	PaymentMethod string
	Reference     string
	Actor         string
	CreatedAt     time.Time
}

// =============================================================================
// RUNNING TOTALS
// =============================================================================

// BalanceKind names a denormalized running total.
type BalanceKind string

const (
	BalanceOrderPaid      BalanceKind = "po_amount_paid"
	BalanceCustomerCredit BalanceKind = "customer_credit"
	BalanceInquiryAdvance BalanceKind = "inquiry_advance"
)

// BalanceKinds lists every running total the Reconciler checks.
var BalanceKinds = []BalanceKind{BalanceOrderPaid, BalanceCustomerCredit, BalanceInquiryAdvance}

// BalanceRef addresses one running total.
type BalanceRef struct {
	Kind BalanceKind
	ID   string
}

func OrderPaid(id OrderID) BalanceRef { return BalanceRef{Kind: BalanceOrderPaid, ID: string(id)} }
func CustomerCredit(id CustomerID) BalanceRef { return BalanceRef{Kind: BalanceCustomerCredit, ID: string(id)} }
func InquiryAdvance(id InquiryID) BalanceRef { return BalanceRef{Kind: BalanceInquiryAdvance, ID: string(id)} }

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

type ReconciliationRun struct {
	ID            string
	StartedAt     time.Time
	CompletedAt   *time.Time
	Discrepancies int
	Repaired      int
	Status        string // "ok", "drift", "repaired", "failed"
	Error         string
}
