/*
Package sales records sales and reconciles later edits against stored lines.

PURPOSE:
  A sale converts requested lines into stock deductions, line totals and a
  sale total. Create, Update and Delete each run as one unit of work: line
  writes, stock movements, price overrides and the customer's credit all
  commit or roll back together.

STOCK POLICY:
  Every path rejects a deduction that would drive stock below zero with
  NegativeStockError. Nothing is clamped.

UPDATE RECONCILIATION:
  ┌──────────────────────────────────────────────────────────────────┐
  │ incoming line         stored line        stock effect            │
  │ ─────────────         ───────────        ────────────            │
  │ id, same product      found              old.qty - new.qty       │
  │ id, other product     found              +old on old, -new on new│
  │ no id                 -                  -new                    │
  │ -                     not in incoming    +old (line removed)     │
  └──────────────────────────────────────────────────────────────────┘
  Increases are applied before decreases, so moving quantity between
  lines of the same product never trips the stock guard on an
  intermediate value. Submitting a sale's own lines back changes nothing.

CREDIT SALES:
  A credit sale with a customer adds its total to credited_amount through
  a credit_sale CreditEvent. Update moves the difference (or the whole
  amount between customers); Delete reverses it.

SEE ALSO:
  - ledger/ledger.go: MoveStock, AdjustBalance
  - lines.go: line resolution, price checks, planned movements
*/
package sales

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/backoffice/ledger"
	"github.com/warp/backoffice/metrics"
)

// Service runs the sale transaction.
type Service struct {
	store   ledger.Store
	audit   *ledger.AuditRecorder
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

func New(store ledger.Store, audit *ledger.AuditRecorder, logger logrus.FieldLogger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{store: store, audit: audit, logger: logger.WithField("module", "sales"), metrics: m}
}

// =============================================================================
// INPUTS
// =============================================================================

// Header carries the sale fields a caller controls.
type Header struct {
	SaleNo        string // empty = generated on create, unchanged on update
	CustomerID    ledger.CustomerID
	EmployeeID    string
	Tax           ledger.Money
	Discount      ledger.Money
	TotalAmount   *ledger.Money // nil = subtotal + tax - discount
	PaymentMethod string
	IsCredit      bool
}

// LineInput is one requested line. ID is set only when editing a stored line.
type LineInput struct {
	ID          ledger.SaleLineID
	ProductID   ledger.ProductID // empty = free-text line
	ProductName string
	SKU         string
	Quantity    int64
	UnitPrice   ledger.Money
	// OriginalUnitPrice defaults to the product's selling price.
	OriginalUnitPrice *ledger.Money
	OverrideReason    string
}

type CreateInput struct {
	Actor  ledger.Actor
	Header Header
	Lines  []LineInput
	// AllowBelowMinimum lets linked lines sell under the product's minimum
	// selling price. Granted by the caller's capability check.
	AllowBelowMinimum bool
}

type UpdateInput struct {
	Actor             ledger.Actor
	SaleID            ledger.SaleID
	Header            Header
	Lines             []LineInput
	AllowBelowMinimum bool
}

func (h Header) validate() error {
	if h.Tax.IsNegative() {
		return ledger.Invalid("tax", "must be >= 0")
	}
	if h.Discount.IsNegative() {
		return ledger.Invalid("discount", "must be >= 0")
	}
	if h.TotalAmount != nil && h.TotalAmount.IsNegative() {
		return ledger.Invalid("total_amount", "must be >= 0")
	}
	if err := ledger.CheckMoney("tax", h.Tax); err != nil {
		return err
	}
	if err := ledger.CheckMoney("discount", h.Discount); err != nil {
		return err
	}
	if h.TotalAmount != nil {
		if err := ledger.CheckMoney("total_amount", *h.TotalAmount); err != nil {
			return err
		}
	}
	if h.IsCredit && h.CustomerID == "" {
		return ledger.Invalid("customer_id", "a credit sale requires a customer")
	}
	return nil
}

func validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return ledger.Invalid("lines", "a sale needs at least one line")
	}
	seen := make(map[ledger.SaleLineID]bool, len(lines))
	for i, l := range lines {
		field := fmt.Sprintf("lines[%d]", i)
		if l.Quantity <= 0 {
			return ledger.Invalid(field+".quantity", "must be > 0, got %d", l.Quantity)
		}
		if l.UnitPrice.IsNegative() {
			return ledger.Invalid(field+".unit_price", "must be >= 0")
		}
		if err := ledger.CheckMoney(field+".unit_price", l.UnitPrice); err != nil {
			return err
		}
		if l.OriginalUnitPrice != nil {
			if err := ledger.CheckMoney(field+".original_unit_price", *l.OriginalUnitPrice); err != nil {
				return err
			}
		}
		if l.ProductID == "" && strings.TrimSpace(l.ProductName) == "" {
			return ledger.Invalid(field+".product_name", "a free-text line needs a name")
		}
		if l.ID != "" {
			if seen[l.ID] {
				return ledger.Invalid(field+".id", "line %s appears more than once", l.ID)
			}
			seen[l.ID] = true
		}
	}
	return nil
}

// =============================================================================
// CREATE
// =============================================================================

// Create records a sale, deducts stock for every linked line and applies
// the credit, all in one unit.
func (s *Service) Create(ctx context.Context, in CreateInput) (*ledger.Sale, error) {
	if err := in.Header.validate(); err != nil {
		return nil, err
	}
	if err := validateLines(in.Lines); err != nil {
		return nil, err
	}
	for i, l := range in.Lines {
		if l.ID != "" {
			return nil, ledger.Invalid(fmt.Sprintf("lines[%d].id", i), "new sales cannot reference existing lines")
		}
	}

	now := ledger.Now()
	sale := &ledger.Sale{
		ID:            ledger.SaleID(ledger.NewID()),
		SaleNo:        in.Header.SaleNo,
		CustomerID:    in.Header.CustomerID,
		EmployeeID:    in.Header.EmployeeID,
		PaymentMethod: in.Header.PaymentMethod,
		IsCredit:      in.Header.IsCredit,
		CreatedBy:     in.Actor.Name(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if sale.SaleNo == "" {
		sale.SaleNo = documentNo("SO")
	}
	ref := "sale:" + string(sale.ID)

	var (
		moved []ledger.MovementReason
		out   *ledger.Sale
	)
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		if sale.CustomerID != "" {
			if _, err := tx.GetCustomer(ctx, sale.CustomerID); err != nil {
				return err
			}
		}

		lines := make([]ledger.SaleLine, len(in.Lines))
		var plan movementPlan
		for i, li := range in.Lines {
			l, err := resolveLine(ctx, tx, li, nil, in.AllowBelowMinimum)
			if err != nil {
				return fmt.Errorf("lines[%d]: %w", i, err)
			}
			l.ID = ledger.SaleLineID(ledger.NewID())
			l.SaleID = sale.ID
			l.Position = i
			lines[i] = l
			plan.add(l.ProductID, -l.Quantity, ledger.ReasonSale)
		}
		if err := applyTotals(sale, lines, in.Header); err != nil {
			return err
		}

		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		for i := range lines {
			if err := tx.InsertSaleLine(ctx, &lines[i]); err != nil {
				return err
			}
			if err := recordOverride(ctx, tx, lines[i], in.Lines[i].OverrideReason, in.Actor); err != nil {
				return err
			}
		}

		var err error
		if moved, err = plan.apply(ctx, tx, ref, in.Actor); err != nil {
			return err
		}
		if err := moveCredit(ctx, tx, ref, in.Actor, nil, sale); err != nil {
			return err
		}

		out, err = tx.GetSale(ctx, sale.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create sale: %w", err)
	}

	s.afterCommit(ctx, in.Actor, "sale.create", out.ID, nil, out, moved)
	return out, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Update reconciles the incoming line set against the stored one.
func (s *Service) Update(ctx context.Context, in UpdateInput) (*ledger.Sale, error) {
	if in.SaleID == "" {
		return nil, ledger.Invalid("sale_id", "required")
	}
	if err := in.Header.validate(); err != nil {
		return nil, err
	}
	if err := validateLines(in.Lines); err != nil {
		return nil, err
	}
	ref := "sale:" + string(in.SaleID)

	var (
		moved         []ledger.MovementReason
		before, after *ledger.Sale
	)
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		old, err := tx.LockSale(ctx, in.SaleID)
		if err != nil {
			return err
		}
		before = old

		existing := make(map[ledger.SaleLineID]ledger.SaleLine, len(old.Lines))
		for _, l := range old.Lines {
			existing[l.ID] = l
		}
		for _, li := range in.Lines {
			if li.ID == "" {
				continue
			}
			if _, ok := existing[li.ID]; !ok {
				return ledger.Conflict("line %s does not belong to sale %s", li.ID, in.SaleID)
			}
		}

		sale := *old
		sale.Lines = nil
		if in.Header.SaleNo != "" {
			sale.SaleNo = in.Header.SaleNo
		}
		sale.CustomerID = in.Header.CustomerID
		sale.EmployeeID = in.Header.EmployeeID
		sale.PaymentMethod = in.Header.PaymentMethod
		sale.IsCredit = in.Header.IsCredit
		sale.UpdatedAt = ledger.Now()
		if sale.CustomerID != "" && sale.CustomerID != old.CustomerID {
			if _, err := tx.GetCustomer(ctx, sale.CustomerID); err != nil {
				return err
			}
		}

		var (
			plan    movementPlan
			final   = make([]ledger.SaleLine, len(in.Lines))
			kept    = make(map[ledger.SaleLineID]bool, len(in.Lines))
			updates []int
			inserts []int
		)
		for i, li := range in.Lines {
			var prev *ledger.SaleLine
			if li.ID != "" {
				p := existing[li.ID]
				prev = &p
				kept[li.ID] = true
			}
			l, err := resolveLine(ctx, tx, li, prev, in.AllowBelowMinimum)
			if err != nil {
				return fmt.Errorf("lines[%d]: %w", i, err)
			}
			l.SaleID = sale.ID
			l.Position = i

			switch {
			case prev == nil:
				l.ID = ledger.SaleLineID(ledger.NewID())
				plan.add(l.ProductID, -l.Quantity, ledger.ReasonSale)
				inserts = append(inserts, i)
			case prev.ProductID == l.ProductID:
				l.ID = prev.ID
				plan.add(l.ProductID, prev.Quantity-l.Quantity, ledger.ReasonSaleEdit)
				updates = append(updates, i)
			default:
				l.ID = prev.ID
				plan.add(prev.ProductID, prev.Quantity, ledger.ReasonSaleEdit)
				plan.add(l.ProductID, -l.Quantity, ledger.ReasonSaleEdit)
				updates = append(updates, i)
			}
			final[i] = l
		}

		var removed []ledger.SaleLineID
		for _, l := range old.Lines {
			if !kept[l.ID] {
				plan.add(l.ProductID, l.Quantity, ledger.ReasonSaleLineRemoved)
				removed = append(removed, l.ID)
			}
		}

		if err := applyTotals(&sale, final, in.Header); err != nil {
			return err
		}
		if err := tx.UpdateSale(ctx, &sale); err != nil {
			return err
		}
		for _, id := range removed {
			if err := tx.DeleteSaleLine(ctx, id); err != nil {
				return err
			}
		}
		for _, i := range updates {
			if err := tx.UpdateSaleLine(ctx, &final[i]); err != nil {
				return err
			}
			if priceChanged(existing[final[i].ID], final[i]) {
				if err := recordOverride(ctx, tx, final[i], in.Lines[i].OverrideReason, in.Actor); err != nil {
					return err
				}
			}
		}
		for _, i := range inserts {
			if err := tx.InsertSaleLine(ctx, &final[i]); err != nil {
				return err
			}
			if err := recordOverride(ctx, tx, final[i], in.Lines[i].OverrideReason, in.Actor); err != nil {
				return err
			}
		}

		if moved, err = plan.apply(ctx, tx, ref, in.Actor); err != nil {
			return err
		}
		if err := moveCredit(ctx, tx, ref, in.Actor, old, &sale); err != nil {
			return err
		}

		after, err = tx.GetSale(ctx, sale.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update sale %s: %w", in.SaleID, err)
	}

	s.afterCommit(ctx, in.Actor, "sale.update", after.ID, before, after, moved)
	return after, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete returns every linked line's quantity to stock, reverses the credit
// and removes the sale with its lines.
func (s *Service) Delete(ctx context.Context, id ledger.SaleID, actor ledger.Actor) error {
	ref := "sale:" + string(id)

	var (
		moved  []ledger.MovementReason
		before *ledger.Sale
	)
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		old, err := tx.LockSale(ctx, id)
		if err != nil {
			return err
		}
		before = old

		var plan movementPlan
		for _, l := range old.Lines {
			plan.add(l.ProductID, l.Quantity, ledger.ReasonSaleDeleted)
		}
		if moved, err = plan.apply(ctx, tx, ref, actor); err != nil {
			return err
		}
		if err := moveCredit(ctx, tx, ref, actor, old, nil); err != nil {
			return err
		}
		return tx.DeleteSale(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete sale %s: %w", id, err)
	}

	s.afterCommit(ctx, actor, "sale.delete", id, before, nil, moved)
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) Get(ctx context.Context, id ledger.SaleID) (*ledger.Sale, error) {
	return s.store.GetSale(ctx, id)
}

// Overrides lists the price overrides captured for a sale.
func (s *Service) Overrides(ctx context.Context, id ledger.SaleID) ([]ledger.PriceOverride, error) {
	if _, err := s.store.GetSale(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListPriceOverrides(ctx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

// applyTotals recomputes subtotal and total from the final line set.
func applyTotals(sale *ledger.Sale, lines []ledger.SaleLine, h Header) error {
	subtotal := decimal.Zero
	for i, l := range lines {
		if err := ledger.CheckMoney(fmt.Sprintf("lines[%d].line_total", i), l.LineTotal); err != nil {
			return err
		}
		subtotal = subtotal.Add(l.LineTotal)
	}
	if err := ledger.CheckMoney("subtotal", subtotal); err != nil {
		return err
	}
	sale.Subtotal = ledger.RoundMoney(subtotal)
	sale.Tax = ledger.RoundMoney(h.Tax)
	sale.Discount = ledger.RoundMoney(h.Discount)
	if h.TotalAmount != nil {
		sale.TotalAmount = ledger.RoundMoney(*h.TotalAmount)
	} else {
		sale.TotalAmount = sale.Subtotal.Add(sale.Tax).Sub(sale.Discount)
	}
	if sale.TotalAmount.IsNegative() {
		return ledger.Invalid("discount", "discount exceeds subtotal plus tax")
	}
	return ledger.CheckMoney("total_amount", sale.TotalAmount)
}

// moveCredit moves a sale's credit contribution from before to after.
// Either side may be nil (create, delete).
func moveCredit(ctx context.Context, tx ledger.Tx, ref string, actor ledger.Actor, before, after *ledger.Sale) error {
	type contribution struct {
		customer ledger.CustomerID
		amount   ledger.Money
	}
	var old, next contribution
	if before != nil {
		old = contribution{before.CustomerID, before.CreditContribution()}
	}
	if after != nil {
		next = contribution{after.CustomerID, after.CreditContribution()}
	}

	if old.customer == next.customer {
		return creditEvent(ctx, tx, ref, actor, next.customer, next.amount.Sub(old.amount))
	}
	// Reverse first so a customer swap never depends on the new customer's
	// balance covering the old one.
	if err := creditEvent(ctx, tx, ref, actor, old.customer, old.amount.Neg()); err != nil {
		return err
	}
	return creditEvent(ctx, tx, ref, actor, next.customer, next.amount)
}

func creditEvent(ctx context.Context, tx ledger.Tx, ref string, actor ledger.Actor, customer ledger.CustomerID, delta ledger.Money) error {
	delta = ledger.RoundMoney(delta)
	if customer == "" || delta.IsZero() {
		return nil
	}
	kind := ledger.CreditSale
	if delta.IsNegative() {
		kind = ledger.CreditSaleReversal
	}
	if _, err := ledger.AdjustBalance(ctx, tx, ledger.CustomerCredit(customer), delta); err != nil {
		return err
	}
	return tx.InsertCreditEvent(ctx, &ledger.CreditEvent{
		ID:         ledger.PaymentID(ledger.NewID()),
		CustomerID: customer,
		Kind:       kind,
		Delta:      delta,
		Reference:  ref,
		Actor:      actor.Name(),
		CreatedAt:  ledger.Now(),
	})
}

func (s *Service) afterCommit(ctx context.Context, actor ledger.Actor, action string, id ledger.SaleID, before, after *ledger.Sale, moved []ledger.MovementReason) {
	for _, reason := range moved {
		s.metrics.RecordMovement(string(reason))
	}
	s.audit.Record(ctx, ledger.AuditEntry{
		Actor:      actor.Name(),
		Action:     action,
		EntityType: "sale",
		EntityID:   string(id),
		Changes:    ledger.Diff(snapshot(before), snapshot(after)),
	})
	s.logger.WithFields(logrus.Fields{"op": action, "sale_id": id, "movements": len(moved)}).Info("sale committed")
}

func snapshot(s *ledger.Sale) map[string]any {
	if s == nil {
		return nil
	}
	lines := make([]string, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = fmt.Sprintf("%s x%d @ %s", lineLabel(l), l.Quantity, l.UnitPrice.StringFixed(ledger.MoneyPlaces))
	}
	return map[string]any{
		"sale_no":      s.SaleNo,
		"customer_id":  string(s.CustomerID),
		"is_credit":    s.IsCredit,
		"subtotal":     s.Subtotal,
		"total_amount": s.TotalAmount,
		"lines":        strings.Join(lines, "; "),
	}
}

func lineLabel(l ledger.SaleLine) string {
	if l.ProductID != "" {
		return string(l.ProductID)
	}
	return l.ProductName
}

func documentNo(prefix string) string {
	return prefix + "-" + strings.ToUpper(ledger.NewID()[:8])
}
