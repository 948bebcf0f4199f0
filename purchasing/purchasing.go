/*
Package purchasing manages purchase orders and receiving.

PURPOSE:
  Orders move draft → placed → partially_received → completed, with
  cancelled reachable from any non-terminal state. Receiving matches each
  incoming entry to exactly one order line, adds the clamped quantity to
  stock, and recomputes the status from the lines.

STATUS:
  The status is derived, never set directly by a caller:
    Σ received >= Σ ordered  → completed
    0 < Σ received           → partially_received
    otherwise                → unchanged (draft or placed)
  Place and Cancel are the only explicit transitions.

PAYMENTS:
  Receive may carry a supplier payment; it is written in the same unit and
  raises amount_paid through ledger.AdjustBalance.

SEE ALSO:
  - matching.go: entry → line matching precedence and fallback policy
  - payments/payments.go: standalone supplier payments
*/
package purchasing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/backoffice/ledger"
	"github.com/warp/backoffice/metrics"
)

// Service runs the purchase-order lifecycle.
type Service struct {
	store    ledger.Store
	audit    *ledger.AuditRecorder
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
	fallback Fallback
}

func New(store ledger.Store, audit *ledger.AuditRecorder, logger logrus.FieldLogger, m *metrics.Metrics, fallback Fallback) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if fallback == "" {
		fallback = FallbackWarn
	}
	return &Service{
		store:    store,
		audit:    audit,
		logger:   logger.WithField("module", "purchasing"),
		metrics:  m,
		fallback: fallback,
	}
}

// =============================================================================
// CREATE / PLACE / CANCEL
// =============================================================================

type LineInput struct {
	ProductID   ledger.ProductID // empty = non-stock line
	Description string
	QtyOrdered  int64
	UnitCost    ledger.Money
}

type CreateInput struct {
	Actor        ledger.Actor
	PONo         string // empty = generated
	SupplierID   ledger.SupplierID
	ExpectedDate *time.Time
	Notes        string
	Lines        []LineInput
	// Place creates the order directly in the placed state.
	Place bool
}

func (in CreateInput) validate() error {
	if len(in.Lines) == 0 {
		return ledger.Invalid("lines", "a purchase order needs at least one line")
	}
	for i, l := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if l.QtyOrdered <= 0 {
			return ledger.Invalid(field+".qty_ordered", "must be > 0, got %d", l.QtyOrdered)
		}
		if l.UnitCost.IsNegative() {
			return ledger.Invalid(field+".unit_cost", "must be >= 0")
		}
		if err := ledger.CheckMoney(field+".unit_cost", l.UnitCost); err != nil {
			return err
		}
		if l.ProductID == "" && l.Description == "" {
			return ledger.Invalid(field+".description", "a line without a product needs a description")
		}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*ledger.PurchaseOrder, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := ledger.Now()
	po := &ledger.PurchaseOrder{
		ID:           ledger.OrderID(ledger.NewID()),
		PONo:         in.PONo,
		SupplierID:   in.SupplierID,
		Status:       ledger.StatusDraft,
		ExpectedDate: in.ExpectedDate,
		Notes:        in.Notes,
		CreatedBy:    in.Actor.Name(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if po.PONo == "" {
		po.PONo = "PO-" + strings.ToUpper(ledger.NewID()[:8])
	}
	if in.Place {
		po.Status = ledger.StatusPlaced
	}

	total := decimal.Zero
	for i, li := range in.Lines {
		l := ledger.OrderLine{
			ID:          ledger.OrderLineID(ledger.NewID()),
			OrderID:     po.ID,
			ProductID:   li.ProductID,
			Description: li.Description,
			QtyOrdered:  li.QtyOrdered,
			UnitCost:    ledger.RoundMoney(li.UnitCost),
			Position:    i,
		}
		l.LineTotal = ledger.RoundMoney(l.UnitCost.Mul(decimal.NewFromInt(l.QtyOrdered)))
		if err := ledger.CheckMoney(fmt.Sprintf("lines[%d].line_total", i), l.LineTotal); err != nil {
			return nil, err
		}
		total = total.Add(l.LineTotal)
		po.Lines = append(po.Lines, l)
	}
	if err := ledger.CheckMoney("total_amount", total); err != nil {
		return nil, err
	}
	po.TotalAmount = total

	var out *ledger.PurchaseOrder
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		if po.SupplierID != "" {
			if _, err := tx.GetSupplier(ctx, po.SupplierID); err != nil {
				return err
			}
		}
		for i, l := range po.Lines {
			if l.ProductID == "" {
				continue
			}
			if _, err := tx.GetProduct(ctx, l.ProductID); err != nil {
				return fmt.Errorf("lines[%d]: %w", i, err)
			}
		}
		if err := tx.InsertPurchaseOrder(ctx, po); err != nil {
			return err
		}
		var err error
		out, err = tx.GetPurchaseOrder(ctx, po.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create purchase order: %w", err)
	}

	s.record(ctx, in.Actor, "purchase_order.create", out.ID, nil, summary(out))
	return out, nil
}

// Place moves a draft order to placed.
func (s *Service) Place(ctx context.Context, id ledger.OrderID, actor ledger.Actor) (*ledger.PurchaseOrder, error) {
	return s.transition(ctx, id, actor, "purchase_order.place", ledger.StatusPlaced, func(from ledger.OrderStatus) bool {
		return from == ledger.StatusDraft
	})
}

// Cancel closes a non-terminal order. Quantities already received stay in
// stock.
func (s *Service) Cancel(ctx context.Context, id ledger.OrderID, actor ledger.Actor) (*ledger.PurchaseOrder, error) {
	return s.transition(ctx, id, actor, "purchase_order.cancel", ledger.StatusCancelled, func(from ledger.OrderStatus) bool {
		return !from.IsTerminal()
	})
}

func (s *Service) transition(ctx context.Context, id ledger.OrderID, actor ledger.Actor, action string, to ledger.OrderStatus, allowed func(ledger.OrderStatus) bool) (*ledger.PurchaseOrder, error) {
	var (
		from ledger.OrderStatus
		out  *ledger.PurchaseOrder
	)
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		po, err := tx.LockPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		from = po.Status
		if !allowed(from) {
			return ledger.Conflict("purchase order %s is %s, cannot move to %s", id, from, to)
		}
		if err := tx.UpdateOrderStatus(ctx, id, to); err != nil {
			return err
		}
		out, err = tx.GetPurchaseOrder(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}

	s.record(ctx, actor, action, id, map[string]any{"status": string(from)}, map[string]any{"status": string(to)})
	return out, nil
}

// =============================================================================
// RECEIVE / COMPLETE
// =============================================================================

type ReceiveEntry struct {
	LineID    ledger.OrderLineID
	ProductID ledger.ProductID
	Quantity  int64
}

type PaymentInput struct {
	Amount        ledger.Money
	PaymentMethod string
	Reference     string
	Notes         string
}

type ReceiveInput struct {
	Actor   ledger.Actor
	OrderID ledger.OrderID
	Entries []ReceiveEntry
	// MarkComplete receives every line's remaining quantity after the
	// entries, closing the order.
	MarkComplete bool
	Payment      *PaymentInput
}

// ReceivedLine reports what one entry did.
type ReceivedLine struct {
	LineID    ledger.OrderLineID
	ProductID ledger.ProductID
	Requested int64
	Received  int64
	MatchedBy MatchRule
}

type ReceiveResult struct {
	Order    *ledger.PurchaseOrder
	Lines    []ReceivedLine
	Payment  *ledger.SupplierPayment
	Warnings []string
}

func (in ReceiveInput) validate() error {
	if in.OrderID == "" {
		return ledger.Invalid("order_id", "required")
	}
	if len(in.Entries) == 0 && !in.MarkComplete && in.Payment == nil {
		return ledger.Invalid("entries", "nothing to receive")
	}
	for i, e := range in.Entries {
		if e.Quantity < 0 {
			return ledger.Invalid(fmt.Sprintf("entries[%d].quantity", i), "must be >= 0, got %d", e.Quantity)
		}
	}
	if in.Payment != nil {
		if !in.Payment.Amount.IsPositive() {
			return ledger.Invalid("payment.amount", "must be > 0")
		}
		if err := ledger.CheckMoney("payment.amount", in.Payment.Amount); err != nil {
			return err
		}
	}
	return nil
}

// closesOnly reports whether the input does nothing but close the order,
// which is a no-op on an order that is already completed.
func (in ReceiveInput) closesOnly() bool {
	return in.MarkComplete && len(in.Entries) == 0 && in.Payment == nil
}

// Receive matches entries to lines, adds the received quantities to stock
// and recomputes the order status, in one unit.
func (s *Service) Receive(ctx context.Context, in ReceiveInput) (*ReceiveResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	ref := "po:" + string(in.OrderID)

	var (
		res    *ReceiveResult
		before ledger.OrderStatus
		moved  int
		noop   bool
	)
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		po, err := tx.LockPurchaseOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		before = po.Status
		if po.Status == ledger.StatusCompleted && in.closesOnly() {
			res = &ReceiveResult{Order: po}
			noop = true
			return nil
		}
		if po.Status.IsTerminal() {
			return ledger.Conflict("purchase order %s is %s", po.ID, po.Status)
		}

		res = &ReceiveResult{}
		m := newMatcher(po, s.fallback)
		for i, e := range in.Entries {
			idx, rule, err := m.match(e)
			if err != nil {
				return fmt.Errorf("entries[%d]: %w", i, err)
			}
			if rule == MatchPosition && s.fallback == FallbackWarn {
				res.Warnings = append(res.Warnings, fmt.Sprintf(
					"entry %d matched line %s (%s) by position; send line_id to avoid misattribution",
					i, po.Lines[idx].ID, lineLabel(po.Lines[idx])))
			}
			got, err := s.receiveLine(ctx, tx, &po.Lines[idx], e.Quantity, ref, in.Actor)
			if err != nil {
				return err
			}
			if got < e.Quantity {
				res.Warnings = append(res.Warnings, fmt.Sprintf(
					"entry %d requested %d for line %s, only %d outstanding", i, e.Quantity, po.Lines[idx].ID, got))
			}
			if got > 0 && po.Lines[idx].ProductID != "" {
				moved++
			}
			res.Lines = append(res.Lines, ReceivedLine{
				LineID: po.Lines[idx].ID, ProductID: po.Lines[idx].ProductID,
				Requested: e.Quantity, Received: got, MatchedBy: rule,
			})
		}

		if in.MarkComplete {
			for i := range po.Lines {
				l := &po.Lines[i]
				remaining := l.Remaining()
				if remaining == 0 {
					continue
				}
				if _, err := s.receiveLine(ctx, tx, l, remaining, ref, in.Actor); err != nil {
					return err
				}
				if l.ProductID != "" {
					moved++
				}
				res.Lines = append(res.Lines, ReceivedLine{
					LineID: l.ID, ProductID: l.ProductID, Requested: remaining, Received: remaining, MatchedBy: MatchComplete,
				})
			}
		}

		if status := deriveStatus(po); status != po.Status {
			if err := tx.UpdateOrderStatus(ctx, po.ID, status); err != nil {
				return err
			}
		}

		if in.Payment != nil {
			if res.Payment, err = recordPayment(ctx, tx, po, *in.Payment, in.Actor); err != nil {
				return err
			}
		}

		res.Order, err = tx.GetPurchaseOrder(ctx, po.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("receive purchase order %s: %w", in.OrderID, err)
	}
	if noop {
		return res, nil
	}

	for i := 0; i < moved; i++ {
		s.metrics.RecordMovement(string(ledger.ReasonPurchaseReceive))
	}
	for _, w := range res.Warnings {
		s.logger.WithFields(logrus.Fields{"op": "receive", "order_id": in.OrderID}).Warn(w)
	}
	changes := ledger.Diff(map[string]any{"status": string(before)}, map[string]any{"status": string(res.Order.Status)})
	changes["received"] = receivedSummary(res.Lines)
	if res.Payment != nil {
		changes["payment"] = res.Payment.Amount.StringFixed(ledger.MoneyPlaces)
	}
	s.audit.Record(ctx, ledger.AuditEntry{
		Actor:      in.Actor.Name(),
		Action:     "purchase_order.receive",
		EntityType: "purchase_order",
		EntityID:   string(in.OrderID),
		Changes:    changes,
	})
	return res, nil
}

// Complete receives every outstanding quantity and closes the order.
// Completing an already completed order returns it unchanged.
func (s *Service) Complete(ctx context.Context, id ledger.OrderID, actor ledger.Actor) (*ledger.PurchaseOrder, error) {
	res, err := s.Receive(ctx, ReceiveInput{Actor: actor, OrderID: id, MarkComplete: true})
	if err != nil {
		return nil, err
	}
	return res.Order, nil
}

func (s *Service) Get(ctx context.Context, id ledger.OrderID) (*ledger.PurchaseOrder, error) {
	return s.store.GetPurchaseOrder(ctx, id)
}

// Payments lists supplier payments linked to an order.
func (s *Service) Payments(ctx context.Context, id ledger.OrderID) ([]ledger.SupplierPayment, error) {
	return s.store.ListSupplierPayments(ctx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

// receiveLine clamps qty to the line's remaining quantity, moves stock for
// linked lines and stores the new qty_received. Returns the clamped amount.
func (s *Service) receiveLine(ctx context.Context, tx ledger.Tx, l *ledger.OrderLine, qty int64, ref string, actor ledger.Actor) (int64, error) {
	got := qty
	if remaining := l.Remaining(); got > remaining {
		got = remaining
	}
	if got == 0 {
		return 0, nil
	}
	if l.ProductID != "" {
		if _, err := ledger.MoveStock(ctx, tx, ledger.StockMovement{
			ProductID: l.ProductID,
			Delta:     got,
			Reason:    ledger.ReasonPurchaseReceive,
			Reference: ref,
			Actor:     actor.Name(),
		}); err != nil {
			return 0, err
		}
	}
	l.QtyReceived += got
	if err := tx.UpdateOrderLineReceived(ctx, l.ID, l.QtyReceived); err != nil {
		return 0, err
	}
	return got, nil
}

// deriveStatus is a pure function of the lines' ordered and received totals.
func deriveStatus(po *ledger.PurchaseOrder) ledger.OrderStatus {
	var ordered, received int64
	for _, l := range po.Lines {
		ordered += l.QtyOrdered
		received += l.QtyReceived
	}
	switch {
	case ordered > 0 && received >= ordered:
		return ledger.StatusCompleted
	case received > 0:
		return ledger.StatusPartiallyReceived
	}
	return po.Status
}

func recordPayment(ctx context.Context, tx ledger.Tx, po *ledger.PurchaseOrder, in PaymentInput, actor ledger.Actor) (*ledger.SupplierPayment, error) {
	if po.SupplierID == "" {
		return nil, ledger.Conflict("purchase order %s has no supplier to pay", po.ID)
	}
	p := &ledger.SupplierPayment{
		ID:            ledger.PaymentID(ledger.NewID()),
		SupplierID:    po.SupplierID,
		OrderID:       po.ID,
		Amount:        ledger.RoundMoney(in.Amount),
		PaymentMethod: in.PaymentMethod,
		Reference:     in.Reference,
		Notes:         in.Notes,
		Actor:         actor.Name(),
		CreatedAt:     ledger.Now(),
	}
	if err := tx.InsertSupplierPayment(ctx, p); err != nil {
		return nil, err
	}
	if _, err := ledger.AdjustBalance(ctx, tx, ledger.OrderPaid(po.ID), p.Amount); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) record(ctx context.Context, actor ledger.Actor, action string, id ledger.OrderID, before, after map[string]any) {
	s.audit.Record(ctx, ledger.AuditEntry{
		Actor:      actor.Name(),
		Action:     action,
		EntityType: "purchase_order",
		EntityID:   string(id),
		Changes:    ledger.Diff(before, after),
	})
	s.logger.WithFields(logrus.Fields{"op": action, "order_id": id}).Info("purchase order updated")
}

func summary(po *ledger.PurchaseOrder) map[string]any {
	return map[string]any{
		"po_no":        po.PONo,
		"supplier_id":  string(po.SupplierID),
		"status":       string(po.Status),
		"total_amount": po.TotalAmount,
		"lines":        len(po.Lines),
	}
}

func receivedSummary(lines []ReceivedLine) map[string]int64 {
	out := make(map[string]int64, len(lines))
	for _, l := range lines {
		out[string(l.LineID)] += l.Received
	}
	return out
}

func lineLabel(l ledger.OrderLine) string {
	if l.ProductID != "" {
		return "product " + string(l.ProductID)
	}
	return l.Description
}
