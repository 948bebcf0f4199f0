/*
Package payments records money events and keeps their running totals.

PURPOSE:
  Each operation writes one immutable event row and moves the matching
  denormalized total through ledger.AdjustBalance in the same unit:

    SupplierPayment  → purchase_order.amount_paid   (+amount, when linked)
    InquiryPayment   → inquiry.advance_amount       (+amount)
    CreditEvent      → customer.credited_amount     (signed delta)

  A total never crosses zero. Subtracting more credit than a customer owes
  fails with NegativeBalanceError; nothing is clamped.

SEE ALSO:
  - parties.go: suppliers, customers and inquiries the events refer to
  - ledger/reconcile.go: totals checked against Σ events
*/
package payments

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/warp/backoffice/ledger"
)

type Service struct {
	store  ledger.Store
	audit  *ledger.AuditRecorder
	logger logrus.FieldLogger
}

func New(store ledger.Store, audit *ledger.AuditRecorder, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{store: store, audit: audit, logger: logger.WithField("module", "payments")}
}

func positive(amount ledger.Money) error {
	if !ledger.RoundMoney(amount).IsPositive() {
		return ledger.Invalid("amount", "must be > 0, got %s", amount.String())
	}
	return ledger.CheckMoney("amount", amount)
}

// =============================================================================
// SUPPLIER PAYMENTS
// =============================================================================

type SupplierPaymentInput struct {
	Actor         ledger.Actor
	SupplierID    ledger.SupplierID
	OrderID       ledger.OrderID // empty = not linked to an order
	Amount        ledger.Money
	PaymentMethod string
	Reference     string
	Notes         string
}

// RecordSupplierPayment stores the payment and, when it is linked to an
// order, raises the order's amount_paid. The order must belong to the same
// supplier.
func (s *Service) RecordSupplierPayment(ctx context.Context, in SupplierPaymentInput) (*ledger.SupplierPayment, error) {
	if err := positive(in.Amount); err != nil {
		return nil, err
	}
	if in.SupplierID == "" {
		return nil, ledger.Invalid("supplier_id", "required")
	}

	p := &ledger.SupplierPayment{
		ID:            ledger.PaymentID(ledger.NewID()),
		SupplierID:    in.SupplierID,
		OrderID:       in.OrderID,
		Amount:        ledger.RoundMoney(in.Amount),
		PaymentMethod: in.PaymentMethod,
		Reference:     in.Reference,
		Notes:         in.Notes,
		Actor:         in.Actor.Name(),
		CreatedAt:     ledger.Now(),
	}
	var paid ledger.Money
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.GetSupplier(ctx, in.SupplierID); err != nil {
			return err
		}
		if in.OrderID != "" {
			po, err := tx.LockPurchaseOrder(ctx, in.OrderID)
			if err != nil {
				return err
			}
			if po.SupplierID != in.SupplierID {
				return ledger.Conflict("purchase order %s belongs to supplier %q, not %q", po.ID, po.SupplierID, in.SupplierID)
			}
		}
		if err := tx.InsertSupplierPayment(ctx, p); err != nil {
			return err
		}
		if in.OrderID == "" {
			return nil
		}
		var err error
		paid, err = ledger.AdjustBalance(ctx, tx, ledger.OrderPaid(in.OrderID), p.Amount)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record supplier payment: %w", err)
	}

	changes := map[string]any{"supplier_id": string(p.SupplierID), "amount": p.Amount}
	if in.OrderID != "" {
		changes["purchase_order_id"] = string(in.OrderID)
		changes["amount_paid"] = paid
	}
	s.record(ctx, in.Actor, "payment.supplier", "supplier_payment", string(p.ID), changes)
	return p, nil
}

// =============================================================================
// INQUIRY ADVANCES
// =============================================================================

type InquiryPaymentInput struct {
	Actor         ledger.Actor
	InquiryID     ledger.InquiryID
	Amount        ledger.Money
	PaymentMethod string
	Reference     string
}

// RecordInquiryPayment stores an advance, raises advance_amount and marks
// the advance as received.
func (s *Service) RecordInquiryPayment(ctx context.Context, in InquiryPaymentInput) (*ledger.InquiryPayment, error) {
	if err := positive(in.Amount); err != nil {
		return nil, err
	}
	if in.InquiryID == "" {
		return nil, ledger.Invalid("inquiry_id", "required")
	}

	p := &ledger.InquiryPayment{
		ID:            ledger.PaymentID(ledger.NewID()),
		InquiryID:     in.InquiryID,
		Amount:        ledger.RoundMoney(in.Amount),
		PaymentMethod: in.PaymentMethod,
		Reference:     in.Reference,
		Actor:         in.Actor.Name(),
		CreatedAt:     ledger.Now(),
	}
	var advance ledger.Money
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.GetInquiry(ctx, in.InquiryID); err != nil {
			return err
		}
		if err := tx.InsertInquiryPayment(ctx, p); err != nil {
			return err
		}
		var err error
		if advance, err = ledger.AdjustBalance(ctx, tx, ledger.InquiryAdvance(in.InquiryID), p.Amount); err != nil {
			return err
		}
		return tx.MarkAdvanceReceived(ctx, in.InquiryID)
	})
	if err != nil {
		return nil, fmt.Errorf("record inquiry payment: %w", err)
	}

	s.record(ctx, in.Actor, "payment.inquiry", "inquiry", string(in.InquiryID), map[string]any{
		"payment_id":     string(p.ID),
		"amount":         p.Amount,
		"advance_amount": advance,
	})
	return p, nil
}

// =============================================================================
// CUSTOMER CREDIT
// =============================================================================

// CreditOp is the direction of a manual credit adjustment.
type CreditOp string

const (
	CreditAdd      CreditOp = "add"
	CreditSubtract CreditOp = "subtract"
)

type CustomerPaymentInput struct {
	Actor         ledger.Actor
	CustomerID    ledger.CustomerID
	Amount        ledger.Money
	PaymentMethod string
	Reference     string
}

// RecordCustomerPayment settles part of a customer's debt: credited_amount
// goes down by amount.
func (s *Service) RecordCustomerPayment(ctx context.Context, in CustomerPaymentInput) (*ledger.CreditEvent, error) {
	if err := positive(in.Amount); err != nil {
		return nil, err
	}
	return s.creditEvent(ctx, in.Actor, "payment.customer", in.CustomerID, ledger.CreditPayment,
		ledger.RoundMoney(in.Amount).Neg(), in.PaymentMethod, in.Reference)
}

type AdjustCreditInput struct {
	Actor      ledger.Actor
	CustomerID ledger.CustomerID
	Amount     ledger.Money
	Op         CreditOp
	Reference  string
}

// AdjustCredit corrects a customer's credited amount by hand.
func (s *Service) AdjustCredit(ctx context.Context, in AdjustCreditInput) (*ledger.CreditEvent, error) {
	if err := positive(in.Amount); err != nil {
		return nil, err
	}
	delta := ledger.RoundMoney(in.Amount)
	switch in.Op {
	case CreditAdd:
	case CreditSubtract:
		delta = delta.Neg()
	default:
		return nil, ledger.Invalid("op", "must be add or subtract, got %q", in.Op)
	}
	return s.creditEvent(ctx, in.Actor, "customer.credit_adjust", in.CustomerID, ledger.CreditAdjustment, delta, "", in.Reference)
}

func (s *Service) creditEvent(ctx context.Context, actor ledger.Actor, action string, id ledger.CustomerID, kind ledger.CreditEventKind, delta ledger.Money, method, reference string) (*ledger.CreditEvent, error) {
	if id == "" {
		return nil, ledger.Invalid("customer_id", "required")
	}
	ev := &ledger.CreditEvent{
		ID:            ledger.PaymentID(ledger.NewID()),
		CustomerID:    id,
		Kind:          kind,
		Delta:         delta,
		PaymentMethod: method,
		Reference:     reference,
		Actor:         actor.Name(),
		CreatedAt:     ledger.Now(),
	}
	var before, after ledger.Money
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		c, err := tx.GetCustomer(ctx, id)
		if err != nil {
			return err
		}
		before = c.CreditedAmount
		if after, err = ledger.AdjustBalance(ctx, tx, ledger.CustomerCredit(id), delta); err != nil {
			return err
		}
		return tx.InsertCreditEvent(ctx, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}

	s.record(ctx, actor, action, "customer", string(id), ledger.Diff(
		map[string]any{"credited_amount": before},
		map[string]any{"credited_amount": after},
	))
	return ev, nil
}

// CreditHistory lists a customer's credit events oldest first.
func (s *Service) CreditHistory(ctx context.Context, id ledger.CustomerID) ([]ledger.CreditEvent, error) {
	if _, err := s.store.GetCustomer(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListCreditEvents(ctx, id)
}

func (s *Service) InquiryPayments(ctx context.Context, id ledger.InquiryID) ([]ledger.InquiryPayment, error) {
	return s.store.ListInquiryPayments(ctx, id)
}

func (s *Service) record(ctx context.Context, actor ledger.Actor, action, entity, id string, changes map[string]any) {
	s.audit.Record(ctx, ledger.AuditEntry{
		Actor:      actor.Name(),
		Action:     action,
		EntityType: entity,
		EntityID:   id,
		Changes:    changes,
	})
	s.logger.WithFields(logrus.Fields{"op": action, "entity_type": entity, "entity_id": id}).Info("payment recorded")
}
