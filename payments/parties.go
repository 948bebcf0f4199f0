package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/backoffice/ledger"
)

// =============================================================================
// PARTIES - reference rows the money events point at
// =============================================================================

type SupplierInput struct {
	Actor ledger.Actor
	Name  string
	Phone string
}

func (s *Service) CreateSupplier(ctx context.Context, in SupplierInput) (*ledger.Supplier, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, ledger.Invalid("name", "required")
	}
	sup := &ledger.Supplier{
		ID:        ledger.SupplierID(ledger.NewID()),
		Name:      strings.TrimSpace(in.Name),
		Phone:     in.Phone,
		CreatedAt: ledger.Now(),
	}
	if err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.InsertSupplier(ctx, sup)
	}); err != nil {
		return nil, fmt.Errorf("create supplier: %w", err)
	}
	s.record(ctx, in.Actor, "supplier.create", "supplier", string(sup.ID), map[string]any{"name": sup.Name})
	return sup, nil
}

type CustomerInput struct {
	Actor ledger.Actor
	Name  string
	Phone string
	// OpeningCredit is debt carried over from before the system existed. It
	// is booked as an adjustment event so the total matches Σ events.
	OpeningCredit ledger.Money
}

func (s *Service) CreateCustomer(ctx context.Context, in CustomerInput) (*ledger.Customer, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, ledger.Invalid("name", "required")
	}
	opening := ledger.RoundMoney(in.OpeningCredit)
	if opening.IsNegative() {
		return nil, ledger.Invalid("opening_credit", "must be >= 0")
	}
	if err := ledger.CheckMoney("opening_credit", opening); err != nil {
		return nil, err
	}

	c := &ledger.Customer{
		ID:        ledger.CustomerID(ledger.NewID()),
		Name:      strings.TrimSpace(in.Name),
		Phone:     in.Phone,
		CreatedAt: ledger.Now(),
	}
	var out *ledger.Customer
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertCustomer(ctx, c); err != nil {
			return err
		}
		if opening.IsPositive() {
			if _, err := ledger.AdjustBalance(ctx, tx, ledger.CustomerCredit(c.ID), opening); err != nil {
				return err
			}
			if err := tx.InsertCreditEvent(ctx, &ledger.CreditEvent{
				ID:         ledger.PaymentID(ledger.NewID()),
				CustomerID: c.ID,
				Kind:       ledger.CreditAdjustment,
				Delta:      opening,
				Reference:  "opening_balance",
				Actor:      in.Actor.Name(),
				CreatedAt:  ledger.Now(),
			}); err != nil {
				return err
			}
		}
		var err error
		out, err = tx.GetCustomer(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	s.record(ctx, in.Actor, "customer.create", "customer", string(out.ID), map[string]any{
		"name":            out.Name,
		"credited_amount": out.CreditedAmount,
	})
	return out, nil
}

type InquiryInput struct {
	Actor       ledger.Actor
	InquiryNo   string // empty = generated
	CustomerID  ledger.CustomerID
	Description string
}

func (s *Service) CreateInquiry(ctx context.Context, in InquiryInput) (*ledger.Inquiry, error) {
	inq := &ledger.Inquiry{
		ID:          ledger.InquiryID(ledger.NewID()),
		InquiryNo:   in.InquiryNo,
		CustomerID:  in.CustomerID,
		Description: in.Description,
		Status:      "open",
		CreatedAt:   ledger.Now(),
	}
	if inq.InquiryNo == "" {
		inq.InquiryNo = "INQ-" + strings.ToUpper(string(inq.ID)[:8])
	}
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		if in.CustomerID != "" {
			if _, err := tx.GetCustomer(ctx, in.CustomerID); err != nil {
				return err
			}
		}
		return tx.InsertInquiry(ctx, inq)
	})
	if err != nil {
		return nil, fmt.Errorf("create inquiry: %w", err)
	}
	s.record(ctx, in.Actor, "inquiry.create", "inquiry", string(inq.ID), map[string]any{
		"inquiry_no":  inq.InquiryNo,
		"customer_id": string(inq.CustomerID),
	})
	return inq, nil
}

func (s *Service) Supplier(ctx context.Context, id ledger.SupplierID) (*ledger.Supplier, error) {
	return s.store.GetSupplier(ctx, id)
}

func (s *Service) Customer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	return s.store.GetCustomer(ctx, id)
}

func (s *Service) Inquiry(ctx context.Context, id ledger.InquiryID) (*ledger.Inquiry, error) {
	return s.store.GetInquiry(ctx, id)
}
