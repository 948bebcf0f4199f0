/*
handlers_money.go - HTTP handlers for parties, payments, reconciliation and reports

ENDPOINTS:
  Parties:
    POST /api/suppliers, /api/customers, /api/inquiries
    GET  /api/suppliers/{id}, /api/customers/{id}, /api/inquiries/{id}

  Payments:
    POST /api/payments/supplier       SupplierPayment (+ order amount_paid)
    POST /api/payments/customer       customer settles credit
    POST /api/payments/inquiry        inquiry advance
    GET  /api/customers/{id}/credit   credit event history
    POST /api/customers/{id}/credit   manual add / subtract

  Reconciliation:
    GET  /api/reconciliation          check only, nothing written
    POST /api/reconciliation/repair   check + repair, stored as a run
    GET  /api/reconciliation/runs     recent runs

  Reports:
    GET  /api/reports/movements.xlsx
    GET  /api/reports/reconciliation.xlsx
*/
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/backoffice/ledger"
	"github.com/warp/backoffice/payments"
	"github.com/warp/backoffice/report"
)

// =============================================================================
// PARTY HANDLERS
// =============================================================================

func (h *Handler) CreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req CreateSupplierRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "supplier.create", err)
		return
	}
	s, err := h.Payments.CreateSupplier(r.Context(), payments.SupplierInput{
		Actor: ActorFrom(r.Context()), Name: req.Name, Phone: req.Phone,
	})
	if err != nil {
		h.fail(w, r, "supplier.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSupplierDTO(s))
}

func (h *Handler) GetSupplier(w http.ResponseWriter, r *http.Request) {
	s, err := h.Payments.Supplier(r.Context(), ledger.SupplierID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "supplier.get", err)
		return
	}
	writeJSON(w, http.StatusOK, toSupplierDTO(s))
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "customer.create", err)
		return
	}
	c, err := h.Payments.CreateCustomer(r.Context(), payments.CustomerInput{
		Actor: ActorFrom(r.Context()), Name: req.Name, Phone: req.Phone, OpeningCredit: req.OpeningCredit,
	})
	if err != nil {
		h.fail(w, r, "customer.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.Payments.Customer(r.Context(), ledger.CustomerID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "customer.get", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

func (h *Handler) CreateInquiry(w http.ResponseWriter, r *http.Request) {
	var req CreateInquiryRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "inquiry.create", err)
		return
	}
	inq, err := h.Payments.CreateInquiry(r.Context(), payments.InquiryInput{
		Actor:       ActorFrom(r.Context()),
		InquiryNo:   req.InquiryNo,
		CustomerID:  ledger.CustomerID(req.CustomerID),
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, "inquiry.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInquiryDTO(inq))
}

func (h *Handler) GetInquiry(w http.ResponseWriter, r *http.Request) {
	inq, err := h.Payments.Inquiry(r.Context(), ledger.InquiryID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "inquiry.get", err)
		return
	}
	writeJSON(w, http.StatusOK, toInquiryDTO(inq))
}

func toSupplierDTO(s *ledger.Supplier) SupplierDTO {
	return SupplierDTO{ID: string(s.ID), Name: s.Name, Phone: s.Phone, CreatedAt: stamp(s.CreatedAt)}
}

func toCustomerDTO(c *ledger.Customer) CustomerDTO {
	return CustomerDTO{
		ID:             string(c.ID),
		Name:           c.Name,
		Phone:          c.Phone,
		CreditedAmount: money(c.CreditedAmount),
		CreatedAt:      stamp(c.CreatedAt),
	}
}

func toInquiryDTO(i *ledger.Inquiry) InquiryDTO {
	return InquiryDTO{
		ID:              string(i.ID),
		InquiryNo:       i.InquiryNo,
		CustomerID:      string(i.CustomerID),
		Description:     i.Description,
		AdvanceAmount:   money(i.AdvanceAmount),
		AdvanceReceived: i.AdvanceReceived,
		Status:          i.Status,
	}
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

func (h *Handler) RecordSupplierPayment(w http.ResponseWriter, r *http.Request) {
	var req SupplierPaymentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "payment.supplier", err)
		return
	}
	p, err := h.Payments.RecordSupplierPayment(r.Context(), payments.SupplierPaymentInput{
		Actor:         ActorFrom(r.Context()),
		SupplierID:    ledger.SupplierID(req.SupplierID),
		OrderID:       ledger.OrderID(req.PurchaseOrderID),
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Reference:     req.Reference,
		Notes:         req.Notes,
	})
	if err != nil {
		h.fail(w, r, "payment.supplier", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSupplierPaymentDTO(p))
}

func (h *Handler) RecordCustomerPayment(w http.ResponseWriter, r *http.Request) {
	var req CustomerPaymentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "payment.customer", err)
		return
	}
	ev, err := h.Payments.RecordCustomerPayment(r.Context(), payments.CustomerPaymentInput{
		Actor:         ActorFrom(r.Context()),
		CustomerID:    ledger.CustomerID(req.CustomerID),
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Reference:     req.Reference,
	})
	if err != nil {
		h.fail(w, r, "payment.customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreditEventDTO(ev))
}

func (h *Handler) RecordInquiryPayment(w http.ResponseWriter, r *http.Request) {
	var req InquiryPaymentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "payment.inquiry", err)
		return
	}
	p, err := h.Payments.RecordInquiryPayment(r.Context(), payments.InquiryPaymentInput{
		Actor:         ActorFrom(r.Context()),
		InquiryID:     ledger.InquiryID(req.InquiryID),
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Reference:     req.Reference,
	})
	if err != nil {
		h.fail(w, r, "payment.inquiry", err)
		return
	}
	writeJSON(w, http.StatusCreated, InquiryPaymentDTO{
		ID:        string(p.ID),
		InquiryID: string(p.InquiryID),
		Amount:    money(p.Amount),
		Actor:     p.Actor,
		CreatedAt: stamp(p.CreatedAt),
	})
}

func (h *Handler) ListCreditEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Payments.CreditHistory(r.Context(), ledger.CustomerID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "customer.credit", err)
		return
	}
	dtos := make([]CreditEventDTO, len(events))
	for i := range events {
		dtos[i] = toCreditEventDTO(&events[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) AdjustCredit(w http.ResponseWriter, r *http.Request) {
	var req AdjustCreditRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "customer.credit_adjust", err)
		return
	}
	ev, err := h.Payments.AdjustCredit(r.Context(), payments.AdjustCreditInput{
		Actor:      ActorFrom(r.Context()),
		CustomerID: ledger.CustomerID(chi.URLParam(r, "id")),
		Amount:     req.Amount,
		Op:         payments.CreditOp(req.Op),
		Reference:  req.Reference,
	})
	if err != nil {
		h.fail(w, r, "customer.credit_adjust", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreditEventDTO(ev))
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// CheckReconciliation compares stored values with their event history.
func (h *Handler) CheckReconciliation(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Reconciler.Check(r.Context())
	if err != nil {
		h.fail(w, r, "reconciliation.check", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(rep))
}

// RepairReconciliation runs check + repair and records the run.
func (h *Handler) RepairReconciliation(w http.ResponseWriter, r *http.Request) {
	run, rep, err := h.Reconciler.Run(r.Context(), true, ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "reconciliation.repair", err)
		return
	}
	writeJSON(w, http.StatusOK, RepairDTO{Run: toRunDTO(run), Report: toReportDTO(rep)})
}

// ListReconciliationRuns returns recent runs, newest first. Query: limit.
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 20)
	if err != nil {
		h.fail(w, r, "reconciliation.runs", err)
		return
	}
	runs, err := h.Store.ListReconciliationRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "reconciliation.runs", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i := range runs {
		dtos[i] = toRunDTO(&runs[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func queryLimit(r *http.Request, def int) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 1000 {
		return 0, ledger.Invalid("limit", "must be an integer in 1..1000, got %q", s)
	}
	return n, nil
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// ExportMovements streams the movement log as xlsx. Query: product_id,
// reason, reference, limit (default 10000).
func (h *Handler) ExportMovements(w http.ResponseWriter, r *http.Request) {
	filter := ledger.MovementFilter{
		ProductID: ledger.ProductID(r.URL.Query().Get("product_id")),
		Reason:    ledger.MovementReason(r.URL.Query().Get("reason")),
		Reference: r.URL.Query().Get("reference"),
		Limit:     10000,
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.fail(w, r, "report.movements", ledger.Invalid("limit", "must be a positive integer, got %q", s))
			return
		}
		filter.Limit = n
	}

	movements, err := h.Inventory.Movements(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "report.movements", err)
		return
	}
	products, err := h.Inventory.List(r.Context())
	if err != nil {
		h.fail(w, r, "report.movements", err)
		return
	}
	f, err := report.MovementsWorkbook(movements, products)
	if err != nil {
		h.fail(w, r, "report.movements", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=movements.xlsx")
	if err := f.Write(w); err != nil {
		h.Logger.WithError(err).Warn("write movements workbook")
	}
}

// ExportReconciliation runs a check and streams it with the run history.
func (h *Handler) ExportReconciliation(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Reconciler.Check(r.Context())
	if err != nil {
		h.fail(w, r, "report.reconciliation", err)
		return
	}
	runs, err := h.Store.ListReconciliationRuns(r.Context(), 50)
	if err != nil {
		h.fail(w, r, "report.reconciliation", err)
		return
	}
	f, err := report.ReconciliationWorkbook(rep, runs)
	if err != nil {
		h.fail(w, r, "report.reconciliation", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=reconciliation.xlsx")
	if err := f.Write(w); err != nil {
		h.Logger.WithError(err).Warn("write reconciliation workbook")
	}
}
