/*
handlers.go - HTTP handlers for inventory, sales and purchasing

ENDPOINTS:
  Products:
    POST   /api/products                   Register product (+ opening stock)
    GET    /api/products                   List products
    GET    /api/products/{id}              Get product
    GET    /api/products/{id}/movements    Movement trail, newest first
    POST   /api/products/{id}/adjust       Delta or set-to adjustment

  Sales:
    POST   /api/sales                      Create sale
    GET    /api/sales/{id}                 Get sale with lines
    GET    /api/sales/{id}/overrides       Price overrides of a sale
    PUT    /api/sales/{id}                 Replace header and lines
    DELETE /api/sales/{id}                 Delete sale, restoring stock

  Purchase orders:
    POST   /api/purchase-orders            Create order
    GET    /api/purchase-orders/{id}       Get order with lines
    GET    /api/purchase-orders/{id}/payments
    POST   /api/purchase-orders/{id}/place
    POST   /api/purchase-orders/{id}/cancel
    POST   /api/purchase-orders/{id}/receive
    POST   /api/purchase-orders/{id}/complete

REQUEST FLOW:
  1. authenticate + require(op) (server.go)
  2. decode + validate the body (errors.go)
  3. call the service with the request's actor
  4. map the result to a DTO, or the error to a status

SEE ALSO:
  - handlers_money.go: parties, payments, reconciliation, reports
  - dto.go: request/response types
*/
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/backoffice/access"
	"github.com/warp/backoffice/inventory"
	"github.com/warp/backoffice/ledger"
	"github.com/warp/backoffice/purchasing"
	"github.com/warp/backoffice/sales"
)

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// CreateProduct registers a product.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "product.create", err)
		return
	}
	p, err := h.Inventory.RegisterProduct(r.Context(), inventory.RegisterInput{
		Actor:               ActorFrom(r.Context()),
		SKU:                 req.SKU,
		Name:                req.Name,
		Description:         req.Description,
		CostPrice:           req.CostPrice,
		SellingPrice:        req.SellingPrice,
		MinimumSellingPrice: req.MinimumSellingPrice,
		InitialStock:        req.InitialStock,
	})
	if err != nil {
		h.fail(w, r, "product.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(p))
}

// ListProducts returns all products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Inventory.List(r.Context())
	if err != nil {
		h.fail(w, r, "product.list", err)
		return
	}
	dtos := make([]ProductDTO, len(products))
	for i := range products {
		dtos[i] = toProductDTO(&products[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProduct returns a single product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Inventory.Get(r.Context(), ledger.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "product.get", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// ListProductMovements returns a product's movement trail.
// Query: reason, reference, limit.
func (h *Handler) ListProductMovements(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProductID(chi.URLParam(r, "id"))
	if _, err := h.Inventory.Get(r.Context(), id); err != nil {
		h.fail(w, r, "product.movements", err)
		return
	}
	filter, err := movementFilter(r)
	if err != nil {
		h.fail(w, r, "product.movements", err)
		return
	}
	filter.ProductID = id
	movements, err := h.Inventory.Movements(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "product.movements", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTOs(movements))
}

// AdjustStock applies a manual delta or a stock count.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustStockRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "stock.adjust", err)
		return
	}
	res, err := h.Inventory.Adjust(r.Context(), inventory.AdjustInput{
		Actor:     ActorFrom(r.Context()),
		ProductID: ledger.ProductID(chi.URLParam(r, "id")),
		Mode:      inventory.Mode(req.Mode),
		Quantity:  req.Quantity,
		Reason:    ledger.MovementReason(req.Reason),
		Reference: req.Reference,
		Notes:     req.Notes,
	})
	if err != nil {
		h.fail(w, r, "stock.adjust", err)
		return
	}
	dto := AdjustStockDTO{Product: toProductDTO(res.Product), Delta: res.Delta}
	if res.Movement != nil {
		m := toMovementDTOs([]ledger.StockMovement{*res.Movement})[0]
		dto.Movement = &m
	}
	writeJSON(w, http.StatusOK, dto)
}

func movementFilter(r *http.Request) (ledger.MovementFilter, error) {
	q := r.URL.Query()
	f := ledger.MovementFilter{
		Reason:    ledger.MovementReason(q.Get("reason")),
		Reference: q.Get("reference"),
		Limit:     100,
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			return f, ledger.Invalid("limit", "must be an integer in 1..1000, got %q", s)
		}
		f.Limit = n
	}
	return f, nil
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

func saleInput(req SaleRequest) (sales.Header, []sales.LineInput) {
	header := sales.Header{
		SaleNo:        req.SaleNo,
		CustomerID:    ledger.CustomerID(req.CustomerID),
		EmployeeID:    req.EmployeeID,
		Tax:           req.Tax,
		Discount:      req.Discount,
		TotalAmount:   req.TotalAmount,
		PaymentMethod: req.PaymentMethod,
		IsCredit:      req.IsCredit,
	}
	lines := make([]sales.LineInput, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = sales.LineInput{
			ID:                ledger.SaleLineID(l.ID),
			ProductID:         ledger.ProductID(l.ProductID),
			ProductName:       l.ProductName,
			SKU:               l.SKU,
			Quantity:          l.Quantity,
			UnitPrice:         l.UnitPrice,
			OriginalUnitPrice: l.OriginalUnitPrice,
			OverrideReason:    l.OverrideReason,
		}
	}
	return header, lines
}

// CreateSale records a sale and deducts its stock.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "sale.create", err)
		return
	}
	actor := ActorFrom(r.Context())
	header, lines := saleInput(req)
	sale, err := h.Sales.Create(r.Context(), sales.CreateInput{
		Actor:             actor,
		Header:            header,
		Lines:             lines,
		AllowBelowMinimum: h.Policy.Allows(actor, access.SaleOverridePrice),
	})
	if err != nil {
		h.fail(w, r, "sale.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(sale))
}

// GetSale returns a sale with its lines.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Sales.Get(r.Context(), ledger.SaleID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "sale.get", err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// ListPriceOverrides returns the override trail of a sale.
func (h *Handler) ListPriceOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.Sales.Overrides(r.Context(), ledger.SaleID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "sale.overrides", err)
		return
	}
	dtos := make([]PriceOverrideDTO, len(overrides))
	for i, o := range overrides {
		dtos[i] = PriceOverrideDTO{
			SaleLineID:        string(o.SaleLineID),
			Actor:             o.Actor,
			OriginalUnitPrice: money(o.OriginalUnitPrice),
			FinalUnitPrice:    money(o.FinalUnitPrice),
			Reason:            o.Reason,
			CreatedAt:         stamp(o.CreatedAt),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateSale replaces a sale's header and lines.
func (h *Handler) UpdateSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "sale.update", err)
		return
	}
	actor := ActorFrom(r.Context())
	header, lines := saleInput(req)
	sale, err := h.Sales.Update(r.Context(), sales.UpdateInput{
		Actor:             actor,
		SaleID:            ledger.SaleID(chi.URLParam(r, "id")),
		Header:            header,
		Lines:             lines,
		AllowBelowMinimum: h.Policy.Allows(actor, access.SaleOverridePrice),
	})
	if err != nil {
		h.fail(w, r, "sale.update", err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// DeleteSale removes a sale and restores its stock.
func (h *Handler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	if err := h.Sales.Delete(r.Context(), ledger.SaleID(chi.URLParam(r, "id")), ActorFrom(r.Context())); err != nil {
		h.fail(w, r, "sale.delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PURCHASE ORDER HANDLERS
// =============================================================================

// CreateOrder creates a purchase order, optionally already placed.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "purchase_order.create", err)
		return
	}
	lines := make([]purchasing.LineInput, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = purchasing.LineInput{
			ProductID:   ledger.ProductID(l.ProductID),
			Description: l.Description,
			QtyOrdered:  l.QtyOrdered,
			UnitCost:    l.UnitCost,
		}
	}
	po, err := h.Purchasing.Create(r.Context(), purchasing.CreateInput{
		Actor:        ActorFrom(r.Context()),
		PONo:         req.PONo,
		SupplierID:   ledger.SupplierID(req.SupplierID),
		ExpectedDate: req.ExpectedDate,
		Notes:        req.Notes,
		Lines:        lines,
		Place:        req.Place,
	})
	if err != nil {
		h.fail(w, r, "purchase_order.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(po))
}

// GetOrder returns a purchase order with its lines.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	po, err := h.Purchasing.Get(r.Context(), ledger.OrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "purchase_order.get", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(po))
}

// ListOrderPayments returns supplier payments linked to an order.
func (h *Handler) ListOrderPayments(w http.ResponseWriter, r *http.Request) {
	id := ledger.OrderID(chi.URLParam(r, "id"))
	if _, err := h.Purchasing.Get(r.Context(), id); err != nil {
		h.fail(w, r, "purchase_order.payments", err)
		return
	}
	pays, err := h.Purchasing.Payments(r.Context(), id)
	if err != nil {
		h.fail(w, r, "purchase_order.payments", err)
		return
	}
	dtos := make([]SupplierPaymentDTO, len(pays))
	for i := range pays {
		dtos[i] = toSupplierPaymentDTO(&pays[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PlaceOrder moves a draft to placed.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	po, err := h.Purchasing.Place(r.Context(), ledger.OrderID(chi.URLParam(r, "id")), ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "purchase_order.place", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(po))
}

// CancelOrder closes a non-terminal order.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	po, err := h.Purchasing.Cancel(r.Context(), ledger.OrderID(chi.URLParam(r, "id")), ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "purchase_order.cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(po))
}

// ReceiveOrder receives goods against an order.
func (h *Handler) ReceiveOrder(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "purchase_order.receive", err)
		return
	}
	in := purchasing.ReceiveInput{
		Actor:        ActorFrom(r.Context()),
		OrderID:      ledger.OrderID(chi.URLParam(r, "id")),
		Entries:      make([]purchasing.ReceiveEntry, len(req.Entries)),
		MarkComplete: req.MarkComplete,
	}
	for i, e := range req.Entries {
		in.Entries[i] = purchasing.ReceiveEntry{
			LineID:    ledger.OrderLineID(e.LineID),
			ProductID: ledger.ProductID(e.ProductID),
			Quantity:  e.Quantity,
		}
	}
	if req.Payment != nil {
		in.Payment = &purchasing.PaymentInput{
			Amount:        req.Payment.Amount,
			PaymentMethod: req.Payment.PaymentMethod,
			Reference:     req.Payment.Reference,
			Notes:         req.Payment.Notes,
		}
	}

	res, err := h.Purchasing.Receive(r.Context(), in)
	if err != nil {
		h.fail(w, r, "purchase_order.receive", err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiveDTO(res))
}

// CompleteOrder receives everything outstanding.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	po, err := h.Purchasing.Complete(r.Context(), ledger.OrderID(chi.URLParam(r, "id")), ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "purchase_order.complete", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(po))
}
