/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are decimals. Responses render them as strings with two places
  ("12.50"); requests accept either a JSON string or a number.

VALIDATION:
  Request types carry validate tags (go-playground/validator). They catch
  shape errors early; the services still enforce every domain rule.

SEE ALSO:
  - handlers.go, handlers_money.go: use these types
*/
package api

import (
	"time"

	"github.com/warp/backoffice/ledger"
	"github.com/warp/backoffice/purchasing"
)

func money(m ledger.Money) string { return m.StringFixed(ledger.MoneyPlaces) }

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// =============================================================================
// INVENTORY
// =============================================================================

type CreateProductRequest struct {
	SKU                 string       `json:"sku" validate:"omitempty,max=64"`
	Name                string       `json:"name" validate:"required,max=200"`
	Description         string       `json:"description"`
	CostPrice           ledger.Money `json:"cost_price"`
	SellingPrice        ledger.Money `json:"selling_price"`
	MinimumSellingPrice ledger.Money `json:"minimum_selling_price"`
	InitialStock        int64        `json:"initial_stock" validate:"gte=0"`
}

type AdjustStockRequest struct {
	Mode      string `json:"mode" validate:"omitempty,oneof=delta set"`
	Quantity  int64  `json:"quantity"`
	Reason    string `json:"reason" validate:"omitempty,oneof=manual_adjustment stock_count"`
	Reference string `json:"reference"`
	Notes     string `json:"notes"`
}

type ProductDTO struct {
	ID                  string `json:"id"`
	SKU                 string `json:"sku,omitempty"`
	Name                string `json:"name"`
	Description         string `json:"description,omitempty"`
	CostPrice           string `json:"cost_price"`
	SellingPrice        string `json:"selling_price"`
	MinimumSellingPrice string `json:"minimum_selling_price"`
	QuantityInStock     int64  `json:"quantity_in_stock"`
	IsActive            bool   `json:"is_active"`
	CreatedAt           string `json:"created_at"`
}

func toProductDTO(p *ledger.Product) ProductDTO {
	return ProductDTO{
		ID:                  string(p.ID),
		SKU:                 p.SKU,
		Name:                p.Name,
		Description:         p.Description,
		CostPrice:           money(p.CostPrice),
		SellingPrice:        money(p.SellingPrice),
		MinimumSellingPrice: money(p.MinimumSellingPrice),
		QuantityInStock:     p.QuantityInStock,
		IsActive:            p.IsActive,
		CreatedAt:           stamp(p.CreatedAt),
	}
}

type MovementDTO struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Delta     int64  `json:"delta"`
	Reason    string `json:"reason"`
	Reference string `json:"reference,omitempty"`
	Actor     string `json:"actor"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt string `json:"created_at"`
}

func toMovementDTOs(ms []ledger.StockMovement) []MovementDTO {
	out := make([]MovementDTO, len(ms))
	for i, m := range ms {
		out[i] = MovementDTO{
			ID:        string(m.ID),
			ProductID: string(m.ProductID),
			Delta:     m.Delta,
			Reason:    string(m.Reason),
			Reference: m.Reference,
			Actor:     m.Actor,
			Notes:     m.Notes,
			CreatedAt: stamp(m.CreatedAt),
		}
	}
	return out
}

type AdjustStockDTO struct {
	Product  ProductDTO   `json:"product"`
	Delta    int64        `json:"delta"`
	Movement *MovementDTO `json:"movement,omitempty"`
}

// =============================================================================
// SALES
// =============================================================================

type SaleLineRequest struct {
	ID                string        `json:"id"`
	ProductID         string        `json:"product_id"`
	ProductName       string        `json:"product_name" validate:"required_without=ProductID"`
	SKU               string        `json:"sku"`
	Quantity          int64         `json:"quantity" validate:"gt=0"`
	UnitPrice         ledger.Money  `json:"unit_price"`
	OriginalUnitPrice *ledger.Money `json:"original_unit_price"`
	OverrideReason    string        `json:"override_reason"`
}

type SaleRequest struct {
	SaleNo        string            `json:"sale_no"`
	CustomerID    string            `json:"customer_id"`
	EmployeeID    string            `json:"employee_id"`
	Tax           ledger.Money      `json:"tax"`
	Discount      ledger.Money      `json:"discount"`
	TotalAmount   *ledger.Money     `json:"total_amount"`
	PaymentMethod string            `json:"payment_method"`
	IsCredit      bool              `json:"is_credit"`
	Lines         []SaleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type SaleLineDTO struct {
	ID                string `json:"id"`
	ProductID         string `json:"product_id,omitempty"`
	ProductName       string `json:"product_name"`
	SKU               string `json:"sku,omitempty"`
	Quantity          int64  `json:"quantity"`
	UnitPrice         string `json:"unit_price"`
	OriginalUnitPrice string `json:"original_unit_price"`
	LineTotal         string `json:"line_total"`
}

type SaleDTO struct {
	ID            string        `json:"id"`
	SaleNo        string        `json:"sale_no"`
	CustomerID    string        `json:"customer_id,omitempty"`
	EmployeeID    string        `json:"employee_id,omitempty"`
	Subtotal      string        `json:"subtotal"`
	Tax           string        `json:"tax"`
	Discount      string        `json:"discount"`
	TotalAmount   string        `json:"total_amount"`
	PaymentMethod string        `json:"payment_method,omitempty"`
	IsCredit      bool          `json:"is_credit"`
	CreatedBy     string        `json:"created_by"`
	CreatedAt     string        `json:"created_at"`
	UpdatedAt     string        `json:"updated_at"`
	Lines         []SaleLineDTO `json:"lines"`
}

func toSaleDTO(s *ledger.Sale) SaleDTO {
	dto := SaleDTO{
		ID:            string(s.ID),
		SaleNo:        s.SaleNo,
		CustomerID:    string(s.CustomerID),
		EmployeeID:    s.EmployeeID,
		Subtotal:      money(s.Subtotal),
		Tax:           money(s.Tax),
		Discount:      money(s.Discount),
		TotalAmount:   money(s.TotalAmount),
		PaymentMethod: s.PaymentMethod,
		IsCredit:      s.IsCredit,
		CreatedBy:     s.CreatedBy,
		CreatedAt:     stamp(s.CreatedAt),
		UpdatedAt:     stamp(s.UpdatedAt),
		Lines:         make([]SaleLineDTO, len(s.Lines)),
	}
	for i, l := range s.Lines {
		dto.Lines[i] = SaleLineDTO{
			ID:                string(l.ID),
			ProductID:         string(l.ProductID),
			ProductName:       l.ProductName,
			SKU:               l.SKU,
			Quantity:          l.Quantity,
			UnitPrice:         money(l.UnitPrice),
			OriginalUnitPrice: money(l.OriginalUnitPrice),
			LineTotal:         money(l.LineTotal),
		}
	}
	return dto
}

type PriceOverrideDTO struct {
	SaleLineID        string `json:"sale_line_id,omitempty"`
	Actor             string `json:"actor"`
	OriginalUnitPrice string `json:"original_unit_price"`
	FinalUnitPrice    string `json:"final_unit_price"`
	Reason            string `json:"reason,omitempty"`
	CreatedAt         string `json:"created_at"`
}

// =============================================================================
// PURCHASING
// =============================================================================

type OrderLineRequest struct {
	ProductID   string       `json:"product_id"`
	Description string       `json:"description" validate:"required_without=ProductID"`
	QtyOrdered  int64        `json:"qty_ordered" validate:"gt=0"`
	UnitCost    ledger.Money `json:"unit_cost"`
}

type CreateOrderRequest struct {
	PONo         string             `json:"po_no"`
	SupplierID   string             `json:"supplier_id"`
	ExpectedDate *time.Time         `json:"expected_date"`
	Notes        string             `json:"notes"`
	Place        bool               `json:"place"`
	Lines        []OrderLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type ReceiveEntryRequest struct {
	LineID    string `json:"line_id"`
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity" validate:"gte=0"`
}

type PaymentRequest struct {
	Amount        ledger.Money `json:"amount"`
	PaymentMethod string       `json:"payment_method"`
	Reference     string       `json:"reference"`
	Notes         string       `json:"notes"`
}

type ReceiveRequest struct {
	Entries      []ReceiveEntryRequest `json:"entries" validate:"dive"`
	MarkComplete bool                  `json:"mark_complete"`
	Payment      *PaymentRequest       `json:"payment"`
}

type OrderLineDTO struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id,omitempty"`
	Description string `json:"description,omitempty"`
	QtyOrdered  int64  `json:"qty_ordered"`
	QtyReceived int64  `json:"qty_received"`
	UnitCost    string `json:"unit_cost"`
	LineTotal   string `json:"line_total"`
}

type OrderDTO struct {
	ID           string         `json:"id"`
	PONo         string         `json:"po_no"`
	SupplierID   string         `json:"supplier_id,omitempty"`
	Status       string         `json:"status"`
	ExpectedDate string         `json:"expected_date,omitempty"`
	TotalAmount  string         `json:"total_amount"`
	AmountPaid   string         `json:"amount_paid"`
	Notes        string         `json:"notes,omitempty"`
	CreatedBy    string         `json:"created_by"`
	CreatedAt    string         `json:"created_at"`
	Lines        []OrderLineDTO `json:"lines"`
}

func toOrderDTO(po *ledger.PurchaseOrder) OrderDTO {
	dto := OrderDTO{
		ID:          string(po.ID),
		PONo:        po.PONo,
		SupplierID:  string(po.SupplierID),
		Status:      string(po.Status),
		TotalAmount: money(po.TotalAmount),
		AmountPaid:  money(po.AmountPaid),
		Notes:       po.Notes,
		CreatedBy:   po.CreatedBy,
		CreatedAt:   stamp(po.CreatedAt),
		Lines:       make([]OrderLineDTO, len(po.Lines)),
	}
	if po.ExpectedDate != nil {
		dto.ExpectedDate = po.ExpectedDate.UTC().Format("2006-01-02")
	}
	for i, l := range po.Lines {
		dto.Lines[i] = OrderLineDTO{
			ID:          string(l.ID),
			ProductID:   string(l.ProductID),
			Description: l.Description,
			QtyOrdered:  l.QtyOrdered,
			QtyReceived: l.QtyReceived,
			UnitCost:    money(l.UnitCost),
			LineTotal:   money(l.LineTotal),
		}
	}
	return dto
}

type ReceivedLineDTO struct {
	LineID    string `json:"line_id"`
	ProductID string `json:"product_id,omitempty"`
	Requested int64  `json:"requested"`
	Received  int64  `json:"received"`
	MatchedBy string `json:"matched_by"`
}

type ReceiveDTO struct {
	Order    OrderDTO            `json:"order"`
	Lines    []ReceivedLineDTO   `json:"lines"`
	Payment  *SupplierPaymentDTO `json:"payment,omitempty"`
	Warnings []string            `json:"warnings"`
}

func toReceiveDTO(res *purchasing.ReceiveResult) ReceiveDTO {
	dto := ReceiveDTO{
		Order:    toOrderDTO(res.Order),
		Lines:    make([]ReceivedLineDTO, len(res.Lines)),
		Warnings: append([]string{}, res.Warnings...),
	}
	for i, l := range res.Lines {
		dto.Lines[i] = ReceivedLineDTO{
			LineID:    string(l.LineID),
			ProductID: string(l.ProductID),
			Requested: l.Requested,
			Received:  l.Received,
			MatchedBy: string(l.MatchedBy),
		}
	}
	if res.Payment != nil {
		p := toSupplierPaymentDTO(res.Payment)
		dto.Payment = &p
	}
	return dto
}

// =============================================================================
// PARTIES & PAYMENTS
// =============================================================================

type CreateSupplierRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Phone string `json:"phone"`
}

type CreateCustomerRequest struct {
	Name          string       `json:"name" validate:"required,max=200"`
	Phone         string       `json:"phone"`
	OpeningCredit ledger.Money `json:"opening_credit"`
}

type CreateInquiryRequest struct {
	InquiryNo   string `json:"inquiry_no"`
	CustomerID  string `json:"customer_id"`
	Description string `json:"description"`
}

type SupplierPaymentRequest struct {
	SupplierID      string       `json:"supplier_id" validate:"required"`
	PurchaseOrderID string       `json:"purchase_order_id"`
	Amount          ledger.Money `json:"amount"`
	PaymentMethod   string       `json:"payment_method"`
	Reference       string       `json:"reference"`
	Notes           string       `json:"notes"`
}

type CustomerPaymentRequest struct {
	CustomerID    string       `json:"customer_id" validate:"required"`
	Amount        ledger.Money `json:"amount"`
	PaymentMethod string       `json:"payment_method"`
	Reference     string       `json:"reference"`
}

type InquiryPaymentRequest struct {
	InquiryID     string       `json:"inquiry_id" validate:"required"`
	Amount        ledger.Money `json:"amount"`
	PaymentMethod string       `json:"payment_method"`
	Reference     string       `json:"reference"`
}

type AdjustCreditRequest struct {
	Amount    ledger.Money `json:"amount"`
	Op        string       `json:"op" validate:"required,oneof=add subtract"`
	Reference string       `json:"reference"`
}

type SupplierDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"created_at"`
}

type CustomerDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Phone          string `json:"phone,omitempty"`
	CreditedAmount string `json:"credited_amount"`
	CreatedAt      string `json:"created_at"`
}

type InquiryDTO struct {
	ID              string `json:"id"`
	InquiryNo       string `json:"inquiry_no"`
	CustomerID      string `json:"customer_id,omitempty"`
	Description     string `json:"description,omitempty"`
	AdvanceAmount   string `json:"advance_amount"`
	AdvanceReceived bool   `json:"advance_received"`
	Status          string `json:"status"`
}

type SupplierPaymentDTO struct {
	ID              string `json:"id"`
	SupplierID      string `json:"supplier_id"`
	PurchaseOrderID string `json:"purchase_order_id,omitempty"`
	Amount          string `json:"amount"`
	PaymentMethod   string `json:"payment_method,omitempty"`
	Reference       string `json:"reference,omitempty"`
	Actor           string `json:"actor"`
	CreatedAt       string `json:"created_at"`
}

func toSupplierPaymentDTO(p *ledger.SupplierPayment) SupplierPaymentDTO {
	return SupplierPaymentDTO{
		ID:              string(p.ID),
		SupplierID:      string(p.SupplierID),
		PurchaseOrderID: string(p.OrderID),
		Amount:          money(p.Amount),
		PaymentMethod:   p.PaymentMethod,
		Reference:       p.Reference,
		Actor:           p.Actor,
		CreatedAt:       stamp(p.CreatedAt),
	}
}

type InquiryPaymentDTO struct {
	ID        string `json:"id"`
	InquiryID string `json:"inquiry_id"`
	Amount    string `json:"amount"`
	Actor     string `json:"actor"`
	CreatedAt string `json:"created_at"`
}

type CreditEventDTO struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Kind       string `json:"kind"`
	Delta      string `json:"delta"`
	Reference  string `json:"reference,omitempty"`
	Actor      string `json:"actor"`
	CreatedAt  string `json:"created_at"`
}

func toCreditEventDTO(e *ledger.CreditEvent) CreditEventDTO {
	return CreditEventDTO{
		ID:         string(e.ID),
		CustomerID: string(e.CustomerID),
		Kind:       string(e.Kind),
		Delta:      money(e.Delta),
		Reference:  e.Reference,
		Actor:      e.Actor,
		CreatedAt:  stamp(e.CreatedAt),
	}
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type DiscrepancyDTO struct {
	Kind     string `json:"kind"`
	EntityID string `json:"entity_id"`
	Stored   string `json:"stored"`
	Expected string `json:"expected"`
	Drift    string `json:"drift"`
}

type ReportDTO struct {
	CheckedAt       string           `json:"checked_at"`
	OK              bool             `json:"ok"`
	ProductsChecked int              `json:"products_checked"`
	TotalsChecked   int              `json:"totals_checked"`
	Discrepancies   []DiscrepancyDTO `json:"discrepancies"`
}

func toReportDTO(r *ledger.Report) ReportDTO {
	dto := ReportDTO{
		CheckedAt:       stamp(r.CheckedAt),
		OK:              r.OK(),
		ProductsChecked: r.ProductsChecked,
		TotalsChecked:   r.TotalsChecked,
		Discrepancies:   make([]DiscrepancyDTO, len(r.Discrepancies)),
	}
	for i, d := range r.Discrepancies {
		dto.Discrepancies[i] = DiscrepancyDTO{
			Kind:     d.Kind,
			EntityID: d.EntityID,
			Stored:   d.Stored.String(),
			Expected: d.Expected.String(),
			Drift:    d.Drift().String(),
		}
	}
	return dto
}

type RunDTO struct {
	ID            string `json:"id"`
	StartedAt     string `json:"started_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
	Status        string `json:"status"`
	Discrepancies int    `json:"discrepancies"`
	Repaired      int    `json:"repaired"`
	Error         string `json:"error,omitempty"`
}

func toRunDTO(r *ledger.ReconciliationRun) RunDTO {
	dto := RunDTO{
		ID:            r.ID,
		StartedAt:     stamp(r.StartedAt),
		Status:        r.Status,
		Discrepancies: r.Discrepancies,
		Repaired:      r.Repaired,
		Error:         r.Error,
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = stamp(*r.CompletedAt)
	}
	return dto
}

type RepairDTO struct {
	Run    RunDTO    `json:"run"`
	Report ReportDTO `json:"report"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}
