package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/backoffice/ledger"
)

// txConn is the ledger.Tx handed to WithTx callbacks.
type txConn struct {
	conn
}

var _ ledger.Tx = (*txConn)(nil)

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// mustAffect reports NotFound when an UPDATE/DELETE touched no row.
func mustAffect(res sql.Result, err error, op, entity, id string) error {
	if err != nil {
		return translate(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translate(op, err)
	}
	if n == 0 {
		return ledger.NotFound(entity, id)
	}
	return nil
}

// =============================================================================
// INVENTORY
// =============================================================================

func (t *txConn) InsertProduct(ctx context.Context, p *ledger.Product) error {
	_, err := t.exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, nullString(p.SKU), p.Name, p.Description,
		ledger.Cents(p.CostPrice), ledger.Cents(p.SellingPrice), ledger.Cents(p.MinimumSellingPrice),
		p.QuantityInStock, p.IsActive, fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt),
	)
	return translate("insert product", err)
}

func (t *txConn) LockProduct(ctx context.Context, id ledger.ProductID) (*ledger.Product, error) {
	return t.getProduct(ctx, id, true)
}

// IncrementStock is the guarded increment: one statement, no read-then-write.
func (t *txConn) IncrementStock(ctx context.Context, id ledger.ProductID, delta int64) (int64, bool, error) {
	var qty int64
	err := t.queryRow(ctx, `
		UPDATE products
		   SET quantity_in_stock = quantity_in_stock + ?, updated_at = ?
		 WHERE id = ? AND quantity_in_stock + ? >= 0
		RETURNING quantity_in_stock`,
		delta, fmtTime(ledger.Now()), id, delta,
	).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, translate("increment stock", err)
	}
	return qty, true, nil
}

func (t *txConn) InsertMovement(ctx context.Context, m *ledger.StockMovement) error {
	_, err := t.exec(ctx, `
		INSERT INTO stock_movements (id, product_id, delta, reason, reference, actor, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProductID, m.Delta, m.Reason, m.Reference, m.Actor, m.Notes, fmtTime(m.CreatedAt),
	)
	return translate("insert movement", err)
}

// =============================================================================
// RUNNING TOTALS
// =============================================================================

func (t *txConn) IncrementBalance(ctx context.Context, ref ledger.BalanceRef, delta ledger.Money) (ledger.Money, bool, error) {
	bc, err := columnFor(ref.Kind)
	if err != nil {
		return ledger.Money{}, false, err
	}
	cents := ledger.Cents(delta)
	var value int64
	err = t.queryRow(ctx, `
		UPDATE `+bc.table+`
		   SET `+bc.column+` = `+bc.column+` + ?
		 WHERE id = ? AND `+bc.column+` + ? >= 0
		RETURNING `+bc.column,
		cents, ref.ID, cents,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Money{}, false, nil
	}
	if err != nil {
		return ledger.Money{}, false, translate("increment "+string(ref.Kind), err)
	}
	return ledger.FromCents(value), true, nil
}

func (t *txConn) SetBalance(ctx context.Context, ref ledger.BalanceRef, value ledger.Money) error {
	bc, err := columnFor(ref.Kind)
	if err != nil {
		return err
	}
	res, err := t.exec(ctx, `UPDATE `+bc.table+` SET `+bc.column+` = ? WHERE id = ?`, ledger.Cents(value), ref.ID)
	return mustAffect(res, err, "set "+string(ref.Kind), ref.Kind.Entity(), ref.ID)
}

// =============================================================================
// SALES
// =============================================================================

func (t *txConn) InsertSale(ctx context.Context, s *ledger.Sale) error {
	_, err := t.exec(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.SaleNo, nullString(string(s.CustomerID)), s.EmployeeID,
		ledger.Cents(s.Subtotal), ledger.Cents(s.Tax), ledger.Cents(s.Discount), ledger.Cents(s.TotalAmount),
		s.PaymentMethod, s.IsCredit, s.CreatedBy, fmtTime(s.CreatedAt), fmtTime(s.UpdatedAt),
	)
	return translate("insert sale", err)
}

func (t *txConn) LockSale(ctx context.Context, id ledger.SaleID) (*ledger.Sale, error) {
	return t.getSale(ctx, id, true)
}

func (t *txConn) UpdateSale(ctx context.Context, s *ledger.Sale) error {
	res, err := t.exec(ctx, `
		UPDATE sales
		   SET sale_no = ?, customer_id = ?, employee_id = ?, subtotal = ?, tax = ?, discount = ?,
		       total_amount = ?, payment_method = ?, is_credit = ?, updated_at = ?
		 WHERE id = ?`,
		s.SaleNo, nullString(string(s.CustomerID)), s.EmployeeID,
		ledger.Cents(s.Subtotal), ledger.Cents(s.Tax), ledger.Cents(s.Discount), ledger.Cents(s.TotalAmount),
		s.PaymentMethod, s.IsCredit, fmtTime(s.UpdatedAt), s.ID,
	)
	return mustAffect(res, err, "update sale", "sale", string(s.ID))
}

func (t *txConn) DeleteSale(ctx context.Context, id ledger.SaleID) error {
	res, err := t.exec(ctx, `DELETE FROM sales WHERE id = ?`, id)
	return mustAffect(res, err, "delete sale", "sale", string(id))
}

func (t *txConn) InsertSaleLine(ctx context.Context, l *ledger.SaleLine) error {
	_, err := t.exec(ctx, `
		INSERT INTO sale_lines (id, sale_id, product_id, product_name, sku, quantity, unit_price,
			original_unit_price, line_total, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.SaleID, nullString(string(l.ProductID)), l.ProductName, l.SKU, l.Quantity,
		ledger.Cents(l.UnitPrice), ledger.Cents(l.OriginalUnitPrice), ledger.Cents(l.LineTotal), l.Position,
	)
	return translate("insert sale line", err)
}

func (t *txConn) UpdateSaleLine(ctx context.Context, l *ledger.SaleLine) error {
	res, err := t.exec(ctx, `
		UPDATE sale_lines
		   SET product_id = ?, product_name = ?, sku = ?, quantity = ?, unit_price = ?,
		       original_unit_price = ?, line_total = ?, position = ?
		 WHERE id = ?`,
		nullString(string(l.ProductID)), l.ProductName, l.SKU, l.Quantity, ledger.Cents(l.UnitPrice),
		ledger.Cents(l.OriginalUnitPrice), ledger.Cents(l.LineTotal), l.Position, l.ID,
	)
	return mustAffect(res, err, "update sale line", "sale_line", string(l.ID))
}

func (t *txConn) DeleteSaleLine(ctx context.Context, id ledger.SaleLineID) error {
	res, err := t.exec(ctx, `DELETE FROM sale_lines WHERE id = ?`, id)
	return mustAffect(res, err, "delete sale line", "sale_line", string(id))
}

func (t *txConn) InsertPriceOverride(ctx context.Context, o *ledger.PriceOverride) error {
	_, err := t.exec(ctx, `
		INSERT INTO price_overrides (id, sale_id, sale_line_id, actor, original_unit_price, final_unit_price, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, nullString(string(o.SaleID)), nullString(string(o.SaleLineID)), o.Actor,
		ledger.Cents(o.OriginalUnitPrice), ledger.Cents(o.FinalUnitPrice), o.Reason, fmtTime(o.CreatedAt),
	)
	return translate("insert price override", err)
}

// =============================================================================
// PURCHASING
// =============================================================================

func (t *txConn) InsertPurchaseOrder(ctx context.Context, po *ledger.PurchaseOrder) error {
	var expected sql.NullString
	if po.ExpectedDate != nil {
		expected = sql.NullString{String: fmtTime(*po.ExpectedDate), Valid: true}
	}
	_, err := t.exec(ctx, `
		INSERT INTO purchase_orders (id, po_no, supplier_id, status, expected_date, total_amount, amount_paid,
			notes, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		po.ID, po.PONo, nullString(string(po.SupplierID)), po.Status, expected,
		ledger.Cents(po.TotalAmount), ledger.Cents(po.AmountPaid), po.Notes, po.CreatedBy,
		fmtTime(po.CreatedAt), fmtTime(po.UpdatedAt),
	)
	if err != nil {
		return translate("insert purchase order", err)
	}
	for _, l := range po.Lines {
		_, err := t.exec(ctx, `
			INSERT INTO purchase_order_lines (id, purchase_order_id, product_id, description, qty_ordered,
				qty_received, unit_cost, line_total, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, po.ID, nullString(string(l.ProductID)), l.Description, l.QtyOrdered, l.QtyReceived,
			ledger.Cents(l.UnitCost), ledger.Cents(l.LineTotal), l.Position,
		)
		if err != nil {
			return translate("insert purchase order line", err)
		}
	}
	return nil
}

func (t *txConn) LockPurchaseOrder(ctx context.Context, id ledger.OrderID) (*ledger.PurchaseOrder, error) {
	return t.getPurchaseOrder(ctx, id, true)
}

func (t *txConn) UpdateOrderStatus(ctx context.Context, id ledger.OrderID, status ledger.OrderStatus) error {
	res, err := t.exec(ctx, `UPDATE purchase_orders SET status = ?, updated_at = ? WHERE id = ?`,
		status, fmtTime(ledger.Now()), id)
	return mustAffect(res, err, "update purchase order status", "purchase_order", string(id))
}

func (t *txConn) UpdateOrderLineReceived(ctx context.Context, id ledger.OrderLineID, qty int64) error {
	res, err := t.exec(ctx, `UPDATE purchase_order_lines SET qty_received = ? WHERE id = ?`, qty, id)
	return mustAffect(res, err, "update received quantity", "purchase_order_line", string(id))
}

// =============================================================================
// PARTIES
// =============================================================================

func (t *txConn) InsertSupplier(ctx context.Context, s *ledger.Supplier) error {
	_, err := t.exec(ctx, `INSERT INTO suppliers (id, name, phone, created_at) VALUES (?, ?, ?, ?)`,
		s.ID, s.Name, s.Phone, fmtTime(s.CreatedAt))
	return translate("insert supplier", err)
}

func (t *txConn) InsertCustomer(ctx context.Context, c *ledger.Customer) error {
	_, err := t.exec(ctx, `
		INSERT INTO customers (id, name, phone, credited_amount, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Phone, ledger.Cents(c.CreditedAmount), fmtTime(c.CreatedAt))
	return translate("insert customer", err)
}

func (t *txConn) InsertInquiry(ctx context.Context, i *ledger.Inquiry) error {
	_, err := t.exec(ctx, `
		INSERT INTO inquiries (id, inquiry_no, customer_id, description, advance_amount, advance_received, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.InquiryNo, nullString(string(i.CustomerID)), i.Description, ledger.Cents(i.AdvanceAmount),
		i.AdvanceReceived, i.Status, fmtTime(i.CreatedAt))
	return translate("insert inquiry", err)
}

func (t *txConn) MarkAdvanceReceived(ctx context.Context, id ledger.InquiryID) error {
	res, err := t.exec(ctx, `UPDATE inquiries SET advance_received = ? WHERE id = ?`, true, id)
	return mustAffect(res, err, "mark advance received", "inquiry", string(id))
}

// =============================================================================
// FINANCIAL EVENTS (append-only)
// =============================================================================

func (t *txConn) InsertSupplierPayment(ctx context.Context, p *ledger.SupplierPayment) error {
	_, err := t.exec(ctx, `
		INSERT INTO supplier_payments (id, supplier_id, purchase_order_id, amount, payment_method, reference, notes, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SupplierID, nullString(string(p.OrderID)), ledger.Cents(p.Amount), p.PaymentMethod,
		p.Reference, p.Notes, p.Actor, fmtTime(p.CreatedAt))
	if err != nil {
		return translate("insert supplier payment", err)
	}
	return nil
}

func (t *txConn) InsertInquiryPayment(ctx context.Context, p *ledger.InquiryPayment) error {
	_, err := t.exec(ctx, `
		INSERT INTO inquiry_payments (id, inquiry_id, amount, payment_method, reference, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.InquiryID, ledger.Cents(p.Amount), p.PaymentMethod, p.Reference, p.Actor, fmtTime(p.CreatedAt))
	return translate("insert inquiry payment", err)
}

func (t *txConn) InsertCreditEvent(ctx context.Context, e *ledger.CreditEvent) error {
	_, err := t.exec(ctx, `
		INSERT INTO credit_events (id, customer_id, kind, delta, payment_method, reference, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CustomerID, e.Kind, ledger.Cents(e.Delta), e.PaymentMethod, e.Reference, e.Actor, fmtTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("credit event for %s: %w", e.CustomerID, translate("insert credit event", err))
	}
	return nil
}
