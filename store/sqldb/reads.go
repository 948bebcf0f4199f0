package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/warp/backoffice/ledger"
)

// executor is satisfied by *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs rebound queries on a pool or a transaction. Its methods are
// the ledger.Reader half of the store.
type conn struct {
	ex executor
	d  dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.ex.ExecContext(ctx, c.d.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.ex.QueryContext(ctx, c.d.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.ex.QueryRowContext(ctx, c.d.rebind(query), args...)
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// PRODUCTS AND MOVEMENTS
// =============================================================================

const productColumns = `id, sku, name, description, cost_price, selling_price, minimum_selling_price,
	quantity_in_stock, is_active, created_at, updated_at`

func scanProduct(row scanner) (*ledger.Product, error) {
	var (
		p                      ledger.Product
		sku                    sql.NullString
		cost, selling, minimum int64
		createdAt, updatedAt   string
	)
	if err := row.Scan(&p.ID, &sku, &p.Name, &p.Description, &cost, &selling, &minimum,
		&p.QuantityInStock, &p.IsActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.SKU = sku.String
	p.CostPrice = ledger.FromCents(cost)
	p.SellingPrice = ledger.FromCents(selling)
	p.MinimumSellingPrice = ledger.FromCents(minimum)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func (c conn) getProduct(ctx context.Context, id ledger.ProductID, lock bool) (*ledger.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`
	if lock {
		query += c.d.forUpdate()
	}
	p, err := scanProduct(c.queryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "product", string(id))
	}
	return p, nil
}

func (c conn) GetProduct(ctx context.Context, id ledger.ProductID) (*ledger.Product, error) {
	return c.getProduct(ctx, id, false)
}

func (c conn) ListProducts(ctx context.Context) ([]ledger.Product, error) {
	rows, err := c.query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, translate("list products", err)
	}
	defer rows.Close()

	var out []ledger.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (c conn) ListMovements(ctx context.Context, f ledger.MovementFilter) ([]ledger.StockMovement, error) {
	var (
		where []string
		args  []any
	)
	if f.ProductID != "" {
		where, args = append(where, "product_id = ?"), append(args, f.ProductID)
	}
	if f.Reason != "" {
		where, args = append(where, "reason = ?"), append(args, f.Reason)
	}
	if f.Reference != "" {
		where, args = append(where, "reference = ?"), append(args, f.Reference)
	}
	query := `SELECT id, product_id, delta, reason, reference, actor, notes, created_at FROM stock_movements`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, translate("list movements", err)
	}
	defer rows.Close()

	var out []ledger.StockMovement
	for rows.Next() {
		var (
			m         ledger.StockMovement
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Delta, &m.Reason, &m.Reference, &m.Actor, &m.Notes, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c conn) SumMovements(ctx context.Context, id ledger.ProductID) (int64, error) {
	var sum int64
	err := c.queryRow(ctx,
		`SELECT COALESCE(CAST(SUM(delta) AS BIGINT), 0) FROM stock_movements WHERE product_id = ?`, id,
	).Scan(&sum)
	return sum, translate("sum movements", err)
}

func (c conn) MovementTotals(ctx context.Context) (map[ledger.ProductID]int64, error) {
	rows, err := c.query(ctx,
		`SELECT product_id, CAST(SUM(delta) AS BIGINT) FROM stock_movements GROUP BY product_id`)
	if err != nil {
		return nil, translate("movement totals", err)
	}
	defer rows.Close()

	out := make(map[ledger.ProductID]int64)
	for rows.Next() {
		var (
			id  ledger.ProductID
			sum int64
		)
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan movement total: %w", err)
		}
		out[id] = sum
	}
	return out, rows.Err()
}

// =============================================================================
// SALES
// =============================================================================

const saleColumns = `id, sale_no, customer_id, employee_id, subtotal, tax, discount, total_amount,
	payment_method, is_credit, created_by, created_at, updated_at`

func (c conn) getSale(ctx context.Context, id ledger.SaleID, lock bool) (*ledger.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = ?`
	if lock {
		query += c.d.forUpdate()
	}
	var (
		s                              ledger.Sale
		customerID                     sql.NullString
		subtotal, tax, discount, total int64
		createdAt, updatedAt           string
	)
	err := c.queryRow(ctx, query, id).Scan(&s.ID, &s.SaleNo, &customerID, &s.EmployeeID,
		&subtotal, &tax, &discount, &total, &s.PaymentMethod, &s.IsCredit, &s.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFound(err, "sale", string(id))
	}
	s.CustomerID = ledger.CustomerID(customerID.String)
	s.Subtotal = ledger.FromCents(subtotal)
	s.Tax = ledger.FromCents(tax)
	s.Discount = ledger.FromCents(discount)
	s.TotalAmount = ledger.FromCents(total)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)

	rows, err := c.query(ctx, `
		SELECT id, sale_id, product_id, product_name, sku, quantity, unit_price, original_unit_price, line_total, position
		FROM sale_lines WHERE sale_id = ? ORDER BY position, id`, id)
	if err != nil {
		return nil, translate("load sale lines", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l                         ledger.SaleLine
			productID                 sql.NullString
			unit, original, lineTotal int64
		)
		if err := rows.Scan(&l.ID, &l.SaleID, &productID, &l.ProductName, &l.SKU, &l.Quantity,
			&unit, &original, &lineTotal, &l.Position); err != nil {
			return nil, fmt.Errorf("failed to scan sale line: %w", err)
		}
		l.ProductID = ledger.ProductID(productID.String)
		l.UnitPrice = ledger.FromCents(unit)
		l.OriginalUnitPrice = ledger.FromCents(original)
		l.LineTotal = ledger.FromCents(lineTotal)
		s.Lines = append(s.Lines, l)
	}
	return &s, rows.Err()
}

func (c conn) GetSale(ctx context.Context, id ledger.SaleID) (*ledger.Sale, error) {
	return c.getSale(ctx, id, false)
}

func (c conn) ListPriceOverrides(ctx context.Context, saleID ledger.SaleID) ([]ledger.PriceOverride, error) {
	rows, err := c.query(ctx, `
		SELECT id, sale_id, sale_line_id, actor, original_unit_price, final_unit_price, reason, created_at
		FROM price_overrides WHERE sale_id = ? ORDER BY created_at, id`, saleID)
	if err != nil {
		return nil, translate("list price overrides", err)
	}
	defer rows.Close()

	var out []ledger.PriceOverride
	for rows.Next() {
		var (
			o               ledger.PriceOverride
			sid, lid        sql.NullString
			original, final int64
			createdAt       string
		)
		if err := rows.Scan(&o.ID, &sid, &lid, &o.Actor, &original, &final, &o.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan price override: %w", err)
		}
		o.SaleID = ledger.SaleID(sid.String)
		o.SaleLineID = ledger.SaleLineID(lid.String)
		o.OriginalUnitPrice = ledger.FromCents(original)
		o.FinalUnitPrice = ledger.FromCents(final)
		o.CreatedAt = parseTime(createdAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// =============================================================================
// PURCHASING
// =============================================================================

func (c conn) getPurchaseOrder(ctx context.Context, id ledger.OrderID, lock bool) (*ledger.PurchaseOrder, error) {
	query := `
		SELECT id, po_no, supplier_id, status, expected_date, total_amount, amount_paid, notes,
		       created_by, created_at, updated_at
		FROM purchase_orders WHERE id = ?`
	if lock {
		query += c.d.forUpdate()
	}
	var (
		po                   ledger.PurchaseOrder
		supplierID, expected sql.NullString
		total, paid          int64
		createdAt, updatedAt string
	)
	err := c.queryRow(ctx, query, id).Scan(&po.ID, &po.PONo, &supplierID, &po.Status, &expected,
		&total, &paid, &po.Notes, &po.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFound(err, "purchase_order", string(id))
	}
	po.SupplierID = ledger.SupplierID(supplierID.String)
	if expected.Valid {
		t := parseTime(expected.String)
		po.ExpectedDate = &t
	}
	po.TotalAmount = ledger.FromCents(total)
	po.AmountPaid = ledger.FromCents(paid)
	po.CreatedAt = parseTime(createdAt)
	po.UpdatedAt = parseTime(updatedAt)

	rows, err := c.query(ctx, `
		SELECT id, purchase_order_id, product_id, description, qty_ordered, qty_received, unit_cost, line_total, position
		FROM purchase_order_lines WHERE purchase_order_id = ? ORDER BY position, id`, id)
	if err != nil {
		return nil, translate("load purchase order lines", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l               ledger.OrderLine
			productID       sql.NullString
			cost, lineTotal int64
		)
		if err := rows.Scan(&l.ID, &l.OrderID, &productID, &l.Description, &l.QtyOrdered, &l.QtyReceived,
			&cost, &lineTotal, &l.Position); err != nil {
			return nil, fmt.Errorf("failed to scan purchase order line: %w", err)
		}
		l.ProductID = ledger.ProductID(productID.String)
		l.UnitCost = ledger.FromCents(cost)
		l.LineTotal = ledger.FromCents(lineTotal)
		po.Lines = append(po.Lines, l)
	}
	return &po, rows.Err()
}

func (c conn) GetPurchaseOrder(ctx context.Context, id ledger.OrderID) (*ledger.PurchaseOrder, error) {
	return c.getPurchaseOrder(ctx, id, false)
}

func (c conn) ListSupplierPayments(ctx context.Context, orderID ledger.OrderID) ([]ledger.SupplierPayment, error) {
	rows, err := c.query(ctx, `
		SELECT id, supplier_id, purchase_order_id, amount, payment_method, reference, notes, actor, created_at
		FROM supplier_payments WHERE purchase_order_id = ? ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, translate("list supplier payments", err)
	}
	defer rows.Close()

	var out []ledger.SupplierPayment
	for rows.Next() {
		var (
			p         ledger.SupplierPayment
			oid       sql.NullString
			amount    int64
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.SupplierID, &oid, &amount, &p.PaymentMethod, &p.Reference, &p.Notes, &p.Actor, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan supplier payment: %w", err)
		}
		p.OrderID = ledger.OrderID(oid.String)
		p.Amount = ledger.FromCents(amount)
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// PARTIES
// =============================================================================

func (c conn) GetSupplier(ctx context.Context, id ledger.SupplierID) (*ledger.Supplier, error) {
	var (
		s         ledger.Supplier
		createdAt string
	)
	err := c.queryRow(ctx, `SELECT id, name, phone, created_at FROM suppliers WHERE id = ?`, id).
		Scan(&s.ID, &s.Name, &s.Phone, &createdAt)
	if err != nil {
		return nil, notFound(err, "supplier", string(id))
	}
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}

func (c conn) GetCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	var (
		cu        ledger.Customer
		credited  int64
		createdAt string
	)
	err := c.queryRow(ctx, `SELECT id, name, phone, credited_amount, created_at FROM customers WHERE id = ?`, id).
		Scan(&cu.ID, &cu.Name, &cu.Phone, &credited, &createdAt)
	if err != nil {
		return nil, notFound(err, "customer", string(id))
	}
	cu.CreditedAmount = ledger.FromCents(credited)
	cu.CreatedAt = parseTime(createdAt)
	return &cu, nil
}

func (c conn) GetInquiry(ctx context.Context, id ledger.InquiryID) (*ledger.Inquiry, error) {
	var (
		i          ledger.Inquiry
		customerID sql.NullString
		advance    int64
		createdAt  string
	)
	err := c.queryRow(ctx, `
		SELECT id, inquiry_no, customer_id, description, advance_amount, advance_received, status, created_at
		FROM inquiries WHERE id = ?`, id).
		Scan(&i.ID, &i.InquiryNo, &customerID, &i.Description, &advance, &i.AdvanceReceived, &i.Status, &createdAt)
	if err != nil {
		return nil, notFound(err, "inquiry", string(id))
	}
	i.CustomerID = ledger.CustomerID(customerID.String)
	i.AdvanceAmount = ledger.FromCents(advance)
	i.CreatedAt = parseTime(createdAt)
	return &i, nil
}

func (c conn) ListInquiryPayments(ctx context.Context, inquiryID ledger.InquiryID) ([]ledger.InquiryPayment, error) {
	rows, err := c.query(ctx, `
		SELECT id, inquiry_id, amount, payment_method, reference, actor, created_at
		FROM inquiry_payments WHERE inquiry_id = ? ORDER BY created_at, id`, inquiryID)
	if err != nil {
		return nil, translate("list inquiry payments", err)
	}
	defer rows.Close()

	var out []ledger.InquiryPayment
	for rows.Next() {
		var (
			p         ledger.InquiryPayment
			amount    int64
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.InquiryID, &amount, &p.PaymentMethod, &p.Reference, &p.Actor, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan inquiry payment: %w", err)
		}
		p.Amount = ledger.FromCents(amount)
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c conn) ListCreditEvents(ctx context.Context, customerID ledger.CustomerID) ([]ledger.CreditEvent, error) {
	rows, err := c.query(ctx, `
		SELECT id, customer_id, kind, delta, payment_method, reference, actor, created_at
		FROM credit_events WHERE customer_id = ? ORDER BY created_at, id`, customerID)
	if err != nil {
		return nil, translate("list credit events", err)
	}
	defer rows.Close()

	var out []ledger.CreditEvent
	for rows.Next() {
		var (
			e         ledger.CreditEvent
			delta     int64
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.Kind, &delta, &e.PaymentMethod, &e.Reference, &e.Actor, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit event: %w", err)
		}
		e.Delta = ledger.FromCents(delta)
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// RUNNING TOTALS
// =============================================================================

// balanceColumn maps a kind onto its table and column. Values are
// constants, never caller input.
type balanceColumn struct {
	table, column string
	// events sums the immutable rows behind the total, grouped by owner id.
	events, eventsFor string
}

var balanceColumns = map[ledger.BalanceKind]balanceColumn{
	ledger.BalanceOrderPaid: {
		table: "purchase_orders", column: "amount_paid",
		events:    `SELECT purchase_order_id, CAST(SUM(amount) AS BIGINT) FROM supplier_payments WHERE purchase_order_id IS NOT NULL GROUP BY purchase_order_id`,
		eventsFor: `SELECT COALESCE(CAST(SUM(amount) AS BIGINT), 0) FROM supplier_payments WHERE purchase_order_id = ?`,
	},
	ledger.BalanceCustomerCredit: {
		table: "customers", column: "credited_amount",
		events:    `SELECT customer_id, CAST(SUM(delta) AS BIGINT) FROM credit_events GROUP BY customer_id`,
		eventsFor: `SELECT COALESCE(CAST(SUM(delta) AS BIGINT), 0) FROM credit_events WHERE customer_id = ?`,
	},
	ledger.BalanceInquiryAdvance: {
		table: "inquiries", column: "advance_amount",
		events:    `SELECT inquiry_id, CAST(SUM(amount) AS BIGINT) FROM inquiry_payments GROUP BY inquiry_id`,
		eventsFor: `SELECT COALESCE(CAST(SUM(amount) AS BIGINT), 0) FROM inquiry_payments WHERE inquiry_id = ?`,
	},
}

func columnFor(kind ledger.BalanceKind) (balanceColumn, error) {
	bc, ok := balanceColumns[kind]
	if !ok {
		return balanceColumn{}, ledger.Invalid("kind", "unknown balance kind %q", kind)
	}
	return bc, nil
}

func (c conn) Balance(ctx context.Context, ref ledger.BalanceRef) (ledger.Money, error) {
	bc, err := columnFor(ref.Kind)
	if err != nil {
		return ledger.Money{}, err
	}
	var cents int64
	err = c.queryRow(ctx, `SELECT `+bc.column+` FROM `+bc.table+` WHERE id = ?`, ref.ID).Scan(&cents)
	if err != nil {
		return ledger.Money{}, notFound(err, ref.Kind.Entity(), ref.ID)
	}
	return ledger.FromCents(cents), nil
}

func (c conn) EventTotal(ctx context.Context, ref ledger.BalanceRef) (ledger.Money, error) {
	bc, err := columnFor(ref.Kind)
	if err != nil {
		return ledger.Money{}, err
	}
	var cents int64
	if err := c.queryRow(ctx, bc.eventsFor, ref.ID).Scan(&cents); err != nil {
		return ledger.Money{}, translate("event total", err)
	}
	return ledger.FromCents(cents), nil
}

func (c conn) RunningTotals(ctx context.Context, kind ledger.BalanceKind) (map[string]ledger.Money, error) {
	bc, err := columnFor(kind)
	if err != nil {
		return nil, err
	}
	return c.sumsByID(ctx, `SELECT id, `+bc.column+` FROM `+bc.table)
}

func (c conn) EventTotals(ctx context.Context, kind ledger.BalanceKind) (map[string]ledger.Money, error) {
	bc, err := columnFor(kind)
	if err != nil {
		return nil, err
	}
	return c.sumsByID(ctx, bc.events)
}

func (c conn) sumsByID(ctx context.Context, query string) (map[string]ledger.Money, error) {
	rows, err := c.query(ctx, query)
	if err != nil {
		return nil, translate("running totals", err)
	}
	defer rows.Close()

	out := make(map[string]ledger.Money)
	for rows.Next() {
		var (
			id    string
			cents int64
		)
		if err := rows.Scan(&id, &cents); err != nil {
			return nil, fmt.Errorf("failed to scan total: %w", err)
		}
		out[id] = ledger.FromCents(cents)
	}
	return out, rows.Err()
}
