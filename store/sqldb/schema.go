package sqldb

// schema is shared by SQLite and PostgreSQL. Money columns hold integer
// cents; timestamps are fixed-width UTC text (see timeLayout).
const schema = `
-- Inventory
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	sku TEXT UNIQUE,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	cost_price BIGINT NOT NULL DEFAULT 0,
	selling_price BIGINT NOT NULL DEFAULT 0,
	minimum_selling_price BIGINT NOT NULL DEFAULT 0,
	quantity_in_stock BIGINT NOT NULL DEFAULT 0 CHECK (quantity_in_stock >= 0),
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

-- Append-only movement trail. Products with movements cannot be deleted.
CREATE TABLE IF NOT EXISTS stock_movements (
	id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
	delta BIGINT NOT NULL CHECK (delta <> 0),
	reason TEXT NOT NULL,
	reference TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_movements_product_created
	ON stock_movements(product_id, created_at);
CREATE INDEX IF NOT EXISTS idx_movements_reference
	ON stock_movements(reference);

-- Parties
CREATE TABLE IF NOT EXISTS suppliers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	phone TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS customers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	phone TEXT NOT NULL DEFAULT '',
	credited_amount BIGINT NOT NULL DEFAULT 0 CHECK (credited_amount >= 0),
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS inquiries (
	id TEXT PRIMARY KEY,
	inquiry_no TEXT NOT NULL UNIQUE,
	customer_id TEXT REFERENCES customers(id) ON DELETE SET NULL,
	description TEXT NOT NULL DEFAULT '',
	advance_amount BIGINT NOT NULL DEFAULT 0 CHECK (advance_amount >= 0),
	advance_received BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL DEFAULT 'open',
	created_at TEXT NOT NULL
);

-- Sales
CREATE TABLE IF NOT EXISTS sales (
	id TEXT PRIMARY KEY,
	sale_no TEXT NOT NULL UNIQUE,
	customer_id TEXT REFERENCES customers(id) ON DELETE RESTRICT,
	employee_id TEXT NOT NULL DEFAULT '',
	subtotal BIGINT NOT NULL DEFAULT 0,
	tax BIGINT NOT NULL DEFAULT 0,
	discount BIGINT NOT NULL DEFAULT 0,
	total_amount BIGINT NOT NULL DEFAULT 0,
	payment_method TEXT NOT NULL DEFAULT '',
	is_credit BOOLEAN NOT NULL DEFAULT FALSE,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sale_lines (
	id TEXT PRIMARY KEY,
	sale_id TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
	product_id TEXT REFERENCES products(id) ON DELETE SET NULL,
	product_name TEXT NOT NULL DEFAULT '',
	sku TEXT NOT NULL DEFAULT '',
	quantity BIGINT NOT NULL CHECK (quantity > 0),
	unit_price BIGINT NOT NULL DEFAULT 0,
	original_unit_price BIGINT NOT NULL DEFAULT 0,
	line_total BIGINT NOT NULL DEFAULT 0,
	position INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sale_lines_sale ON sale_lines(sale_id, position);

CREATE TABLE IF NOT EXISTS price_overrides (
	id TEXT PRIMARY KEY,
	sale_id TEXT REFERENCES sales(id) ON DELETE SET NULL,
	sale_line_id TEXT REFERENCES sale_lines(id) ON DELETE SET NULL,
	actor TEXT NOT NULL DEFAULT '',
	original_unit_price BIGINT NOT NULL,
	final_unit_price BIGINT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_overrides_sale ON price_overrides(sale_id);

-- Purchasing
CREATE TABLE IF NOT EXISTS purchase_orders (
	id TEXT PRIMARY KEY,
	po_no TEXT NOT NULL UNIQUE,
	supplier_id TEXT REFERENCES suppliers(id) ON DELETE SET NULL,
	status TEXT NOT NULL CHECK (status IN ('draft', 'placed', 'partially_received', 'completed', 'cancelled')),
	expected_date TEXT,
	total_amount BIGINT NOT NULL DEFAULT 0,
	amount_paid BIGINT NOT NULL DEFAULT 0 CHECK (amount_paid >= 0),
	notes TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS purchase_order_lines (
	id TEXT PRIMARY KEY,
	purchase_order_id TEXT NOT NULL REFERENCES purchase_orders(id) ON DELETE CASCADE,
	product_id TEXT REFERENCES products(id) ON DELETE SET NULL,
	description TEXT NOT NULL DEFAULT '',
	qty_ordered BIGINT NOT NULL CHECK (qty_ordered > 0),
	qty_received BIGINT NOT NULL DEFAULT 0 CHECK (qty_received >= 0 AND qty_received <= qty_ordered),
	unit_cost BIGINT NOT NULL DEFAULT 0,
	line_total BIGINT NOT NULL DEFAULT 0,
	position INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_po_lines_order ON purchase_order_lines(purchase_order_id, position);

-- Financial events behind the running totals
CREATE TABLE IF NOT EXISTS supplier_payments (
	id TEXT PRIMARY KEY,
	supplier_id TEXT NOT NULL REFERENCES suppliers(id) ON DELETE RESTRICT,
	purchase_order_id TEXT REFERENCES purchase_orders(id) ON DELETE RESTRICT,
	amount BIGINT NOT NULL CHECK (amount > 0),
	payment_method TEXT NOT NULL DEFAULT '',
	reference TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_supplier_payments_order ON supplier_payments(purchase_order_id);

CREATE TABLE IF NOT EXISTS inquiry_payments (
	id TEXT PRIMARY KEY,
	inquiry_id TEXT NOT NULL REFERENCES inquiries(id) ON DELETE RESTRICT,
	amount BIGINT NOT NULL CHECK (amount > 0),
	payment_method TEXT NOT NULL DEFAULT '',
	reference TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_inquiry_payments_inquiry ON inquiry_payments(inquiry_id);

CREATE TABLE IF NOT EXISTS credit_events (
	id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL REFERENCES customers(id) ON DELETE RESTRICT,
	kind TEXT NOT NULL,
	delta BIGINT NOT NULL CHECK (delta <> 0),
	payment_method TEXT NOT NULL DEFAULT '',
	reference TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_events_customer ON credit_events(customer_id);

-- Audit (written after commit, best-effort)
CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	changes TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);

-- Reconciliation runs
CREATE TABLE IF NOT EXISTS reconciliation_runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	discrepancies INTEGER NOT NULL DEFAULT 0,
	repaired INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_started ON reconciliation_runs(started_at);
`
