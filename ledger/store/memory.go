// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/backoffice/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory serializes writers on one mutex. WithTx snapshots the state and
// restores it when fn fails, so a unit is all-or-nothing.
type Memory struct {
	mu    sync.RWMutex
	state *state

	auditMu sync.Mutex
	audit   []ledger.AuditEntry
	runs    map[string]ledger.ReconciliationRun
}

type state struct {
	products   map[ledger.ProductID]ledger.Product
	skus       map[string]ledger.ProductID
	movements  []ledger.StockMovement
	sales      map[ledger.SaleID]ledger.Sale
	saleNos    map[string]ledger.SaleID
	saleLines  map[ledger.SaleLineID]ledger.SaleLine
	overrides  []ledger.PriceOverride
	orders     map[ledger.OrderID]ledger.PurchaseOrder
	poNos      map[string]ledger.OrderID
	orderLines map[ledger.OrderLineID]ledger.OrderLine
	suppliers  map[ledger.SupplierID]ledger.Supplier
	customers  map[ledger.CustomerID]ledger.Customer
	inquiries  map[ledger.InquiryID]ledger.Inquiry
	inquiryNos map[string]ledger.InquiryID
	supPays    []ledger.SupplierPayment
	inqPays    []ledger.InquiryPayment
	credits    []ledger.CreditEvent
}

func newState() *state {
	return &state{
		products:   make(map[ledger.ProductID]ledger.Product),
		skus:       make(map[string]ledger.ProductID),
		sales:      make(map[ledger.SaleID]ledger.Sale),
		saleNos:    make(map[string]ledger.SaleID),
		saleLines:  make(map[ledger.SaleLineID]ledger.SaleLine),
		orders:     make(map[ledger.OrderID]ledger.PurchaseOrder),
		poNos:      make(map[string]ledger.OrderID),
		orderLines: make(map[ledger.OrderLineID]ledger.OrderLine),
		suppliers:  make(map[ledger.SupplierID]ledger.Supplier),
		customers:  make(map[ledger.CustomerID]ledger.Customer),
		inquiries:  make(map[ledger.InquiryID]ledger.Inquiry),
		inquiryNos: make(map[string]ledger.InquiryID),
	}
}

func NewMemory() *Memory {
	return &Memory{
		state: newState(),
		runs:  make(map[string]ledger.ReconciliationRun),
	}
}

var _ ledger.Store = (*Memory)(nil)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&view{s: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) Close() error { return nil }

func (s *state) clone() *state {
	c := &state{
		products:   copyMap(s.products),
		skus:       copyMap(s.skus),
		movements:  append([]ledger.StockMovement(nil), s.movements...),
		sales:      copyMap(s.sales),
		saleNos:    copyMap(s.saleNos),
		saleLines:  copyMap(s.saleLines),
		overrides:  append([]ledger.PriceOverride(nil), s.overrides...),
		orders:     copyMap(s.orders),
		poNos:      copyMap(s.poNos),
		orderLines: copyMap(s.orderLines),
		suppliers:  copyMap(s.suppliers),
		customers:  copyMap(s.customers),
		inquiries:  copyMap(s.inquiries),
		inquiryNos: copyMap(s.inquiryNos),
		supPays:    append([]ledger.SupplierPayment(nil), s.supPays...),
		inqPays:    append([]ledger.InquiryPayment(nil), s.inqPays...),
		credits:    append([]ledger.CreditEvent(nil), s.credits...),
	}
	return c
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// =============================================================================
// READS OUTSIDE A UNIT - take the read lock and delegate to a view
// =============================================================================

func (m *Memory) read() (*view, func()) {
	m.mu.RLock()
	return &view{s: m.state}, m.mu.RUnlock
}

func (m *Memory) GetProduct(ctx context.Context, id ledger.ProductID) (*ledger.Product, error) {
	v, done := m.read()
	defer done()
	return v.GetProduct(ctx, id)
}

func (m *Memory) ListProducts(ctx context.Context) ([]ledger.Product, error) {
	v, done := m.read()
	defer done()
	return v.ListProducts(ctx)
}

func (m *Memory) ListMovements(ctx context.Context, f ledger.MovementFilter) ([]ledger.StockMovement, error) {
	v, done := m.read()
	defer done()
	return v.ListMovements(ctx, f)
}

func (m *Memory) SumMovements(ctx context.Context, id ledger.ProductID) (int64, error) {
	v, done := m.read()
	defer done()
	return v.SumMovements(ctx, id)
}

func (m *Memory) MovementTotals(ctx context.Context) (map[ledger.ProductID]int64, error) {
	v, done := m.read()
	defer done()
	return v.MovementTotals(ctx)
}

func (m *Memory) GetSale(ctx context.Context, id ledger.SaleID) (*ledger.Sale, error) {
	v, done := m.read()
	defer done()
	return v.GetSale(ctx, id)
}

func (m *Memory) GetPurchaseOrder(ctx context.Context, id ledger.OrderID) (*ledger.PurchaseOrder, error) {
	v, done := m.read()
	defer done()
	return v.GetPurchaseOrder(ctx, id)
}

func (m *Memory) GetSupplier(ctx context.Context, id ledger.SupplierID) (*ledger.Supplier, error) {
	v, done := m.read()
	defer done()
	return v.GetSupplier(ctx, id)
}

func (m *Memory) GetCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	v, done := m.read()
	defer done()
	return v.GetCustomer(ctx, id)
}

func (m *Memory) GetInquiry(ctx context.Context, id ledger.InquiryID) (*ledger.Inquiry, error) {
	v, done := m.read()
	defer done()
	return v.GetInquiry(ctx, id)
}

func (m *Memory) Balance(ctx context.Context, ref ledger.BalanceRef) (ledger.Money, error) {
	v, done := m.read()
	defer done()
	return v.Balance(ctx, ref)
}

func (m *Memory) EventTotal(ctx context.Context, ref ledger.BalanceRef) (ledger.Money, error) {
	v, done := m.read()
	defer done()
	return v.EventTotal(ctx, ref)
}

func (m *Memory) RunningTotals(ctx context.Context, kind ledger.BalanceKind) (map[string]ledger.Money, error) {
	v, done := m.read()
	defer done()
	return v.RunningTotals(ctx, kind)
}

func (m *Memory) EventTotals(ctx context.Context, kind ledger.BalanceKind) (map[string]ledger.Money, error) {
	v, done := m.read()
	defer done()
	return v.EventTotals(ctx, kind)
}

func (m *Memory) ListPriceOverrides(ctx context.Context, id ledger.SaleID) ([]ledger.PriceOverride, error) {
	v, done := m.read()
	defer done()
	return v.ListPriceOverrides(ctx, id)
}

func (m *Memory) ListSupplierPayments(ctx context.Context, id ledger.OrderID) ([]ledger.SupplierPayment, error) {
	v, done := m.read()
	defer done()
	return v.ListSupplierPayments(ctx, id)
}

func (m *Memory) ListInquiryPayments(ctx context.Context, id ledger.InquiryID) ([]ledger.InquiryPayment, error) {
	v, done := m.read()
	defer done()
	return v.ListInquiryPayments(ctx, id)
}

func (m *Memory) ListCreditEvents(ctx context.Context, id ledger.CustomerID) ([]ledger.CreditEvent, error) {
	v, done := m.read()
	defer done()
	return v.ListCreditEvents(ctx, id)
}

// =============================================================================
// AUDIT AND RECONCILIATION RUNS
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, e ledger.AuditEntry) error {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

// QueryAudit returns matching entries newest first.
func (m *Memory) QueryAudit(_ context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	var out []ledger.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if f.EntityType != "" && e.EntityType != f.EntityType ||
			f.EntityID != "" && e.EntityID != f.EntityID ||
			f.Actor != "" && e.Actor != f.Actor ||
			f.Action != "" && e.Action != f.Action {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) SaveReconciliationRun(_ context.Context, run *ledger.ReconciliationRun) error {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

// ListReconciliationRuns returns runs newest first.
func (m *Memory) ListReconciliationRuns(_ context.Context, limit int) ([]ledger.ReconciliationRun, error) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	out := make([]ledger.ReconciliationRun, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// VIEW - Reader and Tx over one state, caller holds the lock
// =============================================================================

type view struct {
	s *state
}

func (v *view) GetProduct(_ context.Context, id ledger.ProductID) (*ledger.Product, error) {
	p, ok := v.s.products[id]
	if !ok {
		return nil, ledger.NotFound("product", string(id))
	}
	return &p, nil
}

func (v *view) ListProducts(_ context.Context) ([]ledger.Product, error) {
	out := make([]ledger.Product, 0, len(v.s.products))
	for _, p := range v.s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v *view) ListMovements(_ context.Context, f ledger.MovementFilter) ([]ledger.StockMovement, error) {
	var out []ledger.StockMovement
	for i := len(v.s.movements) - 1; i >= 0; i-- {
		mv := v.s.movements[i]
		if f.ProductID != "" && mv.ProductID != f.ProductID ||
			f.Reason != "" && mv.Reason != f.Reason ||
			f.Reference != "" && mv.Reference != f.Reference {
			continue
		}
		out = append(out, mv)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (v *view) SumMovements(_ context.Context, id ledger.ProductID) (int64, error) {
	var sum int64
	for _, mv := range v.s.movements {
		if mv.ProductID == id {
			sum += mv.Delta
		}
	}
	return sum, nil
}

func (v *view) MovementTotals(_ context.Context) (map[ledger.ProductID]int64, error) {
	out := make(map[ledger.ProductID]int64)
	for _, mv := range v.s.movements {
		out[mv.ProductID] += mv.Delta
	}
	return out, nil
}

func (v *view) GetSale(_ context.Context, id ledger.SaleID) (*ledger.Sale, error) {
	s, ok := v.s.sales[id]
	if !ok {
		return nil, ledger.NotFound("sale", string(id))
	}
	s.Lines = nil
	for _, l := range v.s.saleLines {
		if l.SaleID == id {
			s.Lines = append(s.Lines, l)
		}
	}
	sort.Slice(s.Lines, func(i, j int) bool { return s.Lines[i].Position < s.Lines[j].Position })
	return &s, nil
}

func (v *view) GetPurchaseOrder(_ context.Context, id ledger.OrderID) (*ledger.PurchaseOrder, error) {
	po, ok := v.s.orders[id]
	if !ok {
		return nil, ledger.NotFound("purchase_order", string(id))
	}
	po.Lines = nil
	for _, l := range v.s.orderLines {
		if l.OrderID == id {
			po.Lines = append(po.Lines, l)
		}
	}
	sort.Slice(po.Lines, func(i, j int) bool { return po.Lines[i].Position < po.Lines[j].Position })
	return &po, nil
}

func (v *view) GetSupplier(_ context.Context, id ledger.SupplierID) (*ledger.Supplier, error) {
	s, ok := v.s.suppliers[id]
	if !ok {
		return nil, ledger.NotFound("supplier", string(id))
	}
	return &s, nil
}

func (v *view) GetCustomer(_ context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	c, ok := v.s.customers[id]
	if !ok {
		return nil, ledger.NotFound("customer", string(id))
	}
	return &c, nil
}

func (v *view) GetInquiry(_ context.Context, id ledger.InquiryID) (*ledger.Inquiry, error) {
	i, ok := v.s.inquiries[id]
	if !ok {
		return nil, ledger.NotFound("inquiry", string(id))
	}
	return &i, nil
}

func (v *view) Balance(_ context.Context, ref ledger.BalanceRef) (ledger.Money, error) {
	switch ref.Kind {
	case ledger.BalanceOrderPaid:
		if po, ok := v.s.orders[ledger.OrderID(ref.ID)]; ok {
			return po.AmountPaid, nil
		}
	case ledger.BalanceCustomerCredit:
		if c, ok := v.s.customers[ledger.CustomerID(ref.ID)]; ok {
			return c.CreditedAmount, nil
		}
	case ledger.BalanceInquiryAdvance:
		if i, ok := v.s.inquiries[ledger.InquiryID(ref.ID)]; ok {
			return i.AdvanceAmount, nil
		}
	default:
		return decimal.Zero, ledger.Invalid("kind", "unknown balance kind %q", ref.Kind)
	}
	return decimal.Zero, ledger.NotFound(ref.Kind.Entity(), ref.ID)
}

func (v *view) EventTotal(ctx context.Context, ref ledger.BalanceRef) (ledger.Money, error) {
	totals, err := v.EventTotals(ctx, ref.Kind)
	if err != nil {
		return decimal.Zero, err
	}
	return totals[ref.ID], nil
}

func (v *view) RunningTotals(_ context.Context, kind ledger.BalanceKind) (map[string]ledger.Money, error) {
	out := make(map[string]ledger.Money)
	switch kind {
	case ledger.BalanceOrderPaid:
		for id, po := range v.s.orders {
			out[string(id)] = po.AmountPaid
		}
	case ledger.BalanceCustomerCredit:
		for id, c := range v.s.customers {
			out[string(id)] = c.CreditedAmount
		}
	case ledger.BalanceInquiryAdvance:
		for id, i := range v.s.inquiries {
			out[string(id)] = i.AdvanceAmount
		}
	default:
		return nil, ledger.Invalid("kind", "unknown balance kind %q", kind)
	}
	return out, nil
}

func (v *view) EventTotals(_ context.Context, kind ledger.BalanceKind) (map[string]ledger.Money, error) {
	out := make(map[string]ledger.Money)
	add := func(id string, amt ledger.Money) { out[id] = out[id].Add(amt) }
	switch kind {
	case ledger.BalanceOrderPaid:
		for _, p := range v.s.supPays {
			if p.OrderID != "" {
				add(string(p.OrderID), p.Amount)
			}
		}
	case ledger.BalanceCustomerCredit:
		for _, e := range v.s.credits {
			add(string(e.CustomerID), e.Delta)
		}
	case ledger.BalanceInquiryAdvance:
		for _, p := range v.s.inqPays {
			add(string(p.InquiryID), p.Amount)
		}
	default:
		return nil, ledger.Invalid("kind", "unknown balance kind %q", kind)
	}
	return out, nil
}

func (v *view) ListPriceOverrides(_ context.Context, id ledger.SaleID) ([]ledger.PriceOverride, error) {
	var out []ledger.PriceOverride
	for _, o := range v.s.overrides {
		if o.SaleID == id {
			out = append(out, o)
		}
	}
	return out, nil
}

func (v *view) ListSupplierPayments(_ context.Context, id ledger.OrderID) ([]ledger.SupplierPayment, error) {
	var out []ledger.SupplierPayment
	for _, p := range v.s.supPays {
		if p.OrderID == id {
			out = append(out, p)
		}
	}
	return out, nil
}

func (v *view) ListInquiryPayments(_ context.Context, id ledger.InquiryID) ([]ledger.InquiryPayment, error) {
	var out []ledger.InquiryPayment
	for _, p := range v.s.inqPays {
		if p.InquiryID == id {
			out = append(out, p)
		}
	}
	return out, nil
}

func (v *view) ListCreditEvents(_ context.Context, id ledger.CustomerID) ([]ledger.CreditEvent, error) {
	var out []ledger.CreditEvent
	for _, e := range v.s.credits {
		if e.CustomerID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

func (v *view) InsertProduct(_ context.Context, p *ledger.Product) error {
	if _, dup := v.s.products[p.ID]; dup {
		return ledger.Conflict("product %s already exists", p.ID)
	}
	if p.SKU != "" {
		if _, dup := v.s.skus[p.SKU]; dup {
			return ledger.Conflict("sku %q already in use", p.SKU)
		}
		v.s.skus[p.SKU] = p.ID
	}
	v.s.products[p.ID] = *p
	return nil
}

func (v *view) LockProduct(ctx context.Context, id ledger.ProductID) (*ledger.Product, error) {
	return v.GetProduct(ctx, id)
}

func (v *view) IncrementStock(_ context.Context, id ledger.ProductID, delta int64) (int64, bool, error) {
	p, ok := v.s.products[id]
	if !ok || p.QuantityInStock+delta < 0 {
		return 0, false, nil
	}
	p.QuantityInStock += delta
	p.UpdatedAt = ledger.Now()
	v.s.products[id] = p
	return p.QuantityInStock, true, nil
}

func (v *view) InsertMovement(_ context.Context, mv *ledger.StockMovement) error {
	if _, ok := v.s.products[mv.ProductID]; !ok {
		return ledger.Conflict("movement references unknown product %s", mv.ProductID)
	}
	v.s.movements = append(v.s.movements, *mv)
	return nil
}

func (v *view) IncrementBalance(ctx context.Context, ref ledger.BalanceRef, delta ledger.Money) (ledger.Money, bool, error) {
	current, err := v.Balance(ctx, ref)
	if ledger.IsNotFound(err) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	next := ledger.RoundMoney(current.Add(delta))
	if next.IsNegative() {
		return decimal.Zero, false, nil
	}
	return next, true, v.SetBalance(ctx, ref, next)
}

func (v *view) SetBalance(_ context.Context, ref ledger.BalanceRef, value ledger.Money) error {
	value = ledger.RoundMoney(value)
	switch ref.Kind {
	case ledger.BalanceOrderPaid:
		po, ok := v.s.orders[ledger.OrderID(ref.ID)]
		if !ok {
			break
		}
		po.AmountPaid = value
		po.UpdatedAt = ledger.Now()
		v.s.orders[po.ID] = po
		return nil
	case ledger.BalanceCustomerCredit:
		c, ok := v.s.customers[ledger.CustomerID(ref.ID)]
		if !ok {
			break
		}
		c.CreditedAmount = value
		v.s.customers[c.ID] = c
		return nil
	case ledger.BalanceInquiryAdvance:
		i, ok := v.s.inquiries[ledger.InquiryID(ref.ID)]
		if !ok {
			break
		}
		i.AdvanceAmount = value
		v.s.inquiries[i.ID] = i
		return nil
	default:
		return ledger.Invalid("kind", "unknown balance kind %q", ref.Kind)
	}
	return ledger.NotFound(ref.Kind.Entity(), ref.ID)
}

func (v *view) InsertSale(_ context.Context, s *ledger.Sale) error {
	if _, dup := v.s.sales[s.ID]; dup {
		return ledger.Conflict("sale %s already exists", s.ID)
	}
	if _, dup := v.s.saleNos[s.SaleNo]; dup {
		return ledger.Conflict("sale number %q already in use", s.SaleNo)
	}
	if s.CustomerID != "" {
		if _, ok := v.s.customers[s.CustomerID]; !ok {
			return ledger.Conflict("sale references unknown customer %s", s.CustomerID)
		}
	}
	row := *s
	row.Lines = nil
	v.s.sales[s.ID] = row
	v.s.saleNos[s.SaleNo] = s.ID
	return nil
}

func (v *view) LockSale(ctx context.Context, id ledger.SaleID) (*ledger.Sale, error) {
	return v.GetSale(ctx, id)
}

func (v *view) UpdateSale(_ context.Context, s *ledger.Sale) error {
	old, ok := v.s.sales[s.ID]
	if !ok {
		return ledger.NotFound("sale", string(s.ID))
	}
	if s.SaleNo != old.SaleNo {
		if _, dup := v.s.saleNos[s.SaleNo]; dup {
			return ledger.Conflict("sale number %q already in use", s.SaleNo)
		}
		delete(v.s.saleNos, old.SaleNo)
		v.s.saleNos[s.SaleNo] = s.ID
	}
	row := *s
	row.Lines = nil
	v.s.sales[s.ID] = row
	return nil
}

func (v *view) DeleteSale(_ context.Context, id ledger.SaleID) error {
	s, ok := v.s.sales[id]
	if !ok {
		return ledger.NotFound("sale", string(id))
	}
	for lid, l := range v.s.saleLines {
		if l.SaleID == id {
			delete(v.s.saleLines, lid)
		}
	}
	for i := range v.s.overrides {
		if v.s.overrides[i].SaleID == id {
			v.s.overrides[i].SaleID = ""
			v.s.overrides[i].SaleLineID = ""
		}
	}
	delete(v.s.saleNos, s.SaleNo)
	delete(v.s.sales, id)
	return nil
}

func (v *view) InsertSaleLine(_ context.Context, l *ledger.SaleLine) error {
	if _, ok := v.s.sales[l.SaleID]; !ok {
		return ledger.Conflict("line references unknown sale %s", l.SaleID)
	}
	if _, dup := v.s.saleLines[l.ID]; dup {
		return ledger.Conflict("sale line %s already exists", l.ID)
	}
	v.s.saleLines[l.ID] = *l
	return nil
}

func (v *view) UpdateSaleLine(_ context.Context, l *ledger.SaleLine) error {
	if _, ok := v.s.saleLines[l.ID]; !ok {
		return ledger.NotFound("sale_line", string(l.ID))
	}
	v.s.saleLines[l.ID] = *l
	return nil
}

func (v *view) DeleteSaleLine(_ context.Context, id ledger.SaleLineID) error {
	if _, ok := v.s.saleLines[id]; !ok {
		return ledger.NotFound("sale_line", string(id))
	}
	delete(v.s.saleLines, id)
	for i := range v.s.overrides {
		if v.s.overrides[i].SaleLineID == id {
			v.s.overrides[i].SaleLineID = ""
		}
	}
	return nil
}

func (v *view) InsertPriceOverride(_ context.Context, o *ledger.PriceOverride) error {
	v.s.overrides = append(v.s.overrides, *o)
	return nil
}

func (v *view) InsertPurchaseOrder(_ context.Context, po *ledger.PurchaseOrder) error {
	if _, dup := v.s.orders[po.ID]; dup {
		return ledger.Conflict("purchase order %s already exists", po.ID)
	}
	if _, dup := v.s.poNos[po.PONo]; dup {
		return ledger.Conflict("purchase order number %q already in use", po.PONo)
	}
	if po.SupplierID != "" {
		if _, ok := v.s.suppliers[po.SupplierID]; !ok {
			return ledger.Conflict("purchase order references unknown supplier %s", po.SupplierID)
		}
	}
	for _, l := range po.Lines {
		if l.ProductID != "" {
			if _, ok := v.s.products[l.ProductID]; !ok {
				return ledger.Conflict("purchase order line references unknown product %s", l.ProductID)
			}
		}
		v.s.orderLines[l.ID] = l
	}
	row := *po
	row.Lines = nil
	v.s.orders[po.ID] = row
	v.s.poNos[po.PONo] = po.ID
	return nil
}

func (v *view) LockPurchaseOrder(ctx context.Context, id ledger.OrderID) (*ledger.PurchaseOrder, error) {
	return v.GetPurchaseOrder(ctx, id)
}

func (v *view) UpdateOrderStatus(_ context.Context, id ledger.OrderID, status ledger.OrderStatus) error {
	po, ok := v.s.orders[id]
	if !ok {
		return ledger.NotFound("purchase_order", string(id))
	}
	po.Status = status
	po.UpdatedAt = ledger.Now()
	v.s.orders[id] = po
	return nil
}

func (v *view) UpdateOrderLineReceived(_ context.Context, id ledger.OrderLineID, qty int64) error {
	l, ok := v.s.orderLines[id]
	if !ok {
		return ledger.NotFound("purchase_order_line", string(id))
	}
	if qty < 0 || qty > l.QtyOrdered {
		return ledger.Invalid("qty_received", "must be within 0..%d, got %d", l.QtyOrdered, qty)
	}
	l.QtyReceived = qty
	v.s.orderLines[id] = l
	return nil
}

func (v *view) InsertSupplier(_ context.Context, s *ledger.Supplier) error {
	if _, dup := v.s.suppliers[s.ID]; dup {
		return ledger.Conflict("supplier %s already exists", s.ID)
	}
	v.s.suppliers[s.ID] = *s
	return nil
}

func (v *view) InsertCustomer(_ context.Context, c *ledger.Customer) error {
	if _, dup := v.s.customers[c.ID]; dup {
		return ledger.Conflict("customer %s already exists", c.ID)
	}
	v.s.customers[c.ID] = *c
	return nil
}

func (v *view) InsertInquiry(_ context.Context, i *ledger.Inquiry) error {
	if _, dup := v.s.inquiries[i.ID]; dup {
		return ledger.Conflict("inquiry %s already exists", i.ID)
	}
	if _, dup := v.s.inquiryNos[i.InquiryNo]; dup {
		return ledger.Conflict("inquiry number %q already in use", i.InquiryNo)
	}
	if i.CustomerID != "" {
		if _, ok := v.s.customers[i.CustomerID]; !ok {
			return ledger.Conflict("inquiry references unknown customer %s", i.CustomerID)
		}
	}
	v.s.inquiries[i.ID] = *i
	v.s.inquiryNos[i.InquiryNo] = i.ID
	return nil
}

func (v *view) MarkAdvanceReceived(_ context.Context, id ledger.InquiryID) error {
	i, ok := v.s.inquiries[id]
	if !ok {
		return ledger.NotFound("inquiry", string(id))
	}
	i.AdvanceReceived = true
	v.s.inquiries[id] = i
	return nil
}

func (v *view) InsertSupplierPayment(_ context.Context, p *ledger.SupplierPayment) error {
	if _, ok := v.s.suppliers[p.SupplierID]; !ok {
		return ledger.Conflict("payment references unknown supplier %s", p.SupplierID)
	}
	if p.OrderID != "" {
		if _, ok := v.s.orders[p.OrderID]; !ok {
			return ledger.Conflict("payment references unknown purchase order %s", p.OrderID)
		}
	}
	v.s.supPays = append(v.s.supPays, *p)
	return nil
}

func (v *view) InsertInquiryPayment(_ context.Context, p *ledger.InquiryPayment) error {
	if _, ok := v.s.inquiries[p.InquiryID]; !ok {
		return ledger.Conflict("payment references unknown inquiry %s", p.InquiryID)
	}
	v.s.inqPays = append(v.s.inqPays, *p)
	return nil
}

func (v *view) InsertCreditEvent(_ context.Context, e *ledger.CreditEvent) error {
	if _, ok := v.s.customers[e.CustomerID]; !ok {
		return ledger.Conflict("credit event references unknown customer %s", e.CustomerID)
	}
	v.s.credits = append(v.s.credits, *e)
	return nil
}
