/*
Package access decides which actor roles may run which operation.

PURPOSE:
  A declarative table, Operation → allowed roles, consulted by the api layer
  before a request reaches a service. Services never look at roles; the one
  capability that changes service behaviour (sale.override_price) is passed
  down as a plain flag.

JSON SCHEMA:
  Operations listed in the document replace the default entry; operations
  left out keep their default roles.

  {
    "sale.delete": ["admin"],
    "stock.adjust": ["admin", "manager"],
    "report.export": ["*"]
  }

  "*" allows every authenticated role.

SEE ALSO:
  - api/server.go: capability check before dispatch
  - config/config.go: ACCESS_POLICY_FILE
*/
package access

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/warp/backoffice/ledger"
)

// Operation names one guarded action.
type Operation string

const (
	ProductCreate Operation = "product.create"
	ProductRead   Operation = "product.read"
	StockAdjust   Operation = "stock.adjust"

	SaleCreate        Operation = "sale.create"
	SaleRead          Operation = "sale.read"
	SaleUpdate        Operation = "sale.update"
	SaleDelete        Operation = "sale.delete"
	SaleOverridePrice Operation = "sale.override_price"

	OrderCreate   Operation = "purchase_order.create"
	OrderRead     Operation = "purchase_order.read"
	OrderPlace    Operation = "purchase_order.place"
	OrderCancel   Operation = "purchase_order.cancel"
	OrderReceive  Operation = "purchase_order.receive"
	OrderComplete Operation = "purchase_order.complete"

	PartyCreate Operation = "party.create"
	PartyRead   Operation = "party.read"

	PaymentSupplier Operation = "payment.supplier"
	PaymentCustomer Operation = "payment.customer"
	PaymentInquiry  Operation = "payment.inquiry"
	CreditAdjust    Operation = "customer.credit_adjust"

	ReconcileCheck  Operation = "reconciliation.check"
	ReconcileRepair Operation = "reconciliation.repair"
	ReportExport    Operation = "report.export"
	ScenarioLoad    Operation = "scenario.load"
)

// Roles known to the default table.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"

	AnyRole = "*"
)

// Operations lists every operation in a stable order.
var Operations = []Operation{
	ProductCreate, ProductRead, StockAdjust,
	SaleCreate, SaleRead, SaleUpdate, SaleDelete, SaleOverridePrice,
	OrderCreate, OrderRead, OrderPlace, OrderCancel, OrderReceive, OrderComplete,
	PartyCreate, PartyRead,
	PaymentSupplier, PaymentCustomer, PaymentInquiry, CreditAdjust,
	ReconcileCheck, ReconcileRepair, ReportExport, ScenarioLoad,
}

func known(op Operation) bool {
	for _, o := range Operations {
		if o == op {
			return true
		}
	}
	return false
}

// =============================================================================
// POLICY
// =============================================================================

// Policy is the capability table. The zero value denies everything.
type Policy struct {
	rules map[Operation][]string
}

// DefaultPolicy: staff sell, take payments and receive goods; managers run
// purchasing and stock corrections; admins additionally repair, delete sales
// and adjust credit by hand.
func DefaultPolicy() *Policy {
	staff := []string{RoleAdmin, RoleManager, RoleStaff}
	manager := []string{RoleAdmin, RoleManager}
	admin := []string{RoleAdmin}

	return &Policy{rules: map[Operation][]string{
		ProductCreate: manager,
		ProductRead:   staff,
		StockAdjust:   manager,

		SaleCreate:        staff,
		SaleRead:          staff,
		SaleUpdate:        staff,
		SaleDelete:        admin,
		SaleOverridePrice: manager,

		OrderCreate:   manager,
		OrderRead:     staff,
		OrderPlace:    manager,
		OrderCancel:   manager,
		OrderReceive:  staff,
		OrderComplete: manager,

		PartyCreate: staff,
		PartyRead:   staff,

		PaymentSupplier: manager,
		PaymentCustomer: staff,
		PaymentInquiry:  staff,
		CreditAdjust:    admin,

		ReconcileCheck:  manager,
		ReconcileRepair: admin,
		ReportExport:    manager,
		ScenarioLoad:    admin,
	}}
}

// ParsePolicy overlays a JSON document onto the default table.
func ParsePolicy(data []byte) (*Policy, error) {
	var doc map[string][]string
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse access policy JSON: %w", err)
	}
	p := DefaultPolicy()
	for name, roles := range doc {
		op := Operation(name)
		if !known(op) {
			return nil, fmt.Errorf("access policy: unknown operation %q", name)
		}
		normalized := make([]string, 0, len(roles))
		for _, r := range roles {
			if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
				normalized = append(normalized, r)
			}
		}
		p.rules[op] = normalized
	}
	return p, nil
}

// LoadPolicy reads a policy file. An empty path yields the default table.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read access policy: %w", err)
	}
	return ParsePolicy(data)
}

// Allows reports whether actor's role may run op.
func (p *Policy) Allows(actor ledger.Actor, op Operation) bool {
	if p == nil || actor.Role == "" {
		return false
	}
	role := strings.ToLower(actor.Role)
	for _, r := range p.rules[op] {
		if r == AnyRole || r == role {
			return true
		}
	}
	return false
}

// Check is Allows returning a DeniedError.
func (p *Policy) Check(actor ledger.Actor, op Operation) error {
	if p.Allows(actor, op) {
		return nil
	}
	return &DeniedError{Actor: actor.Name(), Role: actor.Role, Op: op}
}

// Roles returns the roles allowed to run op, sorted.
func (p *Policy) Roles(op Operation) []string {
	if p == nil {
		return nil
	}
	out := append([]string(nil), p.rules[op]...)
	sort.Strings(out)
	return out
}

// DeniedError is returned by Check. Unwraps to ledger.ErrForbidden.
type DeniedError struct {
	Actor string
	Role  string
	Op    Operation
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("actor %s (role %q) may not %s", e.Actor, e.Role, e.Op)
}

func (e *DeniedError) Unwrap() error { return ledger.ErrForbidden }
