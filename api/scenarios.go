/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the store with realistic data through the same services the
	API uses, so every row a scenario writes has its movement, event and
	audit trail like production data would.

AVAILABLE SCENARIOS:

	counter-sales:       products, a walk-in sale, a credit sale, a price override
	purchase-receiving:  supplier order partially received with a payment
	reconciliation-drift: the above plus out-of-band changes the reconciler finds

HOW SCENARIOS WORK:
 1. Register products with opening stock (initial_stock movements)
 2. Create parties (supplier, customer)
 3. Run documents through sales / purchasing / payments
 4. Optionally bypass the primitives to create drift

Scenarios add data; they never delete. SKUs carry a per-load suffix so a
scenario can be loaded more than once.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "counter-sales"}

SEE ALSO:
  - server.go: scenario routes
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/warp/backoffice/inventory"
	"github.com/warp/backoffice/ledger"
	"github.com/warp/backoffice/payments"
	"github.com/warp/backoffice/purchasing"
	"github.com/warp/backoffice/sales"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "counter-sales",
		Name:        "Counter Sales",
		Description: "Three products, a walk-in sale, a credit sale and a below-minimum price override",
	},
	{
		ID:          "purchase-receiving",
		Name:        "Purchase Receiving",
		Description: "Placed purchase order received in part, with a supplier payment",
	},
	{
		ID:          "reconciliation-drift",
		Name:        "Reconciliation Drift",
		Description: "Counter sales plus a stock count and a credit total changed outside the ledger",
	},
}

var scenarioActor = ledger.Actor{ID: "scenario", Role: "admin"}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a scenario by id.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "scenario.load", err)
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		h.fail(w, r, "scenario.load", err)
		return
	}
	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	switch id {
	case "counter-sales":
		_, err := h.loadCounterSales(ctx)
		return err
	case "purchase-receiving":
		return h.loadPurchaseReceiving(ctx)
	case "reconciliation-drift":
		return h.loadReconciliationDrift(ctx)
	}
	return ledger.Invalid("scenario_id", "unknown scenario %q", id)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type counterSales struct {
	products map[string]*ledger.Product
	customer *ledger.Customer
}

func (h *Handler) registerDemoProducts(ctx context.Context, specs ...inventory.RegisterInput) (map[string]*ledger.Product, error) {
	suffix := strings.ToUpper(ledger.NewID()[:6])
	out := make(map[string]*ledger.Product, len(specs))
	for _, in := range specs {
		key := in.SKU
		in.Actor = scenarioActor
		in.SKU = fmt.Sprintf("%s-%s", key, suffix)
		p, err := h.Inventory.RegisterProduct(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", key, err)
		}
		out[key] = p
	}
	return out, nil
}

func (h *Handler) loadCounterSales(ctx context.Context) (*counterSales, error) {
	products, err := h.registerDemoProducts(ctx,
		inventory.RegisterInput{SKU: "FRAME-A4", Name: "A4 Frame", CostPrice: ledger.MustMoney("4.00"),
			SellingPrice: ledger.MustMoney("9.50"), MinimumSellingPrice: ledger.MustMoney("8.00"), InitialStock: 40},
		inventory.RegisterInput{SKU: "GLASS-A4", Name: "A4 Glass Sheet", CostPrice: ledger.MustMoney("1.20"),
			SellingPrice: ledger.MustMoney("3.00"), MinimumSellingPrice: ledger.MustMoney("2.50"), InitialStock: 120},
		inventory.RegisterInput{SKU: "HOOK", Name: "Wall Hook", CostPrice: ledger.MustMoney("0.10"),
			SellingPrice: ledger.MustMoney("0.50"), MinimumSellingPrice: ledger.MustMoney("0.30"), InitialStock: 500},
	)
	if err != nil {
		return nil, err
	}

	customer, err := h.Payments.CreateCustomer(ctx, payments.CustomerInput{Actor: scenarioActor, Name: "Studio Lumen", Phone: "555-0101"})
	if err != nil {
		return nil, err
	}

	// Walk-in cash sale at list price.
	if _, err := h.Sales.Create(ctx, sales.CreateInput{
		Actor:  scenarioActor,
		Header: sales.Header{PaymentMethod: "cash"},
		Lines: []sales.LineInput{
			{ProductID: products["FRAME-A4"].ID, Quantity: 2, UnitPrice: products["FRAME-A4"].SellingPrice},
			{ProductID: products["HOOK"].ID, Quantity: 4, UnitPrice: products["HOOK"].SellingPrice},
			{ProductName: "Gift wrapping", Quantity: 1, UnitPrice: ledger.MustMoney("1.00")},
		},
	}); err != nil {
		return nil, fmt.Errorf("walk-in sale: %w", err)
	}

	// Credit sale with a trade price below the minimum.
	if _, err := h.Sales.Create(ctx, sales.CreateInput{
		Actor:             scenarioActor,
		Header:            sales.Header{CustomerID: customer.ID, IsCredit: true, PaymentMethod: "credit"},
		AllowBelowMinimum: true,
		Lines: []sales.LineInput{
			{ProductID: products["FRAME-A4"].ID, Quantity: 10, UnitPrice: ledger.MustMoney("7.50"), OverrideReason: "trade customer"},
			{ProductID: products["GLASS-A4"].ID, Quantity: 10, UnitPrice: products["GLASS-A4"].SellingPrice},
		},
	}); err != nil {
		return nil, fmt.Errorf("credit sale: %w", err)
	}

	if _, err := h.Payments.RecordCustomerPayment(ctx, payments.CustomerPaymentInput{
		Actor: scenarioActor, CustomerID: customer.ID, Amount: ledger.MustMoney("50.00"), PaymentMethod: "cash",
	}); err != nil {
		return nil, fmt.Errorf("customer payment: %w", err)
	}

	return &counterSales{products: products, customer: customer}, nil
}

func (h *Handler) loadPurchaseReceiving(ctx context.Context) error {
	products, err := h.registerDemoProducts(ctx,
		inventory.RegisterInput{SKU: "MOULDING-OAK", Name: "Oak Moulding (m)", CostPrice: ledger.MustMoney("2.40"),
			SellingPrice: ledger.MustMoney("6.00"), MinimumSellingPrice: ledger.MustMoney("5.00")},
		inventory.RegisterInput{SKU: "MAT-WHITE", Name: "White Mat Board", CostPrice: ledger.MustMoney("1.10"),
			SellingPrice: ledger.MustMoney("3.50"), MinimumSellingPrice: ledger.MustMoney("3.00"), InitialStock: 5},
	)
	if err != nil {
		return err
	}
	supplier, err := h.Payments.CreateSupplier(ctx, payments.SupplierInput{Actor: scenarioActor, Name: "Northwood Supplies"})
	if err != nil {
		return err
	}

	po, err := h.Purchasing.Create(ctx, purchasing.CreateInput{
		Actor:      scenarioActor,
		SupplierID: supplier.ID,
		Place:      true,
		Lines: []purchasing.LineInput{
			{ProductID: products["MOULDING-OAK"].ID, QtyOrdered: 100, UnitCost: ledger.MustMoney("2.40")},
			{ProductID: products["MAT-WHITE"].ID, QtyOrdered: 50, UnitCost: ledger.MustMoney("1.10")},
			{Description: "Freight", QtyOrdered: 1, UnitCost: ledger.MustMoney("25.00")},
		},
	})
	if err != nil {
		return err
	}

	_, err = h.Purchasing.Receive(ctx, purchasing.ReceiveInput{
		Actor:   scenarioActor,
		OrderID: po.ID,
		Entries: []purchasing.ReceiveEntry{
			{ProductID: products["MOULDING-OAK"].ID, Quantity: 60},
			{LineID: po.Lines[2].ID, Quantity: 1},
		},
		Payment: &purchasing.PaymentInput{Amount: ledger.MustMoney("150.00"), PaymentMethod: "bank_transfer", Reference: "INV-2231"},
	})
	return err
}

func (h *Handler) loadReconciliationDrift(ctx context.Context) error {
	cs, err := h.loadCounterSales(ctx)
	if err != nil {
		return err
	}
	hook := cs.products["HOOK"]

	// Writes below skip the movement / event rows on purpose.
	return h.Store.WithTx(ctx, func(tx ledger.Tx) error {
		if _, _, err := tx.IncrementStock(ctx, hook.ID, -7); err != nil {
			return err
		}
		c, err := tx.GetCustomer(ctx, cs.customer.ID)
		if err != nil {
			return err
		}
		return tx.SetBalance(ctx, ledger.CustomerCredit(c.ID), c.CreditedAmount.Add(ledger.MustMoney("20.00")))
	})
}
