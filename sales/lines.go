package sales

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/backoffice/ledger"
)

// resolveLine builds the stored line for an incoming one. prev is the stored
// line being edited, nil for a new line.
func resolveLine(ctx context.Context, tx ledger.Tx, in LineInput, prev *ledger.SaleLine, allowBelowMinimum bool) (ledger.SaleLine, error) {
	l := ledger.SaleLine{
		ProductID:   in.ProductID,
		ProductName: in.ProductName,
		SKU:         in.SKU,
		Quantity:    in.Quantity,
		UnitPrice:   ledger.RoundMoney(in.UnitPrice),
	}
	l.LineTotal = ledger.RoundMoney(l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity)))

	if in.ProductID == "" {
		l.OriginalUnitPrice = l.UnitPrice
		if in.OriginalUnitPrice != nil {
			l.OriginalUnitPrice = ledger.RoundMoney(*in.OriginalUnitPrice)
		}
		return l, nil
	}

	p, err := tx.GetProduct(ctx, in.ProductID)
	if err != nil {
		return l, err
	}
	if l.ProductName == "" {
		l.ProductName = p.Name
	}
	if l.SKU == "" {
		l.SKU = p.SKU
	}

	sameProduct := prev != nil && prev.ProductID == in.ProductID
	switch {
	case in.OriginalUnitPrice != nil:
		l.OriginalUnitPrice = ledger.RoundMoney(*in.OriginalUnitPrice)
	case sameProduct:
		l.OriginalUnitPrice = prev.OriginalUnitPrice
	default:
		l.OriginalUnitPrice = p.SellingPrice
	}

	// A price already accepted on the stored line is not re-checked.
	repriced := !sameProduct || !prev.UnitPrice.Equal(l.UnitPrice)
	if repriced && !allowBelowMinimum && l.UnitPrice.LessThan(p.MinimumSellingPrice) {
		return l, ledger.Invalid("unit_price", "%s is below the minimum selling price %s for %s",
			l.UnitPrice.StringFixed(ledger.MoneyPlaces), p.MinimumSellingPrice.StringFixed(ledger.MoneyPlaces), p.ID)
	}
	return l, nil
}

// priceChanged reports whether an edit touched anything a PriceOverride
// records.
func priceChanged(old, next ledger.SaleLine) bool {
	return old.ProductID != next.ProductID ||
		!old.UnitPrice.Equal(next.UnitPrice) ||
		!old.OriginalUnitPrice.Equal(next.OriginalUnitPrice)
}

// recordOverride writes a PriceOverride for a linked line sold away from
// its original price.
func recordOverride(ctx context.Context, tx ledger.Tx, l ledger.SaleLine, reason string, actor ledger.Actor) error {
	if l.ProductID == "" || l.UnitPrice.Equal(l.OriginalUnitPrice) {
		return nil
	}
	return tx.InsertPriceOverride(ctx, &ledger.PriceOverride{
		ID:                ledger.NewID(),
		SaleID:            l.SaleID,
		SaleLineID:        l.ID,
		Actor:             actor.Name(),
		OriginalUnitPrice: l.OriginalUnitPrice,
		FinalUnitPrice:    l.UnitPrice,
		Reason:            reason,
		CreatedAt:         ledger.Now(),
	})
}

// =============================================================================
// MOVEMENT PLAN
// =============================================================================

type plannedMove struct {
	product ledger.ProductID
	delta   int64
	reason  ledger.MovementReason
}

// movementPlan collects the stock effects of one unit so they can be applied
// in a fixed order: increases first, then by product id.
type movementPlan struct {
	moves []plannedMove
}

func (p *movementPlan) add(product ledger.ProductID, delta int64, reason ledger.MovementReason) {
	if product == "" || delta == 0 {
		return
	}
	p.moves = append(p.moves, plannedMove{product: product, delta: delta, reason: reason})
}

func (p *movementPlan) apply(ctx context.Context, tx ledger.Tx, ref string, actor ledger.Actor) ([]ledger.MovementReason, error) {
	sort.SliceStable(p.moves, func(i, j int) bool {
		a, b := p.moves[i], p.moves[j]
		if (a.delta > 0) != (b.delta > 0) {
			return a.delta > 0
		}
		return a.product < b.product
	})

	reasons := make([]ledger.MovementReason, 0, len(p.moves))
	for _, m := range p.moves {
		if _, err := ledger.MoveStock(ctx, tx, ledger.StockMovement{
			ProductID: m.product,
			Delta:     m.delta,
			Reason:    m.reason,
			Reference: ref,
			Actor:     actor.Name(),
		}); err != nil {
			return nil, err
		}
		reasons = append(reasons, m.reason)
	}
	return reasons, nil
}
