package purchasing

import (
	"fmt"
	"strings"

	"github.com/warp/backoffice/ledger"
)

// Fallback decides what happens to an entry that neither a line id nor a
// product id resolves.
type Fallback string

const (
	// FallbackPositional silently assigns the next unmatched line.
	FallbackPositional Fallback = "positional"
	// FallbackWarn assigns the next unmatched line and reports a warning.
	FallbackWarn Fallback = "warn"
	// FallbackReject fails the receive with a ConflictError.
	FallbackReject Fallback = "reject"
)

func ParseFallback(s string) (Fallback, error) {
	switch f := Fallback(strings.ToLower(strings.TrimSpace(s))); f {
	case FallbackPositional, FallbackWarn, FallbackReject:
		return f, nil
	case "":
		return FallbackWarn, nil
	}
	return "", fmt.Errorf("unknown receive fallback %q (want positional, warn or reject)", s)
}

// MatchRule names the rule that paired an entry with a line.
type MatchRule string

const (
	MatchLineID   MatchRule = "line_id"
	MatchProduct  MatchRule = "product"
	MatchPosition MatchRule = "position"
	MatchComplete MatchRule = "mark_complete"
)

// matcher pairs receive entries with order lines. First rule that matches
// wins:
//  1. explicit line id found on the order
//  2. product id: an unmatched line with quantity outstanding, then any
//     line with quantity outstanding, then any unmatched line, then any
//     line for the product (the receive clamps it to zero)
//  3. next unmatched line in stored order, subject to the fallback policy
//
// An entry naming a product that is on the order never lands on another
// product's line.
type matcher struct {
	po       *ledger.PurchaseOrder
	fallback Fallback
	matched  []bool
}

func newMatcher(po *ledger.PurchaseOrder, fallback Fallback) *matcher {
	return &matcher{po: po, fallback: fallback, matched: make([]bool, len(po.Lines))}
}

func (m *matcher) match(e ReceiveEntry) (int, MatchRule, error) {
	if e.LineID != "" {
		for i, l := range m.po.Lines {
			if l.ID == e.LineID {
				m.matched[i] = true
				return i, MatchLineID, nil
			}
		}
		return 0, "", ledger.Conflict("line %s is not on purchase order %s", e.LineID, m.po.ID)
	}

	if e.ProductID != "" {
		if i := m.byProduct(e.ProductID); i >= 0 {
			m.matched[i] = true
			return i, MatchProduct, nil
		}
	}

	if m.fallback == FallbackReject {
		return 0, "", ledger.Conflict("entry for product %q matches no line on purchase order %s", e.ProductID, m.po.ID)
	}
	for i := range m.po.Lines {
		if !m.matched[i] {
			m.matched[i] = true
			return i, MatchPosition, nil
		}
	}
	return 0, "", ledger.Conflict("no unmatched line left on purchase order %s", m.po.ID)
}

func (m *matcher) byProduct(id ledger.ProductID) int {
	first := func(ok func(i int, l ledger.OrderLine) bool) int {
		for i, l := range m.po.Lines {
			if l.ProductID == id && ok(i, l) {
				return i
			}
		}
		return -1
	}
	if i := first(func(i int, l ledger.OrderLine) bool { return !m.matched[i] && l.Remaining() > 0 }); i >= 0 {
		return i
	}
	if i := first(func(_ int, l ledger.OrderLine) bool { return l.Remaining() > 0 }); i >= 0 {
		return i
	}
	if i := first(func(i int, _ ledger.OrderLine) bool { return !m.matched[i] }); i >= 0 {
		return i
	}
	return first(func(int, ledger.OrderLine) bool { return true })
}
