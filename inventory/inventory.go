/*
Package inventory registers products and applies manual stock changes.

PURPOSE:
  The non-document stock paths: a product's opening quantity, counted
  stock ("set to"), and ad-hoc corrections ("+/- delta"). Each one is a
  single unit of work that moves stock through ledger.MoveStock so the
  movement trail always sums to the stored quantity.

MODES:
  delta: stock += Quantity, rejected with NegativeStockError below zero
  set:   stock  = Quantity, delta computed against the locked row

SEE ALSO:
  - ledger/ledger.go: AdjustStock, SetStock, RecordMovement
  - api/handlers_inventory.go: HTTP surface
*/
package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/warp/backoffice/ledger"
	"github.com/warp/backoffice/metrics"
)

// Service owns product registration and manual adjustments.
type Service struct {
	store   ledger.Store
	audit   *ledger.AuditRecorder
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

func New(store ledger.Store, audit *ledger.AuditRecorder, logger logrus.FieldLogger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{store: store, audit: audit, logger: logger.WithField("module", "inventory"), metrics: m}
}

// =============================================================================
// REGISTRATION
// =============================================================================

type RegisterInput struct {
	Actor               ledger.Actor
	SKU                 string
	Name                string
	Description         string
	CostPrice           ledger.Money
	SellingPrice        ledger.Money
	MinimumSellingPrice ledger.Money
	InitialStock        int64
}

func (in RegisterInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return ledger.Invalid("name", "required")
	}
	if in.InitialStock < 0 {
		return ledger.Invalid("initial_stock", "must be >= 0, got %d", in.InitialStock)
	}
	for field, v := range map[string]ledger.Money{
		"cost_price":            in.CostPrice,
		"selling_price":         in.SellingPrice,
		"minimum_selling_price": in.MinimumSellingPrice,
	} {
		if v.IsNegative() {
			return ledger.Invalid(field, "must be >= 0")
		}
		if err := ledger.CheckMoney(field, v); err != nil {
			return err
		}
	}
	return nil
}

// RegisterProduct creates a product at zero stock, then records the opening
// quantity as an initial_stock movement in the same unit.
func (s *Service) RegisterProduct(ctx context.Context, in RegisterInput) (*ledger.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := ledger.Now()
	p := &ledger.Product{
		ID:                  ledger.ProductID(ledger.NewID()),
		SKU:                 strings.TrimSpace(in.SKU),
		Name:                strings.TrimSpace(in.Name),
		Description:         in.Description,
		CostPrice:           ledger.RoundMoney(in.CostPrice),
		SellingPrice:        ledger.RoundMoney(in.SellingPrice),
		MinimumSellingPrice: ledger.RoundMoney(in.MinimumSellingPrice),
		IsActive:            true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertProduct(ctx, p); err != nil {
			return err
		}
		if _, err := ledger.MoveStock(ctx, tx, ledger.StockMovement{
			ProductID: p.ID,
			Delta:     in.InitialStock,
			Reason:    ledger.ReasonInitialStock,
			Reference: "product:" + string(p.ID),
			Actor:     in.Actor.Name(),
		}); err != nil {
			return err
		}
		p.QuantityInStock = in.InitialStock
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("register product: %w", err)
	}

	if in.InitialStock != 0 {
		s.metrics.RecordMovement(string(ledger.ReasonInitialStock))
	}
	s.audit.Record(ctx, ledger.AuditEntry{
		Actor:      in.Actor.Name(),
		Action:     "product.create",
		EntityType: "product",
		EntityID:   string(p.ID),
		Changes: ledger.Diff(nil, map[string]any{
			"sku":               p.SKU,
			"name":              p.Name,
			"selling_price":     p.SellingPrice,
			"quantity_in_stock": p.QuantityInStock,
		}),
	})
	s.logger.WithFields(logrus.Fields{"op": "register", "product_id": p.ID, "initial_stock": in.InitialStock}).Info("product registered")
	return p, nil
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

type Mode string

const (
	ModeDelta Mode = "delta"
	ModeSet   Mode = "set"
)

type AdjustInput struct {
	Actor     ledger.Actor
	ProductID ledger.ProductID
	Mode      Mode
	// Quantity is the signed delta in ModeDelta and the target in ModeSet.
	Quantity int64
	// Reason defaults to manual_adjustment (delta) or stock_count (set).
	Reason    ledger.MovementReason
	Reference string
	Notes     string
}

type AdjustResult struct {
	Product  *ledger.Product
	Delta    int64
	Movement *ledger.StockMovement // nil when the stock did not change
}

func (in *AdjustInput) normalize() error {
	if in.ProductID == "" {
		return ledger.Invalid("product_id", "required")
	}
	switch in.Mode {
	case "", ModeDelta:
		in.Mode = ModeDelta
		if in.Quantity == 0 {
			return ledger.Invalid("quantity", "delta must be non-zero")
		}
		if in.Reason == "" {
			in.Reason = ledger.ReasonManualAdjustment
		}
	case ModeSet:
		if in.Quantity < 0 {
			return ledger.Invalid("quantity", "target stock must be >= 0, got %d", in.Quantity)
		}
		if in.Reason == "" {
			in.Reason = ledger.ReasonStockCount
		}
	default:
		return ledger.Invalid("mode", "unknown mode %q", in.Mode)
	}
	if in.Reason != ledger.ReasonManualAdjustment && in.Reason != ledger.ReasonStockCount {
		return ledger.Invalid("reason", "manual adjustments use %s or %s", ledger.ReasonManualAdjustment, ledger.ReasonStockCount)
	}
	return nil
}

// Adjust applies a manual stock change and its movement in one unit.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (*AdjustResult, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	res := &AdjustResult{}
	var before int64
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		p, err := tx.LockProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		before = p.QuantityInStock

		delta := in.Quantity
		if in.Mode == ModeSet {
			if delta, _, err = ledger.SetStock(ctx, tx, in.ProductID, in.Quantity); err != nil {
				return err
			}
		} else if _, err := ledger.AdjustStock(ctx, tx, in.ProductID, delta); err != nil {
			return err
		}

		if delta != 0 {
			m, err := ledger.RecordMovement(ctx, tx, ledger.StockMovement{
				ProductID: in.ProductID,
				Delta:     delta,
				Reason:    in.Reason,
				Reference: in.Reference,
				Actor:     in.Actor.Name(),
				Notes:     in.Notes,
			})
			if err != nil {
				return err
			}
			res.Movement = m
		}
		res.Delta = delta
		res.Product, err = tx.GetProduct(ctx, in.ProductID)
		return err
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{"op": "adjust", "product_id": in.ProductID, "mode": in.Mode}).WithError(err).Debug("adjustment rejected")
		return nil, fmt.Errorf("adjust stock: %w", err)
	}
	if res.Movement == nil {
		return res, nil
	}

	s.metrics.RecordMovement(string(in.Reason))
	s.audit.Record(ctx, ledger.AuditEntry{
		Actor:      in.Actor.Name(),
		Action:     "stock.adjust",
		EntityType: "product",
		EntityID:   string(in.ProductID),
		Changes: ledger.Diff(
			map[string]any{"quantity_in_stock": before},
			map[string]any{"quantity_in_stock": res.Product.QuantityInStock, "reason": string(in.Reason)},
		),
	})
	return res, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) Get(ctx context.Context, id ledger.ProductID) (*ledger.Product, error) {
	return s.store.GetProduct(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]ledger.Product, error) {
	return s.store.ListProducts(ctx)
}

// Movements returns the movement log newest first.
func (s *Service) Movements(ctx context.Context, filter ledger.MovementFilter) ([]ledger.StockMovement, error) {
	return s.store.ListMovements(ctx, filter)
}
