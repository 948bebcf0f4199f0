/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and every route. This is
  the wiring layer that connects URLs to handlers and each handler to the
  capability it needs.

MIDDLEWARE STACK:
  1. RequestID:  unique id per request, echoed in logs
  2. RealIP
  3. logRequests: one logrus line per request
  4. Recoverer:  panic → 500 instead of crash
  5. CORS
  6. measure:    prometheus request counter + latency histogram
  /api/* additionally runs authenticate, and each route its require(op).

ROUTE GROUPS:
  /api/products/*          inventory
  /api/sales/*             sales
  /api/purchase-orders/*   purchasing
  /api/suppliers|customers|inquiries/*   reference rows
  /api/payments/*          money events
  /api/reconciliation/*    check / repair / runs
  /api/reports/*           xlsx exports
  /api/scenarios/*         demo data
  /health, /metrics        unauthenticated

SEE ALSO:
  - auth.go: authenticate / require
  - handlers.go, handlers_money.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/backoffice/access"
	"github.com/warp/backoffice/inventory"
	"github.com/warp/backoffice/ledger"
	"github.com/warp/backoffice/metrics"
	"github.com/warp/backoffice/payments"
	"github.com/warp/backoffice/purchasing"
	"github.com/warp/backoffice/sales"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// AuthOptions configures authenticate.
type AuthOptions struct {
	JWTSecret string
	Disabled  bool
}

// Options carries the collaborators NewHandler wires into the services.
type Options struct {
	Logger          logrus.FieldLogger
	Metrics         *metrics.Metrics
	Policy          *access.Policy
	ReceiveFallback purchasing.Fallback
	Auth            AuthOptions
	CORSOrigins     []string
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      ledger.Store
	Audit      *ledger.AuditRecorder
	Inventory  *inventory.Service
	Sales      *sales.Service
	Purchasing *purchasing.Service
	Payments   *payments.Service
	Reconciler *ledger.Reconciler
	Policy     *access.Policy
	Metrics    *metrics.Metrics
	Logger     logrus.FieldLogger

	auth        AuthOptions
	corsOrigins []string
	validate    *validator.Validate

	// Track currently loaded scenario
	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler builds every service on top of store.
func NewHandler(store ledger.Store, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	policy := opts.Policy
	if policy == nil {
		policy = access.DefaultPolicy()
	}
	audit := ledger.NewAuditRecorder(store, logger, opts.Metrics)

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		Store:       store,
		Audit:       audit,
		Inventory:   inventory.New(store, audit, logger, opts.Metrics),
		Sales:       sales.New(store, audit, logger, opts.Metrics),
		Purchasing:  purchasing.New(store, audit, logger, opts.Metrics, opts.ReceiveFallback),
		Payments:    payments.New(store, audit, logger),
		Reconciler:  ledger.NewReconciler(store, audit, logger, opts.Metrics),
		Policy:      policy,
		Metrics:     opts.Metrics,
		Logger:      logger.WithField("module", "api"),
		auth:        opts.Auth,
		corsOrigins: opts.CORSOrigins,
		validate:    v,
	}
}

// =============================================================================
// ROUTER
// =============================================================================

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	origins := h.corsOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID", "X-Actor-Role"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}))
	r.Use(h.measure)

	r.Get("/health", h.Health)
	r.Handle("/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(h.authenticate)

		r.Route("/products", func(r chi.Router) {
			r.With(h.require(access.ProductCreate)).Post("/", h.CreateProduct)
			r.With(h.require(access.ProductRead)).Get("/", h.ListProducts)
			r.With(h.require(access.ProductRead)).Get("/{id}", h.GetProduct)
			r.With(h.require(access.ProductRead)).Get("/{id}/movements", h.ListProductMovements)
			r.With(h.require(access.StockAdjust)).Post("/{id}/adjust", h.AdjustStock)
		})

		r.Route("/sales", func(r chi.Router) {
			r.With(h.require(access.SaleCreate)).Post("/", h.CreateSale)
			r.With(h.require(access.SaleRead)).Get("/{id}", h.GetSale)
			r.With(h.require(access.SaleRead)).Get("/{id}/overrides", h.ListPriceOverrides)
			r.With(h.require(access.SaleUpdate)).Put("/{id}", h.UpdateSale)
			r.With(h.require(access.SaleDelete)).Delete("/{id}", h.DeleteSale)
		})

		r.Route("/purchase-orders", func(r chi.Router) {
			r.With(h.require(access.OrderCreate)).Post("/", h.CreateOrder)
			r.With(h.require(access.OrderRead)).Get("/{id}", h.GetOrder)
			r.With(h.require(access.OrderRead)).Get("/{id}/payments", h.ListOrderPayments)
			r.With(h.require(access.OrderPlace)).Post("/{id}/place", h.PlaceOrder)
			r.With(h.require(access.OrderCancel)).Post("/{id}/cancel", h.CancelOrder)
			r.With(h.require(access.OrderReceive)).Post("/{id}/receive", h.ReceiveOrder)
			r.With(h.require(access.OrderComplete)).Post("/{id}/complete", h.CompleteOrder)
		})

		r.Route("/suppliers", func(r chi.Router) {
			r.With(h.require(access.PartyCreate)).Post("/", h.CreateSupplier)
			r.With(h.require(access.PartyRead)).Get("/{id}", h.GetSupplier)
		})
		r.Route("/customers", func(r chi.Router) {
			r.With(h.require(access.PartyCreate)).Post("/", h.CreateCustomer)
			r.With(h.require(access.PartyRead)).Get("/{id}", h.GetCustomer)
			r.With(h.require(access.PartyRead)).Get("/{id}/credit", h.ListCreditEvents)
			r.With(h.require(access.CreditAdjust)).Post("/{id}/credit", h.AdjustCredit)
		})
		r.Route("/inquiries", func(r chi.Router) {
			r.With(h.require(access.PartyCreate)).Post("/", h.CreateInquiry)
			r.With(h.require(access.PartyRead)).Get("/{id}", h.GetInquiry)
		})

		r.Route("/payments", func(r chi.Router) {
			r.With(h.require(access.PaymentSupplier)).Post("/supplier", h.RecordSupplierPayment)
			r.With(h.require(access.PaymentCustomer)).Post("/customer", h.RecordCustomerPayment)
			r.With(h.require(access.PaymentInquiry)).Post("/inquiry", h.RecordInquiryPayment)
		})

		r.Route("/reconciliation", func(r chi.Router) {
			r.With(h.require(access.ReconcileCheck)).Get("/", h.CheckReconciliation)
			r.With(h.require(access.ReconcileRepair)).Post("/repair", h.RepairReconciliation)
			r.With(h.require(access.ReconcileCheck)).Get("/runs", h.ListReconciliationRuns)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Use(h.require(access.ReportExport))
			r.Get("/movements.xlsx", h.ExportMovements)
			r.Get("/reconciliation.xlsx", h.ExportReconciliation)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.With(h.require(access.ProductRead)).Get("/", h.ListScenarios)
			r.With(h.require(access.ProductRead)).Get("/current", h.GetCurrentScenario)
			r.With(h.require(access.ScenarioLoad)).Post("/load", h.LoadScenario)
		})
	})

	return r
}

// Health reports liveness and whether the store answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Store.ListReconciliationRuns(r.Context(), 1); err != nil {
		h.fail(w, r, "health", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.Logger.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
		}).Info("request")
	})
}

func (h *Handler) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.Metrics.RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}
