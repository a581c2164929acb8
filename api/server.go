/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind the proxy
  3. Logger:     zap request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the dashboards

ROUTE GROUPS:
  /healthz              Liveness + store ping (public)
  /api/auth/sign-in     Public
  /api/scenarios/*      Demo data, only with RouterOptions.Scenarios
  everything else       Bearer token required; roles checked by the services

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Request logging and authentication
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions tune the middleware stack.
type RouterOptions struct {
	CORSOrigins []string // default "*"
	Scenarios   bool     // route /api/scenarios (never in production)
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/sign-in", h.SignIn)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)

			// Auth routes
			r.Route("/auth", func(r chi.Router) {
				r.Post("/sign-out", h.SignOut)
				r.Get("/me", h.Me)
				r.Put("/password", h.ChangePassword)
			})

			// Catalog routes
			r.Route("/products", func(r chi.Router) {
				r.Get("/", h.ListProducts)
				r.Post("/", h.CreateProduct)
				r.Get("/{id}", h.GetProduct)
				r.Patch("/{id}", h.UpdateProduct)
				r.Delete("/{id}", h.DeleteProduct)
				r.Get("/{id}/batches", h.ListProductBatches)
			})
			r.Route("/oil-batches", func(r chi.Router) {
				r.Get("/", h.ListOilBatches)
				r.Post("/", h.CreateOilBatch)
				r.Get("/{id}", h.GetOilBatch)
				r.Patch("/{id}", h.UpdateOilBatch)
				r.Delete("/{id}", h.DeleteOilBatch)
			})
			r.Route("/users", func(r chi.Router) {
				r.Get("/", h.ListUsers)
				r.Post("/", h.RegisterUser)
				r.Get("/{id}", h.GetUser)
				r.Patch("/{id}", h.UpdateUser)
				r.Delete("/{id}", h.DeleteUser)
				r.Put("/{id}/password", h.SetUserPassword)
			})

			// Ledger routes
			r.Post("/production", h.RecordProduction)
			r.Route("/batches", func(r chi.Router) {
				r.Get("/{id}", h.GetBatch)
				r.Post("/{id}/fulfillments", h.RecordFulfillment)
			})
			r.Route("/inventory", func(r chi.Router) {
				r.Get("/", h.InventorySummary)
				r.Get("/{acronym}", h.GetInventory)
				r.Get("/{acronym}/adjustments", h.ListAdjustments)
				r.Post("/{acronym}/adjustments", h.AdjustInventory)
			})
			r.Route("/logs", func(r chi.Router) {
				r.Get("/production", h.ProductionLogs)
				r.Get("/fulfillment", h.FulfillmentLogs)
			})

			// Retail request routes
			r.Route("/requests", func(r chi.Router) {
				r.Get("/", h.ListRequests)
				r.Post("/", h.CreateRequest)
				r.Get("/{id}", h.GetRequest)
				r.Post("/{id}/fulfill", h.FulfillRequest)
				r.Post("/{id}/cancel", h.CancelRequest)
			})

			// Admin routes
			r.Get("/reports", h.Report)
			r.Route("/reconciliation", func(r chi.Router) {
				r.Get("/", h.Reconcile)
				r.Get("/last", h.LastReconciliation)
			})

			if opts.Scenarios {
				r.Get("/scenarios", h.ListScenarios)
				r.Post("/scenarios/load", h.LoadScenario)
			}
		})
	})

	return r
}
