/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for internal dashboards

ROUTE GROUPS:
  /api/transactions/*   Ledger operations
  /api/accounts/*       Balances, history, audit
  /api/admin/*          Expiration cycle and run history
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. Callers are trusted internal services.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.ProcessTransaction)
			r.Get("/", h.ListTransactions)
			r.Get("/{id}", h.GetTransaction)
			r.Post("/{id}/reverse", h.ReverseTransaction)
		})

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/transactions", h.GetAccountTransactions)
			r.Get("/{id}/audit", h.AuditAccount)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/expiration", h.RunExpiration)
			r.Get("/expiration/runs", h.ListExpirationRuns)
		})
	})

	// Prometheus scrape endpoint
	r.Method("GET", "/metrics", h.Metrics.Handler())

	return r
}
