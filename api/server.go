/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. RequestID:  Unique ID per request for tracing
  5. CORS:       Cross-origin requests for the back-office frontend
  6. RateLimit:  Per-IP limit on endpoints that post movements

ROUTE GROUPS:
  /api/collectors/*     Commission runs, remuneration, history
  /api/batches/*        Multi-collector runs
  /api/calculations/*   Calculation detail
  /api/parameters       Commission parameters
  /api/rubrics          Remuneration rubrics
  /api/accounts/*       Ledger reads
  /api/scenarios/*      Demo data sets
  /health               Liveness

SECURITY NOTE:
  No authentication middleware. Deploy behind the institution's gateway.

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

// NewRouter creates a new router with all routes configured. A nil limiter
// disables rate limiting.
func NewRouter(h *Handler, limiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// limited applies the rate limiter to a route group.
	limited := func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
	}

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Collector routes
		r.Route("/collectors/{id}", func(r chi.Router) {
			r.Get("/calculations", h.ListCalculations)
			r.Get("/remunerations", h.ListRemunerations)
			r.Get("/rubrics", h.ListRubrics)
			r.Get("/accounts", h.ListCollectorAccounts)

			r.Group(func(r chi.Router) {
				limited(r)
				r.Post("/commissions", h.ProcessCommissions)
				r.Post("/remunerations", h.Remunerate)
			})
		})

		// Batch routes
		r.Route("/batches", func(r chi.Router) {
			limited(r)
			r.Post("/commissions", h.RunBatch)
		})

		r.Get("/calculations/{id}", h.GetCalculation)

		// Configuration routes
		r.Post("/parameters", h.CreateParameter)
		r.Post("/rubrics", h.CreateRubric)

		// Ledger routes
		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/", h.GetAccount)
			r.Get("/movements", h.GetMovements)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
