/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the frontend

AUTHENTICATION:
  Session mechanics live outside this module. The acting user arrives
  as a trusted X-User-ID header set by the edge; a missing header is an
  unauthenticated request.

ROUTE GROUPS:
  /api/users/*      Accounts and balances
  /api/books/*      Listings and exchange requests
  /api/exchanges/*  Exchange lifecycle transitions

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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/exchanges", h.ListUserExchanges)
		})

		// Book routes
		r.Route("/books", func(r chi.Router) {
			r.Get("/", h.ListBooks)
			r.Post("/", h.CreateBook)
			r.Get("/{id}", h.GetBook)
			r.Post("/{id}/exchanges", h.RequestExchange)
		})

		// Exchange lifecycle routes
		r.Route("/exchanges", func(r chi.Router) {
			r.Get("/{id}", h.GetExchange)
			r.Post("/{id}/approve", h.ApproveExchange)
			r.Post("/{id}/reject", h.RejectExchange)
			r.Post("/{id}/cancel", h.CancelExchange)
			r.Post("/{id}/dispute", h.DisputeExchange)
		})
	})

	return r
}
