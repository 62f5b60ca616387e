/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/resources/*     Catalog and availability
  /api/accounts/*      Accounts, journal, statements
  /api/reservations/*  Reservation lifecycle
  /api/orders/*        Line items for items/services
  /api/details/*       Order detail lifecycle
  /api/journal/*       Reversals
  /api/policies/*      Price policies
  /api/admin/*         Rules, exceptions, memberships, priority

SECURITY NOTE:
  No authentication middleware. Identity and authorization live in an
  upstream gateway.

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/resources", func(r chi.Router) {
			r.Get("/", h.ListResources)
			r.Post("/", h.CreateResource)
			r.Get("/{id}", h.GetResource)
			r.Get("/{id}/windows", h.GetWindows)
			r.Get("/{id}/reservations", h.ListResourceReservations)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}/details", h.ListAccountDetails)
			r.Get("/{id}/journal", h.ListJournal)
			r.Post("/{id}/journal-runs", h.RunJournal)
			r.Get("/{id}/statements", h.ListStatements)
			r.Post("/{id}/statements", h.GenerateStatement)
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.CreateReservation)
			r.Get("/{id}", h.GetReservation)
			r.Post("/{id}/cancel", h.CancelReservation)
			r.Post("/{id}/checkin", h.CheckInReservation)
			r.Post("/{id}/complete", h.CompleteReservation)
			r.Post("/{id}/missed", h.MarkMissed)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/items", h.OpenItem)
		})

		r.Route("/details", func(r chi.Router) {
			r.Get("/{id}", h.GetDetail)
			r.Post("/{id}/start", h.StartDetail)
			r.Post("/{id}/complete", h.CompleteDetail)
			r.Post("/{id}/problem", h.MarkDetailProblem)
			r.Post("/{id}/resolve", h.ResolveDetailProblem)
		})

		r.Route("/journal", func(r chi.Router) {
			r.Post("/{id}/reverse", h.ReverseJournalRow)
		})

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/rules", h.CreateRule)
			r.Post("/exceptions", h.CreateException)
			r.Post("/memberships", h.CreateMembership)
			r.Post("/priority", h.SetPriority)
		})
	})

	return r
}
