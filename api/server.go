/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. requestLog: Structured request logging via slog
  4. CORS:       Cross-origin requests for the desktop webview

ROUTE GROUPS:
  /api/changes/*       Pending-change ledger
  /api/sync/*          Flush and device identity
  /api/mode            Edit-mode switch
  /api/accounts/*      Per-account reconciliation wizard
  /api/installments/*  Installment plan preview and creation
  /api/budgets         Local budget bundle discovery

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, log *slog.Logger) *chi.Mux {
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLog(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:1420", "tauri://localhost", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Ledger routes
		r.Route("/changes", func(r chi.Router) {
			r.Get("/", h.ListChanges)
			r.Post("/", h.RecordChange)
			r.Delete("/", h.ClearChanges)
			r.Get("/state", h.GetLedgerState)
			r.Delete("/{id}", h.DiscardChange)
		})

		// Sync routes
		r.Route("/sync", func(r chi.Router) {
			r.Post("/", h.TriggerSync)
			r.Get("/device", h.GetDevice)
		})

		// Edit-mode switch
		r.Get("/mode", h.GetMode)
		r.Put("/mode", h.SetMode)

		// Reconciliation routes
		r.Route("/accounts/{accountID}/reconciliation", func(r chi.Router) {
			r.Post("/", h.StartReconciliation)
			r.Get("/", h.GetReconciliation)
			r.Delete("/", h.CancelReconciliation)
			r.Post("/statement", h.ConfirmStatement)
			r.Post("/toggle/{transactionID}", h.ToggleTransaction)
			r.Post("/adjustment", h.CreateAdjustment)
			r.Post("/finish", h.FinishReconciliation)
		})

		// Installment routes
		r.Route("/installments", func(r chi.Router) {
			r.Post("/", h.CreateInstallment)
			r.Post("/preview", h.PreviewInstallment)
		})

		// Budget discovery
		r.Get("/budgets", h.ListBudgets)
	})

	return r
}

// requestLog logs every request with method, path, status and duration.
func requestLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
