/**
 * @description
 * This file sets up the HTTP router for the autotransfer-service using the
 * go-chi/chi router. It defines the internal CRUD routes for recurring
 * transfers and maps them to their handler functions.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new Chi router and registers the autotransfer-service routes.
func NewRouter(h *Handler, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Auto-transfer service is healthy"))
	})

	// Internal server-to-server routes
	r.Route("/internal/auto-transfers", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))

		r.Post("/", h.handleCreateTransfer)
		r.Get("/", h.handleListTransfers)
		r.Get("/{transferID}", h.handleGetTransfer)
		r.Put("/{transferID}", h.handleUpdateTransfer)
		r.Delete("/{transferID}", h.handleDeleteTransfer)
	})

	return r
}
