package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	apiMiddleware "github.com/snapforge/snapforge-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	// Register routes
	r.Route("/api", func(r chi.Router) {
		// Ingestion is rate limited per client; reads are not
		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.RateLimit(app.rateLimiter))
			r.Post("/requests", app.requestHandler.CreateRequest)
		})

		r.Get("/requests/{id}", app.requestHandler.GetRequestStatus)
		r.Get("/requests/{id}/export", app.requestHandler.ExportRequestCSV)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
