// Package http provides HTTP routing and middleware configuration
// for the session vault service.
package http

import (
	"net/http"

	"github.com/atinyakov/sessionvault/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs and returns an HTTP handler that serves
// the session vault API.
//
// Parameters:
//
//	sessionHandler - handler for the session and lock endpoints
//	eventsHandler  - websocket stream of state changes
//	metrics        - Prometheus exposition handler; nil disables /metrics
//	logger         - structured logger for request logging middleware
//
// Routes:
//
//	GET    /api/status    → sessionHandler.Status
//	GET    /api/session   → sessionHandler.RestoreSession
//	PUT    /api/session   → sessionHandler.SetSession
//	POST   /api/lock      → sessionHandler.Lock
//	POST   /api/unlock    → sessionHandler.Unlock
//	DELETE /api/vault     → sessionHandler.Clear
//	PUT    /api/lock-mode → sessionHandler.SetLockMode
//	GET    /api/events    → eventsHandler
//	GET    /metrics       → metrics
func NewRouter(
	sessionHandler *SessionHandler,
	eventsHandler http.Handler,
	metrics http.Handler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Log each request and its metadata
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(chiMiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		// Only allow request bodies with Content-Type: application/json
		r.Use(chiMiddleware.AllowContentType("application/json"))

		r.Get("/status", sessionHandler.Status)
		r.Get("/session", sessionHandler.RestoreSession)
		r.Put("/session", sessionHandler.SetSession)
		r.Post("/lock", sessionHandler.Lock)
		r.Post("/unlock", sessionHandler.Unlock)
		r.Delete("/vault", sessionHandler.Clear)
		r.Put("/lock-mode", sessionHandler.SetLockMode)
		r.Method(http.MethodGet, "/events", eventsHandler)
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	return r
}
