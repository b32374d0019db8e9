// Package http provides HTTP handlers exposing the session manager.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atinyakov/sessionvault/internal/models"
	"github.com/atinyakov/sessionvault/internal/securestore"
	"github.com/atinyakov/sessionvault/internal/service"
	"go.uber.org/zap"
)

// SessionService defines the session manager operations required by the
// SessionHandler.
type SessionService interface {
	// SetSession stores value as the session record.
	SetSession(ctx context.Context, value string) error
	// RestoreSession reads the session record, nil when absent.
	RestoreSession(ctx context.Context) (*string, error)
	// Lock locks the vault.
	Lock(ctx context.Context) error
	// Unlock runs the unlock flow of the current lock mode.
	Unlock(ctx context.Context) error
	// Clear erases the record and resets the lock mode.
	Clear(ctx context.Context) error
	// SetLockMode switches the vault policy.
	SetLockMode(ctx context.Context, mode models.LockMode) error
	// Snapshot returns the current state.
	Snapshot() service.State
}

// ErrorObserver receives every failed operation, e.g. a metrics collector.
type ErrorObserver interface {
	ObserveError(err error)
}

// SessionHandler handles HTTP requests against one session manager.
type SessionHandler struct {
	// Service performs the session operations.
	Service SessionService
	// Errors is optional.
	Errors ErrorObserver
	// Logger is optional.
	Logger *zap.Logger
}

type sessionBody struct {
	Value *string `json:"value"`
}

type lockModeBody struct {
	Mode models.LockMode `json:"mode"`
}

type unlockBody struct {
	Passcode string `json:"passcode"`
}

// Status handles GET /api/status and writes the current State.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Snapshot())
}

// SetSession handles PUT /api/session with body {"value": "..."}.
func (h *SessionHandler) SetSession(w http.ResponseWriter, r *http.Request) {
	var req sessionBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.Service.SetSession(r.Context(), *req.Value); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Service.Snapshot())
}

// RestoreSession handles GET /api/session and writes {"value": ...}, with a
// null value when no record exists.
func (h *SessionHandler) RestoreSession(w http.ResponseWriter, r *http.Request) {
	value, err := h.Service.RestoreSession(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionBody{Value: value})
}

// Lock handles POST /api/lock.
func (h *SessionHandler) Lock(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Lock(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Service.Snapshot())
}

// Unlock handles POST /api/unlock. An optional body {"passcode": "..."}
// answers a passcode challenge.
func (h *SessionHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.ContentLength != 0 {
		var req unlockBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if req.Passcode != "" {
			ctx = securestore.WithPasscode(ctx, req.Passcode)
		}
	}
	if err := h.Service.Unlock(ctx); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Service.Snapshot())
}

// Clear handles DELETE /api/vault.
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Clear(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Service.Snapshot())
}

// SetLockMode handles PUT /api/lock-mode with body {"mode": "..."}.
func (h *SessionHandler) SetLockMode(w http.ResponseWriter, r *http.Request) {
	var req lockModeBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.Service.SetLockMode(r.Context(), req.Mode); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Service.Snapshot())
}

func (h *SessionHandler) fail(w http.ResponseWriter, err error) {
	if h.Errors != nil {
		h.Errors.ObserveError(err)
	}
	code := statusFor(err)
	if code >= http.StatusInternalServerError && h.Logger != nil {
		h.Logger.Error("session operation failed", zap.Error(err))
	}
	http.Error(w, err.Error(), code)
}

// statusFor maps a manager error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnlockFailed):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrReconfigureRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, securestore.ErrLocked):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
