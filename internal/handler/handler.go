package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"tenant-console/internal/model"
	"tenant-console/internal/util"
)

type ctxKey int

const userKey ctxKey = iota

// Handler serves the tenant-manager API on top of a Backend.
type Handler struct {
	backend *Backend
	logger  *zap.Logger
}

func NewHandler(backend *Backend, logger *zap.Logger) *Handler {
	return &Handler{backend: backend, logger: util.OrNop(logger)}
}

// RequireAuth resolves the bearer token and stores the caller in the request context.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			h.respondWithError(w, http.StatusUnauthorized, ErrUnauthorized, "Missing bearer token")
			return
		}
		user, err := h.backend.Authenticate(token)
		if err != nil {
			h.respondWithError(w, http.StatusUnauthorized, err, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// actor returns the email of the authenticated caller.
func actor(r *http.Request) string {
	if user, ok := r.Context().Value(userKey).(model.User); ok {
		return user.Email
	}
	return ""
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return false
	}
	return true
}

// respondWithJSON sends a JSON response
func (h *Handler) respondWithJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *Handler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, model.ErrorResponse{Error: err.Error(), Message: message})
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
