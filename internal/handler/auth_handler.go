package handler

import (
	"net/http"

	"tenant-console/internal/model"
	"tenant-console/internal/util"
)

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, user, err := h.backend.Login(req.Email, req.Password)
	if err != nil {
		h.respondWithError(w, http.StatusUnauthorized, err, "Invalid email or password")
		return
	}

	h.respondWithJSON(w, http.StatusOK, model.LoginResponse{Token: token, User: user})
	h.logger.Info("User logged in via HTTP", util.String("user_id", user.ID))
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.backend.Register(req)
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to register user")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, resp)
	h.logger.Info("User registered via HTTP", util.String("user_id", resp.User.ID))
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token, ok := bearerToken(r); ok {
		h.backend.Revoke(token)
	}
	h.respondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, model.HealthStatus{
		Status:    "healthy",
		Version:   Version,
		Timestamp: h.backend.Now(),
	})
}
