package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tenant-console/internal/model"
	"tenant-console/internal/util"
)

// ListUsers handles GET /usuarios with optional company_id, role and active filters.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := model.UserFilter{
		CompanyID: query.Get("company_id"),
		Role:      query.Get("role"),
	}
	if raw := query.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, ErrInvalid, "active must be a boolean")
			return
		}
		filter.Active = &active
	}
	h.respondWithJSON(w, http.StatusOK, h.backend.ListUsers(filter))
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var in model.UserInput
	if !h.decode(w, r, &in) {
		return
	}

	user, err := h.backend.CreateUser(in, actor(r))
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to create user")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, user)
	h.logger.Info("User created via HTTP", util.String("user_id", user.ID))
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var in model.UserInput
	if !h.decode(w, r, &in) {
		return
	}

	user, err := h.backend.UpdateUser(chi.URLParam(r, "userID"), in, actor(r))
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to update user")
		return
	}
	h.respondWithJSON(w, http.StatusOK, user)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.backend.DeleteUser(userID, actor(r)); err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to delete user")
		return
	}

	w.WriteHeader(http.StatusNoContent)
	h.logger.Info("User deleted via HTTP", util.String("user_id", userID))
}
