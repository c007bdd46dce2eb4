package handler

import (
	"net/http"

	"tenant-console/internal/model"
)

func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, h.backend.ListApplications())
}

func (h *Handler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	var in model.ApplicationInput
	if !h.decode(w, r, &in) {
		return
	}

	app, err := h.backend.CreateApplication(in)
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to create application")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, app)
}
