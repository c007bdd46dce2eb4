package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tenant-console/internal/model"
	"tenant-console/internal/util"
)

const (
	defaultLogLimit = 10
	maxLogLimit     = 100
)

func (h *Handler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, h.backend.ListCompanies())
}

func (h *Handler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var in model.CompanyInput
	if !h.decode(w, r, &in) {
		return
	}

	company, err := h.backend.CreateCompany(in, actor(r))
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to create company")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, company)
	h.logger.Info("Company created via HTTP", util.String("company_id", company.ID))
}

func (h *Handler) UpdateCompany(w http.ResponseWriter, r *http.Request) {
	var in model.CompanyInput
	if !h.decode(w, r, &in) {
		return
	}

	company, err := h.backend.UpdateCompany(chi.URLParam(r, "companyID"), in, actor(r))
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to update company")
		return
	}
	h.respondWithJSON(w, http.StatusOK, company)
}

func (h *Handler) CompanyApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := h.backend.CompanyApplications(chi.URLParam(r, "companyID"))
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to list company applications")
		return
	}
	h.respondWithJSON(w, http.StatusOK, apps)
}

func (h *Handler) ConfigureApplication(w http.ResponseWriter, r *http.Request) {
	var creds model.AppCredentials
	if !h.decode(w, r, &creds) {
		return
	}

	companyID, appID := chi.URLParam(r, "companyID"), chi.URLParam(r, "appID")
	app, err := h.backend.ConfigureApplication(companyID, appID, creds, actor(r))
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to configure application")
		return
	}

	h.respondWithJSON(w, http.StatusOK, app)
	h.logger.Info("Application configured via HTTP",
		util.String("company_id", companyID),
		util.String("app_id", appID),
	)
}

func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	result, err := h.backend.TestConnection(chi.URLParam(r, "companyID"), chi.URLParam(r, "appID"), actor(r))
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to test connection")
		return
	}
	h.respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) CompanyUsers(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	if _, err := h.backend.CompanyApplications(companyID); err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to list company users")
		return
	}
	h.respondWithJSON(w, http.StatusOK, h.backend.ListUsers(model.UserFilter{CompanyID: companyID}))
}

func (h *Handler) InviteUser(w http.ResponseWriter, r *http.Request) {
	var invite model.Invite
	if !h.decode(w, r, &invite) {
		return
	}

	result, err := h.backend.Invite(chi.URLParam(r, "companyID"), invite, actor(r))
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to invite user")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, result)
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.backend.DashboardStats(chi.URLParam(r, "companyID"))
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to load dashboard")
		return
	}
	h.respondWithJSON(w, http.StatusOK, stats)
}

func (h *Handler) ActivityLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.respondWithError(w, http.StatusBadRequest, ErrInvalid, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}

	logs, err := h.backend.ActivityLogs(chi.URLParam(r, "companyID"), limit)
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to load activity logs")
		return
	}
	h.respondWithJSON(w, http.StatusOK, logs)
}
