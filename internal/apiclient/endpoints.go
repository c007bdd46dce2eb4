package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"tenant-console/internal/model"
	"tenant-console/internal/storage"
)

// Durable keys written on behalf of the session.
const (
	UserDataKey       = "user_data"
	CurrentCompanyKey = "current_company"
)

// -------------------- AUTH --------------------

// Login exchanges credentials for a session token, stores it through the
// session store and persists the user profile.
func (c *Client) Login(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	var out model.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", model.LoginRequest{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, ErrNoToken
	}
	if err := c.startSession(ctx, out.Token, out.User); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account. When the backend also logs the user in, the
// returned token is stored like Login does.
func (c *Client) Register(ctx context.Context, req model.RegisterRequest) (*model.RegisterResponse, error) {
	var out model.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", req, &out); err != nil {
		return nil, err
	}
	if out.Token != "" {
		if err := c.startSession(ctx, out.Token, out.User); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

// Logout asks the backend to revoke the session and then clears local state
// regardless of the outcome. The revoke error, if any, is returned after the
// local cleanup.
func (c *Client) Logout(ctx context.Context) error {
	_, revokeErr := c.Request(ctx, "/auth/logout", http.MethodPost, nil, nil)
	if revokeErr != nil {
		c.logger.Warn("Logout could not be confirmed by the backend", zap.Error(revokeErr))
	}

	if c.session != nil {
		if err := c.session.ClearToken(ctx); err != nil {
			c.logger.Error("Failed to clear local session", zap.Error(err))
		}
	}
	if err := c.store.Delete(ctx, UserDataKey, CurrentCompanyKey); err != nil {
		c.logger.Error("Failed to clear persisted profile", zap.Error(err))
	}
	if err := c.ClearCache(ctx, ""); err != nil {
		c.logger.Error("Failed to clear response cache", zap.Error(err))
	}
	return revokeErr
}

func (c *Client) startSession(ctx context.Context, token string, user model.User) error {
	if c.session != nil {
		if err := c.session.StoreToken(ctx, token, 0); err != nil {
			return err
		}
	}
	profile, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return storage.Wrap("set", UserDataKey, c.store.Set(ctx, UserDataKey, string(profile), 0))
}

// CurrentUser returns the persisted profile of the logged-in user.
func (c *Client) CurrentUser(ctx context.Context) (*model.User, error) {
	raw, err := c.store.Get(ctx, UserDataKey)
	if err != nil {
		return nil, storage.Wrap("get", UserDataKey, err)
	}
	var user model.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SelectCompany persists the company the console is working on.
func (c *Client) SelectCompany(ctx context.Context, company model.Company) error {
	raw, err := json.Marshal(company)
	if err != nil {
		return err
	}
	return storage.Wrap("set", CurrentCompanyKey, c.store.Set(ctx, CurrentCompanyKey, string(raw), 0))
}

// -------------------- COMPANIES --------------------

func (c *Client) ListCompanies(ctx context.Context) ([]model.Company, error) {
	var out []model.Company
	if err := c.do(ctx, http.MethodGet, "/companies", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateCompany(ctx context.Context, in model.CompanyInput) (*model.Company, error) {
	var out model.Company
	if err := c.do(ctx, http.MethodPost, "/companies", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateCompany(ctx context.Context, companyID string, in model.CompanyInput) (*model.Company, error) {
	var out model.Company
	if err := c.do(ctx, http.MethodPut, "/companies/"+url.PathEscape(companyID), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListCompanyApplications(ctx context.Context, companyID string) ([]model.CompanyApplication, error) {
	var out []model.CompanyApplication
	if err := c.do(ctx, http.MethodGet, companyPath(companyID, "applications"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ConfigureCompanyApplication(ctx context.Context, companyID, appID string, creds model.AppCredentials) (*model.CompanyApplication, error) {
	var out model.CompanyApplication
	path := companyPath(companyID, "applications", appID, "configure")
	if err := c.do(ctx, http.MethodPost, path, creds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TestApplicationConnection(ctx context.Context, companyID, appID string) (*model.ConnectionTestResult, error) {
	var out model.ConnectionTestResult
	path := companyPath(companyID, "applications", appID, "test-connection")
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CompanyUsers(ctx context.Context, companyID string) ([]model.User, error) {
	var out []model.User
	if err := c.do(ctx, http.MethodGet, companyPath(companyID, "users"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) InviteUser(ctx context.Context, companyID string, invite model.Invite) (*model.InviteResult, error) {
	var out model.InviteResult
	if err := c.do(ctx, http.MethodPost, companyPath(companyID, "invite"), invite, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DashboardStats(ctx context.Context, companyID string) (*model.DashboardStats, error) {
	var out model.DashboardStats
	if err := c.do(ctx, http.MethodGet, companyPath(companyID, "dashboard"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActivityLogs returns the latest limit entries; limit <= 0 means 10.
func (c *Client) ActivityLogs(ctx context.Context, companyID string, limit int) ([]model.ActivityLog, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []model.ActivityLog
	path := companyPath(companyID, "logs") + "?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// -------------------- APPLICATIONS --------------------

func (c *Client) ListApplications(ctx context.Context) ([]model.Application, error) {
	var out []model.Application
	if err := c.do(ctx, http.MethodGet, "/applications", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateApplication(ctx context.Context, in model.ApplicationInput) (*model.Application, error) {
	var out model.Application
	if err := c.do(ctx, http.MethodPost, "/applications", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// -------------------- USERS --------------------

func (c *Client) ListUsers(ctx context.Context, filter model.UserFilter) ([]model.User, error) {
	query := url.Values{}
	if filter.CompanyID != "" {
		query.Set("company_id", filter.CompanyID)
	}
	if filter.Role != "" {
		query.Set("role", filter.Role)
	}
	if filter.Active != nil {
		query.Set("active", strconv.FormatBool(*filter.Active))
	}

	path := "/usuarios"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var out []model.User
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateUser(ctx context.Context, in model.UserInput) (*model.User, error) {
	var out model.User
	if err := c.do(ctx, http.MethodPost, "/usuarios", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateUser(ctx context.Context, userID string, in model.UserInput) (*model.User, error) {
	var out model.User
	if err := c.do(ctx, http.MethodPut, "/usuarios/"+url.PathEscape(userID), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, "/usuarios/"+url.PathEscape(userID), nil, nil)
}

// -------------------- SYSTEM --------------------

func (c *Client) HealthCheck(ctx context.Context) (*model.HealthStatus, error) {
	var out model.HealthStatus
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func companyPath(companyID string, segments ...string) string {
	path := "/companies/" + url.PathEscape(companyID)
	for _, s := range segments {
		path += "/" + url.PathEscape(s)
	}
	return path
}
