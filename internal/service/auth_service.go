package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tenant-console/internal/apiclient"
	"tenant-console/internal/model"
	"tenant-console/internal/security"
	"tenant-console/internal/util"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const companiesCacheKey = "companies"

// PasswordPolicyError lists every rule a proposed password breaks.
type PasswordPolicyError struct {
	Errors []string
	Score  int
}

func (e *PasswordPolicyError) Error() string {
	return "password policy violated: " + strings.Join(e.Errors, "; ")
}

// AuthService composes the session security core and the API client into
// the console's login, registration and dashboard flows.
type AuthService struct {
	security     *security.Manager
	api          *apiclient.Client
	logger       *zap.Logger
	companiesTTL time.Duration
}

func NewAuthService(sec *security.Manager, api *apiclient.Client, logger *zap.Logger) *AuthService {
	return &AuthService{
		security:     sec,
		api:          api,
		logger:       util.OrNop(logger),
		companiesTTL: 5 * time.Minute,
	}
}

// Login refuses locked-out identities, then authenticates against the
// backend. Rejected credentials count towards the lockout; success clears
// it.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	email = strings.TrimSpace(s.security.SanitizeInput(ctx, security.Field{Name: "email", Value: email}))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	if err := s.security.CheckLoginAttempts(ctx, email); err != nil {
		s.logger.Warn("Login refused while locked out", zap.Error(err))
		return nil, err
	}

	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		status := apiclient.StatusCode(err)
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			if recErr := s.security.RecordLoginAttempt(ctx, email, false); recErr != nil {
				s.logger.Error("Failed to record login attempt", zap.Error(recErr))
			}
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return nil, err
	}

	if err := s.security.RecordLoginAttempt(ctx, email, true); err != nil {
		s.logger.Error("Failed to clear login attempts", zap.Error(err))
	}

	s.logger.Info("User logged in", zap.String("user_id", resp.User.ID))
	return resp, nil
}

// Register enforces the password policy locally before anything is sent.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (*model.RegisterResponse, error) {
	report := s.security.ValidatePasswordStrength(req.Password)
	if !report.Valid {
		return nil, &PasswordPolicyError{Errors: report.Errors, Score: report.Score}
	}

	req.Name = strings.TrimSpace(s.security.SanitizeInput(ctx, security.Field{Name: "name", Value: req.Name}))
	req.Email = strings.TrimSpace(s.security.SanitizeInput(ctx, security.Field{Name: "email", Value: req.Email}))
	req.CompanyName = strings.TrimSpace(s.security.SanitizeInput(ctx, security.Field{Name: "company_name", Value: req.CompanyName}))
	if req.Name == "" || req.Email == "" {
		return nil, fmt.Errorf("%w: name and email are required", ErrInvalidInput)
	}

	resp, err := s.api.Register(ctx, req)
	if err != nil {
		return nil, err
	}

	s.logger.Info("User registered",
		zap.String("user_id", resp.User.ID),
		zap.Bool("logged_in", resp.Token != ""),
	)
	return resp, nil
}

// Logout always clears the local session; the returned error only reports
// whether the backend confirmed the revocation.
func (s *AuthService) Logout(ctx context.Context) error {
	return s.api.Logout(ctx)
}

// LoadDashboard fetches the company list, the company's applications and
// its statistics concurrently, each with retry. The company list is cached.
func (s *AuthService) LoadDashboard(ctx context.Context, companyID string) (*model.Dashboard, error) {
	if strings.TrimSpace(companyID) == "" {
		return nil, fmt.Errorf("%w: company id is required", ErrInvalidInput)
	}

	api := s.api.WithRetry(0)
	dashboard := &model.Dashboard{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		companies, err := s.companies(gctx, api)
		if err != nil {
			return fmt.Errorf("load companies: %w", err)
		}
		dashboard.Companies = companies
		return nil
	})

	g.Go(func() error {
		apps, err := api.ListCompanyApplications(gctx, companyID)
		if err != nil {
			return fmt.Errorf("load applications: %w", err)
		}
		dashboard.Applications = apps
		return nil
	})

	g.Go(func() error {
		stats, err := api.DashboardStats(gctx, companyID)
		if err != nil {
			return fmt.Errorf("load dashboard stats: %w", err)
		}
		dashboard.Stats = *stats
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Warn("Dashboard load failed", zap.String("company_id", companyID), zap.Error(err))
		return nil, err
	}

	for _, company := range dashboard.Companies {
		if company.ID == companyID {
			if err := s.api.SelectCompany(ctx, company); err != nil {
				s.logger.Warn("Failed to persist current company", zap.Error(err))
			}
			break
		}
	}

	return dashboard, nil
}

func (s *AuthService) companies(ctx context.Context, api *apiclient.Client) ([]model.Company, error) {
	var cached []model.Company
	hit, err := api.GetCache(ctx, companiesCacheKey, &cached)
	if err != nil {
		s.logger.Warn("Company cache unavailable", zap.Error(err))
	}
	if hit {
		return cached, nil
	}

	companies, err := api.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	if err := api.SetCache(ctx, companiesCacheKey, companies, s.companiesTTL); err != nil {
		s.logger.Warn("Failed to cache companies", zap.Error(err))
	}
	return companies, nil
}

// InvalidateCompanies drops the cached company list, e.g. after a company
// is created or renamed.
func (s *AuthService) InvalidateCompanies(ctx context.Context) error {
	return s.api.ClearCache(ctx, companiesCacheKey)
}
