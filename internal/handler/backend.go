package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"tenant-console/internal/model"
	"tenant-console/internal/security"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalid      = errors.New("invalid request")
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

type account struct {
	model.User
	salt []byte
	hash []byte
}

type session struct {
	userID  string
	expires time.Time
}

type companyApp struct {
	configured   bool
	credentials  model.AppCredentials
	lastTestedAt *time.Time
	lastTestOK   bool
}

// Backend is the in-memory state of the mock tenant-manager API.
type Backend struct {
	mu sync.RWMutex

	accounts    map[string]*account // id -> account
	emails      map[string]string   // lower-cased email -> id
	sessions    map[string]session  // token -> session
	companies   map[string]*model.Company
	apps        map[string]*model.Application
	companyApps map[string]map[string]*companyApp // company id -> app id -> state
	activity    map[string][]model.ActivityLog    // company id -> newest last
	invites     map[string]model.InviteResult

	sessionTTL time.Duration
	now        func() time.Time
}

func NewBackend(sessionTTL time.Duration) *Backend {
	if sessionTTL <= 0 {
		sessionTTL = 30 * time.Minute
	}
	return &Backend{
		accounts:    make(map[string]*account),
		emails:      make(map[string]string),
		sessions:    make(map[string]session),
		companies:   make(map[string]*model.Company),
		apps:        make(map[string]*model.Application),
		companyApps: make(map[string]map[string]*companyApp),
		activity:    make(map[string][]model.ActivityLog),
		invites:     make(map[string]model.InviteResult),
		sessionTTL:  sessionTTL,
		now:         time.Now,
	}
}

// SetClock replaces the time source used for session expiry and timestamps.
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *Backend) Now() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.now()
}

// Seed creates the demo administrator, a demo company and the two
// applications the console integrates with.
func (b *Backend) Seed(email, password string) error {
	company, err := b.CreateCompany(model.CompanyInput{Name: "Omie Demo Ltda", CNPJ: "11222333000181", Email: email}, "system")
	if err != nil {
		return err
	}
	if _, err := b.CreateUser(model.UserInput{
		Name:      "Administrador",
		Email:     email,
		Password:  password,
		Role:      "admin",
		CompanyID: company.ID,
	}, "system"); err != nil {
		return err
	}

	for _, in := range []model.ApplicationInput{
		{Name: "Omie ERP", Description: "Omie ERP integration", Type: "omie"},
		{Name: "Nibo", Description: "Nibo accounting integration", Type: "nibo"},
	} {
		app, err := b.CreateApplication(in)
		if err != nil {
			return err
		}
		b.mu.Lock()
		b.companyApps[company.ID][app.ID] = &companyApp{}
		b.mu.Unlock()
	}
	return nil
}

// -------------------- AUTH --------------------

func (b *Backend) Login(email, password string) (string, model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.emails[normalizeEmail(email)]
	if !ok {
		return "", model.User{}, ErrUnauthorized
	}
	acct := b.accounts[id]
	if !acct.Active || !verifyPassword(password, acct.salt, acct.hash) {
		return "", model.User{}, ErrUnauthorized
	}

	token, err := b.issueToken(id)
	if err != nil {
		return "", model.User{}, err
	}
	b.logActivity(acct.CompanyID, "login", acct.Email)
	return token, acct.User, nil
}

func (b *Backend) Register(req model.RegisterRequest) (model.RegisterResponse, error) {
	b.mu.RLock()
	_, exists := b.emails[normalizeEmail(req.Email)]
	b.mu.RUnlock()
	if exists {
		return model.RegisterResponse{}, fmt.Errorf("%w: user %s", ErrConflict, normalizeEmail(req.Email))
	}

	var companyID string
	role := "member"
	if strings.TrimSpace(req.CompanyName) != "" {
		company, err := b.CreateCompany(model.CompanyInput{Name: req.CompanyName, Email: req.Email}, req.Email)
		if err != nil {
			return model.RegisterResponse{}, err
		}
		companyID = company.ID
		role = "admin"
	}

	user, err := b.CreateUser(model.UserInput{
		Name:      req.Name,
		Email:     req.Email,
		Password:  req.Password,
		Role:      role,
		CompanyID: companyID,
	}, req.Email)
	if err != nil {
		return model.RegisterResponse{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	token, err := b.issueToken(user.ID)
	if err != nil {
		return model.RegisterResponse{}, err
	}
	return model.RegisterResponse{Success: true, User: *user, Token: token}, nil
}

// Authenticate resolves a bearer token to its user.
func (b *Backend) Authenticate(token string) (model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess, ok := b.sessions[token]
	if !ok {
		return model.User{}, ErrUnauthorized
	}
	if !b.now().Before(sess.expires) {
		delete(b.sessions, token)
		return model.User{}, ErrUnauthorized
	}
	acct, ok := b.accounts[sess.userID]
	if !ok || !acct.Active {
		delete(b.sessions, token)
		return model.User{}, ErrUnauthorized
	}
	return acct.User, nil
}

func (b *Backend) Revoke(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, token)
}

func (b *Backend) issueToken(userID string) (string, error) {
	token, err := security.GenerateToken(security.DefaultTokenPrefix, security.DefaultTokenBytes)
	if err != nil {
		return "", err
	}
	b.sessions[token] = session{userID: userID, expires: b.now().Add(b.sessionTTL)}
	return token, nil
}

// -------------------- COMPANIES --------------------

func (b *Backend) ListCompanies() []model.Company {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.Company, 0, len(b.companies))
	for _, c := range b.companies {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (b *Backend) CreateCompany(in model.CompanyInput, actor string) (*model.Company, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: company name is required", ErrInvalid)
	}
	cnpj := digitsOnly(in.CNPJ)
	if in.CNPJ != "" && len(cnpj) != 14 {
		return nil, fmt.Errorf("%w: cnpj must have 14 digits", ErrInvalid)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if cnpj != "" {
		for _, c := range b.companies {
			if c.CNPJ == cnpj {
				return nil, fmt.Errorf("%w: company with cnpj %s", ErrConflict, cnpj)
			}
		}
	}

	now := b.now()
	company := &model.Company{
		ID:        uuid.NewString(),
		Name:      name,
		CNPJ:      cnpj,
		Email:     in.Email,
		Active:    in.Active == nil || *in.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.companies[company.ID] = company
	b.companyApps[company.ID] = make(map[string]*companyApp)
	b.logActivity(company.ID, "company_created", actor)

	out := *company
	return &out, nil
}

func (b *Backend) UpdateCompany(id string, in model.CompanyInput, actor string) (*model.Company, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	company, ok := b.companies[id]
	if !ok {
		return nil, ErrNotFound
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		company.Name = name
	}
	if in.CNPJ != "" {
		cnpj := digitsOnly(in.CNPJ)
		if len(cnpj) != 14 {
			return nil, fmt.Errorf("%w: cnpj must have 14 digits", ErrInvalid)
		}
		company.CNPJ = cnpj
	}
	if in.Email != "" {
		company.Email = in.Email
	}
	if in.Active != nil {
		company.Active = *in.Active
	}
	company.UpdatedAt = b.now()
	b.logActivity(id, "company_updated", actor)

	out := *company
	return &out, nil
}

func (b *Backend) CompanyApplications(companyID string) ([]model.CompanyApplication, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	enabled, ok := b.companyApps[companyID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]model.CompanyApplication, 0, len(enabled))
	for appID, state := range enabled {
		out = append(out, b.companyAppView(companyID, appID, state))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Application.Name < out[j].Application.Name })
	return out, nil
}

func (b *Backend) ConfigureApplication(companyID, appID string, creds model.AppCredentials, actor string) (*model.CompanyApplication, error) {
	if strings.TrimSpace(creds.AppKey) == "" || strings.TrimSpace(creds.AppSecret) == "" {
		return nil, fmt.Errorf("%w: app_key and app_secret are required", ErrInvalid)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	enabled, ok := b.companyApps[companyID]
	if !ok {
		return nil, ErrNotFound
	}
	if _, ok := b.apps[appID]; !ok {
		return nil, ErrNotFound
	}
	state, ok := enabled[appID]
	if !ok {
		state = &companyApp{}
		enabled[appID] = state
	}
	state.configured = true
	state.credentials = creds
	state.lastTestedAt = nil
	state.lastTestOK = false
	b.logActivity(companyID, "application_configured", actor)

	view := b.companyAppView(companyID, appID, state)
	return &view, nil
}

func (b *Backend) TestConnection(companyID, appID, actor string) (*model.ConnectionTestResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := b.now()
	state, ok := b.companyApps[companyID][appID]
	if !ok {
		return nil, ErrNotFound
	}

	result := &model.ConnectionTestResult{TestedAt: b.now()}
	if state.configured {
		result.Success = true
		result.Message = "connection established"
	} else {
		result.Message = "application is not configured"
	}
	result.LatencyMS = b.now().Sub(start).Milliseconds()

	tested := result.TestedAt
	state.lastTestedAt = &tested
	state.lastTestOK = result.Success
	b.logActivity(companyID, "connection_tested", actor)
	return result, nil
}

func (b *Backend) DashboardStats(companyID string) (*model.DashboardStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	enabled, ok := b.companyApps[companyID]
	if !ok {
		return nil, ErrNotFound
	}

	now := b.now()
	stats := &model.DashboardStats{
		CompanyID:         companyID,
		TotalApplications: len(enabled),
		GeneratedAt:       now,
	}
	for _, state := range enabled {
		if state.configured {
			stats.ConfiguredApplications++
		}
	}
	for _, acct := range b.accounts {
		if acct.CompanyID == companyID && acct.Active {
			stats.ActiveUsers++
		}
	}
	y, m, d := now.Date()
	for _, entry := range b.activity[companyID] {
		if ey, em, ed := entry.CreatedAt.Date(); ey == y && em == m && ed == d {
			stats.RequestsToday++
		}
	}
	return stats, nil
}

// ActivityLogs returns the newest limit entries, newest first.
func (b *Backend) ActivityLogs(companyID string, limit int) ([]model.ActivityLog, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.companies[companyID]; !ok {
		return nil, ErrNotFound
	}
	entries := b.activity[companyID]
	out := make([]model.ActivityLog, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (b *Backend) Invite(companyID string, invite model.Invite, actor string) (*model.InviteResult, error) {
	if !strings.Contains(invite.Email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", ErrInvalid)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.companies[companyID]; !ok {
		return nil, ErrNotFound
	}
	result := model.InviteResult{
		ID:        uuid.NewString(),
		Email:     normalizeEmail(invite.Email),
		CompanyID: companyID,
		ExpiresAt: b.now().Add(7 * 24 * time.Hour),
	}
	b.invites[result.ID] = result
	b.logActivity(companyID, "user_invited", actor)
	return &result, nil
}

// -------------------- APPLICATIONS --------------------

func (b *Backend) ListApplications() []model.Application {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.Application, 0, len(b.apps))
	for _, a := range b.apps {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (b *Backend) CreateApplication(in model.ApplicationInput) (*model.Application, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: application name is required", ErrInvalid)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, a := range b.apps {
		if strings.EqualFold(a.Name, name) {
			return nil, fmt.Errorf("%w: application %q", ErrConflict, name)
		}
	}
	app := &model.Application{
		ID:          uuid.NewString(),
		Name:        name,
		Description: in.Description,
		Type:        in.Type,
		CreatedAt:   b.now(),
	}
	b.apps[app.ID] = app

	out := *app
	return &out, nil
}

// -------------------- USERS --------------------

func (b *Backend) ListUsers(filter model.UserFilter) []model.User {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.User, 0, len(b.accounts))
	for _, acct := range b.accounts {
		if filter.CompanyID != "" && acct.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Role != "" && acct.Role != filter.Role {
			continue
		}
		if filter.Active != nil && acct.Active != *filter.Active {
			continue
		}
		out = append(out, acct.User)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

func (b *Backend) CreateUser(in model.UserInput, actor string) (*model.User, error) {
	email := normalizeEmail(in.Email)
	if strings.TrimSpace(in.Name) == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: name and a valid email are required", ErrInvalid)
	}
	if report := security.ValidatePasswordStrength(in.Password); !report.Valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(report.Errors, "; "))
	}

	salt, hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.emails[email]; exists {
		return nil, fmt.Errorf("%w: user %s", ErrConflict, email)
	}
	if in.CompanyID != "" {
		if _, ok := b.companies[in.CompanyID]; !ok {
			return nil, fmt.Errorf("%w: unknown company", ErrInvalid)
		}
	}

	role := in.Role
	if role == "" {
		role = "member"
	}
	now := b.now()
	acct := &account{
		User: model.User{
			ID:        uuid.NewString(),
			Name:      strings.TrimSpace(in.Name),
			Email:     email,
			Role:      role,
			CompanyID: in.CompanyID,
			Active:    in.Active == nil || *in.Active,
			CreatedAt: now,
			UpdatedAt: now,
		},
		salt: salt,
		hash: hash,
	}
	b.accounts[acct.ID] = acct
	b.emails[email] = acct.ID
	b.logActivity(in.CompanyID, "user_created", actor)

	out := acct.User
	return &out, nil
}

func (b *Backend) UpdateUser(id string, in model.UserInput, actor string) (*model.User, error) {
	var salt, hash []byte
	if in.Password != "" {
		if report := security.ValidatePasswordStrength(in.Password); !report.Valid {
			return nil, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(report.Errors, "; "))
		}
		var err error
		if salt, hash, err = hashPassword(in.Password); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	acct, ok := b.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if in.Email != "" {
		email := normalizeEmail(in.Email)
		if owner, exists := b.emails[email]; exists && owner != id {
			return nil, fmt.Errorf("%w: user %s", ErrConflict, email)
		}
		delete(b.emails, acct.Email)
		b.emails[email] = id
		acct.Email = email
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		acct.Name = name
	}
	if in.Role != "" {
		acct.Role = in.Role
	}
	if in.CompanyID != "" {
		acct.CompanyID = in.CompanyID
	}
	if in.Active != nil {
		acct.Active = *in.Active
	}
	if hash != nil {
		acct.salt, acct.hash = salt, hash
	}
	acct.UpdatedAt = b.now()
	b.logActivity(acct.CompanyID, "user_updated", actor)

	out := acct.User
	return &out, nil
}

func (b *Backend) DeleteUser(id, actor string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	acct, ok := b.accounts[id]
	if !ok {
		return ErrNotFound
	}
	delete(b.accounts, id)
	delete(b.emails, acct.Email)
	for token, sess := range b.sessions {
		if sess.userID == id {
			delete(b.sessions, token)
		}
	}
	b.logActivity(acct.CompanyID, "user_deleted", actor)
	return nil
}

// -------------------- HELPERS --------------------

// logActivity must be called with b.mu held.
func (b *Backend) logActivity(companyID, action, actor string) {
	if companyID == "" {
		return
	}
	b.activity[companyID] = append(b.activity[companyID], model.ActivityLog{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		Action:    action,
		Actor:     actor,
		CreatedAt: b.now(),
	})
}

// companyAppView must be called with b.mu held.
func (b *Backend) companyAppView(companyID, appID string, state *companyApp) model.CompanyApplication {
	view := model.CompanyApplication{
		CompanyID:  companyID,
		Configured: state.configured,
		LastTestOK: state.lastTestOK,
	}
	if app, ok := b.apps[appID]; ok {
		view.Application = *app
	}
	if state.lastTestedAt != nil {
		tested := *state.lastTestedAt
		view.LastTestedAt = &tested
	}
	return view
}

func hashPassword(password string) (salt, hash []byte, err error) {
	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen), nil
}

func verifyPassword(password string, salt, hash []byte) bool {
	candidate := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(candidate, hash) == 1
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func digitsOnly(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
