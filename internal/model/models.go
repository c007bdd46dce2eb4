package model

import "time"

// -------------------- AUTH --------------------
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`                 // "admin" or "member"
	CompanyID string    `json:"company_id,omitempty"` // primary company, if any
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type RegisterRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	CompanyName string `json:"company_name,omitempty"`
}

type RegisterResponse struct {
	Success bool   `json:"success"`
	User    User   `json:"user"`
	Token   string `json:"token,omitempty"` // only when the backend logs the user in
}

// -------------------- COMPANIES --------------------
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CNPJ      string    `json:"cnpj"` // digits only
	Email     string    `json:"email,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CompanyInput struct {
	Name   string `json:"name"`
	CNPJ   string `json:"cnpj"`
	Email  string `json:"email,omitempty"`
	Active *bool  `json:"active,omitempty"`
}

// -------------------- APPLICATIONS --------------------
type Application struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Type        string    `json:"type"` // e.g. "omie", "nibo"
	CreatedAt   time.Time `json:"created_at"`
}

type ApplicationInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// CompanyApplication is an application enabled for a company together with
// its connection state. Credentials are never echoed back.
type CompanyApplication struct {
	CompanyID    string      `json:"company_id"`
	Application  Application `json:"application"`
	Configured   bool        `json:"configured"`
	LastTestedAt *time.Time  `json:"last_tested_at,omitempty"`
	LastTestOK   bool        `json:"last_test_ok"`
}

type AppCredentials struct {
	AppKey    string `json:"app_key"`
	AppSecret string `json:"app_secret"`
}

type ConnectionTestResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	LatencyMS int64     `json:"latency_ms"`
	TestedAt  time.Time `json:"tested_at"`
}

// -------------------- USERS --------------------
type UserInput struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password,omitempty"`
	Role      string `json:"role,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
	Active    *bool  `json:"active,omitempty"`
}

// UserFilter narrows ListUsers; zero fields are ignored.
type UserFilter struct {
	CompanyID string
	Role      string
	Active    *bool
}

type Invite struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type InviteResult struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CompanyID string    `json:"company_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// -------------------- DASHBOARD --------------------
type DashboardStats struct {
	CompanyID              string    `json:"company_id"`
	TotalApplications      int       `json:"total_applications"`
	ConfiguredApplications int       `json:"configured_applications"`
	ActiveUsers            int       `json:"active_users"`
	RequestsToday          int       `json:"requests_today"`
	GeneratedAt            time.Time `json:"generated_at"`
}

type ActivityLog struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

type HealthStatus struct {
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Dashboard is everything the console's landing page needs for a company.
type Dashboard struct {
	Companies    []Company            `json:"companies"`
	Applications []CompanyApplication `json:"applications"`
	Stats        DashboardStats       `json:"stats"`
}

// -------------------- ERRORS --------------------
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
