// Package security holds the client-side session security core: bearer
// token custody bound to an environment fingerprint, brute-force lockout,
// input hygiene, and the background monitors that force a logout.
package security

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tenant-console/internal/hashing"
	"tenant-console/internal/storage"
	"tenant-console/internal/util"
)

// Storage keys owned by the manager.
const (
	SecureTokenKey    = "secure_token"
	CSRFTokenKey      = "csrf_token"
	UserDataKey       = "user_data"
	CurrentCompanyKey = "current_company"

	csrfTokenBytes = 16
)

type Config struct {
	SessionTimeout    time.Duration
	MaxLoginAttempts  int
	LockoutDuration   time.Duration
	AttemptWindow     time.Duration
	TokenPrefix       string
	TokenBytes        int
	DevtoolsInterval  time.Duration
	DevtoolsThreshold int
	AuditCapacity     int
	// BaseURL is the API the console talks to; only used for the transport
	// warning on Start.
	BaseURL string
}

func DefaultConfig() Config {
	return Config{
		SessionTimeout:    30 * time.Minute,
		MaxLoginAttempts:  5,
		LockoutDuration:   15 * time.Minute,
		AttemptWindow:     time.Hour,
		TokenPrefix:       DefaultTokenPrefix,
		TokenBytes:        DefaultTokenBytes,
		DevtoolsInterval:  DefaultDevtoolsInterval,
		DevtoolsThreshold: DefaultDevtoolsThreshold,
		AuditCapacity:     DefaultAuditCapacity,
	}
}

// Notifier is told about session violations so the UI can react.
type Notifier interface {
	SessionExpired()
	MultipleTabs()
	SessionCompromised()
}

// FieldWiper blanks sensitive form fields when the session is cleared.
type FieldWiper interface {
	WipeSensitiveFields()
}

// Deps are the manager's collaborators. TabStore and DurableStore are
// required; everything else has a fallback.
type Deps struct {
	TabStore     storage.Store
	DurableStore storage.Store
	// Ledger defaults to a StoreLedger over DurableStore.
	Ledger AttemptLedger
	// Sealer defaults to PlainSealer.
	Sealer      Sealer
	Environment EnvironmentProvider
	Clock       Clock
	Hasher      *hashing.IdentityHasher
	Notifier    Notifier
	FieldWiper  FieldWiper
	// Broadcaster is nil when tab monitoring is not wanted.
	Broadcaster Broadcaster
	// WindowMetrics is nil when devtools monitoring is not wanted.
	WindowMetrics  WindowMetrics
	FrameInspector FrameInspector
	AuditSinks     []AuditSink
	Logger         *zap.Logger
}

type Manager struct {
	cfg      Config
	tabs     storage.Store
	durable  storage.Store
	ledger   AttemptLedger
	sealer   Sealer
	env      EnvironmentProvider
	clock    Clock
	hasher   *hashing.IdentityHasher
	notifier Notifier
	wiper    FieldWiper
	frame    FrameInspector
	logger   *zap.Logger

	audit      *AuditLog
	watchdog   *Watchdog
	tabMonitor *TabMonitor
	devtools   *DevtoolsMonitor

	mu         sync.Mutex
	clearHooks []func()
	started    bool
}

func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.TabStore == nil || deps.DurableStore == nil {
		return nil, errors.New("security manager requires tab and durable stores")
	}
	defaults := DefaultConfig()
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = defaults.SessionTimeout
	}
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = defaults.MaxLoginAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = defaults.LockoutDuration
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = defaults.AttemptWindow
	}
	if cfg.TokenPrefix == "" {
		cfg.TokenPrefix = defaults.TokenPrefix
	}
	if cfg.TokenBytes <= 0 {
		cfg.TokenBytes = defaults.TokenBytes
	}

	m := &Manager{
		cfg:      cfg,
		tabs:     deps.TabStore,
		durable:  deps.DurableStore,
		ledger:   deps.Ledger,
		sealer:   deps.Sealer,
		env:      deps.Environment,
		clock:    deps.Clock,
		hasher:   deps.Hasher,
		notifier: deps.Notifier,
		wiper:    deps.FieldWiper,
		frame:    deps.FrameInspector,
		logger:   util.OrNop(deps.Logger),
	}
	if m.ledger == nil {
		m.ledger = NewStoreLedger(m.durable)
	}
	if m.sealer == nil {
		m.sealer = PlainSealer{}
	}
	if m.env == nil {
		m.env = NewStaticEnvironment(Environment{})
	}
	if m.clock == nil {
		m.clock = SystemClock()
	}
	if m.hasher == nil {
		hasher, err := hashing.NewIdentityHasher("")
		if err != nil {
			return nil, err
		}
		m.hasher = hasher
	}
	if m.notifier == nil {
		m.notifier = nopNotifier{}
	}
	if m.wiper == nil {
		m.wiper = nopWiper{}
	}

	m.audit = NewAuditLog(m.durable, cfg.AuditCapacity, m.env, m.clock, deps.AuditSinks, m.logger)

	m.watchdog = NewWatchdog(cfg.SessionTimeout)
	m.watchdog.OnTimeout(m.handleTimeout)

	if deps.Broadcaster != nil {
		m.tabMonitor = NewTabMonitor(deps.Broadcaster, m.clock, m.handleForeignTab)
	}
	if deps.WindowMetrics != nil {
		m.devtools = NewDevtoolsMonitor(deps.WindowMetrics, cfg.DevtoolsInterval, cfg.DevtoolsThreshold, func() {
			m.audit.Record(context.Background(), EventDevtoolsOpened, nil)
		})
	}

	return m, nil
}

// Start runs the startup checks and the background monitors. When the
// console is framed it hides it and returns ErrFramed without starting
// anything.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	if m.frame != nil && m.frame.Framed() {
		m.frame.Hide()
		m.audit.Record(ctx, EventFramingBlocked, nil)
		return ErrFramed
	}

	if m.cfg.BaseURL != "" && InsecureTransport(m.cfg.BaseURL) {
		m.logger.Warn("API is not served over HTTPS; credentials travel in clear text",
			zap.String("base_url", m.cfg.BaseURL),
		)
	}

	if _, err := m.csrfToken(ctx); err != nil {
		return err
	}

	if m.tabMonitor != nil {
		if err := m.tabMonitor.Start(ctx); err != nil {
			return err
		}
	}
	if m.devtools != nil {
		m.devtools.Start(context.WithoutCancel(ctx))
	}
	m.watchdog.Reset()
	m.started = true

	m.logger.Info("Session security started",
		zap.Duration("session_timeout", m.cfg.SessionTimeout),
		zap.Bool("tab_monitor", m.tabMonitor != nil),
		zap.Bool("devtools_monitor", m.devtools != nil),
	)
	return nil
}

// Stop ends the monitors and records the end of the session.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.mu.Unlock()

	m.watchdog.Stop()
	if m.tabMonitor != nil {
		m.tabMonitor.Stop()
	}
	if m.devtools != nil {
		m.devtools.Stop()
	}
	m.audit.Record(context.Background(), EventSessionEnded, nil)
	m.audit.Flush()
}

// OnClear registers fn to run every time the session is cleared.
func (m *Manager) OnClear(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearHooks = append(m.clearHooks, fn)
}

func (m *Manager) GenerateToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		byteLength = m.cfg.TokenBytes
	}
	return GenerateToken(m.cfg.TokenPrefix, byteLength)
}

// StoreToken binds token to the current environment and keeps it for ttl
// (the session timeout when ttl is zero).
func (m *Manager) StoreToken(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.cfg.SessionTimeout
	}
	now := m.clock.Now()
	record := TokenRecord{
		Token:       token,
		Expires:     now.Add(ttl),
		Fingerprint: m.env.Environment().Fingerprint(),
		Issued:      now,
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	sealed, err := m.sealer.Seal(ctx, payload)
	if err != nil {
		return err
	}
	previous, prevErr := m.tabs.Get(ctx, SecureTokenKey)
	if err := m.tabs.Set(ctx, SecureTokenKey, sealed, 0); err != nil {
		return storage.Wrap("set", SecureTokenKey, err)
	}
	if prevErr == nil {
		m.sealer.Discard(ctx, previous)
	}

	m.audit.Record(ctx, EventTokenStored, map[string]any{"expires": record.Expires})
	m.RecordActivity()
	return nil
}

// GetToken returns the stored token when it is unexpired and was issued for
// the current environment. A missing, expired or unreadable record yields
// "" and a nil error; a fingerprint mismatch destroys the session and
// returns ErrSessionCompromised.
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	sealed, err := m.tabs.Get(ctx, SecureTokenKey)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", storage.Wrap("get", SecureTokenKey, err)
	}

	var record TokenRecord
	plaintext, err := m.sealer.Open(ctx, sealed)
	if err == nil {
		err = json.Unmarshal(plaintext, &record)
	}
	if err != nil {
		m.logger.Warn("Discarding unreadable session record", zap.Error(err))
		m.audit.Record(ctx, EventTokenInvalid, nil)
		return "", m.ClearToken(ctx)
	}

	if record.Expired(m.clock.Now()) {
		m.audit.Record(ctx, EventTokenExpired, nil)
		return "", m.ClearToken(ctx)
	}

	current := m.env.Environment().Fingerprint()
	if record.Fingerprint != current {
		m.audit.Record(ctx, EventFingerprintMismatch, map[string]any{
			"stored":  record.Fingerprint,
			"current": current,
		})
		if err := m.ClearToken(ctx); err != nil {
			m.logger.Error("Failed to clear compromised session", zap.Error(err))
		}
		m.notifier.SessionCompromised()
		return "", ErrSessionCompromised
	}

	return record.Token, nil
}

// ClearToken removes the session and everything tied to it. Every step runs
// even when an earlier one fails; the first failure is returned.
func (m *Manager) ClearToken(ctx context.Context) error {
	var errs []error
	sealed, getErr := m.tabs.Get(ctx, SecureTokenKey)
	if err := m.tabs.Delete(ctx, SecureTokenKey); err != nil {
		errs = append(errs, storage.Wrap("delete", SecureTokenKey, err))
	}
	if getErr == nil {
		m.sealer.Discard(ctx, sealed)
	}
	if err := m.durable.Delete(ctx, UserDataKey, CurrentCompanyKey); err != nil {
		errs = append(errs, storage.Wrap("delete", UserDataKey, err))
	}

	m.wiper.WipeSensitiveFields()

	m.mu.Lock()
	hooks := append([]func(){}, m.clearHooks...)
	m.mu.Unlock()
	for _, hook := range hooks {
		hook()
	}

	m.audit.Record(ctx, EventTokenCleared, nil)
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// CheckLoginAttempts returns an *AccountLockedError while identity is
// locked out.
func (m *Manager) CheckLoginAttempts(ctx context.Context, identity string) error {
	now := m.clock.Now()
	attempts, err := m.ledger.Attempts(ctx, m.ledgerKey(identity), now.Add(-m.cfg.AttemptWindow))
	if err != nil {
		return err
	}
	if len(attempts) < m.cfg.MaxLoginAttempts {
		return nil
	}

	last := attempts[0]
	for _, t := range attempts[1:] {
		if t.After(last) {
			last = t
		}
	}
	lockoutEnd := last.Add(m.cfg.LockoutDuration)
	if now.Before(lockoutEnd) {
		return &AccountLockedError{Remaining: lockoutEnd.Sub(now)}
	}
	return nil
}

func (m *Manager) RecordLoginAttempt(ctx context.Context, identity string, success bool) error {
	key := m.ledgerKey(identity)
	subject := m.hasher.Hash(identity)

	if success {
		if err := m.ledger.Clear(ctx, key); err != nil {
			return err
		}
		m.audit.Record(ctx, EventLoginSuccess, map[string]any{"identity": subject})
		return nil
	}

	count, err := m.ledger.Append(ctx, key, m.clock.Now(), m.cfg.AttemptWindow)
	if err != nil {
		return err
	}
	m.audit.Record(ctx, EventLoginFailed, map[string]any{
		"identity": subject,
		"attempts": count,
	})
	return nil
}

func (m *Manager) ledgerKey(identity string) string {
	return LoginAttemptsPrefix + m.hasher.Hash(identity)
}

func (m *Manager) ValidatePasswordStrength(password string) PasswordReport {
	return ValidatePasswordStrength(password)
}

// CSRFToken returns the per-session CSRF token, creating it on first use.
func (m *Manager) CSRFToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.csrfToken(ctx)
}

func (m *Manager) csrfToken(ctx context.Context) (string, error) {
	token, err := m.tabs.Get(ctx, CSRFTokenKey)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", storage.Wrap("get", CSRFTokenKey, err)
	}

	token, err = GenerateToken("", csrfTokenBytes)
	if err != nil {
		return "", err
	}
	if err := m.tabs.Set(ctx, CSRFTokenKey, token, 0); err != nil {
		return "", storage.Wrap("set", CSRFTokenKey, err)
	}
	return token, nil
}

func (m *Manager) SecurityLogs(ctx context.Context) ([]LogEntry, error) {
	return m.audit.Entries(ctx)
}

func (m *Manager) ClearSecurityLogs(ctx context.Context) error {
	if err := m.audit.Clear(ctx); err != nil {
		return err
	}
	m.audit.Record(ctx, EventLogsCleared, nil)
	return nil
}

// RecordActivity restarts the inactivity countdown.
func (m *Manager) RecordActivity() {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		m.watchdog.Reset()
	}
}

func (m *Manager) PasswordPasted(ctx context.Context) {
	m.audit.Record(ctx, EventPasswordPasted, nil)
}

// DevtoolsOpen samples the window once. It is false when no window metrics
// are configured.
func (m *Manager) DevtoolsOpen() bool {
	if m.devtools == nil {
		return false
	}
	return m.devtools.Check()
}

// TabID identifies this console instance to other tabs; empty without a
// broadcaster.
func (m *Manager) TabID() string {
	if m.tabMonitor == nil {
		return ""
	}
	return m.tabMonitor.ID()
}

func (m *Manager) handleTimeout() {
	ctx := context.Background()
	if err := m.ClearToken(ctx); err != nil {
		m.logger.Error("Failed to clear session after timeout", zap.Error(err))
	}
	m.audit.Record(ctx, EventSessionTimeout, nil)
	m.notifier.SessionExpired()
}

func (m *Manager) handleForeignTab(signal TabSignal) {
	ctx := context.Background()
	m.audit.Record(ctx, EventMultipleTabs, map[string]any{"tab": signal.TabID})
	if err := m.ClearToken(ctx); err != nil {
		m.logger.Error("Failed to clear session after tab conflict", zap.Error(err))
	}
	m.notifier.MultipleTabs()
}

type nopNotifier struct{}

func (nopNotifier) SessionExpired()     {}
func (nopNotifier) MultipleTabs()       {}
func (nopNotifier) SessionCompromised() {}

type nopWiper struct{}

func (nopWiper) WipeSensitiveFields() {}
