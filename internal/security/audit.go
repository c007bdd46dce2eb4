package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tenant-console/internal/storage"
)

const (
	SecurityLogsKey      = "security_logs"
	DefaultAuditCapacity = 100
	auditSinkTimeout     = 5 * time.Second
)

// Security event names.
const (
	EventTokenStored         = "token_stored"
	EventTokenExpired        = "token_expired"
	EventTokenInvalid        = "token_invalid"
	EventFingerprintMismatch = "fingerprint_mismatch"
	EventTokenCleared        = "token_cleared"
	EventSessionTimeout      = "session_timeout"
	EventSessionEnded        = "session_ended"
	EventMultipleTabs        = "multiple_tabs_detected"
	EventInputSanitized      = "input_sanitized"
	EventLoginSuccess        = "login_success"
	EventLoginFailed         = "login_failed"
	EventDevtoolsOpened      = "devtools_opened"
	EventPasswordPasted      = "password_pasted"
	EventFramingBlocked      = "framing_blocked"
	EventLogsCleared         = "logs_cleared"
)

// LogEntry is one security event as persisted under SecurityLogsKey.
type LogEntry struct {
	Timestamp   time.Time      `json:"timestamp"`
	Event       string         `json:"event"`
	Data        map[string]any `json:"data,omitempty"`
	Fingerprint string         `json:"fingerprint"`
	UserAgent   string         `json:"userAgent"`
	URL         string         `json:"url"`
}

// AuditSink receives a copy of every entry after it is persisted locally.
type AuditSink interface {
	Emit(ctx context.Context, entry LogEntry) error
}

// AuditLog keeps the most recent entries in the durable store and forwards
// each one to the configured sinks in the background.
type AuditLog struct {
	store    storage.Store
	capacity int
	env      EnvironmentProvider
	clock    Clock
	sinks    []AuditSink
	logger   *zap.Logger

	mu sync.Mutex
	wg sync.WaitGroup
}

func NewAuditLog(store storage.Store, capacity int, env EnvironmentProvider, clock Clock, sinks []AuditSink, logger *zap.Logger) *AuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &AuditLog{
		store:    store,
		capacity: capacity,
		env:      env,
		clock:    clock,
		sinks:    sinks,
		logger:   logger,
	}
}

// Record builds, logs and persists an entry. Failures are logged, never
// returned, so auditing cannot break the operation being audited.
func (a *AuditLog) Record(ctx context.Context, event string, data map[string]any) LogEntry {
	env := a.env.Environment()
	entry := LogEntry{
		Timestamp:   a.clock.Now().UTC(),
		Event:       event,
		Data:        data,
		Fingerprint: env.Fingerprint(),
		UserAgent:   env.UserAgent,
		URL:         env.Host,
	}

	a.logger.Info("Security event",
		zap.String("event", event),
		zap.Any("data", data),
		zap.String("fingerprint", entry.Fingerprint),
	)

	if err := a.append(ctx, entry); err != nil {
		a.logger.Warn("Failed to persist security event",
			zap.String("event", event),
			zap.Error(err),
		)
	}

	for _, sink := range a.sinks {
		a.wg.Add(1)
		go func(sink AuditSink) {
			defer a.wg.Done()
			sinkCtx, cancel := context.WithTimeout(context.Background(), auditSinkTimeout)
			defer cancel()
			if err := sink.Emit(sinkCtx, entry); err != nil {
				a.logger.Warn("Failed to forward security event",
					zap.String("event", event),
					zap.Error(err),
				)
			}
		}(sink)
	}

	return entry
}

func (a *AuditLog) append(ctx context.Context, entry LogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.load(ctx)
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	if len(entries) > a.capacity {
		entries = entries[len(entries)-a.capacity:]
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal security logs: %w", err)
	}
	return storage.Wrap("set", SecurityLogsKey, a.store.Set(ctx, SecurityLogsKey, string(payload), 0))
}

func (a *AuditLog) load(ctx context.Context) ([]LogEntry, error) {
	raw, err := a.store.Get(ctx, SecurityLogsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Wrap("get", SecurityLogsKey, err)
	}
	var entries []LogEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		a.logger.Warn("Discarding unreadable security logs", zap.Error(err))
		return nil, nil
	}
	return entries, nil
}

// Entries returns the persisted entries, oldest first.
func (a *AuditLog) Entries(ctx context.Context) ([]LogEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.load(ctx)
}

// Clear drops the persisted entries.
func (a *AuditLog) Clear(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return storage.Wrap("delete", SecurityLogsKey, a.store.Delete(ctx, SecurityLogsKey))
}

// Flush waits for in-flight sink deliveries.
func (a *AuditLog) Flush() {
	a.wg.Wait()
}
