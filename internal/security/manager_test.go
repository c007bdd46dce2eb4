package security

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant-console/internal/encryption"
	"tenant-console/internal/storage"
)

func TestGenerateToken(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	token, err := h.manager.GenerateToken(0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "omt_"))
	assert.Len(t, token, len("omt_")+64)

	short, err := h.manager.GenerateToken(8)
	require.NoError(t, err)
	assert.Len(t, short, len("omt_")+16)

	assert.NotEqual(t, token, short)
}

func TestStoreAndGetToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)

	require.NoError(t, h.manager.StoreToken(ctx, "omt_abc", time.Hour))

	token, err := h.manager.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "omt_abc", token)
	assert.Contains(t, h.events(t), EventTokenStored)
}

func TestGetTokenWithoutSession(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	token, err := h.manager.GetToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestGetTokenExpired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)

	require.NoError(t, h.manager.StoreToken(ctx, "omt_abc", 30*time.Minute))
	h.clock.Advance(30 * time.Minute)

	token, err := h.manager.GetToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	_, err = h.tabs.Get(ctx, SecureTokenKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Contains(t, h.events(t), EventTokenExpired)
}

func TestGetTokenFingerprintMismatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)

	require.NoError(t, h.manager.StoreToken(ctx, "omt_abc", time.Hour))
	require.NoError(t, h.durable.Set(ctx, UserDataKey, `{"name":"Ana"}`, 0))
	require.NoError(t, h.durable.Set(ctx, CurrentCompanyKey, `{"id":"c1"}`, 0))

	h.env.Update(func(e *Environment) { e.ScreenWidth = 1280 })

	token, err := h.manager.GetToken(ctx)
	assert.ErrorIs(t, err, ErrSessionCompromised)
	assert.Empty(t, token)

	for _, key := range []string{UserDataKey, CurrentCompanyKey} {
		_, err := h.durable.Get(ctx, key)
		assert.ErrorIs(t, err, storage.ErrNotFound, key)
	}
	_, err = h.tabs.Get(ctx, SecureTokenKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, _, compromised := h.notifier.counts()
	assert.Equal(t, 1, compromised)
	assert.Contains(t, h.events(t), EventFingerprintMismatch)

	// The session is gone for good, not just for this call.
	h.env.Update(func(e *Environment) { e.ScreenWidth = 1920 })
	token, err = h.manager.GetToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestGetTokenFingerprintSignals(t *testing.T) {
	tests := []struct {
		name   string
		change func(*Environment)
	}{
		{"user agent", func(e *Environment) { e.UserAgent = "Mozilla/5.0 (Macintosh)" }},
		{"language", func(e *Environment) { e.Language = "en-US" }},
		{"screen width", func(e *Environment) { e.ScreenWidth = 1280 }},
		{"screen height", func(e *Environment) { e.ScreenHeight = 720 }},
		{"timezone offset", func(e *Environment) { e.TimezoneOffset = -60 }},
		{"host", func(e *Environment) { e.Host = "console.example.com" }},
		{"platform", func(e *Environment) { e.Platform = "MacIntel" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, Config{}, nil)
			require.NoError(t, h.manager.StoreToken(ctx, "omt_abc", time.Hour))

			h.env.Update(tt.change)

			token, err := h.manager.GetToken(ctx)
			assert.ErrorIs(t, err, ErrSessionCompromised)
			assert.Empty(t, token)

			_, err = h.tabs.Get(ctx, SecureTokenKey)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestGetTokenTamperedFingerprint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)
	require.NoError(t, h.manager.StoreToken(ctx, "omt_abc", time.Hour))

	raw, err := h.tabs.Get(ctx, SecureTokenKey)
	require.NoError(t, err)
	var record TokenRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &record))
	record.Fingerprint = strings.Repeat("0", len(record.Fingerprint))
	tampered, err := json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, h.tabs.Set(ctx, SecureTokenKey, string(tampered), 0))

	token, err := h.manager.GetToken(ctx)
	assert.ErrorIs(t, err, ErrSessionCompromised)
	assert.Empty(t, token)

	_, err = h.tabs.Get(ctx, SecureTokenKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, _, compromised := h.notifier.counts()
	assert.Equal(t, 1, compromised)
}

func TestGetTokenUnreadableRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)

	require.NoError(t, h.tabs.Set(ctx, SecureTokenKey, "not json", 0))

	token, err := h.manager.GetToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	_, err = h.tabs.Get(ctx, SecureTokenKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Contains(t, h.events(t), EventTokenInvalid)
}

func TestStoreTokenStorageFailure(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.tabs.FailWrites(errors.New("quota exceeded"))

	err := h.manager.StoreToken(context.Background(), "omt_abc", time.Hour)
	assert.ErrorIs(t, err, storage.ErrStorage)
}

func TestClearTokenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)

	hooks := 0
	h.manager.OnClear(func() { hooks++ })

	require.NoError(t, h.manager.StoreToken(ctx, "omt_abc", time.Hour))
	require.NoError(t, h.manager.ClearToken(ctx))
	require.NoError(t, h.manager.ClearToken(ctx))

	token, err := h.manager.GetToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Equal(t, 2, hooks)
	assert.Equal(t, 2, h.wiper.wipes)
}

func TestAEADSealedSession(t *testing.T) {
	ctx := context.Background()
	provider, err := encryption.NewLocalKeyProvider()
	require.NoError(t, err)
	sealer := NewAEADSealer(encryption.NewEncryptionManager(provider, nil))

	h := newHarness(t, Config{}, func(d *Deps) { d.Sealer = sealer })

	require.NoError(t, h.manager.StoreToken(ctx, "omt_secret", time.Hour))

	raw, err := h.tabs.Get(ctx, SecureTokenKey)
	require.NoError(t, err)
	assert.NotContains(t, raw, "omt_secret")

	token, err := h.manager.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "omt_secret", token)
}

func TestAEADSealerReleasesDataKeys(t *testing.T) {
	ctx := context.Background()
	provider, err := encryption.NewLocalKeyProvider()
	require.NoError(t, err)
	em := encryption.NewEncryptionManager(provider, nil)

	h := newHarness(t, Config{}, func(d *Deps) { d.Sealer = NewAEADSealer(em) })

	for i := 0; i < 20; i++ {
		require.NoError(t, h.manager.StoreToken(ctx, "omt_first", time.Hour))
		_, err := h.manager.GetToken(ctx)
		require.NoError(t, err)

		// Replacing a live record drops the old key as well.
		require.NoError(t, h.manager.StoreToken(ctx, "omt_second", time.Hour))
		token, err := h.manager.GetToken(ctx)
		require.NoError(t, err)
		require.Equal(t, "omt_second", token)
		require.Equal(t, 1, em.CacheSize())

		require.NoError(t, h.manager.ClearToken(ctx))
	}
	assert.Equal(t, 0, em.CacheSize())
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)
	const email = "ana@example.com"

	for i := 0; i < 4; i++ {
		require.NoError(t, h.manager.RecordLoginAttempt(ctx, email, false))
	}
	require.NoError(t, h.manager.CheckLoginAttempts(ctx, email))

	require.NoError(t, h.manager.RecordLoginAttempt(ctx, email, false))

	err := h.manager.CheckLoginAttempts(ctx, email)
	var locked *AccountLockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, 15, locked.RemainingMinutes())

	h.clock.Advance(14*time.Minute + 30*time.Second)
	err = h.manager.CheckLoginAttempts(ctx, email)
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, 1, locked.RemainingMinutes())

	h.clock.Advance(30 * time.Second)
	assert.NoError(t, h.manager.CheckLoginAttempts(ctx, email))
}

func TestLockoutIgnoresFailuresOutsideWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)
	const email = "ana@example.com"

	for i := 0; i < 4; i++ {
		require.NoError(t, h.manager.RecordLoginAttempt(ctx, email, false))
	}
	h.clock.Advance(time.Hour)
	require.NoError(t, h.manager.RecordLoginAttempt(ctx, email, false))

	assert.NoError(t, h.manager.CheckLoginAttempts(ctx, email))
}

func TestSuccessfulLoginClearsFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)
	const email = "ana@example.com"

	for i := 0; i < 5; i++ {
		require.NoError(t, h.manager.RecordLoginAttempt(ctx, email, false))
	}
	require.Error(t, h.manager.CheckLoginAttempts(ctx, email))

	require.NoError(t, h.manager.RecordLoginAttempt(ctx, email, true))
	assert.NoError(t, h.manager.CheckLoginAttempts(ctx, email))

	events := h.events(t)
	assert.Contains(t, events, EventLoginFailed)
	assert.Contains(t, events, EventLoginSuccess)
}

func TestLedgerKeysDoNotExposeIdentity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)

	require.NoError(t, h.manager.RecordLoginAttempt(ctx, "  Ana@Example.com ", false))
	require.NoError(t, h.manager.RecordLoginAttempt(ctx, "ana@example.com", false))

	keys, err := h.durable.Keys(ctx, LoginAttemptsPrefix)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotContains(t, keys[0], "@")
	assert.NotContains(t, strings.ToLower(keys[0]), "ana")

	entries, err := h.manager.SecurityLogs(ctx)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Data, "email")
	}

	attempts, err := h.manager.ledger.Attempts(ctx, keys[0], h.clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestCSRFTokenIsStablePerSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)

	first, err := h.manager.CSRFToken(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 32)

	second, err := h.manager.CSRFToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSecurityLogsKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)

	require.NoError(t, h.manager.StoreToken(ctx, "omt_abc", time.Hour))
	for i := 0; i < DefaultAuditCapacity+5; i++ {
		h.manager.PasswordPasted(ctx)
	}

	events := h.events(t)
	assert.Len(t, events, DefaultAuditCapacity)
	assert.NotContains(t, events, EventTokenStored)

	require.NoError(t, h.manager.ClearSecurityLogs(ctx))
	assert.Equal(t, []string{EventLogsCleared}, h.events(t))
}

func TestLogEntriesCarryEnvironment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)

	h.manager.PasswordPasted(ctx)

	entries, err := h.manager.SecurityLogs(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, testEnvironment.Fingerprint(), entries[0].Fingerprint)
	assert.Equal(t, testEnvironment.UserAgent, entries[0].UserAgent)
	assert.Equal(t, "localhost", entries[0].URL)
	assert.True(t, entries[0].Timestamp.Equal(h.clock.Now()))
}

func TestAuditSinksReceiveEntries(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	h := newHarness(t, Config{}, func(d *Deps) { d.AuditSinks = []AuditSink{sink} })

	h.manager.PasswordPasted(ctx)
	require.NoError(t, h.manager.ClearToken(ctx))
	h.manager.audit.Flush()

	assert.ElementsMatch(t, []string{EventPasswordPasted, EventTokenCleared}, sink.events())
}

func TestSanitizeInput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)

	out := h.manager.SanitizeInput(ctx, Field{Name: "name", Value: `<script>alert(1)</script>Acme`})
	assert.Equal(t, "Acme", out)

	out = h.manager.SanitizeInput(ctx, Field{Name: "site", Value: `javascript:alert(1)`})
	assert.Equal(t, "alert(1)", out)

	out = h.manager.SanitizeInput(ctx, Field{Name: "bio", Value: `<b onclick=steal()>hi</b>`})
	assert.NotContains(t, out, "<b")
	assert.NotContains(t, out, "onclick")

	out = h.manager.SanitizeInput(ctx, Field{Name: "bio", Value: `<b onclick=steal()>hi</b>`, AllowHTML: true})
	assert.Equal(t, "<b>hi</b>", out)

	out = h.manager.SanitizeInput(ctx, Field{Name: "plain", Value: "Acme Ltda"})
	assert.Equal(t, "Acme Ltda", out)

	entries, err := h.manager.SecurityLogs(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, EventInputSanitized, entries[0].Event)
	assert.Equal(t, "name", entries[0].Data["field"])
}

func TestStartBlockedWhenFramed(t *testing.T) {
	frame := &fakeFrame{framed: true}
	h := newHarness(t, Config{}, func(d *Deps) { d.FrameInspector = frame })

	err := h.manager.Start(context.Background())
	assert.ErrorIs(t, err, ErrFramed)
	assert.True(t, frame.hidden)
	assert.Contains(t, h.events(t), EventFramingBlocked)

	_, err = h.tabs.Get(context.Background(), CSRFTokenKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStartIssuesCSRFToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)

	require.NoError(t, h.manager.Start(ctx))

	token, err := h.tabs.Get(ctx, CSRFTokenKey)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestInactivityTimeoutClearsSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{SessionTimeout: 50 * time.Millisecond}, nil)

	require.NoError(t, h.manager.Start(ctx))
	require.NoError(t, h.manager.StoreToken(ctx, "omt_abc", time.Hour))

	require.Eventually(t, func() bool {
		expired, _, _ := h.notifier.counts()
		return expired == 1
	}, time.Second, 10*time.Millisecond)

	token, err := h.manager.GetToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Contains(t, h.events(t), EventSessionTimeout)
}

func TestStopRecordsSessionEnd(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	require.NoError(t, h.manager.Start(context.Background()))
	h.manager.Stop()
	h.manager.Stop()

	events := h.events(t)
	assert.Equal(t, EventSessionEnded, events[len(events)-1])
}

func TestSecondTabForcesLogout(t *testing.T) {
	ctx := context.Background()
	broadcaster := NewMemoryBroadcaster()

	first := newHarness(t, Config{}, func(d *Deps) { d.Broadcaster = broadcaster })
	second := newHarness(t, Config{}, func(d *Deps) { d.Broadcaster = broadcaster })

	require.NoError(t, first.manager.Start(ctx))
	require.NoError(t, first.manager.StoreToken(ctx, "omt_first", time.Hour))

	require.NoError(t, second.manager.Start(ctx))
	require.NoError(t, second.manager.StoreToken(ctx, "omt_second", time.Hour))

	require.Eventually(t, func() bool {
		_, tabs, _ := first.notifier.counts()
		return tabs == 1
	}, time.Second, 10*time.Millisecond)

	token, err := first.manager.GetToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Contains(t, first.events(t), EventMultipleTabs)

	token, err = second.manager.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "omt_second", token)
	_, tabs, _ := second.notifier.counts()
	assert.Zero(t, tabs)
	assert.NotEqual(t, first.manager.TabID(), second.manager.TabID())
}

func TestDevtoolsDetectionLogsOncePerTransition(t *testing.T) {
	window := &fakeWindow{size: WindowSize{OuterWidth: 1920, OuterHeight: 1080, InnerWidth: 1920, InnerHeight: 1000}}
	h := newHarness(t, Config{DevtoolsInterval: time.Hour}, func(d *Deps) { d.WindowMetrics = window })

	assert.False(t, h.manager.DevtoolsOpen())

	window.set(WindowSize{OuterWidth: 1920, OuterHeight: 1080, InnerWidth: 1920, InnerHeight: 700})
	assert.True(t, h.manager.DevtoolsOpen())
	assert.True(t, h.manager.DevtoolsOpen())

	window.set(WindowSize{OuterWidth: 1920, OuterHeight: 1080, InnerWidth: 1920, InnerHeight: 1000})
	assert.False(t, h.manager.DevtoolsOpen())

	window.set(WindowSize{OuterWidth: 1920, OuterHeight: 1080, InnerWidth: 1500, InnerHeight: 1000})
	assert.True(t, h.manager.DevtoolsOpen())

	opened := 0
	for _, event := range h.events(t) {
		if event == EventDevtoolsOpened {
			opened++
		}
	}
	assert.Equal(t, 2, opened)
}

func TestNewManagerRequiresStores(t *testing.T) {
	_, err := NewManager(Config{}, Deps{TabStore: storage.NewMemoryStore()})
	assert.Error(t, err)
}
