package security

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tenant-console/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu          sync.Mutex
	expired     int
	tabs        int
	compromised int
}

func (n *recordingNotifier) SessionExpired() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expired++
}

func (n *recordingNotifier) MultipleTabs() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tabs++
}

func (n *recordingNotifier) SessionCompromised() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.compromised++
}

func (n *recordingNotifier) counts() (expired, tabs, compromised int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.expired, n.tabs, n.compromised
}

type countingWiper struct {
	mu    sync.Mutex
	wipes int
}

func (w *countingWiper) WipeSensitiveFields() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.wipes++
}

type fakeWindow struct {
	mu   sync.Mutex
	size WindowSize
}

func (w *fakeWindow) WindowSize() WindowSize {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

func (w *fakeWindow) set(size WindowSize) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.size = size
}

type fakeFrame struct {
	framed bool
	hidden bool
}

func (f *fakeFrame) Framed() bool { return f.framed }
func (f *fakeFrame) Hide()        { f.hidden = true }

type recordingSink struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (s *recordingSink) Emit(_ context.Context, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recordingSink) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Event
	}
	return out
}

var testEnvironment = Environment{
	UserAgent:      "Mozilla/5.0 (X11; Linux x86_64)",
	Language:       "pt-BR",
	ScreenWidth:    1920,
	ScreenHeight:   1080,
	TimezoneOffset: 180,
	Host:           "localhost",
	Platform:       "Linux x86_64",
}

type harness struct {
	manager  *Manager
	tabs     *storage.MemoryStore
	durable  *storage.MemoryStore
	clock    *fakeClock
	env      *StaticEnvironment
	notifier *recordingNotifier
	wiper    *countingWiper
}

func newHarness(t *testing.T, cfg Config, mutate func(*Deps)) *harness {
	t.Helper()

	h := &harness{
		tabs:     storage.NewMemoryStore(),
		durable:  storage.NewMemoryStore(),
		clock:    newFakeClock(),
		env:      NewStaticEnvironment(testEnvironment),
		notifier: &recordingNotifier{},
		wiper:    &countingWiper{},
	}
	t.Cleanup(h.tabs.Close)
	t.Cleanup(h.durable.Close)

	deps := Deps{
		TabStore:     h.tabs,
		DurableStore: h.durable,
		Environment:  h.env,
		Clock:        h.clock,
		Notifier:     h.notifier,
		FieldWiper:   h.wiper,
	}
	if mutate != nil {
		mutate(&deps)
	}

	m, err := NewManager(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	h.manager = m
	return h
}

func (h *harness) events(t *testing.T) []string {
	t.Helper()
	entries, err := h.manager.SecurityLogs(context.Background())
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Event
	}
	return out
}
