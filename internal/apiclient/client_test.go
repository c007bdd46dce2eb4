package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant-console/internal/storage"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) GetToken(context.Context) (string, error) { return s.token, s.err }

type staticCSRF string

func (s staticCSRF) CSRFToken(context.Context) (string, error) { return string(s), nil }

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return s.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := storage.NewMemoryStore()
	t.Cleanup(store.Close)

	opts = append([]Option{WithStore(store)}, opts...)
	return New(Config{BaseURL: srv.URL + "/"}, opts...)
}

func TestRequestHeadersAndBody(t *testing.T) {
	var got *http.Request
	var body map[string]string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	c := newTestClient(t, handler,
		WithTokenSource(staticTokens{token: "omt_abc"}),
		WithCSRFSource(staticCSRF("csrf-1")),
	)

	resp, err := c.Request(context.Background(), "/companies", http.MethodPost,
		map[string]string{"name": "Acme"},
		&RequestOptions{Headers: map[string]string{"X-Trace": "t1"}},
	)
	require.NoError(t, err)

	assert.Equal(t, "/companies", got.URL.Path)
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "Bearer omt_abc", got.Header.Get("Authorization"))
	assert.Equal(t, "csrf-1", got.Header.Get("X-CSRF-Token"))
	assert.Equal(t, "t1", got.Header.Get("X-Trace"))
	assert.Equal(t, "Acme", body["name"])

	var decoded struct{ OK bool }
	require.NoError(t, resp.Decode(&decoded))
	assert.True(t, decoded.OK)
}

func TestRequestWithoutTokenOmitsAuthorization(t *testing.T) {
	var auth string
	var bodyLen int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		bodyLen = len(data)
		w.WriteHeader(http.StatusNoContent)
	})

	c := newTestClient(t, handler, WithTokenSource(staticTokens{}))

	resp, err := c.Request(context.Background(), "/companies", http.MethodGet, map[string]string{"ignored": "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Empty(t, auth)
	assert.Zero(t, bodyLen, "GET requests carry no body")
	assert.NoError(t, resp.Decode(&struct{}{}))
}

func TestRequestTokenSourceFailure(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })
	errCompromised := errors.New("session compromised")

	c := newTestClient(t, handler, WithTokenSource(staticTokens{err: errCompromised}))

	_, err := c.Request(context.Background(), "/companies", http.MethodGet, nil, nil)
	assert.ErrorIs(t, err, errCompromised)
	assert.Zero(t, calls.Load())
}

// flakyTokens fails once, then reports that no session exists.
type flakyTokens struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *flakyTokens) GetToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == 1 {
		return "", f.err
	}
	return "", nil
}

type failingCSRF struct{ err error }

func (f failingCSRF) CSRFToken(context.Context) (string, error) { return "", f.err }

func TestRequestWithRetryDoesNotRetryTokenSourceFailure(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	})
	errCompromised := errors.New("session compromised")
	tokens := &flakyTokens{err: errCompromised}
	sleeper := &recordingSleeper{}
	c := newTestClient(t, handler, WithTokenSource(tokens), WithSleeper(sleeper.sleep))

	_, err := c.RequestWithRetry(context.Background(), "/companies", http.MethodPost, map[string]string{"name": "Acme"}, nil, 3)

	require.ErrorIs(t, err, errCompromised)
	assert.Equal(t, errCompromised, err, "the source error is returned unwrapped")
	assert.Zero(t, calls.Load(), "nothing is sent without the session")
	assert.Empty(t, sleeper.delays)
	assert.Equal(t, 1, tokens.calls)
}

func TestRequestWithRetryDoesNotRetryCSRFSourceFailure(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })
	errStore := errors.New("tab store unavailable")
	sleeper := &recordingSleeper{}
	c := newTestClient(t, handler, WithCSRFSource(failingCSRF{err: errStore}), WithSleeper(sleeper.sleep))

	_, err := c.RequestWithRetry(context.Background(), "/companies", http.MethodGet, nil, nil, 3)

	assert.Equal(t, errStore, err)
	assert.Zero(t, calls.Load())
	assert.Empty(t, sleeper.delays)
}

func TestRequestHTTPError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
	})
	c := newTestClient(t, handler)

	_, err := c.Request(context.Background(), "/companies/x", http.MethodGet, nil, nil)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.Equal(t, "HTTP 404: Not Found", httpErr.Error())
	assert.Contains(t, httpErr.Body, "not_found")
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.Zero(t, StatusCode(errors.New("other")))
}

func TestRequestTimeout(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 30 * time.Millisecond})

	_, err := c.Request(context.Background(), "/slow", http.MethodGet, nil, nil)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRequestCallerCancellation(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	c := newTestClient(t, handler)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Request(ctx, "/slow", http.MethodGet, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url})

	_, err := c.Request(context.Background(), "/health", http.MethodGet, nil, nil)
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestRequestWithRetryBacksOffExponentially(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	sleeper := &recordingSleeper{}
	c := newTestClient(t, handler, WithSleeper(sleeper.sleep))

	_, err := c.RequestWithRetry(context.Background(), "/companies", http.MethodGet, nil, nil, 0)

	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.delays)
}

func TestRequestWithRetryRecovers(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	sleeper := &recordingSleeper{}
	c := newTestClient(t, handler, WithSleeper(sleeper.sleep))

	resp, err := c.RequestWithRetry(context.Background(), "/companies", http.MethodGet, nil, nil, 3)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.delays)
}

func TestRequestWithRetrySingleAttempt(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	sleeper := &recordingSleeper{}
	c := newTestClient(t, handler, WithSleeper(sleeper.sleep))

	_, err := c.RequestWithRetry(context.Background(), "/companies", http.MethodGet, nil, nil, 1)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.Empty(t, sleeper.delays)
}

func TestRequestWithRetryStopsWhenWaitIsCancelled(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	sleeper := &recordingSleeper{err: context.Canceled}
	c := newTestClient(t, handler, WithSleeper(sleeper.sleep))

	_, err := c.RequestWithRetry(context.Background(), "/companies", http.MethodGet, nil, nil, 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
