// Package apiclient talks to the tenant-manager backend: authenticated JSON
// requests with a per-request timeout, retry with exponential backoff, a
// TTL response cache and connectivity tracking.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"tenant-console/internal/storage"
	"tenant-console/internal/util"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultRetryAttempts = 3
	DefaultRetryBase     = time.Second
	DefaultCacheTTL      = 5 * time.Minute

	maxErrorBody = 4 << 10
)

// TokenSource yields the current bearer token, "" when there is none.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
}

// CSRFSource yields the per-session CSRF token.
type CSRFSource interface {
	CSRFToken(ctx context.Context) (string, error)
}

// SessionStore keeps the local session in step with the backend's.
type SessionStore interface {
	StoreToken(ctx context.Context, token string, ttl time.Duration) error
	ClearToken(ctx context.Context) error
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int
	RetryBase     time.Duration
	CacheTTL      time.Duration
	// ProbeInterval enables a background /health probe feeding
	// connectivity when positive.
	ProbeInterval time.Duration
}

type Option func(*Client)

func WithTokenSource(src TokenSource) Option { return func(c *Client) { c.tokens = src } }
func WithCSRFSource(src CSRFSource) Option   { return func(c *Client) { c.csrf = src } }
func WithSessionStore(s SessionStore) Option { return func(c *Client) { c.session = s } }

// WithStore sets the durable store used for the response cache and the
// persisted user profile.
func WithStore(s storage.Store) Option { return func(c *Client) { c.store = s } }

func WithConnectivity(conn *Connectivity) Option { return func(c *Client) { c.conn = conn } }
func WithHTTPClient(hc *http.Client) Option      { return func(c *Client) { c.http = hc } }
func WithClock(clock Clock) Option               { return func(c *Client) { c.clock = clock } }
func WithSleeper(sleep Sleeper) Option           { return func(c *Client) { c.sleep = sleep } }
func WithLogger(logger *zap.Logger) Option       { return func(c *Client) { c.logger = logger } }

type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	tokens  TokenSource
	csrf    CSRFSource
	session SessionStore
	store   storage.Store
	conn    *Connectivity
	clock   Clock
	sleep   Sleeper
	logger  *zap.Logger

	// retryAttempts switches the endpoint wrappers to RequestWithRetry.
	retryAttempts int
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		clock:   systemClock{},
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.store == nil {
		c.store = storage.NewMemoryStore()
	}
	if c.conn == nil {
		c.conn = NewConnectivity(true)
	}
	c.logger = util.OrNop(c.logger)
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// WithRetry returns a view of the client whose endpoint wrappers retry up
// to maxAttempts times. Zero uses the configured default.
func (c *Client) WithRetry(maxAttempts int) *Client {
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.RetryAttempts
	}
	clone := *c
	clone.retryAttempts = maxAttempts
	return &clone
}

type RequestOptions struct {
	// Headers override the defaults, including Authorization.
	Headers map[string]string
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 || v == nil {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// credentialError marks a token or CSRF source failure. The session may
// already be gone, so such failures are never retried.
type credentialError struct {
	err error
}

func (e *credentialError) Error() string { return e.err.Error() }
func (e *credentialError) Unwrap() error { return e.err }

// Request performs one exchange with the backend. It returns ErrTimeout when
// the per-request deadline fires, *HTTPError for non-2xx answers and
// *NetworkError for transport failures. Errors from the token source are
// returned unchanged before anything is sent.
func (c *Client) Request(ctx context.Context, path, method string, body any, opts *RequestOptions) (*Response, error) {
	resp, err := c.send(ctx, path, method, body, opts)
	var credErr *credentialError
	if errors.As(err, &credErr) {
		return nil, credErr.err
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, path, method string, body any, opts *RequestOptions) (*Response, error) {
	if method == "" {
		method = http.MethodGet
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil && hasBody(method) {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.GetToken(ctx)
		if err != nil {
			return nil, &credentialError{err: err}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if c.csrf != nil {
		token, err := c.csrf.CSRFToken(ctx)
		if err != nil {
			return nil, &credentialError{err: err}
		}
		req.Header.Set("X-CSRF-Token", token)
	}
	if opts != nil {
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}
	}

	start := c.clock.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classify(ctx, reqCtx, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(ctx, reqCtx, method, path, err)
	}

	c.logger.Debug("API request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", c.clock.Now().Sub(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		httpErr := &HTTPError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       string(data),
		}
		c.logger.Warn("API request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(httpErr),
		)
		return nil, httpErr
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) classify(parent, reqCtx context.Context, method, path string, err error) error {
	switch {
	case parent.Err() != nil:
		return parent.Err()
	case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
		c.logger.Warn("API request timed out",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("timeout", c.cfg.Timeout),
		)
		return ErrTimeout
	default:
		c.logger.Warn("API request could not be sent",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return &NetworkError{Err: err}
	}
}

// RequestWithRetry repeats Request up to maxAttempts times (the configured
// default when zero). After failed attempt n it waits RetryBase * 2^n,
// except after the last attempt, whose error is returned. Token and CSRF
// source failures end the loop at once.
func (c *Client) RequestWithRetry(ctx context.Context, path, method string, body any, opts *RequestOptions, maxAttempts int) (*Response, error) {
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.RetryAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.send(ctx, path, method, body, opts)
		if err == nil {
			return resp, nil
		}
		var credErr *credentialError
		if errors.As(err, &credErr) {
			return nil, credErr.err
		}
		lastErr = err

		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}

		delay := c.cfg.RetryBase * time.Duration(1<<attempt)
		c.logger.Warn("API request attempt failed, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// do runs a request through the retry policy selected for this view and
// decodes the answer into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var (
		resp *Response
		err  error
	)
	if c.retryAttempts > 0 {
		resp, err = c.RequestWithRetry(ctx, path, method, body, nil, c.retryAttempts)
	} else {
		resp, err = c.Request(ctx, path, method, body, nil)
	}
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}
