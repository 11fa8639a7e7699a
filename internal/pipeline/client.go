// Package pipeline executes every domain read and write through a single
// policy: bounded timeouts, credential injection, opportunistic cache
// population, and a layered fallback chain that keeps GET requests from
// ever surfacing a transient network condition to rendering code.
package pipeline

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/erauner12/toolbridge-offline/internal/connectivity"
	"github.com/erauner12/toolbridge-offline/internal/store"
)

const (
	// DefaultReadTimeout bounds GET requests before the fallback chain takes over
	DefaultReadTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds POST/PATCH/DELETE requests
	DefaultWriteTimeout = 10 * time.Second

	// readRetryBackoff is the pause before the single transient-failure
	// retry on the read path. Backoff exists only here; replay of queued
	// mutations is retried per drain cycle instead.
	readRetryBackoff = 500 * time.Millisecond
)

// cacheAllowList holds the endpoint path prefixes whose successful GET
// responses are stored in the HTTP response cache.
var cacheAllowList = []string{"/api/tasks", "/api/users", "/api/analytics"}

// Client wraps http.Client with the offline policy. It owns the
// optimistic local id counter for creates made while offline.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	store        *store.Store
	monitor      *connectivity.Monitor
	token        string
	readTimeout  time.Duration
	writeTimeout time.Duration
	on401        func()
	notifySync   func()
	logger       zerolog.Logger

	localID atomic.Int64 // next optimistic id is localID-1
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithToken sets the static bearer token attached to every request
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithReadTimeout overrides the GET budget
func WithReadTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.readTimeout = d }
}

// WithWriteTimeout overrides the mutation budget
func WithWriteTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.writeTimeout = d }
}

// WithRedirectOn401 installs a 401 side effect (e.g. redirect to login)
// invoked instead of the default silent-null policy
func WithRedirectOn401(fn func()) ClientOption {
	return func(c *Client) { c.on401 = fn }
}

// WithSyncNotifier installs the hook fired after a durable write is
// queued while online, letting the orchestrator drain immediately
func WithSyncNotifier(fn func()) ClientOption {
	return func(c *Client) { c.notifySync = fn }
}

// NewClient creates a pipeline client. The local id counter is seeded
// from the mirror so optimistic ids assigned before a restart are never
// reissued.
func NewClient(ctx context.Context, baseURL string, st *store.Store, monitor *connectivity.Monitor, logger zerolog.Logger, opts ...ClientOption) (*Client, error) {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{},
		store:        st,
		monitor:      monitor,
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	min, err := st.MinLocalID(ctx)
	if err != nil {
		return nil, err
	}
	c.localID.Store(min)

	return c, nil
}

// nextLocalID returns a fresh temporary negative id for an optimistic create
func (c *Client) nextLocalID() int64 {
	return c.localID.Add(-1)
}

// Do issues a raw network request with a bounded timeout and injected
// credentials. A single context deadline serves both the timeout timer
// and any caller-initiated cancel, so the two cannot race. The deadline
// covers the response body too: callers stream the body after Do
// returns, and closing it releases the context. Callers on the write
// path must not cancel once the request has been issued.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, timeout time.Duration) (*http.Response, error) {
	if timeout <= 0 {
		timeout = c.writeTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		cancel()
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Correlation-ID", uuid.New().String())

	if err := c.attachCredentials(req); err != nil {
		cancel()
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	evt := c.logger.Debug().Str("method", method).Str("path", path).Dur("duration", duration)
	if err != nil {
		cancel()
		evt.Err(err).Msg("request failed")
		return nil, err
	}
	evt.Int("status", resp.StatusCode).Msg("request completed")

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose ties the request context's lifetime to the response
// body, so a still-streaming body is not cut off when Do returns.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// attachCredentials injects the bearer token. An already-expired token
// short-circuits to the 401 policy without a network round-trip: the
// server would reject it anyway and the round-trip would only delay the
// fallback chain.
func (c *Client) attachCredentials(req *http.Request) error {
	if c.token == "" {
		return nil
	}
	if tokenExpired(c.token) {
		c.logger.Warn().Msg("configured token is expired")
		return ErrUnauthorized
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return nil
}

// tokenExpired decodes the token claims without verifying the signature,
// purely to learn the expiry. Verification is the server's job; opaque
// (non-JWT) tokens are passed through untouched.
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}

// cacheable reports whether the request path is on the response-cache allow-list
func cacheable(path string) bool {
	for _, prefix := range cacheAllowList {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
