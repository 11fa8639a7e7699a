package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/erauner12/toolbridge-offline/internal/model"
)

// ReadOption configures a single read
type ReadOption func(*readOpts)

type readOpts struct {
	timeout time.Duration
}

// WithTimeout overrides the read budget for one call
func WithTimeout(d time.Duration) ReadOption {
	return func(o *readOpts) { o.timeout = d }
}

// FetchTasks returns the task list. The call never fails: a network,
// auth, or parse problem degrades through cache, mirror, and finally an
// empty slice. A 401 resolves to nil without consulting fallbacks.
func (c *Client) FetchTasks(ctx context.Context, opts ...ReadOption) []model.Task {
	raw, err := c.get(ctx, "/api/tasks", opts...)
	if err == nil {
		var tasks []model.Task
		if json.Unmarshal(raw, &tasks) == nil {
			return tasks
		}
		// Cached body no longer matches the expected shape; keep degrading
		err = ErrMalformedBody
	}
	if errors.Is(err, ErrUnauthorized) {
		return nil
	}

	// Durable mirror is the read fallback of last resort before the default
	if tasks, mErr := c.store.ListEntities(ctx); mErr == nil && len(tasks) > 0 {
		c.logger.Debug().Int("count", len(tasks)).Msg("serving tasks from durable mirror")
		return tasks
	}

	return []model.Task{}
}

// FetchAnalyticsSummary returns the analytics summary, or its zero value
// when nothing is reachable. Never fails.
func (c *Client) FetchAnalyticsSummary(ctx context.Context, opts ...ReadOption) model.AnalyticsSummary {
	var summary model.AnalyticsSummary
	raw, err := c.get(ctx, "/api/analytics/summary", opts...)
	if err != nil {
		return summary
	}
	if json.Unmarshal(raw, &summary) != nil {
		return model.AnalyticsSummary{}
	}
	return summary
}

// GetList fetches an arbitrary list endpoint, degrading to an empty
// JSON array. A 401 resolves to nil per the default policy.
func (c *Client) GetList(ctx context.Context, path string, opts ...ReadOption) json.RawMessage {
	raw, err := c.get(ctx, path, opts...)
	if errors.Is(err, ErrUnauthorized) {
		return nil
	}
	if err != nil {
		return json.RawMessage("[]")
	}
	return raw
}

// GetObject fetches an arbitrary object endpoint, degrading to an empty
// JSON object. A 401 resolves to nil per the default policy.
func (c *Client) GetObject(ctx context.Context, path string, opts ...ReadOption) json.RawMessage {
	raw, err := c.get(ctx, path, opts...)
	if errors.Is(err, ErrUnauthorized) {
		return nil
	}
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

// get walks the first two tiers of the fallback chain: network (with one
// backed-off retry on transient failure), then the HTTP response cache.
// ErrUnauthorized is the only error that skips the cache tier; the
// caller applies its shape-specific tail (mirror, typed default).
func (c *Client) get(ctx context.Context, path string, opts ...ReadOption) (json.RawMessage, error) {
	ro := readOpts{timeout: c.readTimeout}
	for _, opt := range opts {
		opt(&ro)
	}

	raw, err := c.fetchOnce(ctx, path, ro.timeout)
	if err == nil {
		return raw, nil
	}
	if errors.Is(err, ErrUnauthorized) {
		if c.on401 != nil {
			c.on401()
		}
		return nil, err
	}

	// One retry for transient transport failures only; HTTP-level and
	// parse failures will not improve on an immediate retry.
	var statusErr *StatusError
	if !errors.As(err, &statusErr) && !errors.Is(err, ErrMalformedBody) {
		select {
		case <-time.After(readRetryBackoff):
			if raw, retryErr := c.fetchOnce(ctx, path, ro.timeout); retryErr == nil {
				return raw, nil
			}
		case <-ctx.Done():
		}
	}

	c.logger.Debug().Err(err).Str("path", path).Msg("network read failed, consulting response cache")

	if body, cacheErr := c.store.GetCachedResponse(ctx, c.baseURL+path); cacheErr == nil {
		return body, nil
	}

	return nil, err
}

// fetchOnce performs a single network GET, validates the body, and
// opportunistically populates the response cache for allow-listed paths.
func (c *Client) fetchOnce(ctx context.Context, path string, timeout time.Duration) (json.RawMessage, error) {
	resp, err := c.Do(ctx, http.MethodGet, path, nil, timeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, &StatusError{Method: http.MethodGet, Path: path, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// Proxies and gateways sometimes serve an HTML error page with a 200
	// status; treat that as a parse failure, not data.
	if looksLikeHTML(body) {
		return nil, ErrMalformedBody
	}
	if !json.Valid(body) {
		return nil, ErrMalformedBody
	}

	if cacheable(path) {
		if err := c.store.PutCachedResponse(ctx, c.baseURL+path, body); err != nil {
			c.logger.Warn().Err(err).Str("path", path).Msg("failed to populate response cache")
		}
	}

	return body, nil
}

// looksLikeHTML sniffs for an HTML document prefix
func looksLikeHTML(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 64 {
		trimmed = trimmed[:64]
	}
	lower := strings.ToLower(trimmed)
	return strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html")
}
