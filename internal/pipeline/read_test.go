package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/erauner12/toolbridge-offline/internal/model"
	"github.com/erauner12/toolbridge-offline/internal/store"
)

func newTestClient(t *testing.T, baseURL string, opts ...ClientOption) (*Client, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	c, err := NewClient(context.Background(), baseURL, st, nil, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return c, st
}

func TestFetchTasksFromNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tasks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":1,"title":"a"},{"id":2,"title":"b"}]`))
	}))
	defer server.Close()

	c, st := newTestClient(t, server.URL)

	tasks := c.FetchTasks(context.Background())
	if len(tasks) != 2 || tasks[0].Title != "a" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}

	// Successful allow-listed GET populates the response cache
	body, err := st.GetCachedResponse(context.Background(), server.URL+"/api/tasks")
	if err != nil {
		t.Fatalf("expected cache entry: %v", err)
	}
	if string(body) != `[{"id":1,"title":"a"},{"id":2,"title":"b"}]` {
		t.Errorf("unexpected cached body: %s", body)
	}
}

// Timed-out GET with no cache and no mirror resolves to an empty slice,
// never an error.
func TestFetchTasksTimeoutNoFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL)

	tasks := c.FetchTasks(context.Background(), WithTimeout(50*time.Millisecond))
	if tasks == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(tasks) != 0 {
		t.Errorf("expected no tasks, got %+v", tasks)
	}
}

// Fallback order: HTTP cache wins over the durable mirror.
func TestFallbackPrefersResponseCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // network tier always fails

	c, st := newTestClient(t, server.URL)
	ctx := context.Background()

	if err := st.PutCachedResponse(ctx, server.URL+"/api/tasks", []byte(`[{"id":10,"title":"cached"}]`)); err != nil {
		t.Fatalf("seed cache failed: %v", err)
	}
	if err := st.PutEntities(ctx, []model.Task{{ID: 20, Title: "mirrored"}}); err != nil {
		t.Fatalf("seed mirror failed: %v", err)
	}

	tasks := c.FetchTasks(ctx)
	if len(tasks) != 1 || tasks[0].ID != 10 {
		t.Fatalf("expected cached tasks to win, got %+v", tasks)
	}
}

func TestFallbackUsesMirrorWhenCacheEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	c, st := newTestClient(t, server.URL)
	ctx := context.Background()

	if err := st.PutEntities(ctx, []model.Task{{ID: 20, Title: "mirrored"}}); err != nil {
		t.Fatalf("seed mirror failed: %v", err)
	}

	tasks := c.FetchTasks(ctx)
	if len(tasks) != 1 || tasks[0].ID != 20 {
		t.Fatalf("expected mirrored tasks, got %+v", tasks)
	}
}

// An HTML error page served with a 200 status is a soft failure, not data.
func TestHTMLBodyFallsThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<!DOCTYPE html><html><body>gateway error</body></html>"))
	}))
	defer server.Close()

	c, st := newTestClient(t, server.URL)
	ctx := context.Background()

	st.PutEntities(ctx, []model.Task{{ID: 3, Title: "survivor"}})

	tasks := c.FetchTasks(ctx)
	if len(tasks) != 1 || tasks[0].ID != 3 {
		t.Fatalf("expected mirror fallback on HTML body, got %+v", tasks)
	}

	// Malformed bodies must never enter the response cache
	if _, err := st.GetCachedResponse(ctx, server.URL+"/api/tasks"); err == nil {
		t.Error("HTML body must not be cached")
	}
}

func TestUnauthorizedResolvesToNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c, st := newTestClient(t, server.URL)
	ctx := context.Background()

	// Local data exists, but a 401 resolves to null without fallbacks:
	// a stale session must not surface cached state as if authorized.
	st.PutEntities(ctx, []model.Task{{ID: 1, Title: "hidden"}})

	if tasks := c.FetchTasks(ctx); tasks != nil {
		t.Errorf("expected nil on 401, got %+v", tasks)
	}
	if raw := c.GetList(ctx, "/api/users"); raw != nil {
		t.Errorf("expected nil raw list on 401, got %s", raw)
	}
}

func TestRedirectOn401Policy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	var redirected atomic.Bool
	c, _ := newTestClient(t, server.URL, WithRedirectOn401(func() { redirected.Store(true) }))

	c.FetchTasks(context.Background())
	if !redirected.Load() {
		t.Error("expected 401 policy callback to fire")
	}
}

// Analytics summary fails with no fallback: zeroed summary, not an error.
func TestAnalyticsSummaryDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	c, _ := newTestClient(t, server.URL)

	summary := c.FetchAnalyticsSummary(context.Background())
	if summary != (model.AnalyticsSummary{}) {
		t.Errorf("expected zero summary, got %+v", summary)
	}
}

func TestGetObjectDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	c, _ := newTestClient(t, server.URL)

	raw := c.GetObject(context.Background(), "/api/users/me")
	if string(raw) != "{}" {
		t.Errorf("expected empty object default, got %s", raw)
	}
}

func TestTransientFailureRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Kill the connection on the first attempt
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("hijacking unsupported")
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write([]byte(`[{"id":1,"title":"second try"}]`))
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL)

	tasks := c.FetchTasks(context.Background())
	if len(tasks) != 1 || tasks[0].Title != "second try" {
		t.Fatalf("expected retry to succeed, got %+v", tasks)
	}
	if calls.Load() != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", calls.Load())
	}
}

func TestNonAllowListedPathNotCached(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":"1"}`))
	}))
	defer server.Close()

	c, st := newTestClient(t, server.URL)
	ctx := context.Background()

	raw := c.GetObject(ctx, "/api/meta")
	if string(raw) != `{"version":"1"}` {
		t.Fatalf("unexpected body: %s", raw)
	}
	if _, err := st.GetCachedResponse(ctx, server.URL+"/api/meta"); err == nil {
		t.Error("non-allow-listed path must not be cached")
	}
}

func TestExpiredTokenShortCircuits(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	c, _ := newTestClient(t, server.URL, WithToken(expired))

	if tasks := c.FetchTasks(context.Background()); tasks != nil {
		t.Errorf("expected nil for expired token, got %+v", tasks)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no network call with expired token, got %d", calls.Load())
	}
}

func TestBearerTokenAttached(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.Header.Get("X-Correlation-ID") == "" {
			t.Error("missing X-Correlation-ID header")
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	// Opaque tokens pass through without an expiry check
	c, _ := newTestClient(t, server.URL, WithToken("opaque-token-123"))
	c.FetchTasks(context.Background())

	if gotAuth != "Bearer opaque-token-123" {
		t.Errorf("unexpected Authorization header: %s", gotAuth)
	}
}

// A healthy 200 response whose body arrives in chunks must be read to
// completion; the request deadline covers the body, not just the headers.
func TestFetchTasksStreamedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("flushing unsupported")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("["))
		flusher.Flush()
		for i := 1; i <= 5; i++ {
			if i > 1 {
				w.Write([]byte(","))
			}
			fmt.Fprintf(w, `{"id":%d,"title":"t%d"}`, i, i)
			flusher.Flush()
			time.Sleep(50 * time.Millisecond)
		}
		w.Write([]byte("]"))
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL)

	tasks := c.FetchTasks(context.Background())
	if len(tasks) != 5 {
		t.Fatalf("expected all 5 streamed tasks, got %d: %+v", len(tasks), tasks)
	}
	if tasks[4].Title != "t5" {
		t.Errorf("unexpected final task: %+v", tasks[4])
	}
}
