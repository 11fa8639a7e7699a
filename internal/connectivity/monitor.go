// Package connectivity determines actual network reachability via active
// probing. OS- or browser-reported link status alone is not trusted: a
// machine can report a link while the server is unreachable (captive
// portal, DNS failure, server down), which must surface as NetworkError
// rather than Online or Offline.
package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// State is the base connectivity state. Sync progress is tracked
// separately by the orchestrator and layered on top for the UI.
type State string

const (
	StateOnline       State = "online"
	StateOffline      State = "offline"
	StateNetworkError State = "network_error"
)

// LinkState reports the platform's own connectivity signal (the analogue
// of navigator.onLine). When it reports down, no probe is attempted.
type LinkState interface {
	Up() bool
}

// LinkStateFunc adapts a function to the LinkState interface
type LinkStateFunc func() bool

func (f LinkStateFunc) Up() bool { return f() }

// AlwaysUp is the default link source for environments without a
// platform signal; reachability then rests entirely on the probe.
var AlwaysUp LinkState = LinkStateFunc(func() bool { return true })

// Monitor probes a lightweight endpoint and exposes a small state
// machine. Concurrent Check calls share one in-flight probe.
type Monitor struct {
	probeURL string
	client   *http.Client
	link     LinkState
	interval time.Duration
	logger   zerolog.Logger

	group singleflight.Group

	mu       sync.RWMutex
	state    State
	onOnline func()
}

// Option configures a Monitor
type Option func(*Monitor)

// WithLinkState injects a platform connectivity signal
func WithLinkState(link LinkState) Option {
	return func(m *Monitor) { m.link = link }
}

// WithProbeTimeout overrides the per-probe budget (default 5s)
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.client.Timeout = d }
}

// WithInterval overrides the periodic probe cadence (default 30s)
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// NewMonitor creates a monitor probing probeURL
func NewMonitor(probeURL string, logger zerolog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		probeURL: probeURL,
		client:   &http.Client{Timeout: 5 * time.Second},
		link:     AlwaysUp,
		interval: 30 * time.Second,
		state:    StateOffline,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnOnline registers the hook fired once per transition into Online from
// any other state. Repeated probe successes while already Online do not
// re-fire it.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	m.onOnline = fn
	m.mu.Unlock()
}

// State returns the current connectivity state
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Online reports whether the last evaluation resolved to Online
func (m *Monitor) Online() bool {
	return m.State() == StateOnline
}

// Check performs an on-demand reachability evaluation and returns
// whether the server is reachable. Safe to call from any goroutine;
// concurrent calls await the same in-flight probe.
func (m *Monitor) Check(ctx context.Context) bool {
	if !m.link.Up() {
		m.setState(StateOffline, nil)
		return false
	}

	v, err, _ := m.group.Do("probe", func() (any, error) {
		// The probe is shared by every concurrent caller, so it must not
		// ride the first caller's context: a client disconnecting from the
		// status API would abort the probe for everyone else. The client
		// timeout still bounds it.
		probeCtx, cancel := context.WithTimeout(context.Background(), m.client.Timeout)
		defer cancel()
		return nil, m.probe(probeCtx)
	})
	_ = v

	if err != nil {
		// Link claims up but the probe failed: server down, captive
		// portal, or DNS breakage rather than airplane mode.
		m.setState(StateNetworkError, err)
		return false
	}

	m.setState(StateOnline, nil)
	return true
}

// probe issues a cache-busted HEAD request against the probe endpoint
func (m *Monitor) probe(ctx context.Context) error {
	url := fmt.Sprintf("%s?t=%d", m.probeURL, time.Now().UnixNano())
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

// setState transitions the state machine, firing the online hook exactly
// once per entry into Online.
func (m *Monitor) setState(next State, cause error) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	hook := m.onOnline
	m.mu.Unlock()

	if prev == next {
		return
	}

	evt := m.logger.Info().Str("from", string(prev)).Str("to", string(next))
	if cause != nil {
		evt = evt.Err(cause)
	}
	evt.Msg("connectivity state changed")

	if next == StateOnline && hook != nil {
		go hook()
	}
}

// Run re-probes on the configured cadence until ctx is cancelled. The
// caller usually runs this in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Establish an initial state rather than waiting a full interval
	m.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
