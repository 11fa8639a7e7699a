package syncer

import (
	"context"
	"errors"
)

// SyncTag is the named registration used for delegated background replay
const SyncTag = "sync-tasks"

// CompletionSyncComplete is the message type a background context posts
// when a delegated replay finishes
const CompletionSyncComplete = "sync-complete"

// ErrNoBackgroundSync indicates no background-capable delivery mechanism
// is available and the caller must drain inline
var ErrNoBackgroundSync = errors.New("background sync not supported")

// Completion is the message contract between the background execution
// context and the orchestrator
type Completion struct {
	Type string `json:"type"`
}

// Registrar abstracts the background-capable sync registration mechanism.
// Exactly one implementation is selected at startup instead of capability
// sniffing at every call site.
type Registrar interface {
	// Supported reports whether delegated background replay is available
	Supported() bool

	// Register hands a named sync request to the background context; the
	// HTTP replay then happens outside the caller's lifetime
	Register(ctx context.Context, tag string) error

	// Completions delivers messages posted by the background context.
	// May return nil when Supported is false.
	Completions() <-chan Completion
}

// ManualRegistrar is the fallback when no background mechanism exists;
// the orchestrator drains inline instead.
type ManualRegistrar struct{}

func (ManualRegistrar) Supported() bool { return false }

func (ManualRegistrar) Register(ctx context.Context, tag string) error {
	return ErrNoBackgroundSync
}

func (ManualRegistrar) Completions() <-chan Completion { return nil }

// BackgroundRegistrar bridges to an external background execution
// context over two message channels: registration requests out,
// completion notifications in.
type BackgroundRegistrar struct {
	requests    chan string
	completions chan Completion
}

// NewBackgroundRegistrar creates a registrar with buffered channels so
// neither side blocks the other
func NewBackgroundRegistrar(buffer int) *BackgroundRegistrar {
	if buffer <= 0 {
		buffer = 8
	}
	return &BackgroundRegistrar{
		requests:    make(chan string, buffer),
		completions: make(chan Completion, buffer),
	}
}

func (r *BackgroundRegistrar) Supported() bool { return true }

// Register posts the named request without waiting for the replay
func (r *BackgroundRegistrar) Register(ctx context.Context, tag string) error {
	select {
	case r.requests <- tag:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *BackgroundRegistrar) Completions() <-chan Completion { return r.completions }

// Requests exposes the registration stream to the background context
func (r *BackgroundRegistrar) Requests() <-chan string { return r.requests }

// NotifyComplete is called by the background context after a successful
// delegated drain. Non-blocking: if the orchestrator is behind, the
// latest notification is all it needs.
func (r *BackgroundRegistrar) NotifyComplete() {
	select {
	case r.completions <- Completion{Type: CompletionSyncComplete}:
	default:
	}
}
