// Package syncer drains the durable mutation queue against the server
// once connectivity allows, preferring a background-capable delivery
// mechanism and falling back to an inline replay loop.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/erauner12/toolbridge-offline/internal/connectivity"
	"github.com/erauner12/toolbridge-offline/internal/model"
	"github.com/erauner12/toolbridge-offline/internal/pipeline"
	"github.com/erauner12/toolbridge-offline/internal/store"
)

// ErrOffline indicates a drain was requested while the monitor reports
// the server unreachable; no network calls were attempted
var ErrOffline = errors.New("not online, sync aborted")

// invalidatePrefixes are the read-cache path prefixes cleared after a
// successful drain so rendered lists reflect server-confirmed state
var invalidatePrefixes = []string{"/api/tasks", "/api/analytics"}

// Orchestrator replays pending operations in timestamp order. One
// failing operation never blocks later independent operations; failures
// stay pending for the next drain.
type Orchestrator struct {
	store     *store.Store
	client    *pipeline.Client
	monitor   *connectivity.Monitor
	registrar Registrar
	logger    zerolog.Logger

	isSyncing atomic.Bool
	kick      chan struct{}

	mu       sync.RWMutex
	lastSync *time.Time
}

// New creates an orchestrator. Pass a ManualRegistrar when no background
// delivery mechanism exists.
func New(st *store.Store, client *pipeline.Client, monitor *connectivity.Monitor, registrar Registrar, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     st,
		client:    client,
		monitor:   monitor,
		registrar: registrar,
		logger:    logger,
		kick:      make(chan struct{}, 1),
	}
}

// Kick requests a drain without blocking. Multiple kicks before the
// loop wakes coalesce into one drain.
func (o *Orchestrator) Kick() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

// Snapshot is the read-only status contract consumed by the UI banner
type Snapshot struct {
	IsOnline        bool       `json:"isOnline"`
	IsSyncing       bool       `json:"isSyncing"`
	PendingActions  int        `json:"pendingActions"`
	HasNetworkError bool       `json:"hasNetworkError"`
	LastSync        *time.Time `json:"lastSync,omitempty"`
}

// Status returns the current status snapshot
func (o *Orchestrator) Status(ctx context.Context) Snapshot {
	pending, err := o.store.PendingCount(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to count pending operations")
	}
	state := o.monitor.State()

	o.mu.RLock()
	last := o.lastSync
	o.mu.RUnlock()

	return Snapshot{
		IsOnline:        state == connectivity.StateOnline,
		IsSyncing:       o.isSyncing.Load(),
		PendingActions:  pending,
		HasNetworkError: state == connectivity.StateNetworkError,
		LastSync:        last,
	}
}

// Run processes drain requests and background-completion messages until
// ctx is cancelled
func (o *Orchestrator) Run(ctx context.Context) {
	completions := o.registrar.Completions()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.kick:
			if err := o.SyncPending(ctx); err != nil && !errors.Is(err, ErrOffline) {
				o.logger.Error().Err(err).Msg("drain cycle failed")
			}
		case msg, ok := <-completions:
			if !ok {
				completions = nil
				continue
			}
			if msg.Type == CompletionSyncComplete {
				o.onRemoteDrainComplete(ctx)
			}
		}
	}
}

// SyncPending runs one drain cycle. Aborts immediately when offline.
// Prefers delegating to the background registrar; drains inline when
// that capability is absent or registration fails.
func (o *Orchestrator) SyncPending(ctx context.Context) error {
	if !o.monitor.Online() {
		o.logger.Debug().Str("state", string(o.monitor.State())).Msg("skipping drain while unreachable")
		return ErrOffline
	}

	if o.registrar.Supported() {
		if err := o.registrar.Register(ctx, SyncTag); err == nil {
			o.logger.Debug().Str("tag", SyncTag).Msg("delegated drain to background context")
			return nil
		} else {
			o.logger.Warn().Err(err).Msg("background registration failed, draining inline")
		}
	}

	return o.drain(ctx)
}

// drain replays the full pending batch inline
func (o *Orchestrator) drain(ctx context.Context) error {
	if !o.isSyncing.CompareAndSwap(false, true) {
		o.logger.Debug().Msg("drain already in progress")
		return nil
	}
	defer o.isSyncing.Store(false)

	ops, err := o.store.ListPending(ctx)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	o.logger.Info().Int("pending", len(ops)).Msg("starting drain cycle")

	// Server ids assigned to creates replayed in this batch, so later
	// operations queued against the temporary negative id can follow.
	assigned := make(map[int64]int64)

	applied, failed := 0, 0
	for _, op := range ops {
		if err := o.replay(ctx, op, assigned); err != nil {
			failed++
			o.logger.Warn().Err(err).
				Int64("operationId", op.ID).
				Str("operation", string(op.Operation)).
				Int64("entityId", op.EntityID).
				Msg("operation failed, leaving pending for next drain")
			continue
		}
		if err := o.store.MarkSynced(ctx, op.ID); err != nil {
			return err
		}
		applied++
	}

	if err := o.store.PurgeSynced(ctx); err != nil {
		return err
	}
	if err := o.store.InvalidateCachedResponses(ctx, invalidatePrefixes...); err != nil {
		o.logger.Warn().Err(err).Msg("failed to invalidate response caches")
	}

	now := time.Now()
	o.mu.Lock()
	o.lastSync = &now
	o.mu.Unlock()

	o.logger.Info().Int("applied", applied).Int("failed", failed).Msg("drain cycle finished")
	return nil
}

// replay issues the HTTP call for one pending operation. Success is any
// 2xx response; everything else leaves the operation pending.
func (o *Orchestrator) replay(ctx context.Context, op model.PendingOperation, assigned map[int64]int64) error {
	switch op.Operation {
	case model.OpCreate:
		return o.replayCreate(ctx, op, assigned)

	case model.OpUpdate:
		id, ok := resolveEntityID(op.EntityID, assigned)
		if !ok {
			return fmt.Errorf("create for local id %d not yet acknowledged", op.EntityID)
		}
		body := patchPayloadID(op.Payload, id)
		resp, err := o.client.Do(ctx, http.MethodPatch, fmt.Sprintf("/api/tasks/%d", id), body, 0)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return check2xx(http.MethodPatch, resp)

	case model.OpDelete:
		id, ok := resolveEntityID(op.EntityID, assigned)
		if !ok {
			return fmt.Errorf("create for local id %d not yet acknowledged", op.EntityID)
		}
		resp, err := o.client.Do(ctx, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", id), nil, 0)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return check2xx(http.MethodDelete, resp)

	default:
		return fmt.Errorf("unknown operation %q", op.Operation)
	}
}

// replayCreate posts the payload without its temporary local id and
// records the server-assigned id for the rest of the batch. The mirror
// swaps the optimistic row for the confirmed one when the server echoes
// the created entity.
func (o *Orchestrator) replayCreate(ctx context.Context, op model.PendingOperation, assigned map[int64]int64) error {
	body, err := stripPayloadID(op.Payload)
	if err != nil {
		return err
	}

	resp, err := o.client.Do(ctx, http.MethodPost, "/api/tasks", body, 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := check2xx(http.MethodPost, resp); err != nil {
		return err
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil // applied on the server; mirror refresh can wait for the next fetch
	}
	var created model.Task
	if json.Unmarshal(respBody, &created) != nil || created.ID == 0 {
		return nil
	}

	assigned[op.EntityID] = created.ID

	// Durably rewrite dependent pending operations too: if one of them
	// fails this cycle, the next drain must still know the server id.
	if err := o.store.ReassignPendingEntity(ctx, op.EntityID, created.ID); err != nil {
		o.logger.Warn().Err(err).Int64("localId", op.EntityID).Int64("id", created.ID).Msg("failed to reassign pending operations")
	}

	if err := o.store.Tombstone(ctx, op.EntityID); err != nil {
		o.logger.Warn().Err(err).Int64("localId", op.EntityID).Msg("failed to retire optimistic mirror row")
	}
	if err := o.store.PutEntities(ctx, []model.Task{created}); err != nil {
		o.logger.Warn().Err(err).Int64("id", created.ID).Msg("failed to mirror created entity")
	}
	return nil
}

// onRemoteDrainComplete reacts to a background context finishing a
// delegated replay: retire the synced records and drop stale read caches
func (o *Orchestrator) onRemoteDrainComplete(ctx context.Context) {
	o.logger.Info().Msg("background drain completed")
	if err := o.store.PurgeSynced(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("failed to purge synced operations")
	}
	if err := o.store.InvalidateCachedResponses(ctx, invalidatePrefixes...); err != nil {
		o.logger.Warn().Err(err).Msg("failed to invalidate response caches")
	}
	now := time.Now()
	o.mu.Lock()
	o.lastSync = &now
	o.mu.Unlock()
}

// resolveEntityID maps a temporary negative id to the server id assigned
// earlier in the same batch
func resolveEntityID(id int64, assigned map[int64]int64) (int64, bool) {
	if id >= 0 {
		return id, true
	}
	server, ok := assigned[id]
	return server, ok
}

// check2xx treats any 2xx as applied
func check2xx(method string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &pipeline.StatusError{Method: method, Path: resp.Request.URL.Path, Code: resp.StatusCode}
}

// stripPayloadID removes the temporary local id before a create is sent
func stripPayloadID(payload json.RawMessage) (json.RawMessage, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	delete(m, "id")
	return json.Marshal(m)
}

// patchPayloadID rewrites the payload id after a local id was remapped
func patchPayloadID(payload json.RawMessage, id int64) json.RawMessage {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return payload
	}
	m["id"] = id
	out, err := json.Marshal(m)
	if err != nil {
		return payload
	}
	return out
}
