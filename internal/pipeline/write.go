package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erauner12/toolbridge-offline/internal/model"
	"github.com/erauner12/toolbridge-offline/internal/store"
)

// PerformTaskOperation is the single write entry point. Intent is always
// durably recorded and optimistically mirrored before any network
// delivery; when the monitor reports online, a drain is triggered
// immediately afterwards. Two formerly separate paths (direct network
// write, offline-only queueing) collapse into this one, so no mutation
// can be lost to a mid-request connectivity change.
//
// For creates the returned payload carries a temporary negative id; the
// server assigns the real id during replay. The only error class is
// storage failure, which must be surfaced to the user rather than
// swallowed.
func (c *Client) PerformTaskOperation(ctx context.Context, op model.Operation, payload map[string]any) (map[string]any, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	switch op {
	case model.OpCreate:
		payload["id"] = c.nextLocalID()
	default:
		if _, err := entityID(payload); err != nil {
			return nil, err
		}
	}

	id, _ := entityID(payload)
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	switch op {
	case model.OpCreate, model.OpUpdate:
		if _, err := c.store.Enqueue(ctx, op, id, raw); err != nil {
			return nil, err
		}
		if err := c.store.MergeEntity(ctx, id, raw); err != nil {
			return nil, err
		}

	case model.OpDelete:
		if id < 0 {
			// The create this delete targets has never reached the
			// server; cancel it locally and skip the network entirely.
			err := c.store.CancelPendingCreate(ctx, id)
			if err == nil {
				c.maybeTriggerSync()
				return payload, nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			// No pending create left (already cancelled or purged
			// without an ack); tombstone the mirror row but never queue
			// a delete the server cannot resolve.
			if err := c.store.Tombstone(ctx, id); err != nil {
				return nil, err
			}
			return payload, nil
		}
		if _, err := c.store.Enqueue(ctx, op, id, raw); err != nil {
			return nil, err
		}
		if err := c.store.Tombstone(ctx, id); err != nil {
			return nil, err
		}
	}

	c.maybeTriggerSync()

	return payload, nil
}

// maybeTriggerSync short-circuits queued intent into an immediate drain
// when the server is reachable
func (c *Client) maybeTriggerSync() {
	if c.notifySync != nil && c.monitor != nil && c.monitor.Online() {
		c.notifySync()
	}
}

// entityID extracts the entity id from a payload, tolerating the numeric
// types JSON decoding produces
func entityID(payload map[string]any) (int64, error) {
	v, ok := payload["id"]
	if !ok {
		return 0, fmt.Errorf("payload is missing entity id")
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("unsupported entity id type %T", v)
	}
}
