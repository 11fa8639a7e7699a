package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erauner12/toolbridge-offline/internal/model"
)

// Enqueue appends a pending operation with the current timestamp and
// returns its auto-assigned id. The caller must not drop the mutation if
// this fails; an ErrStorageUnavailable here means the write was never
// durably recorded.
func (s *Store) Enqueue(ctx context.Context, op model.Operation, entityID int64, payload json.RawMessage) (int64, error) {
	if !op.Valid() {
		return 0, &StorageError{Op: "enqueue", Err: fmt.Errorf("unknown operation %q", op)}
	}

	var id int64
	err := s.withTx(ctx, "enqueue", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO pending_operations (operation, entity_id, payload, created_at, synced)
			 VALUES (?, ?, ?, ?, 0)`,
			string(op), entityID, string(payload), time.Now().UnixMilli())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug().Int64("operationId", id).Str("operation", string(op)).Int64("entityId", entityID).Msg("enqueued pending operation")
	return id, nil
}

// ListPending returns all un-synced operations in replay order
// (timestamp ascending, insertion order breaking ties).
func (s *Store) ListPending(ctx context.Context) ([]model.PendingOperation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation, entity_id, payload, created_at, synced
		 FROM pending_operations
		 WHERE synced = 0
		 ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, storageErr("listPending", err)
	}
	defer rows.Close()

	var ops []model.PendingOperation
	for rows.Next() {
		var op model.PendingOperation
		var opKind, payload string
		var synced int
		if err := rows.Scan(&op.ID, &opKind, &op.EntityID, &payload, &op.CreatedAt, &synced); err != nil {
			return nil, storageErr("listPending", err)
		}
		op.Operation = model.Operation(opKind)
		op.Payload = json.RawMessage(payload)
		op.Synced = synced != 0
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("listPending", err)
	}
	return ops, nil
}

// MarkSynced flags an operation as applied on the server. Idempotent:
// marking an already-synced or purged operation is not an error.
func (s *Store) MarkSynced(ctx context.Context, operationID int64) error {
	return s.withTx(ctx, "markSynced", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE pending_operations SET synced = 1 WHERE id = ?`, operationID)
		return err
	})
}

// PurgeSynced deletes all synced records. Called only after a drain cycle
// completes, so a crash mid-drain leaves the synced flags intact.
func (s *Store) PurgeSynced(ctx context.Context) error {
	return s.withTx(ctx, "purgeSynced", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM pending_operations WHERE synced = 1`)
		return err
	})
}

// CancelPendingCreate removes a queued Create for a locally-created
// (negative id) entity and tombstones its mirror row, all in one
// transaction. Returns ErrNotFound when no such pending create exists,
// in which case nothing is modified.
func (s *Store) CancelPendingCreate(ctx context.Context, localID int64) error {
	if localID >= 0 {
		return &StorageError{Op: "cancelPendingCreate", Err: fmt.Errorf("entity id %d is not a local id", localID)}
	}
	found := false
	err := s.withTx(ctx, "cancelPendingCreate", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM pending_operations WHERE operation = ? AND entity_id = ? AND synced = 0`,
			string(model.OpCreate), localID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		found = true
		// Drop any updates queued behind the cancelled create as well;
		// they can never apply against the server.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pending_operations WHERE entity_id = ? AND synced = 0`, localID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE entity_mirror SET deleted = 1, updated_at = ? WHERE id = ?`,
			time.Now().UnixMilli(), localID)
		return err
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	s.logger.Debug().Int64("localId", localID).Msg("cancelled pending create locally")
	return nil
}

// ReassignPendingEntity rewrites the entity id of remaining un-synced
// operations from a temporary local id to the server-assigned one.
// Called when a create is acknowledged, so dependent updates and
// deletes stay replayable across drain cycles, not just within the
// cycle that saw the acknowledgement.
func (s *Store) ReassignPendingEntity(ctx context.Context, localID, serverID int64) error {
	return s.withTx(ctx, "reassignPendingEntity", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE pending_operations SET entity_id = ? WHERE entity_id = ? AND synced = 0`,
			serverID, localID)
		return err
	})
}

// PendingCount returns the number of un-synced operations
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_operations WHERE synced = 0`).Scan(&n); err != nil {
		return 0, storageErr("pendingCount", err)
	}
	return n, nil
}
