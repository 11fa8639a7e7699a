package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/erauner12/toolbridge-offline/internal/model"
)

// PutEntities upserts tasks into the local mirror. Existing rows are
// overwritten, including previously tombstoned ones (a server refresh
// that returns an entity resurrects it).
func (s *Store) PutEntities(ctx context.Context, tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return s.withTx(ctx, "putEntities", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO entity_mirror (id, payload, assignee, due_date, deleted, updated_at)
			 VALUES (?, ?, ?, ?, 0, ?)
			 ON CONFLICT(id) DO UPDATE SET
				payload = excluded.payload,
				assignee = excluded.assignee,
				due_date = excluded.due_date,
				deleted = 0,
				updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, task := range tasks {
			payload, err := json.Marshal(task)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, task.ID, string(payload), task.AssigneeID, task.DueDate, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// MergeEntity applies a partial update on top of the mirrored payload.
// Missing rows are created from the partial alone so optimistic updates
// to never-fetched entities still have a fallback representation.
func (s *Store) MergeEntity(ctx context.Context, id int64, partial json.RawMessage) error {
	return s.withTx(ctx, "mergeEntity", func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT payload FROM entity_mirror WHERE id = ?`, id).Scan(&existing)
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		merged := map[string]any{}
		if existing != "" {
			if err := json.Unmarshal([]byte(existing), &merged); err != nil {
				// Corrupt mirror row; replace it with the partial
				merged = map[string]any{}
			}
		}
		var delta map[string]any
		if err := json.Unmarshal(partial, &delta); err != nil {
			return err
		}
		for k, v := range delta {
			merged[k] = v
		}
		merged["id"] = id

		payload, err := json.Marshal(merged)
		if err != nil {
			return err
		}

		assignee, _ := merged["assigneeId"].(string)
		dueDate, _ := merged["dueDate"].(string)

		_, err = tx.ExecContext(ctx,
			`INSERT INTO entity_mirror (id, payload, assignee, due_date, deleted, updated_at)
			 VALUES (?, ?, ?, ?, 0, ?)
			 ON CONFLICT(id) DO UPDATE SET
				payload = excluded.payload,
				assignee = excluded.assignee,
				due_date = excluded.due_date,
				deleted = 0,
				updated_at = excluded.updated_at`,
			id, string(payload), assignee, dueDate, time.Now().UnixMilli())
		return err
	})
}

// GetEntity returns a mirrored task by id, or ErrNotFound for missing
// and tombstoned rows.
func (s *Store) GetEntity(ctx context.Context, id int64) (*model.Task, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM entity_mirror WHERE id = ? AND deleted = 0`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("getEntity", err)
	}
	var task model.Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return nil, storageErr("getEntity", err)
	}
	return &task, nil
}

// ListEntities returns all mirrored tasks, tombstoned rows excluded,
// ordered by id so optimistic (negative id) entities sort first.
func (s *Store) ListEntities(ctx context.Context) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM entity_mirror WHERE deleted = 0 ORDER BY id ASC`)
	if err != nil {
		return nil, storageErr("listEntities", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, storageErr("listEntities", err)
		}
		var task model.Task
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			s.logger.Warn().Err(err).Msg("skipping unreadable mirror row")
			continue
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("listEntities", err)
	}
	return tasks, nil
}

// Tombstone marks a mirrored entity as deleted so fallback reads stop
// returning it. The row itself is kept; a later server refresh decides
// its fate.
func (s *Store) Tombstone(ctx context.Context, id int64) error {
	return s.withTx(ctx, "tombstone", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO entity_mirror (id, payload, deleted, updated_at)
			 VALUES (?, '{}', 1, ?)
			 ON CONFLICT(id) DO UPDATE SET deleted = 1, updated_at = excluded.updated_at`,
			id, time.Now().UnixMilli())
		return err
	})
}

// MinLocalID returns the smallest (most negative) entity id present in
// the mirror, used to seed the optimistic local id counter after restart.
// Returns 0 when no negative ids exist.
func (s *Store) MinLocalID(ctx context.Context) (int64, error) {
	var min sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(id) FROM entity_mirror WHERE id < 0`).Scan(&min); err != nil {
		return 0, storageErr("minLocalID", err)
	}
	if !min.Valid {
		return 0, nil
	}
	return min.Int64, nil
}
