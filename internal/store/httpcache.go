package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// PutCachedResponse stores the raw body of a successful GET keyed by its
// exact URL. Overwrite-only: the cache is never consulted while the
// network is healthy, so racing a fresh write is benign.
func (s *Store) PutCachedResponse(ctx context.Context, url string, body []byte) error {
	return s.withTx(ctx, "putCachedResponse", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO http_cache (url, body, fetched_at) VALUES (?, ?, ?)
			 ON CONFLICT(url) DO UPDATE SET body = excluded.body, fetched_at = excluded.fetched_at`,
			url, body, time.Now().UnixMilli())
		return err
	})
}

// GetCachedResponse returns the cached body for the exact URL, or
// ErrNotFound when no entry exists.
func (s *Store) GetCachedResponse(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM http_cache WHERE url = ?`, url).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("getCachedResponse", err)
	}
	return body, nil
}

// InvalidateCachedResponses removes all entries whose URL contains one of
// the given path prefixes. Called after a successful drain so reads stop
// serving pre-sync state.
func (s *Store) InvalidateCachedResponses(ctx context.Context, prefixes ...string) error {
	if len(prefixes) == 0 {
		return nil
	}
	return s.withTx(ctx, "invalidateCachedResponses", func(tx *sql.Tx) error {
		var clauses []string
		var args []any
		for _, p := range prefixes {
			clauses = append(clauses, "url LIKE ?")
			args = append(args, "%"+p+"%")
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM http_cache WHERE `+strings.Join(clauses, " OR "), args...)
		return err
	})
}
