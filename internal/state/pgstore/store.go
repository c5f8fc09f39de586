// Package pgstore implements state.Store on top of PostgreSQL, using
// the same pgxpool + InitSchema pattern the teacher's data repositories
// use for the orders/portfolio/strategies tables.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/qbtrader/internal/state"
)

// Store is a pgx-backed state.Store over generic key/hash/list tables.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// InitSchema creates the generic key-value tables backing state.Store.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_store (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS kv_hash (
		key TEXT NOT NULL,
		field TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (key, field)
	);

	CREATE TABLE IF NOT EXISTS kv_list (
		key TEXT NOT NULL,
		position BIGSERIAL,
		value TEXT NOT NULL,
		PRIMARY KEY (key, position)
	);

	CREATE INDEX IF NOT EXISTS idx_kv_store_expires ON kv_store(expires_at) WHERE expires_at IS NOT NULL;
	`
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("init state schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_store WHERE key=$1 AND (expires_at IS NULL OR expires_at > NOW())`, key,
	).Scan(&value)
	if err != nil {
		return "", state.ErrNotFound
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = NOW(), expires_at = NULL
	`, key, value)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM kv_store WHERE key=$1`, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	_, _ = s.pool.Exec(ctx, `DELETE FROM kv_hash WHERE key=$1`, key)
	_, _ = s.pool.Exec(ctx, `DELETE FROM kv_list WHERE key=$1`, key)
	return nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE kv_store SET expires_at=$2 WHERE key=$1`, key, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return state.ErrNotFound
	}
	return nil
}

func (s *Store) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM kv_store WHERE key LIKE $1 AND (expires_at IS NULL OR expires_at > NOW()) ORDER BY key`,
		prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("scan prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) HashGet(ctx context.Context, key, field string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_hash WHERE key=$1 AND field=$2`, key, field).Scan(&value)
	if err != nil {
		return "", state.ErrNotFound
	}
	return value, nil
}

func (s *Store) HashSet(ctx context.Context, key, field, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_hash (key, field, value, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key, field) DO UPDATE SET value = $3, updated_at = NOW()
	`, key, field, value)
	if err != nil {
		return fmt.Errorf("hash set %s/%s: %w", key, field, err)
	}
	return nil
}

func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT field, value FROM kv_hash WHERE key=$1`, key)
	if err != nil {
		return nil, fmt.Errorf("hash getall %s: %w", key, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var f, v string
		if err := rows.Scan(&f, &v); err != nil {
			return nil, err
		}
		out[f] = v
	}
	return out, rows.Err()
}

func (s *Store) HashIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	var result int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO kv_hash (key, field, value, updated_at) VALUES ($1, $2, $3::text, NOW())
		ON CONFLICT (key, field) DO UPDATE
			SET value = (COALESCE(kv_hash.value, '0')::bigint + $3)::text, updated_at = NOW()
		RETURNING value::bigint
	`, key, field, delta).Scan(&result)
	if err != nil {
		return 0, fmt.Errorf("hash incrby %s/%s: %w", key, field, err)
	}
	return result, nil
}

func (s *Store) HashDelete(ctx context.Context, key, field string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM kv_hash WHERE key=$1 AND field=$2`, key, field)
	if err != nil {
		return fmt.Errorf("hash delete %s/%s: %w", key, field, err)
	}
	return nil
}

func (s *Store) ListPush(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO kv_list (key, value) VALUES ($1, $2)`, key, value)
	if err != nil {
		return fmt.Errorf("list push %s: %w", key, err)
	}
	return nil
}

func (s *Store) ListTrim(ctx context.Context, key string, maxLen int) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM kv_list WHERE key=$1 AND position NOT IN (
			SELECT position FROM kv_list WHERE key=$1 ORDER BY position DESC LIMIT $2
		)
	`, key, maxLen)
	if err != nil {
		return fmt.Errorf("list trim %s: %w", key, err)
	}
	return nil
}

func (s *Store) ListRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	limit := stop - start + 1
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT value FROM kv_list WHERE key=$1 ORDER BY position ASC OFFSET $2 LIMIT $3`,
		key, start, limit)
	if err != nil {
		return nil, fmt.Errorf("list range %s: %w", key, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
