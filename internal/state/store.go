// Package state declares the StateStore capability: the key-value
// persistence surface the core engine needs (order queue mirror,
// broker-id mappings, position snapshots, daily counters, execution
// tracker snapshots) without committing to a concrete backing store.
package state

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get/HashGet when the key or field is absent.
var ErrNotFound = errors.New("state: key not found")

// Store is the persistence capability consumed by the core engine.
// Implementations may return transient errors; callers in this module
// do not retry a failed store call.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	HashGet(ctx context.Context, key, field string) (string, error)
	HashSet(ctx context.Context, key, field, value string) error
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HashDelete(ctx context.Context, key, field string) error

	ListPush(ctx context.Context, key, value string) error
	ListTrim(ctx context.Context, key string, maxLen int) error
	ListRange(ctx context.Context, key string, start, stop int) ([]string, error)
}
