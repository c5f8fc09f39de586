// Package memstore is an in-process StateStore used by tests,
// grounded on the same key/hash/list
// shape the pgx-backed store exposes.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bikeshrana/qbtrader/internal/state"
)

type entry struct {
	value    string
	expireAt time.Time
}

// Store is an in-memory implementation of state.Store.
type Store struct {
	mu     sync.RWMutex
	scalar map[string]entry
	hashes map[string]map[string]string
	lists  map[string][]string
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		scalar: make(map[string]entry),
		hashes: make(map[string]map[string]string),
		lists:  make(map[string][]string),
	}
}

func (s *Store) expiredLocked(key string) bool {
	e, ok := s.scalar[key]
	if !ok {
		return false
	}
	return !e.expireAt.IsZero() && time.Now().After(e.expireAt)
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expiredLocked(key) {
		return "", state.ErrNotFound
	}
	e, ok := s.scalar[key]
	if !ok {
		return "", state.ErrNotFound
	}
	return e.value, nil
}

func (s *Store) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scalar[key] = entry{value: value}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scalar, key)
	delete(s.hashes, key)
	delete(s.lists, key)
	return nil
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.scalar[key]
	if !ok {
		return state.ErrNotFound
	}
	e.expireAt = time.Now().Add(ttl)
	s.scalar[key] = e
	return nil
}

func (s *Store) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.scalar {
		if strings.HasPrefix(k, prefix) && !s.expiredLocked(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) HashGet(_ context.Context, key, field string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hashes[key]
	if !ok {
		return "", state.ErrNotFound
	}
	v, ok := h[field]
	if !ok {
		return "", state.ErrNotFound
	}
	return v, nil
}

func (s *Store) HashSet(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (s *Store) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hashes[key]
	if !ok {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (s *Store) HashIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	cur, _ := strconv.ParseInt(h[field], 10, 64)
	cur += delta
	h[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (s *Store) HashDelete(_ context.Context, key, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hashes[key]; ok {
		delete(h, field)
	}
	return nil
}

func (s *Store) ListPush(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], value)
	return nil
}

func (s *Store) ListTrim(_ context.Context, key string, maxLen int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lists[key]
	if len(l) > maxLen {
		s.lists[key] = l[len(l)-maxLen:]
	}
	return nil
}

func (s *Store) ListRange(_ context.Context, key string, start, stop int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l := s.lists[key]
	n := len(l)
	if n == 0 {
		return nil, nil
	}
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}
