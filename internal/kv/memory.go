package kv

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is an in-memory Store implementation, used by tests and local
// development without a Redis instance.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: time.Now,
	}
}

// SetClock overrides the store's clock; tests use this to advance TTLs.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowF = now
}

// Get returns the value for key, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set writes value under key with the given TTL.
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = entry{value: value, expiresAt: s.deadline(key, ttl)}
	return nil
}

// CompareAndSwap replaces the value under key only if it still equals expected.
func (s *MemoryStore) CompareAndSwap(ctx context.Context, key, expected, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return ErrNotFound
	}
	if e.value != expected {
		return ErrCASMismatch
	}
	s.m[key] = entry{value: value, expiresAt: s.deadline(key, ttl)}
	return nil
}

// Incr atomically increments the integer at key and returns the new value.
func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if e, ok := s.live(key); ok {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++
	prev := s.m[key]
	s.m[key] = entry{value: strconv.FormatInt(n, 10), expiresAt: prev.expiresAt}
	return n, nil
}

// Expire sets the TTL of an existing key.
func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return ErrNotFound
	}
	e.expiresAt = s.nowF().Add(ttl)
	s.m[key] = e
	return nil
}

// Delete removes the given keys.
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.m, k)
	}
	return nil
}

// Scan returns all keys matching the glob pattern.
func (s *MemoryStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.m {
		if _, ok := s.live(k); !ok {
			continue
		}
		if matched, _ := path.Match(pattern, k); matched {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// live returns the entry for key if present and not expired, evicting it lazily otherwise.
// Caller must hold mu.
func (s *MemoryStore) live(key string) (entry, bool) {
	e, ok := s.m[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !e.expiresAt.After(s.nowF()) {
		delete(s.m, key)
		return entry{}, false
	}
	return e, true
}

// deadline resolves ttl against the existing entry for KeepTTL semantics.
// Caller must hold mu.
func (s *MemoryStore) deadline(key string, ttl time.Duration) time.Time {
	switch {
	case ttl == KeepTTL:
		if e, ok := s.m[key]; ok {
			return e.expiresAt
		}
		return time.Time{}
	case ttl <= 0:
		return time.Time{}
	default:
		return s.nowF().Add(ttl)
	}
}
