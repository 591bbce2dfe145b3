// Package kv defines the shared key-value store capability used for session
// records and lockout counters, with Redis and in-memory implementations.
// The store is the single source of truth for session validity; nothing above
// it caches validity beyond one request.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get and CompareAndSwap when the key does not exist.
	ErrNotFound = errors.New("kv: key not found")
	// ErrCASMismatch is returned by CompareAndSwap when the stored value no longer
	// matches the expected one (a concurrent writer won the race).
	ErrCASMismatch = errors.New("kv: compare-and-swap mismatch")
)

// KeepTTL as the ttl argument to Set or CompareAndSwap preserves the key's
// remaining TTL instead of resetting it.
const KeepTTL = time.Duration(-1)

// Store is the key-value capability: single-key get/set with per-key TTL,
// atomic increment, and a conditional whole-value swap. No cross-key
// transactions are provided or assumed.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set writes value under key with the given TTL (0 = no expiry, KeepTTL = preserve).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// CompareAndSwap replaces the value under key only if the stored value equals
	// expected. Returns ErrNotFound if the key is gone, ErrCASMismatch if a
	// concurrent writer changed it first.
	CompareAndSwap(ctx context.Context, key, expected, value string, ttl time.Duration) error
	// Incr atomically increments the integer at key (missing key counts as 0)
	// and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Delete removes the given keys; missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Scan returns all keys matching the glob pattern (e.g. "session:u1:*").
	Scan(ctx context.Context, pattern string) ([]string, error)
}
