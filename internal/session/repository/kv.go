package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"session-control-plane/internal/kv"
	"session-control-plane/internal/session/domain"
)

var (
	// ErrNotFound is returned when no record exists for the (user, session) pair.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned when a concurrent writer updated the record between
	// the caller's read and this write. Rotation treats it as a lost race and fails closed.
	ErrConflict = errors.New("session modified concurrently")
)

// rmwRetries bounds read-modify-write retries for flag updates (invalidate,
// fingerprint). Rotation never retries; its conflict is a security signal.
const rmwRetries = 3

// KVRepository persists session records in the shared key-value store as
// whole-record JSON values with a sliding TTL.
type KVRepository struct {
	store      kv.Store
	ttl        time.Duration
	historyMax int
}

// NewKVRepository returns a session repository on the given store. ttl is the
// session record lifetime, refreshed on each rotation; historyMax caps the
// used-token hash history.
func NewKVRepository(store kv.Store, ttl time.Duration, historyMax int) *KVRepository {
	return &KVRepository{store: store, ttl: ttl, historyMax: historyMax}
}

func sessionKey(userID, sessionID string) string {
	return fmt.Sprintf("session:%s:%s", userID, sessionID)
}

// Create initializes a record with Valid=true and the full session TTL.
func (r *KVRepository) Create(ctx context.Context, s *domain.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, sessionKey(s.UserID, s.ID), string(raw), r.ttl)
}

// Get returns the record for (userID, sessionID), or ErrNotFound.
func (r *KVRepository) Get(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	s, _, err := r.get(ctx, sessionKey(userID, sessionID))
	return s, err
}

func (r *KVRepository) get(ctx context.Context, key string) (*domain.Session, string, error) {
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	var s domain.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, "", err
	}
	return &s, raw, nil
}

// UpdateAfterRotation appends the old refresh hash to the used-token history
// (oldest evicted first), installs newHash as current, refreshes the TTL, and
// updates LastUsedAt. The write is conditional on the record being unchanged
// since the caller read it at prevVersion; a lost race returns ErrConflict and
// nothing is written.
func (r *KVRepository) UpdateAfterRotation(ctx context.Context, userID, sessionID, newHash string, prevVersion int64) error {
	key := sessionKey(userID, sessionID)
	s, raw, err := r.get(ctx, key)
	if err != nil {
		return err
	}
	if s.Version != prevVersion {
		return ErrConflict
	}
	s.RecordRotation(newHash, r.historyMax, time.Now().UTC())
	next, err := json.Marshal(s)
	if err != nil {
		return err
	}
	err = r.store.CompareAndSwap(ctx, key, raw, string(next), r.ttl)
	switch {
	case errors.Is(err, kv.ErrCASMismatch):
		return ErrConflict
	case errors.Is(err, kv.ErrNotFound):
		return ErrNotFound
	default:
		return err
	}
}

// Invalidate sets Valid=false, keeping the record (and its remaining TTL) so
// that replays against a closed session are detected and logged, not 404'd.
func (r *KVRepository) Invalidate(ctx context.Context, userID, sessionID string) error {
	return r.mutate(ctx, sessionKey(userID, sessionID), func(s *domain.Session) {
		s.Valid = false
	})
}

// InvalidateAll invalidates every session of the user.
func (r *KVRepository) InvalidateAll(ctx context.Context, userID string) error {
	keys, err := r.store.Scan(ctx, sessionKey(userID, "*"))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := r.mutate(ctx, key, func(s *domain.Session) { s.Valid = false }); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// UpdateFingerprint unconditionally persists the latest device fingerprint.
// Last write wins; a concurrent rotation bumping the version only forces a re-read.
func (r *KVRepository) UpdateFingerprint(ctx context.Context, userID, sessionID string, fp domain.Fingerprint) error {
	return r.mutate(ctx, sessionKey(userID, sessionID), func(s *domain.Session) {
		s.Fingerprint = fp
	})
}

// ListByUser returns the user's session records ordered by LastUsedAt
// descending, sliced by limit and offset. Invalid (revoked) records are
// included; callers filter if needed.
func (r *KVRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Session, error) {
	keys, err := r.store.Scan(ctx, sessionKey(userID, "*"))
	if err != nil {
		return nil, err
	}
	sessions := make([]*domain.Session, 0, len(keys))
	for _, key := range keys {
		s, _, err := r.get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastUsedAt.After(sessions[j].LastUsedAt)
	})
	if offset >= len(sessions) {
		return nil, nil
	}
	sessions = sessions[offset:]
	if limit > 0 && limit < len(sessions) {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// mutate applies fn in a read-modify-write loop, preserving the record's
// remaining TTL. Retries a few times on CAS races with concurrent rotations.
func (r *KVRepository) mutate(ctx context.Context, key string, fn func(*domain.Session)) error {
	var lastErr error
	for i := 0; i < rmwRetries; i++ {
		s, raw, err := r.get(ctx, key)
		if err != nil {
			return err
		}
		fn(s)
		s.Version++
		next, err := json.Marshal(s)
		if err != nil {
			return err
		}
		err = r.store.CompareAndSwap(ctx, key, raw, string(next), kv.KeepTTL)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, kv.ErrCASMismatch):
			lastErr = ErrConflict
			continue
		case errors.Is(err, kv.ErrNotFound):
			return ErrNotFound
		default:
			return err
		}
	}
	return lastErr
}
