// Package credential verifies submitted passwords with per-identifier lockout
// tracking in the shared key-value store.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"session-control-plane/internal/kv"
	"session-control-plane/internal/security"
)

var (
	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLocked is returned when the identifier is locked out, including on the
	// failure that engaged the lock. The lock is time-bound only; there is no
	// explicit unlock.
	ErrLocked = errors.New("identifier temporarily locked")
)

// Verifier checks passwords against stored bcrypt hashes and tracks
// consecutive failures per identifier. Counters use the store's atomic
// increment so concurrent failed logins from one identifier are not lost.
type Verifier struct {
	hasher    *security.Hasher
	store     kv.Store
	threshold int
	lockFor   time.Duration
	window    time.Duration
}

// NewVerifier returns a Verifier. threshold consecutive failures within window
// lock the identifier for lockFor.
func NewVerifier(hasher *security.Hasher, store kv.Store, threshold int, lockFor, window time.Duration) *Verifier {
	return &Verifier{hasher: hasher, store: store, threshold: threshold, lockFor: lockFor, window: window}
}

func lockoutKey(identifier string) string {
	return fmt.Sprintf("lockout:%s", identifier)
}

func attemptsKey(identifier string) string {
	return fmt.Sprintf("login_attempts:%s", identifier)
}

// Verify checks plainPassword against storedHash, failing closed with
// ErrLocked while the identifier is locked (even for a correct password). A
// mismatch increments the failure counter; reaching the threshold engages a
// time-boxed lock. A match clears the counter.
func (v *Verifier) Verify(ctx context.Context, plainPassword, storedHash, identifier string) error {
	locked, err := v.isLocked(ctx, identifier)
	if err != nil {
		return err
	}
	if locked {
		return ErrLocked
	}
	if err := v.hasher.Compare(storedHash, []byte(plainPassword)); err != nil {
		return v.recordFailure(ctx, identifier)
	}
	if err := v.store.Delete(ctx, attemptsKey(identifier)); err != nil {
		return err
	}
	return nil
}

func (v *Verifier) isLocked(ctx context.Context, identifier string) (bool, error) {
	_, err := v.store.Get(ctx, lockoutKey(identifier))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// recordFailure bumps the failure counter, starting the expiry window on the
// first failure, and engages the lock at the threshold. Returns ErrLocked on
// the failure that locked, ErrInvalidCredentials otherwise.
func (v *Verifier) recordFailure(ctx context.Context, identifier string) error {
	key := attemptsKey(identifier)
	n, err := v.store.Incr(ctx, key)
	if err != nil {
		return err
	}
	if n == 1 {
		if err := v.store.Expire(ctx, key, v.window); err != nil {
			return err
		}
	}
	if n >= int64(v.threshold) {
		if err := v.store.Set(ctx, lockoutKey(identifier), "1", v.lockFor); err != nil {
			return err
		}
		if err := v.store.Delete(ctx, key); err != nil {
			return err
		}
		return ErrLocked
	}
	return ErrInvalidCredentials
}
