// Package service implements the refresh-token rotation state machine on top
// of the token codec and the session store.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"session-control-plane/internal/security"
	"session-control-plane/internal/session/domain"
	"session-control-plane/internal/session/repository"
)

// Sentinel errors; the lifecycle manager and handlers map them to responses.
var (
	// ErrInvalidRefreshToken covers forged, foreign, revoked-session, and
	// lost-race rotations. Deliberately indistinct: callers must not learn which.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenExpired is the one benign failure surfaced verbatim so
	// clients can re-authenticate instead of retrying.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrTokenReuse marks a replay of an already-rotated token. Matched via
	// errors.Is against *ReuseError.
	ErrTokenReuse = errors.New("refresh token reuse detected")
)

// ReuseError carries the session identity of a detected replay so the caller
// can raise an alert and decide whether to invalidate defensively.
type ReuseError struct {
	UserID    string
	SessionID string
}

func (e *ReuseError) Error() string { return "refresh token reuse detected" }

// Is makes errors.Is(err, ErrTokenReuse) match a *ReuseError.
func (e *ReuseError) Is(target error) bool { return target == ErrTokenReuse }

// TokenPair is one access/refresh issuance bound to a session.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	UserID           string
	SessionID        string
}

// SessionRepo is the minimal session repository needed by the rotation engine.
type SessionRepo interface {
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, userID, sessionID string) (*domain.Session, error)
	UpdateAfterRotation(ctx context.Context, userID, sessionID, newHash string, prevVersion int64) error
}

// RotationEngine issues token pairs and rotates refresh tokens. Rotation is
// atomic from the caller's point of view: the store write is the commit point,
// and generated tokens are never returned if it fails.
type RotationEngine struct {
	tokens   *security.TokenProvider
	sessions SessionRepo
}

// NewRotationEngine returns a RotationEngine on the given codec and store.
func NewRotationEngine(tokens *security.TokenProvider, sessions SessionRepo) *RotationEngine {
	return &RotationEngine{tokens: tokens, sessions: sessions}
}

// Issue creates a new session for userID with the given fingerprint and
// returns its first token pair. The session record is the commit point; on a
// store failure no tokens are returned.
func (e *RotationEngine) Issue(ctx context.Context, userID string, fp domain.Fingerprint) (*TokenPair, error) {
	sessionID := uuid.New().String()
	refreshToken, _, refreshExp, err := e.tokens.IssueRefresh(userID, sessionID)
	if err != nil {
		return nil, err
	}
	accessToken, _, accessExp, err := e.tokens.IssueAccess(userID, sessionID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sess := &domain.Session{
		ID:                 sessionID,
		UserID:             userID,
		CurrentRefreshHash: security.HashRefreshToken(refreshToken),
		Valid:              true,
		Fingerprint:        fp,
		LastUsedAt:         now,
		CreatedAt:          now,
		Version:            1,
	}
	if err := e.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		UserID:           userID,
		SessionID:        sessionID,
	}, nil
}

// Rotate validates the presented refresh token against the session store,
// detects reuse of already-rotated tokens, and rotates. Decisions rest solely
// on hash comparison against the current and historical hashes; wall-clock
// ordering is never consulted.
func (e *RotationEngine) Rotate(ctx context.Context, presented string) (*TokenPair, error) {
	// Signature and expiry first; a token that fails verification is never
	// compared against stored hashes.
	claims, err := e.tokens.ValidateRefresh(presented)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, ErrRefreshTokenExpired
		}
		return nil, ErrInvalidRefreshToken
	}
	userID, sessionID := claims.Subject, claims.SessionID

	sess, err := e.sessions.Get(ctx, userID, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	// A closed session is either a stale client or an attacker retrying after
	// logout. Same answer either way.
	if !sess.Valid {
		return nil, ErrInvalidRefreshToken
	}

	presentedHash := security.HashRefreshToken(presented)
	if !security.HashEqual(presentedHash, sess.CurrentRefreshHash) {
		if sess.HasUsedHash(presentedHash) {
			return nil, &ReuseError{UserID: userID, SessionID: sessionID}
		}
		return nil, ErrInvalidRefreshToken
	}

	newRefresh, _, refreshExp, err := e.tokens.IssueRefresh(userID, sessionID)
	if err != nil {
		return nil, err
	}
	newAccess, _, accessExp, err := e.tokens.IssueAccess(userID, sessionID)
	if err != nil {
		return nil, err
	}
	err = e.sessions.UpdateAfterRotation(ctx, userID, sessionID, security.HashRefreshToken(newRefresh), sess.Version)
	if errors.Is(err, repository.ErrConflict) {
		// Lost the rotation race: a concurrent rotate consumed this token first.
		return nil, ErrInvalidRefreshToken
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		// Commit point not reached; the generated tokens are discarded.
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	return &TokenPair{
		AccessToken:      newAccess,
		RefreshToken:     newRefresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		UserID:           userID,
		SessionID:        sessionID,
	}, nil
}
