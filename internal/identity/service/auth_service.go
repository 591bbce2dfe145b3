// Package service composes the credential verifier, rotation engine, anomaly
// detector, and session store into the session lifecycle operations exposed to
// the transport layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"session-control-plane/internal/anomaly"
	"session-control-plane/internal/audit"
	auditdomain "session-control-plane/internal/audit/domain"
	"session-control-plane/internal/credential"
	"session-control-plane/internal/security"
	sessiondomain "session-control-plane/internal/session/domain"
	sessionrepo "session-control-plane/internal/session/repository"
	sessionservice "session-control-plane/internal/session/service"
	"session-control-plane/internal/telemetry"
	userdomain "session-control-plane/internal/user/domain"
)

// Sentinel errors for the lifecycle manager; handlers map them to HTTP status codes.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is surfaced with the same status as bad credentials so
	// the lockout state is not probeable from outside.
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrInvalidAccessToken = errors.New("invalid access token")
	ErrSessionNotFound    = errors.New("session not found")
)

// AuthResult holds the outcome of Login or Refresh: the issued token pair plus
// the anomaly side-check result (nil at login or when the check was clean).
type AuthResult struct {
	sessionservice.TokenPair
	Anomaly *anomaly.Result
}

// SessionSummary is the view of one session returned by ListSessions.
type SessionSummary struct {
	SessionID  string                    `json:"session_id"`
	Device     sessiondomain.Fingerprint `json:"device"`
	Valid      bool                      `json:"valid"`
	LastUsedAt time.Time                 `json:"last_used_at"`
	CreatedAt  time.Time                 `json:"created_at"`
}

// SessionFilter narrows and paginates ListSessions.
type SessionFilter struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}

// UserDirectory is the external user store consumed by the lifecycle manager.
// Implementations return (nil, nil) when the email is unknown.
type UserDirectory interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
}

// SessionStore is the slice of the session repository the lifecycle manager needs.
type SessionStore interface {
	Get(ctx context.Context, userID, sessionID string) (*sessiondomain.Session, error)
	Invalidate(ctx context.Context, userID, sessionID string) error
	InvalidateAll(ctx context.Context, userID string) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*sessiondomain.Session, error)
}

// Rotator issues and rotates token pairs.
type Rotator interface {
	Issue(ctx context.Context, userID string, fp sessiondomain.Fingerprint) (*sessionservice.TokenPair, error)
	Rotate(ctx context.Context, presented string) (*sessionservice.TokenPair, error)
}

// CredentialVerifier checks a password with lockout tracking.
type CredentialVerifier interface {
	Verify(ctx context.Context, plainPassword, storedHash, identifier string) error
}

// AnomalyDetector runs the fingerprint side check after rotations.
type AnomalyDetector interface {
	Check(ctx context.Context, userID, sessionID string, fp sessiondomain.Fingerprint) (*anomaly.Result, error)
	Record(ctx context.Context, userID, sessionID string, fp sessiondomain.Fingerprint) error
}

// AuthService implements login, refresh, logout, and session administration.
type AuthService struct {
	users         UserDirectory
	sessions      SessionStore
	rotator       Rotator
	verifier      CredentialVerifier
	detector      AnomalyDetector
	tokens        *security.TokenProvider
	auditor       audit.AuditLogger
	metrics       *telemetry.AuthMetrics
	log           *logrus.Logger
	revokeOnReuse bool
}

// NewAuthService returns an AuthService with the given dependencies.
// revokeOnReuse enables defensive session invalidation when a replayed refresh
// token is detected; the default posture logs the alert and fails the request only.
func NewAuthService(
	users UserDirectory,
	sessions SessionStore,
	rotator Rotator,
	verifier CredentialVerifier,
	detector AnomalyDetector,
	tokens *security.TokenProvider,
	auditor audit.AuditLogger,
	metrics *telemetry.AuthMetrics,
	log *logrus.Logger,
	revokeOnReuse bool,
) *AuthService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &AuthService{
		users:         users,
		sessions:      sessions,
		rotator:       rotator,
		verifier:      verifier,
		detector:      detector,
		tokens:        tokens,
		auditor:       auditor,
		metrics:       metrics,
		log:           log,
		revokeOnReuse: revokeOnReuse,
	}
}

// Login authenticates with email/password, creates a session, and returns the
// first token pair. Bad credentials and active lockout both fail closed.
func (s *AuthService) Login(ctx context.Context, email, password string, fp sessiondomain.Fingerprint) (*AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	if user == nil {
		s.metrics.LoginFailure(ctx)
		s.auditor.LogEvent(ctx, "", "", auditdomain.ActionLoginFailure, "unknown identifier")
		return nil, ErrInvalidCredentials
	}
	if err := s.verifier.Verify(ctx, password, user.PasswordHash, email); err != nil {
		switch {
		case errors.Is(err, credential.ErrLocked):
			s.metrics.Lockout(ctx)
			s.auditor.LogEvent(ctx, user.ID, "", auditdomain.ActionAccountLocked, "")
			s.log.WithField("user_id", user.ID).Warn("login rejected: identifier locked")
			return nil, ErrAccountLocked
		case errors.Is(err, credential.ErrInvalidCredentials):
			s.metrics.LoginFailure(ctx)
			s.auditor.LogEvent(ctx, user.ID, "", auditdomain.ActionLoginFailure, "")
			return nil, ErrInvalidCredentials
		default:
			return nil, fmt.Errorf("verify credentials: %w", err)
		}
	}
	if user.Status != userdomain.UserStatusActive {
		return nil, ErrAccountDisabled
	}
	pair, err := s.rotator.Issue(ctx, user.ID, fp)
	if err != nil {
		return nil, err
	}
	s.metrics.Login(ctx)
	s.auditor.LogEvent(ctx, user.ID, pair.SessionID, auditdomain.ActionLoginSuccess, "")
	return &AuthResult{TokenPair: *pair}, nil
}

// Refresh rotates the presented refresh token per the state machine and runs
// the anomaly side check. Reuse of an already-rotated token is logged as a
// security alert; session invalidation on reuse is a deployment policy.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, fp sessiondomain.Fingerprint) (*AuthResult, error) {
	pair, err := s.rotator.Rotate(ctx, refreshToken)
	if err != nil {
		var reuse *sessionservice.ReuseError
		if errors.As(err, &reuse) {
			s.handleReuse(ctx, reuse)
		}
		return nil, err
	}

	// Side check: augments the result, never gates the rotation outcome.
	result, checkErr := s.detector.Check(ctx, pair.UserID, pair.SessionID, fp)
	if checkErr != nil {
		s.log.WithError(checkErr).WithField("session_id", pair.SessionID).Error("anomaly check failed")
	} else if result.IsAnomaly {
		s.metrics.Anomaly(ctx, string(result.Severity))
		s.auditor.LogEvent(ctx, pair.UserID, pair.SessionID, auditdomain.ActionAnomalyDetected,
			fmt.Sprintf("severity=%s reasons=%s", result.Severity, strings.Join(result.Reasons, ",")))
		s.log.WithFields(logrus.Fields{
			"user_id":    pair.UserID,
			"session_id": pair.SessionID,
			"severity":   result.Severity,
			"reasons":    result.Reasons,
		}).Warn("refresh anomaly detected")
	}
	if err := s.detector.Record(ctx, pair.UserID, pair.SessionID, fp); err != nil {
		s.log.WithError(err).WithField("session_id", pair.SessionID).Error("anomaly record failed")
	}

	s.metrics.Rotation(ctx)
	s.auditor.LogEvent(ctx, pair.UserID, pair.SessionID, auditdomain.ActionTokenRefreshed, "")
	return &AuthResult{TokenPair: *pair, Anomaly: result}, nil
}

// handleReuse raises the security alert for a replayed refresh token and,
// when configured, invalidates the session defensively.
func (s *AuthService) handleReuse(ctx context.Context, reuse *sessionservice.ReuseError) {
	s.metrics.ReuseDetection(ctx)
	s.auditor.LogEvent(ctx, reuse.UserID, reuse.SessionID, auditdomain.ActionTokenReuseDetected, "")
	s.log.WithFields(logrus.Fields{
		"user_id":    reuse.UserID,
		"session_id": reuse.SessionID,
	}).Warn("refresh token reuse detected")
	if !s.revokeOnReuse {
		return
	}
	if err := s.sessions.Invalidate(ctx, reuse.UserID, reuse.SessionID); err != nil {
		s.log.WithError(err).WithField("session_id", reuse.SessionID).Error("defensive invalidation failed")
		return
	}
	s.metrics.Revocation(ctx)
	s.auditor.LogEvent(ctx, reuse.UserID, reuse.SessionID, auditdomain.ActionSessionRevoked, "reuse detected")
}

// Logout invalidates the session tied to the presented access token's sid.
// The record is retained until TTL expiry so later replays are still detected.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		return ErrInvalidAccessToken
	}
	if err := s.sessions.Invalidate(ctx, claims.Subject, claims.SessionID); err != nil {
		if errors.Is(err, sessionrepo.ErrNotFound) {
			// Already expired; logout is idempotent from the client's view.
			return nil
		}
		return fmt.Errorf("invalidate session: %w", err)
	}
	s.metrics.Revocation(ctx)
	s.auditor.LogEvent(ctx, claims.Subject, claims.SessionID, auditdomain.ActionSessionRevoked, "logout")
	return nil
}

// ListSessions returns session summaries for the user, newest first.
func (s *AuthService) ListSessions(ctx context.Context, userID string, f SessionFilter) ([]SessionSummary, error) {
	records, err := s.sessions.ListByUser(ctx, userID, 0, 0)
	if err != nil {
		return nil, err
	}
	summaries := make([]SessionSummary, 0, len(records))
	for _, r := range records {
		if f.ActiveOnly && !r.Valid {
			continue
		}
		summaries = append(summaries, SessionSummary{
			SessionID:  r.ID,
			Device:     r.Fingerprint,
			Valid:      r.Valid,
			LastUsedAt: r.LastUsedAt,
			CreatedAt:  r.CreatedAt,
		})
	}
	if f.Offset > 0 {
		if f.Offset >= len(summaries) {
			return []SessionSummary{}, nil
		}
		summaries = summaries[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(summaries) {
		summaries = summaries[:f.Limit]
	}
	return summaries, nil
}

// CloseSession invalidates one session. Unlike rotation, absence is reported
// as not-found here: this is an administrative lookup, not a token check.
func (s *AuthService) CloseSession(ctx context.Context, userID, sessionID string) error {
	if _, err := s.sessions.Get(ctx, userID, sessionID); err != nil {
		if errors.Is(err, sessionrepo.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if err := s.sessions.Invalidate(ctx, userID, sessionID); err != nil {
		return err
	}
	s.metrics.Revocation(ctx)
	s.auditor.LogEvent(ctx, userID, sessionID, auditdomain.ActionSessionRevoked, "closed by user")
	return nil
}

// CloseAllSessions invalidates every session of the user. Records stay in the
// store until TTL expiry for audit and replay detection.
func (s *AuthService) CloseAllSessions(ctx context.Context, userID string) error {
	if err := s.sessions.InvalidateAll(ctx, userID); err != nil {
		return err
	}
	s.metrics.Revocation(ctx)
	s.auditor.LogEvent(ctx, userID, "", auditdomain.ActionAllSessionsRevoked, "")
	return nil
}
