package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"session-control-plane/internal/anomaly"
	auditdomain "session-control-plane/internal/audit/domain"
	"session-control-plane/internal/credential"
	"session-control-plane/internal/kv"
	"session-control-plane/internal/security"
	sessiondomain "session-control-plane/internal/session/domain"
	sessionrepo "session-control-plane/internal/session/repository"
	sessionservice "session-control-plane/internal/session/service"
	userdomain "session-control-plane/internal/user/domain"
)

// fakeUserDirectory serves users from a map keyed by email.
type fakeUserDirectory struct {
	mu    sync.Mutex
	users map[string]*userdomain.User
	err   error
}

func (f *fakeUserDirectory) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.users[email], nil
}

// recordingAuditor captures audit actions in order.
type recordingAuditor struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingAuditor) LogEvent(ctx context.Context, userID, sessionID, action, metadata string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, action)
}

func (r *recordingAuditor) has(action string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == action {
			return true
		}
	}
	return false
}

type testEnv struct {
	svc      *AuthService
	users    *fakeUserDirectory
	sessions *sessionrepo.KVRepository
	store    *kv.MemoryStore
	auditor  *recordingAuditor
}

const (
	testEmail    = "user@example.com"
	testPassword = "correct horse battery staple"
)

func newTestEnv(t *testing.T, revokeOnReuse bool) *testEnv {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}

	hasher := security.NewHasher(4)
	hash, err := hasher.Hash([]byte(testPassword))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	users := &fakeUserDirectory{users: map[string]*userdomain.User{
		testEmail: {
			ID: "u1", Email: testEmail, PasswordHash: hash,
			Role: "member", Status: userdomain.UserStatusActive,
		},
	}}

	store := kv.NewMemoryStore()
	sessions := sessionrepo.NewKVRepository(store, time.Hour, 10)
	rotator := sessionservice.NewRotationEngine(tokens, sessions)
	detector := anomaly.NewDetector(sessions, store, 100, time.Hour)
	verifier := credential.NewVerifier(hasher, store, 3, 15*time.Minute, 15*time.Minute)
	auditor := &recordingAuditor{}

	log := logrus.New()
	log.SetOutput(io.Discard)

	svc := NewAuthService(users, sessions, rotator, verifier, detector, tokens, auditor, nil, log, revokeOnReuse)
	return &testEnv{svc: svc, users: users, sessions: sessions, store: store, auditor: auditor}
}

func fp(ip, ua string) sessiondomain.Fingerprint {
	return sessiondomain.Fingerprint{IP: ip, UserAgent: ua}
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	res, err := env.svc.Login(ctx, testEmail, testPassword, fp("10.0.0.1", "cli/1.0"))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("empty tokens")
	}
	if res.Anomaly != nil {
		t.Error("login should not carry an anomaly result")
	}

	sess, err := env.sessions.Get(ctx, "u1", res.SessionID)
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if !sess.Valid || sess.Fingerprint.IP != "10.0.0.1" {
		t.Errorf("session = %+v", sess)
	}
	if !env.auditor.has(auditdomain.ActionLoginSuccess) {
		t.Error("missing login_success audit event")
	}
}

func TestAuthService_LoginNormalizesEmail(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	if _, err := env.svc.Login(ctx, "  USER@Example.COM ", testPassword, fp("", "")); err != nil {
		t.Fatalf("Login with unnormalized email: %v", err)
	}
}

func TestAuthService_LoginUnknownEmail(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	_, err := env.svc.Login(ctx, "nobody@example.com", testPassword, fp("", ""))
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("want ErrInvalidCredentials, got %v", err)
	}
	if !env.auditor.has(auditdomain.ActionLoginFailure) {
		t.Error("missing login_failure audit event")
	}
}

func TestAuthService_LoginWrongPassword(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	_, err := env.svc.Login(ctx, testEmail, "wrong", fp("", ""))
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("want ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthService_LoginLockout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	// Threshold is 3 in the test env.
	for i := 0; i < 2; i++ {
		if _, err := env.svc.Login(ctx, testEmail, "wrong", fp("", "")); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := env.svc.Login(ctx, testEmail, "wrong", fp("", "")); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("locking attempt: want ErrAccountLocked, got %v", err)
	}
	// Correct password fails closed while locked.
	if _, err := env.svc.Login(ctx, testEmail, testPassword, fp("", "")); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("want ErrAccountLocked, got %v", err)
	}
	if !env.auditor.has(auditdomain.ActionAccountLocked) {
		t.Error("missing account_locked audit event")
	}
}

func TestAuthService_LoginDisabledAccount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	env.users.mu.Lock()
	env.users.users[testEmail].Status = userdomain.UserStatusDisabled
	env.users.mu.Unlock()

	_, err := env.svc.Login(ctx, testEmail, testPassword, fp("", ""))
	if !errors.Is(err, ErrAccountDisabled) {
		t.Errorf("want ErrAccountDisabled, got %v", err)
	}
}

func TestAuthService_Refresh(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	device := fp("10.0.0.1", "cli/1.0")

	login, err := env.svc.Login(ctx, testEmail, testPassword, device)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	res, err := env.svc.Refresh(ctx, login.RefreshToken, device)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res.RefreshToken == login.RefreshToken {
		t.Error("refresh must rotate the token")
	}
	if res.Anomaly != nil && res.Anomaly.IsAnomaly {
		t.Errorf("same device flagged: %+v", res.Anomaly)
	}
	if !env.auditor.has(auditdomain.ActionTokenRefreshed) {
		t.Error("missing token_refreshed audit event")
	}
}

func TestAuthService_RefreshReuseLogOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	device := fp("10.0.0.1", "cli/1.0")

	login, _ := env.svc.Login(ctx, testEmail, testPassword, device)
	next, err := env.svc.Refresh(ctx, login.RefreshToken, device)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	_, err = env.svc.Refresh(ctx, login.RefreshToken, device)
	if !errors.Is(err, sessionservice.ErrTokenReuse) {
		t.Fatalf("replay: want ErrTokenReuse, got %v", err)
	}
	if !env.auditor.has(auditdomain.ActionTokenReuseDetected) {
		t.Error("missing token_reuse_detected audit event")
	}

	// Log-only posture: the session survives and the current token still works.
	if _, err := env.svc.Refresh(ctx, next.RefreshToken, device); err != nil {
		t.Errorf("current token after reuse alert: %v", err)
	}
}

func TestAuthService_RefreshReuseRevokes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)
	device := fp("10.0.0.1", "cli/1.0")

	login, _ := env.svc.Login(ctx, testEmail, testPassword, device)
	next, err := env.svc.Refresh(ctx, login.RefreshToken, device)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if _, err := env.svc.Refresh(ctx, login.RefreshToken, device); !errors.Is(err, sessionservice.ErrTokenReuse) {
		t.Fatalf("replay: want ErrTokenReuse, got %v", err)
	}

	// Revoke-on-reuse: the whole session is dead, current token included.
	if _, err := env.svc.Refresh(ctx, next.RefreshToken, device); !errors.Is(err, sessionservice.ErrInvalidRefreshToken) {
		t.Errorf("want ErrInvalidRefreshToken, got %v", err)
	}
	sess, _ := env.sessions.Get(ctx, "u1", login.SessionID)
	if sess.Valid {
		t.Error("session should be invalidated")
	}
	if !env.auditor.has(auditdomain.ActionSessionRevoked) {
		t.Error("missing session_revoked audit event")
	}
}

func TestAuthService_RefreshFlagsFingerprintChange(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	login, _ := env.svc.Login(ctx, testEmail, testPassword, fp("10.0.0.1", "cli/1.0"))

	res, err := env.svc.Refresh(ctx, login.RefreshToken, fp("10.9.9.9", "other/9.0"))
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res.Anomaly == nil || !res.Anomaly.IsAnomaly {
		t.Fatal("fingerprint change not flagged")
	}
	if res.Anomaly.Severity != anomaly.SeverityHigh {
		t.Errorf("Severity = %s, want high", res.Anomaly.Severity)
	}
	if !env.auditor.has(auditdomain.ActionAnomalyDetected) {
		t.Error("missing anomaly_detected audit event")
	}
}

func TestAuthService_Logout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	device := fp("10.0.0.1", "cli/1.0")

	login, _ := env.svc.Login(ctx, testEmail, testPassword, device)

	if err := env.svc.Logout(ctx, login.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	// The refresh token of the closed session no longer rotates.
	if _, err := env.svc.Refresh(ctx, login.RefreshToken, device); !errors.Is(err, sessionservice.ErrInvalidRefreshToken) {
		t.Errorf("refresh after logout: want ErrInvalidRefreshToken, got %v", err)
	}
	// Logout is idempotent.
	if err := env.svc.Logout(ctx, login.AccessToken); err != nil {
		t.Errorf("second logout: %v", err)
	}
}

func TestAuthService_LogoutInvalidToken(t *testing.T) {
	env := newTestEnv(t, false)
	if err := env.svc.Logout(context.Background(), "garbage"); !errors.Is(err, ErrInvalidAccessToken) {
		t.Errorf("want ErrInvalidAccessToken, got %v", err)
	}
}

func TestAuthService_ListSessions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	first, _ := env.svc.Login(ctx, testEmail, testPassword, fp("10.0.0.1", "cli/1.0"))
	second, _ := env.svc.Login(ctx, testEmail, testPassword, fp("10.0.0.2", "web/2.0"))
	if err := env.svc.CloseSession(ctx, "u1", first.SessionID); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	all, err := env.svc.ListSessions(ctx, "u1", SessionFilter{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}

	active, err := env.svc.ListSessions(ctx, "u1", SessionFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("ListSessions active: %v", err)
	}
	if len(active) != 1 || active[0].SessionID != second.SessionID {
		t.Errorf("active = %+v", active)
	}

	paged, err := env.svc.ListSessions(ctx, "u1", SessionFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListSessions paged: %v", err)
	}
	if len(paged) != 1 {
		t.Errorf("paged len = %d, want 1", len(paged))
	}
}

func TestAuthService_CloseSessionNotFound(t *testing.T) {
	env := newTestEnv(t, false)
	err := env.svc.CloseSession(context.Background(), "u1", "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("want ErrSessionNotFound, got %v", err)
	}
}

func TestAuthService_CloseAllSessions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	device := fp("10.0.0.1", "cli/1.0")

	a, _ := env.svc.Login(ctx, testEmail, testPassword, device)
	b, _ := env.svc.Login(ctx, testEmail, testPassword, device)

	if err := env.svc.CloseAllSessions(ctx, "u1"); err != nil {
		t.Fatalf("CloseAllSessions: %v", err)
	}
	for _, pair := range []*AuthResult{a, b} {
		if _, err := env.svc.Refresh(ctx, pair.RefreshToken, device); !errors.Is(err, sessionservice.ErrInvalidRefreshToken) {
			t.Errorf("session %s should be closed, got %v", pair.SessionID, err)
		}
	}
	if !env.auditor.has(auditdomain.ActionAllSessionsRevoked) {
		t.Error("missing all_sessions_revoked audit event")
	}
}

func TestAuthService_UserLookupError(t *testing.T) {
	env := newTestEnv(t, false)
	env.users.mu.Lock()
	env.users.err = errors.New("directory down")
	env.users.mu.Unlock()

	_, err := env.svc.Login(context.Background(), testEmail, testPassword, fp("", ""))
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("infrastructure error must not masquerade as bad credentials, got %v", err)
	}
}
