package security

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenProvider_IssueAccessAndRefresh(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	userID, sessionID := "u1", "s1"

	access, accessJti, exp, err := p.IssueAccess(userID, sessionID)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if access == "" || accessJti == "" {
		t.Fatal("access token or jti empty")
	}
	if exp.Before(time.Now()) {
		t.Fatal("expires at in the past")
	}

	refresh, jti, refreshExp, err := p.IssueRefresh(userID, sessionID)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if refresh == "" || jti == "" {
		t.Fatal("refresh token or jti empty")
	}
	if refreshExp.Before(time.Now()) {
		t.Fatal("refresh expires at in the past")
	}

	claims, err := p.ValidateRefresh(refresh)
	if err != nil {
		t.Fatalf("ValidateRefresh: %v", err)
	}
	if claims.Subject != userID || claims.SessionID != sessionID || claims.ID != jti {
		t.Errorf("ValidateRefresh: got sub=%q sid=%q jti=%q", claims.Subject, claims.SessionID, claims.ID)
	}
}

func TestTokenProvider_ValidateAccess(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	access, _, _, err := p.IssueAccess("u1", "s1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	claims, err := p.ValidateAccess(access)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if claims.Subject != "u1" || claims.SessionID != "s1" {
		t.Errorf("ValidateAccess: got sub=%q sid=%q", claims.Subject, claims.SessionID)
	}
}

func TestTokenProvider_ValidateMalformed(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	if _, err := p.ValidateAccess("not-a-token"); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("ValidateAccess malformed: want ErrTokenMalformed, got %v", err)
	}
	if _, err := p.ValidateRefresh(""); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("ValidateRefresh empty: want ErrTokenMalformed, got %v", err)
	}
}

func TestTokenProvider_RejectsCrossClassToken(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	refresh, _, _, err := p.IssueRefresh("u1", "s1")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	// Refresh tokens are HMAC-signed while access uses RSA; the access
	// validator must not accept them.
	if _, err := p.ValidateAccess(refresh); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("ValidateAccess on refresh token: want ErrSignatureInvalid, got %v", err)
	}
}

func TestTokenProvider_RejectsAlgorithmDowngrade(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	// Forge an HS256 token keyed with the RSA public key PEM. A validator that
	// trusts the token's alg header would verify it against the same bytes.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "forged",
			Subject:   "u1",
			Issuer:    "test-issuer",
			Audience:  jwt.ClaimStrings{"test-audience"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		SessionID: "s1",
	}).SignedString([]byte(testPublicKeyPEM))
	if err != nil {
		t.Fatalf("sign forged token: %v", err)
	}
	if _, err := p.ValidateAccess(forged); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("ValidateAccess forged token: want ErrSignatureInvalid, got %v", err)
	}
}

func TestTokenProvider_Expired(t *testing.T) {
	priv, err := ParsePrivateKey(testPrivateKeyPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	pub, err := ParsePublicKey(testPublicKeyPEM)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	p, err := NewTokenProvider(
		SignerConfig{PrivateKey: priv, PublicKey: pub},
		SignerConfig{Secret: "test-refresh-secret"},
		"test-issuer", "test-audience",
		-time.Minute, -time.Minute,
	)
	if err != nil {
		t.Fatalf("NewTokenProvider: %v", err)
	}

	access, _, _, err := p.IssueAccess("u1", "s1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := p.ValidateAccess(access); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ValidateAccess expired: want ErrTokenExpired, got %v", err)
	}

	refresh, _, _, err := p.IssueRefresh("u1", "s1")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, err := p.ValidateRefresh(refresh); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ValidateRefresh expired: want ErrTokenExpired, got %v", err)
	}
}

func TestTokenProvider_RejectsWrongIssuer(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	other, err := NewTokenProvider(
		SignerConfig{Secret: "other-access-secret"},
		SignerConfig{Secret: "test-refresh-secret"},
		"other-issuer", "test-audience",
		15*time.Minute, 24*time.Hour,
	)
	if err != nil {
		t.Fatalf("NewTokenProvider: %v", err)
	}
	refresh, _, _, err := other.IssueRefresh("u1", "s1")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, err := p.ValidateRefresh(refresh); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("ValidateRefresh wrong issuer: want ErrTokenMalformed, got %v", err)
	}
}

func TestTokenProvider_UniqueJTI(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		_, jti, _, err := p.IssueRefresh("u1", "s1")
		if err != nil {
			t.Fatalf("IssueRefresh: %v", err)
		}
		if seen[jti] {
			t.Fatalf("duplicate jti %q", jti)
		}
		seen[jti] = true
	}
}

func TestTokenProvider_DecodeUnverified(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	refresh, _, _, err := p.IssueRefresh("u1", "s1")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	claims := p.DecodeUnverified(refresh)
	if claims == nil {
		t.Fatal("DecodeUnverified returned nil for valid token")
	}
	if claims.SessionID != "s1" {
		t.Errorf("DecodeUnverified sid = %q, want s1", claims.SessionID)
	}
	if p.DecodeUnverified("garbage") != nil {
		t.Error("DecodeUnverified should return nil for garbage")
	}
}
