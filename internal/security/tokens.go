package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired is returned when a token is past its exp claim. Safe to surface
	// to clients so they can retry with a refresh.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed is returned when a token cannot be parsed or is missing required claims.
	ErrTokenMalformed = errors.New("malformed token")
	// ErrSignatureInvalid is returned when the signature does not verify or the token
	// was signed with an algorithm other than the configured one.
	ErrSignatureInvalid = errors.New("invalid token signature")
)

// Claims holds the JWT claims carried by both access and refresh tokens.
// sub is the user id, sid the session id, and jti (RegisteredClaims.ID) a
// unique id per issuance.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// SignerConfig selects the signing material for one token class. When Secret is
// non-empty the token is HMAC-signed (HS256); otherwise PrivateKey/PublicKey
// select RS256 or ES256 by key type. Access and refresh tokens are configured
// independently and must not share material.
type SignerConfig struct {
	Secret     string
	PrivateKey crypto.Signer
	PublicKey  crypto.PublicKey
}

type signer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

func newSigner(cfg SignerConfig) (*signer, error) {
	if cfg.Secret != "" {
		key := []byte(cfg.Secret)
		return &signer{method: jwt.SigningMethodHS256, signKey: key, verifyKey: key}, nil
	}
	if cfg.PrivateKey == nil || cfg.PublicKey == nil {
		return nil, errors.New("security: signer needs a secret or a key pair")
	}
	switch cfg.PrivateKey.Public().(type) {
	case *rsa.PublicKey:
		return &signer{method: jwt.SigningMethodRS256, signKey: cfg.PrivateKey, verifyKey: cfg.PublicKey}, nil
	case *ecdsa.PublicKey:
		return &signer{method: jwt.SigningMethodES256, signKey: cfg.PrivateKey, verifyKey: cfg.PublicKey}, nil
	default:
		return nil, errors.New("security: unsupported key type")
	}
}

// TokenProvider issues and validates JWT access and refresh tokens. The two
// token classes use distinct signing material and distinct lifetimes.
type TokenProvider struct {
	access     *signer
	refresh    *signer
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenProvider returns a TokenProvider with the given access and refresh
// signer configs. issuer and audience are set on claims and validated on parse.
func NewTokenProvider(access, refresh SignerConfig, issuer, audience string, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	as, err := newSigner(access)
	if err != nil {
		return nil, err
	}
	rs, err := newSigner(refresh)
	if err != nil {
		return nil, err
	}
	return &TokenProvider{
		access:     as,
		refresh:    rs,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess issues a short-lived access JWT for the given user and session.
// Returns the token string, its jti, and expiration time.
func (p *TokenProvider) IssueAccess(userID, sessionID string) (token string, jti string, expiresAt time.Time, err error) {
	return p.issue(p.access, userID, sessionID, p.accessTTL)
}

// IssueRefresh issues a long-lived refresh JWT. The caller must store the
// token's hash on the session for rotation binding; the raw token is never persisted.
func (p *TokenProvider) IssueRefresh(userID, sessionID string) (token string, jti string, expiresAt time.Time, err error) {
	return p.issue(p.refresh, userID, sessionID, p.refreshTTL)
}

func (p *TokenProvider) issue(s *signer, userID, sessionID string, ttl time.Duration) (string, string, time.Time, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sessionID,
	}
	token, err := jwt.NewWithClaims(s.method, claims).SignedString(s.signKey)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, jti, expiresAt, nil
}

// ValidateAccess parses and validates an access token (signature, exp, iss, aud,
// required claims). Returns ErrTokenExpired, ErrSignatureInvalid, or ErrTokenMalformed on failure.
func (p *TokenProvider) ValidateAccess(tokenString string) (*Claims, error) {
	return p.validate(p.access, tokenString)
}

// ValidateRefresh parses and validates a refresh token. Signature and expiry
// failures are reported before any store state is consulted by callers.
func (p *TokenProvider) ValidateRefresh(tokenString string) (*Claims, error) {
	return p.validate(p.refresh, tokenString)
}

func (p *TokenProvider) validate(s *signer, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		// Reject any algorithm other than the configured one; accepting the
		// token's own alg header enables downgrade attacks.
		if t.Method.Alg() != s.method.Alg() {
			return nil, ErrSignatureInvalid
		}
		return s.verifyKey, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrSignatureInvalid):
			return nil, ErrSignatureInvalid
		default:
			return nil, ErrTokenMalformed
		}
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.Subject == "" || claims.SessionID == "" || claims.ID == "" {
		return nil, ErrTokenMalformed
	}
	if claims.Issuer != p.issuer {
		return nil, ErrTokenMalformed
	}
	audOk := false
	for _, a := range claims.Audience {
		if a == p.audience {
			audOk = true
			break
		}
	}
	if !audOk {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// DecodeUnverified parses a token without verifying its signature and returns
// its claims, or nil if it cannot be parsed. Diagnostic use only (e.g. logging
// the session id of an already-rejected token); never an input to authorization.
func (p *TokenProvider) DecodeUnverified(tokenString string) *Claims {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil
	}
	return claims
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
