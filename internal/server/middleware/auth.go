package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"session-control-plane/internal/security"
)

// AuthMiddleware validates the Bearer access token and sets the request
// identity. Verification is stateless: no store lookup happens here.
type AuthMiddleware struct {
	Tokens *security.TokenProvider
}

// RequireAuth rejects requests without a valid access token with 401.
func (m AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if m.Tokens == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		token := ExtractBearerToken(c.Request())
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		claims, err := m.Tokens.ValidateAccess(token)
		if err != nil {
			// The benign expiry case is the only detail worth surfacing:
			// clients use it to refresh instead of re-prompting for credentials.
			if errors.Is(err, security.ErrTokenExpired) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token expired")
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		SetIdentity(c, claims.Subject, claims.SessionID)
		return next(c)
	}
}

// ExtractBearerToken returns the Bearer token from the request, or "" if
// missing or malformed.
func ExtractBearerToken(r *http.Request) string {
	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		return ""
	}
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
