// Package middleware provides the request guard chain: bearer-token
// authentication, a separate role check against the user directory, and
// per-IP rate limiting.
package middleware

import (
	"github.com/labstack/echo/v4"
)

const (
	userIDKey    = "auth.user_id"
	sessionIDKey = "auth.session_id"
)

// SetIdentity stores the authenticated user and session ids on the request context.
func SetIdentity(c echo.Context, userID, sessionID string) {
	c.Set(userIDKey, userID)
	c.Set(sessionIDKey, sessionID)
}

// UserID returns the authenticated user id and true if set.
func UserID(c echo.Context) (string, bool) {
	v, ok := c.Get(userIDKey).(string)
	return v, ok && v != ""
}

// SessionID returns the authenticated session id and true if set.
func SessionID(c echo.Context) (string, bool) {
	v, ok := c.Get(sessionIDKey).(string)
	return v, ok && v != ""
}
