package domain

import "time"

// Audit actions recorded by the session lifecycle.
const (
	ActionLoginSuccess       = "login_success"
	ActionLoginFailure       = "login_failure"
	ActionAccountLocked      = "account_locked"
	ActionTokenRefreshed     = "token_refreshed"
	ActionTokenReuseDetected = "token_reuse_detected"
	ActionAnomalyDetected    = "anomaly_detected"
	ActionSessionRevoked     = "session_revoked"
	ActionAllSessionsRevoked = "all_sessions_revoked"
)

// AuditLog is one security event. UserID may be empty for failures where the
// identifier did not resolve to a user.
type AuditLog struct {
	ID        string
	UserID    string
	SessionID string
	Action    string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
