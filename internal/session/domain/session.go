package domain

import (
	"crypto/subtle"
	"time"
)

// Fingerprint describes the device a session was last used from.
type Fingerprint struct {
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	DeviceID  string `json:"device_id,omitempty"`
}

// Session is one record per active login on one device, persisted in the
// shared key-value store under session:{userId}:{sessionId}.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// CurrentRefreshHash is the SHA-256 hash of the refresh token currently
	// valid for this session. The raw token is never stored.
	CurrentRefreshHash string `json:"current_refresh_hash"`
	// UsedTokenHashes holds hashes of refresh tokens rotated away from, oldest
	// first, capped by configuration. Used only for replay detection.
	UsedTokenHashes []string `json:"used_token_hashes,omitempty"`
	// Valid is set false on logout/invalidate. The record is retained until TTL
	// expiry so replays against a closed session are detected rather than 404'd.
	Valid       bool        `json:"valid"`
	Fingerprint Fingerprint `json:"fingerprint"`
	LastUsedAt  time.Time   `json:"last_used_at"`
	CreatedAt   time.Time   `json:"created_at"`
	// Version is bumped on every write; the repository uses it as the
	// optimistic-concurrency stamp for rotation updates.
	Version int64 `json:"version"`
}

// HasUsedHash reports whether hash matches one of the superseded token hashes.
// Each comparison is constant-time.
func (s *Session) HasUsedHash(hash string) bool {
	found := false
	for _, h := range s.UsedTokenHashes {
		if subtle.ConstantTimeCompare([]byte(h), []byte(hash)) == 1 {
			found = true
		}
	}
	return found
}

// RecordRotation moves the current refresh hash into the used-token history
// (evicting the oldest entry past historyMax), installs newHash as current,
// updates LastUsedAt, and bumps Version.
func (s *Session) RecordRotation(newHash string, historyMax int, now time.Time) {
	if s.CurrentRefreshHash != "" {
		s.UsedTokenHashes = append(s.UsedTokenHashes, s.CurrentRefreshHash)
	}
	if historyMax > 0 && len(s.UsedTokenHashes) > historyMax {
		s.UsedTokenHashes = s.UsedTokenHashes[len(s.UsedTokenHashes)-historyMax:]
	}
	s.CurrentRefreshHash = newHash
	s.LastUsedAt = now
	s.Version++
}
