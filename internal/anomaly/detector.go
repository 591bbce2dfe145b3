// Package anomaly compares device fingerprints across refreshes and flags
// suspicious changes. Detection augments the rotation decision; it never gates
// the rotation engine's reuse check.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"session-control-plane/internal/kv"
	"session-control-plane/internal/session/domain"
)

// Severity grades a detected anomaly.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Signal names reported in Result.Reasons.
const (
	ReasonIPChange            = "ip_change"
	ReasonUserAgentChange     = "user_agent_change"
	ReasonRefreshRateExceeded = "refresh_rate_exceeded"
)

// Result is the outcome of a fingerprint check.
type Result struct {
	IsAnomaly bool
	Reasons   []string
	Severity  Severity
}

// SessionStore is the slice of the session repository the detector needs.
type SessionStore interface {
	Get(ctx context.Context, userID, sessionID string) (*domain.Session, error)
	UpdateFingerprint(ctx context.Context, userID, sessionID string, fp domain.Fingerprint) error
}

// Detector flags fingerprint changes and excessive refresh rates per session.
type Detector struct {
	sessions   SessionStore
	counters   kv.Store
	threshold  int64
	counterTTL time.Duration
}

// NewDetector returns a Detector. threshold is the refresh count above which a
// session is flagged on its own; counterTTL bounds the counter's lifetime and
// should match the session TTL.
func NewDetector(sessions SessionStore, counters kv.Store, threshold int64, counterTTL time.Duration) *Detector {
	return &Detector{sessions: sessions, counters: counters, threshold: threshold, counterTTL: counterTTL}
}

func refreshRateKey(userID, sessionID string) string {
	return fmt.Sprintf("refresh_rate:%s:%s", userID, sessionID)
}

// Check compares fp against the session's last known fingerprint and the
// refresh-rate counter. IP change and user-agent change are independent
// signals; two or more simultaneous signals raise severity to high.
func (d *Detector) Check(ctx context.Context, userID, sessionID string, fp domain.Fingerprint) (*Result, error) {
	sess, err := d.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	last := sess.Fingerprint

	var reasons []string
	if last.IP != "" && fp.IP != "" && last.IP != fp.IP {
		reasons = append(reasons, ReasonIPChange)
	}
	if last.UserAgent != "" && fp.UserAgent != "" && last.UserAgent != fp.UserAgent {
		reasons = append(reasons, ReasonUserAgentChange)
	}

	count, err := d.refreshCount(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if count > d.threshold {
		reasons = append(reasons, ReasonRefreshRateExceeded)
	}

	res := &Result{IsAnomaly: len(reasons) > 0, Reasons: reasons}
	if res.IsAnomaly {
		res.Severity = SeverityMedium
		if len(reasons) >= 2 {
			res.Severity = SeverityHigh
		}
	}
	return res, nil
}

// Record persists the latest fingerprint and increments the session's refresh
// counter. Called after every successful rotation regardless of Check's outcome.
func (d *Detector) Record(ctx context.Context, userID, sessionID string, fp domain.Fingerprint) error {
	if err := d.sessions.UpdateFingerprint(ctx, userID, sessionID, fp); err != nil {
		return err
	}
	key := refreshRateKey(userID, sessionID)
	n, err := d.counters.Incr(ctx, key)
	if err != nil {
		return err
	}
	if n == 1 {
		return d.counters.Expire(ctx, key, d.counterTTL)
	}
	return nil
}

func (d *Detector) refreshCount(ctx context.Context, userID, sessionID string) (int64, error) {
	raw, err := d.counters.Get(ctx, refreshRateKey(userID, sessionID))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}
