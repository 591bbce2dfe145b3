// Package telemetry provides OpenTelemetry providers and the auth metrics facade.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AuthMetrics counts security-relevant events. A nil *AuthMetrics is a valid
// no-op receiver so services need no wiring in tests.
type AuthMetrics struct {
	logins          metric.Int64Counter
	loginFailures   metric.Int64Counter
	lockouts        metric.Int64Counter
	rotations       metric.Int64Counter
	reuseDetections metric.Int64Counter
	anomalies       metric.Int64Counter
	revocations     metric.Int64Counter
}

// NewAuthMetrics registers the auth counters on the given meter.
func NewAuthMetrics(meter metric.Meter) (*AuthMetrics, error) {
	m := &AuthMetrics{}
	var err error
	if m.logins, err = meter.Int64Counter("auth.logins",
		metric.WithDescription("Successful logins")); err != nil {
		return nil, err
	}
	if m.loginFailures, err = meter.Int64Counter("auth.login_failures",
		metric.WithDescription("Failed login attempts")); err != nil {
		return nil, err
	}
	if m.lockouts, err = meter.Int64Counter("auth.lockouts",
		metric.WithDescription("Identifiers locked out after repeated failures")); err != nil {
		return nil, err
	}
	if m.rotations, err = meter.Int64Counter("auth.rotations",
		metric.WithDescription("Successful refresh token rotations")); err != nil {
		return nil, err
	}
	if m.reuseDetections, err = meter.Int64Counter("auth.reuse_detections",
		metric.WithDescription("Replays of already-rotated refresh tokens")); err != nil {
		return nil, err
	}
	if m.anomalies, err = meter.Int64Counter("auth.anomalies",
		metric.WithDescription("Fingerprint or refresh-rate anomalies")); err != nil {
		return nil, err
	}
	if m.revocations, err = meter.Int64Counter("auth.revocations",
		metric.WithDescription("Sessions explicitly invalidated")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AuthMetrics) Login(ctx context.Context) {
	if m != nil {
		m.logins.Add(ctx, 1)
	}
}

func (m *AuthMetrics) LoginFailure(ctx context.Context) {
	if m != nil {
		m.loginFailures.Add(ctx, 1)
	}
}

func (m *AuthMetrics) Lockout(ctx context.Context) {
	if m != nil {
		m.lockouts.Add(ctx, 1)
	}
}

func (m *AuthMetrics) Rotation(ctx context.Context) {
	if m != nil {
		m.rotations.Add(ctx, 1)
	}
}

func (m *AuthMetrics) ReuseDetection(ctx context.Context) {
	if m != nil {
		m.reuseDetections.Add(ctx, 1)
	}
}

func (m *AuthMetrics) Anomaly(ctx context.Context, severity string) {
	if m != nil {
		m.anomalies.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", severity)))
	}
}

func (m *AuthMetrics) Revocation(ctx context.Context) {
	if m != nil {
		m.revocations.Add(ctx, 1)
	}
}
