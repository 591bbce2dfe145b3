package anomaly

import (
	"context"
	"testing"
	"time"

	"session-control-plane/internal/kv"
	"session-control-plane/internal/session/domain"
	"session-control-plane/internal/session/repository"
)

func newTestDetector(threshold int64) (*Detector, *repository.KVRepository, *kv.MemoryStore) {
	store := kv.NewMemoryStore()
	sessions := repository.NewKVRepository(store, time.Hour, 10)
	return NewDetector(sessions, store, threshold, time.Hour), sessions, store
}

func seedSession(t *testing.T, sessions *repository.KVRepository, fp domain.Fingerprint) {
	t.Helper()
	now := time.Now().UTC()
	err := sessions.Create(context.Background(), &domain.Session{
		ID: "s1", UserID: "u1", CurrentRefreshHash: "h0",
		Valid: true, Fingerprint: fp, LastUsedAt: now, CreatedAt: now, Version: 1,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestDetector_NoChangeNoAnomaly(t *testing.T) {
	ctx := context.Background()
	d, sessions, _ := newTestDetector(100)
	fp := domain.Fingerprint{IP: "10.0.0.1", UserAgent: "cli/1.0"}
	seedSession(t, sessions, fp)

	res, err := d.Check(ctx, "u1", "s1", fp)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.IsAnomaly {
		t.Errorf("unchanged fingerprint flagged: %+v", res)
	}
}

func TestDetector_SingleSignalMediumSeverity(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		last domain.Fingerprint
		next domain.Fingerprint
		want string
	}{
		{
			name: "ip change",
			last: domain.Fingerprint{IP: "10.0.0.1", UserAgent: "cli/1.0"},
			next: domain.Fingerprint{IP: "10.0.0.2", UserAgent: "cli/1.0"},
			want: ReasonIPChange,
		},
		{
			name: "user agent change",
			last: domain.Fingerprint{IP: "10.0.0.1", UserAgent: "cli/1.0"},
			next: domain.Fingerprint{IP: "10.0.0.1", UserAgent: "cli/2.0"},
			want: ReasonUserAgentChange,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, sessions, _ := newTestDetector(100)
			seedSession(t, sessions, tt.last)

			res, err := d.Check(ctx, "u1", "s1", tt.next)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if !res.IsAnomaly {
				t.Fatal("change not flagged")
			}
			if len(res.Reasons) != 1 || res.Reasons[0] != tt.want {
				t.Errorf("Reasons = %v, want [%s]", res.Reasons, tt.want)
			}
			if res.Severity != SeverityMedium {
				t.Errorf("Severity = %s, want medium", res.Severity)
			}
		})
	}
}

func TestDetector_TwoSignalsHighSeverity(t *testing.T) {
	ctx := context.Background()
	d, sessions, _ := newTestDetector(100)
	seedSession(t, sessions, domain.Fingerprint{IP: "10.0.0.1", UserAgent: "cli/1.0"})

	res, err := d.Check(ctx, "u1", "s1", domain.Fingerprint{IP: "10.0.0.2", UserAgent: "cli/2.0"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.IsAnomaly || res.Severity != SeverityHigh {
		t.Errorf("result = %+v, want high severity anomaly", res)
	}
	if len(res.Reasons) != 2 {
		t.Errorf("Reasons = %v, want both signals", res.Reasons)
	}
}

func TestDetector_EmptyPreviousFingerprintIsNotAChange(t *testing.T) {
	ctx := context.Background()
	d, sessions, _ := newTestDetector(100)
	seedSession(t, sessions, domain.Fingerprint{})

	res, err := d.Check(ctx, "u1", "s1", domain.Fingerprint{IP: "10.0.0.1", UserAgent: "cli/1.0"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.IsAnomaly {
		t.Errorf("first observation flagged: %+v", res)
	}
}

func TestDetector_RefreshRateExceeded(t *testing.T) {
	ctx := context.Background()
	d, sessions, _ := newTestDetector(3)
	fp := domain.Fingerprint{IP: "10.0.0.1", UserAgent: "cli/1.0"}
	seedSession(t, sessions, fp)

	for i := 0; i < 4; i++ {
		if err := d.Record(ctx, "u1", "s1", fp); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	res, err := d.Check(ctx, "u1", "s1", fp)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.IsAnomaly {
		t.Fatal("excessive refresh rate not flagged")
	}
	if len(res.Reasons) != 1 || res.Reasons[0] != ReasonRefreshRateExceeded {
		t.Errorf("Reasons = %v", res.Reasons)
	}
	// Rate alone is one signal.
	if res.Severity != SeverityMedium {
		t.Errorf("Severity = %s, want medium", res.Severity)
	}
}

func TestDetector_RecordPersistsFingerprint(t *testing.T) {
	ctx := context.Background()
	d, sessions, _ := newTestDetector(100)
	seedSession(t, sessions, domain.Fingerprint{IP: "10.0.0.1", UserAgent: "cli/1.0"})

	next := domain.Fingerprint{IP: "10.0.0.2", UserAgent: "cli/1.0"}
	if err := d.Record(ctx, "u1", "s1", next); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// The new fingerprint is now the baseline; repeating it is clean.
	res, err := d.Check(ctx, "u1", "s1", next)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.IsAnomaly {
		t.Errorf("recorded fingerprint flagged: %+v", res)
	}
}

func TestDetector_CounterExpires(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	now := time.Now()
	store.SetClock(func() time.Time { return now })
	sessions := repository.NewKVRepository(store, 10*time.Hour, 10)
	d := NewDetector(sessions, store, 1, time.Hour)

	fp := domain.Fingerprint{IP: "10.0.0.1"}
	seedSession(t, sessions, fp)
	for i := 0; i < 3; i++ {
		if err := d.Record(ctx, "u1", "s1", fp); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	res, _ := d.Check(ctx, "u1", "s1", fp)
	if !res.IsAnomaly {
		t.Fatal("rate should be flagged before expiry")
	}

	now = now.Add(2 * time.Hour)
	store.SetClock(func() time.Time { return now })
	res, err := d.Check(ctx, "u1", "s1", fp)
	if err != nil {
		t.Fatalf("Check after expiry: %v", err)
	}
	if res.IsAnomaly {
		t.Errorf("counter should have expired: %+v", res)
	}
}
