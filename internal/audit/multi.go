package audit

import "context"

type multi []AuditLogger

// Multi fans one audit event out to several sinks (e.g. Postgres plus the
// Kafka stream). Each sink is best-effort on its own; nil sinks are skipped.
func Multi(sinks ...AuditLogger) AuditLogger {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

func (m multi) LogEvent(ctx context.Context, userID, sessionID, action, metadata string) {
	for _, s := range m {
		s.LogEvent(ctx, userID, sessionID, action, metadata)
	}
}
