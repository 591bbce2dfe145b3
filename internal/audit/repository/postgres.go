package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"session-control-plane/internal/audit/domain"
)

// Repository persists audit events.
type Repository interface {
	Save(ctx context.Context, a *domain.AuditLog) error
	ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error)
}

// PostgresRepository stores audit logs in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Save(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, user_id, session_id, action, ip, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, nullable(a.UserID), nullable(a.SessionID), a.Action, a.IP, metadataDoc(a.Metadata), a.CreatedAt,
	)
	return err
}

// ListByUser returns audit logs for the given user, newest first, paginated by
// limit and offset. Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, session_id, action, ip, metadata, created_at
		 FROM audit_logs WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		var uid, sid, meta sql.NullString
		if err := rows.Scan(&a.ID, &uid, &sid, &a.Action, &a.IP, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.UserID = uid.String
		a.SessionID = sid.String
		a.Metadata = meta.String
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// metadataDoc converts metadata into a value the jsonb column accepts: nil
// when empty, the string itself when it is already a JSON document, and a
// {"note": ...} wrapper for plain text. Without the wrapper Postgres rejects
// bare strings like "logout" with 22P02 and the event row is lost.
func metadataDoc(s string) any {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return s
	}
	doc, err := json.Marshal(map[string]string{"note": s})
	if err != nil {
		return nil
	}
	return string(doc)
}
