package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Svyat0y/form-builder-backend/internal/audit/domain"
	"github.com/jmoiron/sqlx"
)

type auditRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Action    string    `db:"action"`
	Resource  string    `db:"resource"`
	IP        string    `db:"ip"`
	Metadata  string    `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}

// SQLRepository persists audit logs in Postgres or SQLite through sqlx.
type SQLRepository struct {
	db *sqlx.DB
}

// NewSQLRepository returns an audit repository that uses the given db for persistence.
func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// Create appends one audit entry.
func (r *SQLRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
INSERT INTO audit_logs (id, user_id, action, resource, ip, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.UserID, a.Action, a.Resource, a.IP, a.Metadata, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// ListByUser returns the user's most recent audit entries, newest first.
func (r *SQLRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []auditRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
SELECT id, user_id, action, resource, ip, metadata, created_at
FROM audit_logs WHERE user_id = ?
ORDER BY created_at DESC, id
LIMIT ?`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	out := make([]*domain.AuditLog, 0, len(rows))
	for _, row := range rows {
		out = append(out, &domain.AuditLog{
			ID:        row.ID,
			UserID:    row.UserID,
			Action:    row.Action,
			Resource:  row.Resource,
			IP:        row.IP,
			Metadata:  row.Metadata,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}

var _ Repository = (*SQLRepository)(nil)
