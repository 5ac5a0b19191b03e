package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Svyat0y/form-builder-backend/internal/identity/domain"
	"github.com/jmoiron/sqlx"
)

const identityColumns = `id, user_id, provider, provider_id, password_hash, created_at`

type identityRow struct {
	ID           string         `db:"id"`
	UserID       string         `db:"user_id"`
	Provider     string         `db:"provider"`
	ProviderID   string         `db:"provider_id"`
	PasswordHash sql.NullString `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r identityRow) toDomain() *domain.Identity {
	return &domain.Identity{
		ID:           r.ID,
		UserID:       r.UserID,
		Provider:     domain.IdentityProvider(r.Provider),
		ProviderID:   r.ProviderID,
		PasswordHash: r.PasswordHash.String,
		CreatedAt:    r.CreatedAt,
	}
}

// SQLRepository persists identities in Postgres or SQLite through sqlx.
type SQLRepository struct {
	db *sqlx.DB
}

// NewSQLRepository returns an identity repository that uses the given db for persistence.
func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// GetByUserAndProvider returns the identity for the given user and provider, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *SQLRepository) GetByUserAndProvider(ctx context.Context, userID string, provider domain.IdentityProvider) (*domain.Identity, error) {
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE user_id = ? AND provider = ?`, userID, string(provider))
}

// GetByProviderID returns the identity for the given provider account, or nil if not found.
func (r *SQLRepository) GetByProviderID(ctx context.Context, provider domain.IdentityProvider, providerID string) (*domain.Identity, error) {
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE provider = ? AND provider_id = ?`, string(provider), providerID)
}

func (r *SQLRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Identity, error) {
	var row identityRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return row.toDomain(), nil
}

// Create persists the identity. A second identity for the same provider account or the same
// user and provider surfaces as a unique violation.
func (r *SQLRepository) Create(ctx context.Context, i *domain.Identity) error {
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	hash := sql.NullString{String: i.PasswordHash, Valid: i.PasswordHash != ""}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
INSERT INTO identities (id, user_id, provider, provider_id, password_hash, created_at)
VALUES (?, ?, ?, ?, ?, ?)`),
		i.ID, i.UserID, string(i.Provider), i.ProviderID, hash, i.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

var _ Repository = (*SQLRepository)(nil)
