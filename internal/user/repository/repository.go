package repository

import (
	"context"

	"github.com/Svyat0y/form-builder-backend/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// Create inserts the user. A duplicate email surfaces as a unique violation (see db.IsUniqueViolation).
	Create(ctx context.Context, u *domain.User) error
	List(ctx context.Context) ([]*domain.User, error)
	// UpdateRole sets the user's role. Returns the updated user, or nil if the user does not exist.
	UpdateRole(ctx context.Context, id string, role domain.Role) (*domain.User, error)
	// Delete removes the user; identities and sessions cascade. Reports whether a row was deleted.
	Delete(ctx context.Context, id string) (bool, error)
}
