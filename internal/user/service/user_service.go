package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Svyat0y/form-builder-backend/internal/apperr"
	"github.com/Svyat0y/form-builder-backend/internal/audit"
	auditdomain "github.com/Svyat0y/form-builder-backend/internal/audit/domain"
	"github.com/Svyat0y/form-builder-backend/internal/policy/engine"
	"github.com/Svyat0y/form-builder-backend/internal/user/domain"
)

var (
	ErrUserNotFound   = apperr.New(apperr.NotFound, "User not found")
	ErrSelfRoleChange = apperr.New(apperr.Invalid, "You cannot change your own role")
	ErrSuperAdminRole = apperr.New(apperr.Invalid, "Cannot change SUPER_ADMIN role. Only database modification allowed.")
	ErrUnknownRole    = apperr.New(apperr.Invalid, "Role must be one of USER, ADMIN, SUPER_ADMIN")
)

// Activity limits for Activity.
const (
	DefaultActivityLimit = 50
	MaxActivityLimit     = 100
)

// Repo is the user persistence the service needs.
type Repo interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	List(ctx context.Context) ([]*domain.User, error)
	UpdateRole(ctx context.Context, id string, role domain.Role) (*domain.User, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// ActivityRepo reads a user's audit trail.
type ActivityRepo interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*auditdomain.AuditLog, error)
}

// SessionTerminator revokes sessions. An empty access token revokes every session of the user.
type SessionTerminator interface {
	Logout(ctx context.Context, userID, accessToken string) error
}

// UserService implements user management on top of the policy engine.
type UserService struct {
	users    Repo
	activity ActivityRepo
	sessions SessionTerminator
	policy   engine.Evaluator
	audit    audit.AuditLogger
	log      *zap.Logger
}

// NewUserService returns a UserService. auditLogger and log may be nil.
func NewUserService(users Repo, activity ActivityRepo, sessions SessionTerminator, policy engine.Evaluator, auditLogger audit.AuditLogger, log *zap.Logger) *UserService {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserService{
		users:    users,
		activity: activity,
		sessions: sessions,
		policy:   policy,
		audit:    auditLogger,
		log:      log,
	}
}

// List returns every user, oldest first.
func (s *UserService) List(ctx context.Context) ([]*domain.User, error) {
	return s.users.List(ctx)
}

// Get returns the user with id or ErrUserNotFound.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// Delete removes target on behalf of actorID. Sessions and identities go with it.
func (s *UserService) Delete(ctx context.Context, actorID, targetID string) error {
	actor, target, err := s.pair(ctx, actorID, targetID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, engine.Input{Action: engine.ActionDeleteUser, Actor: subject(actor), Target: subject(target)}); err != nil {
		return err
	}
	ok, err := s.users.Delete(ctx, target.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	s.record(ctx, actor.ID, audit.ActionUserDeleted, map[string]any{"target_id": target.ID, "target_email": target.Email})
	return nil
}

// UpdateRole sets target's role. Changing one's own role and touching a SUPER_ADMIN are rejected
// before the policy is consulted.
func (s *UserService) UpdateRole(ctx context.Context, actorID, targetID string, role domain.Role) (*domain.User, error) {
	if !role.Valid() {
		return nil, ErrUnknownRole
	}
	if actorID == targetID {
		return nil, ErrSelfRoleChange
	}
	actor, target, err := s.pair(ctx, actorID, targetID)
	if err != nil {
		return nil, err
	}
	if target.Role == domain.RoleSuperAdmin {
		return nil, ErrSuperAdminRole
	}
	in := engine.Input{Action: engine.ActionUpdateRole, Actor: subject(actor), Target: subject(target), NewRole: role}
	if err := s.authorize(ctx, in); err != nil {
		return nil, err
	}
	updated, err := s.users.UpdateRole(ctx, target.ID, role)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrUserNotFound
	}
	s.record(ctx, actor.ID, audit.ActionRoleChanged, map[string]any{
		"target_id": target.ID,
		"from":      string(target.Role),
		"to":        string(role),
	})
	return updated, nil
}

// ForceLogout revokes every session of target.
func (s *UserService) ForceLogout(ctx context.Context, actorID, targetID string) error {
	actor, target, err := s.pair(ctx, actorID, targetID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, engine.Input{Action: engine.ActionForceLogout, Actor: subject(actor), Target: subject(target)}); err != nil {
		return err
	}
	if err := s.sessions.Logout(ctx, target.ID, ""); err != nil {
		return err
	}
	s.record(ctx, actor.ID, audit.ActionForcedLogout, map[string]any{"target_id": target.ID})
	return nil
}

// Activity returns the newest audit entries of userID. limit is clamped to (0, MaxActivityLimit];
// zero or negative selects DefaultActivityLimit.
func (s *UserService) Activity(ctx context.Context, userID string, limit int) ([]*auditdomain.AuditLog, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}
	return s.activity.ListByUser(ctx, userID, limit)
}

// pair loads both users. A missing actor means the account vanished mid-request.
func (s *UserService) pair(ctx context.Context, actorID, targetID string) (*domain.User, *domain.User, error) {
	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return nil, nil, err
	}
	if actor == nil {
		return nil, nil, apperr.New(apperr.Unauthenticated, "User not found")
	}
	target, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return nil, nil, err
	}
	if target == nil {
		return nil, nil, ErrUserNotFound
	}
	return actor, target, nil
}

func (s *UserService) authorize(ctx context.Context, in engine.Input) error {
	d, err := s.policy.Evaluate(ctx, in)
	if err != nil {
		return fmt.Errorf("evaluate %s policy: %w", in.Action, err)
	}
	if !d.Allowed {
		s.log.Debug("policy denied",
			zap.String("action", in.Action),
			zap.String("actor_id", in.Actor.ID),
			zap.String("target_id", in.Target.ID),
			zap.String("reason", d.Reason),
		)
		return apperr.New(apperr.Forbidden, d.Reason)
	}
	return nil
}

func (s *UserService) record(ctx context.Context, actorID, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	b, err := json.Marshal(meta)
	if err != nil {
		b = nil
	}
	s.audit.LogEvent(ctx, actorID, action, audit.ResourceUser, string(b))
}

func subject(u *domain.User) engine.Subject {
	return engine.Subject{ID: u.ID, Role: u.Role}
}
