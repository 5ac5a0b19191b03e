package engine

import (
	"context"

	userdomain "github.com/Svyat0y/form-builder-backend/internal/user/domain"
)

// Actions checked by the user-management policy.
const (
	ActionDeleteUser  = "delete"
	ActionForceLogout = "logout"
	ActionUpdateRole  = "update_role"
)

// Subject is one side of a decision: the acting user or the target user.
type Subject struct {
	ID   string          `json:"id"`
	Role userdomain.Role `json:"role"`
}

// Input is what a user-management decision is made on. NewRole is set for ActionUpdateRole only.
type Input struct {
	Action  string          `json:"action"`
	Actor   Subject         `json:"actor"`
	Target  Subject         `json:"target"`
	NewRole userdomain.Role `json:"new_role,omitempty"`
}

// Decision is the policy outcome. Reason explains a denial and is safe to show to the caller.
type Decision struct {
	Allowed bool
	Reason  string
}

// Evaluator decides whether an actor may perform a user-management action on a target.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (Decision, error)
}
