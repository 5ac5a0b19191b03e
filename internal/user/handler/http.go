// Package handler serves the /users endpoints.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Svyat0y/form-builder-backend/internal/apperr"
	auditdomain "github.com/Svyat0y/form-builder-backend/internal/audit/domain"
	"github.com/Svyat0y/form-builder-backend/internal/server/httpx"
	"github.com/Svyat0y/form-builder-backend/internal/server/middleware"
	"github.com/Svyat0y/form-builder-backend/internal/user/domain"
)

var errInvalidID = apperr.Invalidf("Invalid user id")

// Profile is the public view of a user.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewProfile returns the public view of u.
func NewProfile(u *domain.User) Profile {
	if u == nil {
		return Profile{}
	}
	return Profile{ID: u.ID, Email: u.Email, Name: u.Name, Role: string(u.Role), CreatedAt: u.CreatedAt}
}

type activityEntry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IP        string    `json:"ip"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

// UserService is the user management the handlers call.
type UserService interface {
	List(ctx context.Context) ([]*domain.User, error)
	Get(ctx context.Context, id string) (*domain.User, error)
	Delete(ctx context.Context, actorID, targetID string) error
	UpdateRole(ctx context.Context, actorID, targetID string, role domain.Role) (*domain.User, error)
	ForceLogout(ctx context.Context, actorID, targetID string) error
	Activity(ctx context.Context, userID string, limit int) ([]*auditdomain.AuditLog, error)
}

// UserHandler serves the /users routes. Every route runs behind the authenticator.
type UserHandler struct {
	users UserService
	log   *zap.Logger
}

// NewUserHandler returns a UserHandler.
func NewUserHandler(users UserService, log *zap.Logger) *UserHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserHandler{users: users, log: log}
}

// List handles GET /users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	out := make([]Profile, 0, len(users))
	for _, u := range users {
		out = append(out, NewProfile(u))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// Me handles GET /users/me.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	u, err := h.users.Get(r.Context(), id.UserID)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, NewProfile(u))
}

// Activity handles GET /users/me/activity?limit=N.
func (h *UserHandler) Activity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httpx.WriteError(w, r, h.log, apperr.Invalidf("limit must be a positive integer"))
			return
		}
		limit = n
	}
	logs, err := h.users.Activity(r.Context(), id.UserID, limit)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	out := make([]activityEntry, 0, len(logs))
	for _, l := range logs {
		out = append(out, activityEntry{
			ID:        l.ID,
			Action:    l.Action,
			Resource:  l.Resource,
			IP:        l.IP,
			Metadata:  l.Metadata,
			CreatedAt: l.CreatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// Delete handles DELETE /users/{id}.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, targetID, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.users.Delete(r.Context(), id.UserID, targetID); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteMessage(w, "User deleted successfully")
}

// UpdateRole handles PATCH /users/{id}/role.
func (h *UserHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, targetID, ok := h.target(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	u, err := h.users.UpdateRole(r.Context(), id.UserID, targetID, domain.Role(req.Role))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, NewProfile(u))
}

// ForceLogout handles POST /users/{id}/logout.
func (h *UserHandler) ForceLogout(w http.ResponseWriter, r *http.Request) {
	id, targetID, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.users.ForceLogout(r.Context(), id.UserID, targetID); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteMessage(w, "All sessions of the user have been revoked")
}

func (h *UserHandler) identity(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, h.log, apperr.New(apperr.Unauthenticated, "User not authenticated"))
	}
	return id, ok
}

// target returns the caller and the {id} path parameter, which must be a UUID.
func (h *UserHandler) target(w http.ResponseWriter, r *http.Request) (middleware.Identity, string, bool) {
	id, ok := h.identity(w, r)
	if !ok {
		return id, "", false
	}
	targetID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(targetID); err != nil {
		httpx.WriteError(w, r, h.log, errInvalidID)
		return id, "", false
	}
	return id, targetID, true
}
