// Package handler serves the caller's own sessions under /users/me/sessions.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Svyat0y/form-builder-backend/internal/apperr"
	"github.com/Svyat0y/form-builder-backend/internal/server/httpx"
	"github.com/Svyat0y/form-builder-backend/internal/server/middleware"
	"github.com/Svyat0y/form-builder-backend/internal/session/domain"
)

// Sessions is the session management the handlers call; service.AuthService implements it.
type Sessions interface {
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)
	RevokeSession(ctx context.Context, userID, sessionID string) error
}

type sessionView struct {
	ID                string    `json:"id"`
	DeviceInfo        string    `json:"deviceInfo"`
	DeviceFingerprint string    `json:"deviceFingerprint"`
	IPAddress         string    `json:"ipAddress"`
	LastUsed          time.Time `json:"lastUsed"`
	CreatedAt         time.Time `json:"createdAt"`
	ExpiresAt         time.Time `json:"expiresAt"`
	Revoked           bool      `json:"revoked"`
	Current           bool      `json:"current"`
}

// SessionHandler serves GET /users/me/sessions and DELETE /users/me/sessions/{id}.
type SessionHandler struct {
	sessions Sessions
	log      *zap.Logger
}

// NewSessionHandler returns a SessionHandler.
func NewSessionHandler(sessions Sessions, log *zap.Logger) *SessionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionHandler{sessions: sessions, log: log}
}

// List returns the caller's active sessions, most recently used first. The session of the
// presented access token is flagged current.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, h.log, apperr.New(apperr.Unauthenticated, "User not authenticated"))
		return
	}
	list, err := h.sessions.ListSessions(r.Context(), id.UserID)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{
			ID:                s.ID,
			DeviceInfo:        s.DeviceInfo,
			DeviceFingerprint: s.DeviceFingerprint,
			IPAddress:         s.IPAddress,
			LastUsed:          s.LastUsed,
			CreatedAt:         s.CreatedAt,
			ExpiresAt:         s.ExpiresAt,
			Revoked:           s.Revoked,
			Current:           s.ID == id.SessionID,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// Revoke revokes one of the caller's sessions.
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, h.log, apperr.New(apperr.Unauthenticated, "User not authenticated"))
		return
	}
	sessionID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(sessionID); err != nil {
		httpx.WriteError(w, r, h.log, apperr.Invalidf("Invalid session id"))
		return
	}
	if err := h.sessions.RevokeSession(r.Context(), id.UserID, sessionID); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteMessage(w, "Session revoked")
}
