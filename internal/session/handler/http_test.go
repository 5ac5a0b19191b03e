package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Svyat0y/form-builder-backend/internal/apperr"
	"github.com/Svyat0y/form-builder-backend/internal/server/middleware"
	"github.com/Svyat0y/form-builder-backend/internal/session/domain"
)

const (
	currentID = "0b7e3c52-2f0e-4d35-8f4c-6a1d2c9e5b01"
	otherID   = "5a9d4e11-7c3b-4b8e-9e2f-1f6a0d8c3b72"
)

type fakeSessions struct {
	revoked []string
}

func (f *fakeSessions) ListSessions(_ context.Context, userID string) ([]*domain.Session, error) {
	return []*domain.Session{
		{ID: currentID, UserID: userID, DeviceInfo: "Chrome"},
		{ID: otherID, UserID: userID, DeviceInfo: "Firefox"},
	}, nil
}

func (f *fakeSessions) RevokeSession(_ context.Context, userID, sessionID string) error {
	if sessionID != currentID && sessionID != otherID {
		return apperr.New(apperr.NotFound, "Session not found")
	}
	f.revoked = append(f.revoked, sessionID)
	return nil
}

func newRouter(s Sessions) http.Handler {
	h := NewSessionHandler(s, nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := middleware.WithIdentity(req.Context(), middleware.Identity{UserID: "u1", SessionID: currentID})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/sessions", h.List)
	r.Delete("/sessions/{id}", h.Revoke)
	return r
}

func TestSessionHandler_ListFlagsCurrent(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(&fakeSessions{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []sessionView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || !got[0].Current || got[1].Current {
		t.Errorf("sessions = %+v", got)
	}
}

func TestSessionHandler_Revoke(t *testing.T) {
	s := &fakeSessions{}
	h := newRouter(s)
	tests := []struct {
		id   string
		want int
	}{
		{otherID, http.StatusOK},
		{"not-a-uuid", http.StatusBadRequest},
		{"00000000-0000-0000-0000-000000000000", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/"+tt.id, nil))
		if rec.Code != tt.want {
			t.Errorf("revoke %s = %d, want %d", tt.id, rec.Code, tt.want)
		}
	}
	if len(s.revoked) != 1 || s.revoked[0] != otherID {
		t.Errorf("revoked = %v", s.revoked)
	}
}
