package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Svyat0y/form-builder-backend/internal/apperr"
	auditdomain "github.com/Svyat0y/form-builder-backend/internal/audit/domain"
	"github.com/Svyat0y/form-builder-backend/internal/server/middleware"
	"github.com/Svyat0y/form-builder-backend/internal/user/domain"
)

const targetID = "6f1c2a4e-8a55-4e33-9a57-2b0f6f7d1a10"

type fakeUsers struct {
	calls         []string
	activityLimit int
	err           error
}

func (f *fakeUsers) List(context.Context) ([]*domain.User, error) {
	return []*domain.User{{ID: "u1", Email: "jane@example.com", Role: domain.RoleUser}}, nil
}

func (f *fakeUsers) Get(_ context.Context, id string) (*domain.User, error) {
	return &domain.User{ID: id, Email: "jane@example.com", Role: domain.RoleUser}, nil
}

func (f *fakeUsers) Delete(_ context.Context, actorID, target string) error {
	f.calls = append(f.calls, "delete:"+actorID+":"+target)
	return f.err
}

func (f *fakeUsers) UpdateRole(_ context.Context, actorID, target string, role domain.Role) (*domain.User, error) {
	f.calls = append(f.calls, "role:"+target+":"+string(role))
	if f.err != nil {
		return nil, f.err
	}
	return &domain.User{ID: target, Role: role}, nil
}

func (f *fakeUsers) ForceLogout(_ context.Context, actorID, target string) error {
	f.calls = append(f.calls, "logout:"+target)
	return f.err
}

func (f *fakeUsers) Activity(_ context.Context, userID string, limit int) ([]*auditdomain.AuditLog, error) {
	f.activityLimit = limit
	return []*auditdomain.AuditLog{{ID: "a1", UserID: userID, Action: "login", Resource: "session", IP: "192.0.2.1"}}, nil
}

func newRouter(users UserService, withIdentity bool) http.Handler {
	h := NewUserHandler(users, nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if withIdentity {
				req = req.WithContext(middleware.WithIdentity(req.Context(), middleware.Identity{UserID: "u1", SessionID: "s1"}))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/users", h.List)
	r.Get("/users/me", h.Me)
	r.Get("/users/me/activity", h.Activity)
	r.Delete("/users/{id}", h.Delete)
	r.Patch("/users/{id}/role", h.UpdateRole)
	r.Post("/users/{id}/logout", h.ForceLogout)
	return r
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestUserHandler_Routes(t *testing.T) {
	users := &fakeUsers{}
	h := newRouter(users, true)
	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/users", "", http.StatusOK},
		{http.MethodGet, "/users/me", "", http.StatusOK},
		{http.MethodDelete, "/users/" + targetID, "", http.StatusOK},
		{http.MethodDelete, "/users/not-a-uuid", "", http.StatusBadRequest},
		{http.MethodPatch, "/users/" + targetID + "/role", `{"role":"ADMIN"}`, http.StatusOK},
		{http.MethodPatch, "/users/" + targetID + "/role", `{"role":`, http.StatusBadRequest},
		{http.MethodPost, "/users/" + targetID + "/logout", "", http.StatusOK},
		{http.MethodPost, "/users/xyz/logout", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := do(h, tt.method, tt.path, tt.body); rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
		}
	}
	want := []string{"delete:u1:" + targetID, "role:" + targetID + ":ADMIN", "logout:" + targetID}
	if strings.Join(users.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", users.calls, want)
	}
}

func TestUserHandler_ServiceErrors(t *testing.T) {
	users := &fakeUsers{err: apperr.New(apperr.Forbidden, "You can only delete your own account")}
	rec := do(newRouter(users, true), http.MethodDelete, "/users/"+targetID, "")
	if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), "You can only delete your own account") {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestUserHandler_NoIdentity(t *testing.T) {
	h := newRouter(&fakeUsers{}, false)
	for _, path := range []string{"/users/me", "/users/me/activity"} {
		if rec := do(h, http.MethodGet, path, ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s = %d, want 401", path, rec.Code)
		}
	}
}

func TestUserHandler_ActivityLimit(t *testing.T) {
	users := &fakeUsers{}
	h := newRouter(users, true)
	if rec := do(h, http.MethodGet, "/users/me/activity?limit=5", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if users.activityLimit != 5 {
		t.Errorf("limit = %d, want 5", users.activityLimit)
	}
	if rec := do(h, http.MethodGet, "/users/me/activity", ""); rec.Code != http.StatusOK || users.activityLimit != 0 {
		t.Errorf("default limit: %d, limit %d", rec.Code, users.activityLimit)
	}
	for _, v := range []string{"0", "-1", "ten"} {
		if rec := do(h, http.MethodGet, "/users/me/activity?limit="+v, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", v, rec.Code)
		}
	}
}

func TestNewProfile(t *testing.T) {
	if p := NewProfile(nil); p.ID != "" {
		t.Errorf("NewProfile(nil) = %+v", p)
	}
	p := NewProfile(&domain.User{ID: "u1", Email: "a@b.co", Name: "A", Role: domain.RoleAdmin})
	if p.Role != "ADMIN" || p.Email != "a@b.co" {
		t.Errorf("profile = %+v", p)
	}
}
