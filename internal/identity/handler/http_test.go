package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	identitydomain "github.com/Svyat0y/form-builder-backend/internal/identity/domain"
	"github.com/Svyat0y/form-builder-backend/internal/identity/oauth"
	"github.com/Svyat0y/form-builder-backend/internal/identity/service"
	userdomain "github.com/Svyat0y/form-builder-backend/internal/user/domain"
)

type fakeAuth struct {
	mu         sync.Mutex
	refreshErr error
	logoutErr  error
	logins     []service.LoginInput
	refreshed  []string
	loggedOut  []string
	external   []identitydomain.ExternalProfile
}

var testUser = &userdomain.User{ID: "u1", Email: "jane@example.com", Name: "Jane", Role: userdomain.RoleUser}

func (f *fakeAuth) Register(_ context.Context, in service.RegisterInput) (*userdomain.User, error) {
	if in.Email == "taken@example.com" {
		return nil, service.ErrDuplicateEmail
	}
	return &userdomain.User{ID: "u2", Email: in.Email, Name: in.Name, Role: userdomain.RoleUser}, nil
}

func (f *fakeAuth) Login(_ context.Context, in service.LoginInput) (*service.AuthResult, error) {
	f.mu.Lock()
	f.logins = append(f.logins, in)
	f.mu.Unlock()
	if in.Password != "Secret123" {
		return nil, service.ErrInvalidCredentials
	}
	res := &service.AuthResult{User: testUser, SessionID: "s1", AccessToken: "access-1"}
	if in.RememberMe {
		res.RefreshToken = "refresh-1"
	}
	return res, nil
}

func (f *fakeAuth) LoginWithProvider(_ context.Context, p identitydomain.ExternalProfile, rememberMe bool, _ service.Client) (*service.AuthResult, error) {
	f.mu.Lock()
	f.external = append(f.external, p)
	f.mu.Unlock()
	if !rememberMe {
		return nil, errors.New("oauth logins always remember the device")
	}
	return &service.AuthResult{User: testUser, SessionID: "s2", AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
}

func (f *fakeAuth) Refresh(_ context.Context, token string, _ service.Client) (*service.AuthResult, error) {
	f.mu.Lock()
	f.refreshed = append(f.refreshed, token)
	f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &service.AuthResult{User: testUser, SessionID: "s1", AccessToken: "access-3", RefreshToken: "refresh-3"}, nil
}

func (f *fakeAuth) LogoutToken(_ context.Context, token string) error {
	f.mu.Lock()
	f.loggedOut = append(f.loggedOut, token)
	f.mu.Unlock()
	return f.logoutErr
}

type fakeProvider struct {
	exchangeErr error
}

func (p fakeProvider) AuthCodeURL(state, verifier string) string {
	return "https://provider.example/authorize?state=" + url.QueryEscape(state)
}

func (p fakeProvider) Exchange(_ context.Context, code, verifier string) (identitydomain.ExternalProfile, error) {
	if p.exchangeErr != nil {
		return identitydomain.ExternalProfile{}, p.exchangeErr
	}
	if verifier == "" {
		return identitydomain.ExternalProfile{}, errors.New("missing verifier")
	}
	return identitydomain.ExternalProfile{
		Provider:   identitydomain.IdentityProviderGoogle,
		ExternalID: "g-" + code,
		Email:      "jane@example.com",
		Name:       "Jane",
	}, nil
}

type fakeProviders map[string]OAuthProvider

func (m fakeProviders) Provider(name string) (OAuthProvider, error) {
	p, ok := m[name]
	if !ok {
		return nil, oauth.ErrUnknownProvider
	}
	return p, nil
}

func newTestRouter(auth AuthService, providers OAuthProviders) http.Handler {
	h := NewAuthHandler(auth, providers, CookieConfig{Secure: true, RefreshTTL: 24 * time.Hour}, nil)
	r := chi.NewRouter()
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
		r.Get("/{provider}", h.OAuthStart)
		r.Get("/{provider}/callback", h.OAuthCallback)
	})
	return r
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRegister(t *testing.T) {
	h := newTestRouter(&fakeAuth{}, nil)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"created", `{"email":"new@example.com","name":"Jane","password":"Secret123"}`, http.StatusCreated},
		{"duplicate", `{"email":"taken@example.com","name":"Jane","password":"Secret123"}`, http.StatusConflict},
		{"malformed", `{"email":`, http.StatusBadRequest},
		{"unknown field", `{"email":"a@b.co","admin":true}`, http.StatusBadRequest},
		{"empty", ``, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestLogin_RememberMeSetsCookie(t *testing.T) {
	auth := &fakeAuth{}
	h := newTestRouter(auth, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"jane@example.com","password":"Secret123","rememberMe":true}`))
	req.Header.Set("User-Agent", "Mozilla/5.0")
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	c := cookieNamed(rec, RefreshCookieName)
	if c == nil || c.Value != "refresh-1" {
		t.Fatalf("refresh cookie = %+v", c)
	}
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode || c.Path != "/" || c.MaxAge != int((24*time.Hour).Seconds()) {
		t.Errorf("cookie attributes = %+v", c)
	}
	if strings.Contains(rec.Body.String(), "refresh-1") {
		t.Error("refresh token leaked into the response body")
	}
	if !strings.Contains(rec.Body.String(), `"accessToken":"access-1"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if len(auth.logins) != 1 || auth.logins[0].Client.UserAgent != "Mozilla/5.0" || auth.logins[0].Client.IP == "" {
		t.Errorf("login input = %+v", auth.logins)
	}
}

func TestLogin_WithoutRememberMeClearsCookie(t *testing.T) {
	h := newTestRouter(&fakeAuth{}, nil)
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"jane@example.com","password":"Secret123"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if c := cookieNamed(rec, RefreshCookieName); c == nil || c.MaxAge != -1 || c.Value != "" {
		t.Errorf("refresh cookie = %+v, want cleared", c)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	h := newTestRouter(&fakeAuth{}, nil)
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"jane@example.com","password":"nope"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRefresh(t *testing.T) {
	auth := &fakeAuth{}
	h := newTestRouter(auth, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: "refresh-1"})
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if len(auth.refreshed) != 1 || auth.refreshed[0] != "refresh-1" {
		t.Errorf("refreshed = %v", auth.refreshed)
	}
	if c := cookieNamed(rec, RefreshCookieName); c == nil || c.Value != "refresh-3" {
		t.Errorf("rotated cookie = %+v", c)
	}
}

func TestRefresh_FailureClearsCookie(t *testing.T) {
	for _, err := range []error{service.ErrInvalidRefreshToken, service.ErrSecurityViolation} {
		h := newTestRouter(&fakeAuth{refreshErr: err}, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: "stale"})
		rec := serve(h, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%v: status = %d, want 401", err, rec.Code)
		}
		if c := cookieNamed(rec, RefreshCookieName); c == nil || c.MaxAge != -1 {
			t.Errorf("%v: cookie not cleared: %+v", err, c)
		}
	}
}

func TestLogout(t *testing.T) {
	auth := &fakeAuth{}
	h := newTestRouter(auth, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer access-1")
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(auth.loggedOut) != 1 || auth.loggedOut[0] != "access-1" {
		t.Errorf("loggedOut = %v", auth.loggedOut)
	}
	if c := cookieNamed(rec, RefreshCookieName); c == nil || c.MaxAge != -1 {
		t.Errorf("cookie not cleared: %+v", c)
	}

	// No bearer token: 401, and the cookie is still cleared.
	rec = serve(h, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without token: status = %d", rec.Code)
	}
	if c := cookieNamed(rec, RefreshCookieName); c == nil || c.MaxAge != -1 {
		t.Errorf("without token: cookie not cleared: %+v", c)
	}
}

func TestOAuth_Flow(t *testing.T) {
	auth := &fakeAuth{}
	h := newTestRouter(auth, fakeProviders{"google": fakeProvider{}})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/auth/google", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("start: status = %d", rec.Code)
	}
	stateCookie := cookieNamed(rec, oauthStateCookie)
	if stateCookie == nil || !stateCookie.HttpOnly || stateCookie.Path != oauthCookiePath {
		t.Fatalf("state cookie = %+v", stateCookie)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("redirect carries no state")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?code=abc&state="+url.QueryEscape(state), nil)
	req.AddCookie(stateCookie)
	rec = serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("callback: status = %d (%s)", rec.Code, rec.Body.String())
	}
	if c := cookieNamed(rec, RefreshCookieName); c == nil || c.Value != "refresh-2" {
		t.Errorf("refresh cookie = %+v", c)
	}
	if c := cookieNamed(rec, oauthStateCookie); c == nil || c.MaxAge != -1 {
		t.Errorf("state cookie not cleared: %+v", c)
	}
	if len(auth.external) != 1 || auth.external[0].ExternalID != "g-abc" {
		t.Errorf("external = %+v", auth.external)
	}
}

func TestOAuth_CallbackRejections(t *testing.T) {
	auth := &fakeAuth{}
	providers := fakeProviders{"google": fakeProvider{}, "broken": fakeProvider{exchangeErr: errors.New("boom")}}
	h := newTestRouter(auth, providers)
	good := oauth.EncodeState("state-1", "verifier-1")

	tests := []struct {
		name   string
		path   string
		cookie string
		want   int
	}{
		{"unknown provider", "/api/auth/github/callback?code=x&state=state-1", good, http.StatusNotFound},
		{"no cookie", "/api/auth/google/callback?code=x&state=state-1", "", http.StatusUnauthorized},
		{"state mismatch", "/api/auth/google/callback?code=x&state=other", good, http.StatusUnauthorized},
		{"garbled cookie", "/api/auth/google/callback?code=x&state=state-1", "garbage", http.StatusUnauthorized},
		{"provider error", "/api/auth/google/callback?error=access_denied&state=state-1", good, http.StatusUnauthorized},
		{"missing code", "/api/auth/google/callback?state=state-1", good, http.StatusUnauthorized},
		{"exchange fails", "/api/auth/broken/callback?code=x&state=state-1", good, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: tt.cookie})
			}
			if rec := serve(h, req); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if len(auth.external) != 0 {
		t.Errorf("no rejected callback may sign in, got %+v", auth.external)
	}
}

func TestOAuth_NoProvidersConfigured(t *testing.T) {
	h := newTestRouter(&fakeAuth{}, nil)
	if rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/auth/google", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
