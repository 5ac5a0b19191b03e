// Package handler serves the /auth endpoints: registration, login, refresh, logout and OAuth sign-in.
package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Svyat0y/form-builder-backend/internal/apperr"
	identitydomain "github.com/Svyat0y/form-builder-backend/internal/identity/domain"
	"github.com/Svyat0y/form-builder-backend/internal/identity/oauth"
	"github.com/Svyat0y/form-builder-backend/internal/identity/service"
	"github.com/Svyat0y/form-builder-backend/internal/server/httpx"
	"github.com/Svyat0y/form-builder-backend/internal/server/middleware"
	userdomain "github.com/Svyat0y/form-builder-backend/internal/user/domain"
	userhandler "github.com/Svyat0y/form-builder-backend/internal/user/handler"
)

var (
	errUnknownProvider = apperr.New(apperr.NotFound, "Unknown OAuth provider")
	errOAuthState      = apperr.New(apperr.Unauthenticated, "Invalid OAuth state")
	errOAuthFailed     = apperr.New(apperr.Unauthenticated, "OAuth authentication failed")
)

// AuthService is the part of service.AuthService the handlers call.
type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput) (*userdomain.User, error)
	Login(ctx context.Context, in service.LoginInput) (*service.AuthResult, error)
	LoginWithProvider(ctx context.Context, profile identitydomain.ExternalProfile, rememberMe bool, client service.Client) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string, client service.Client) (*service.AuthResult, error)
	LogoutToken(ctx context.Context, accessToken string) error
}

// OAuthProvider runs one provider's authorization code flow.
type OAuthProvider interface {
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (identitydomain.ExternalProfile, error)
}

// OAuthProviders resolves a provider by its path name.
type OAuthProviders interface {
	Provider(name string) (OAuthProvider, error)
}

type registryProviders oauth.Registry

func (r registryProviders) Provider(name string) (OAuthProvider, error) {
	p, err := oauth.Registry(r).Get(name)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// RegistryProviders adapts an oauth.Registry for the handler.
func RegistryProviders(r oauth.Registry) OAuthProviders {
	return registryProviders(r)
}

// AuthHandler serves the /auth routes.
type AuthHandler struct {
	auth      AuthService
	providers OAuthProviders
	cookies   CookieConfig
	log       *zap.Logger
}

// NewAuthHandler returns an AuthHandler. providers may be nil when no OAuth provider is configured.
func NewAuthHandler(auth AuthService, providers OAuthProviders, cookies CookieConfig, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{auth: auth, providers: providers, cookies: cookies, log: log}
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type registerResponse struct {
	Message string              `json:"message"`
	User    userhandler.Profile `json:"user"`
}

type loginResponse struct {
	Message     string              `json:"message,omitempty"`
	AccessToken string              `json:"accessToken"`
	User        userhandler.Profile `json:"user"`
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	u, err := h.auth.Register(r.Context(), service.RegisterInput{Email: req.Email, Name: req.Name, Password: req.Password})
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, registerResponse{Message: "User registered successfully", User: userhandler.NewProfile(u)})
}

// Login handles POST /auth/login. The refresh cookie is set with remember-me and cleared otherwise.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	res, err := h.auth.Login(r.Context(), service.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		Client:     clientOf(r),
	})
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	h.writeSession(w, "Login successful", res)
}

// Refresh handles POST /auth/refresh using the refresh cookie.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var token string
	if c, err := r.Cookie(RefreshCookieName); err == nil {
		token = c.Value
	}
	res, err := h.auth.Refresh(r.Context(), token, clientOf(r))
	if err != nil {
		if k := apperr.KindOf(err); k == apperr.InvalidRefreshToken || k == apperr.SecurityViolation {
			h.cookies.clearRefresh(w)
		}
		httpx.WriteError(w, r, h.log, err)
		return
	}
	h.writeSession(w, "", res)
}

// Logout handles POST /auth/logout. Only the token signature is checked so a repeated logout
// succeeds; the refresh cookie is cleared on every outcome.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.cookies.clearRefresh(w)
	token, ok := middleware.BearerToken(r)
	if !ok {
		httpx.WriteError(w, r, h.log, service.ErrUnauthenticated)
		return
	}
	if err := h.auth.LogoutToken(r.Context(), token); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteMessage(w, "Logged out successfully")
}

// OAuthStart handles GET /auth/{provider}: it stores state and PKCE verifier in a short-lived
// cookie and redirects to the provider.
func (h *AuthHandler) OAuthStart(w http.ResponseWriter, r *http.Request) {
	p, err := h.provider(chi.URLParam(r, "provider"))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	state, verifier, err := oauth.NewState()
	if err != nil {
		httpx.WriteError(w, r, h.log, httpx.ErrInternal("oauth state: %v", err))
		return
	}
	h.cookies.setOAuthState(w, oauth.EncodeState(state, verifier))
	http.Redirect(w, r, p.AuthCodeURL(state, verifier), http.StatusFound)
}

// OAuthCallback handles GET /auth/{provider}/callback and signs the user in with remember-me on.
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	p, err := h.provider(chi.URLParam(r, "provider"))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	c, err := r.Cookie(oauthStateCookie)
	h.cookies.clearOAuthState(w)
	if err != nil {
		httpx.WriteError(w, r, h.log, errOAuthState)
		return
	}
	state, verifier, ok := oauth.DecodeState(c.Value)
	q := r.URL.Query()
	if !ok || subtle.ConstantTimeCompare([]byte(state), []byte(q.Get("state"))) != 1 {
		httpx.WriteError(w, r, h.log, errOAuthState)
		return
	}
	if q.Get("error") != "" || q.Get("code") == "" {
		httpx.WriteError(w, r, h.log, errOAuthFailed)
		return
	}
	profile, err := p.Exchange(r.Context(), q.Get("code"), verifier)
	if err != nil {
		httpx.WriteError(w, r, h.log, apperr.Wrap(apperr.Unauthenticated, errOAuthFailed.Message, err))
		return
	}
	res, err := h.auth.LoginWithProvider(r.Context(), profile, true, clientOf(r))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	h.writeSession(w, "Login successful", res)
}

func (h *AuthHandler) provider(name string) (OAuthProvider, error) {
	if h.providers == nil {
		return nil, errUnknownProvider
	}
	p, err := h.providers.Provider(name)
	if err != nil {
		if errors.Is(err, oauth.ErrUnknownProvider) {
			return nil, errUnknownProvider
		}
		return nil, err
	}
	return p, nil
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, message string, res *service.AuthResult) {
	if res.RefreshToken != "" {
		h.cookies.setRefresh(w, res.RefreshToken)
	} else {
		h.cookies.clearRefresh(w)
	}
	httpx.WriteJSON(w, http.StatusOK, loginResponse{
		Message:     message,
		AccessToken: res.AccessToken,
		User:        userhandler.NewProfile(res.User),
	})
}

func clientOf(r *http.Request) service.Client {
	return service.Client{UserAgent: r.UserAgent(), IP: middleware.ClientIP(r)}
}
