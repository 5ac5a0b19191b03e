package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Svyat0y/form-builder-backend/internal/apperr"
	"github.com/Svyat0y/form-builder-backend/internal/security"
	"github.com/Svyat0y/form-builder-backend/internal/server/httpx"
	sessiondomain "github.com/Svyat0y/form-builder-backend/internal/session/domain"
	userdomain "github.com/Svyat0y/form-builder-backend/internal/user/domain"
)

var (
	errUnauthenticated = apperr.New(apperr.Unauthenticated, "Unauthorized")
	errUserNotFound    = apperr.New(apperr.Unauthenticated, "User not found")
	errForbidden       = apperr.New(apperr.Forbidden, "Insufficient permissions")
)

// SessionStore is the session lookup the authenticator needs.
type SessionStore interface {
	FindValidAccessToken(ctx context.Context, accessHash string) (*sessiondomain.Session, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// TouchLimiter debounces last-used writes.
type TouchLimiter interface {
	Allow(ctx context.Context, sessionID string) bool
}

// UserLookup loads the caller for role checks.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Authenticator validates bearer access tokens against their signature and the session store.
type Authenticator struct {
	tokens   *security.TokenProvider
	sessions SessionStore
	touch    TouchLimiter
	users    UserLookup
	log      *zap.Logger
	now      func() time.Time
}

// NewAuthenticator returns an Authenticator. touch may be nil, which touches on every request.
func NewAuthenticator(tokens *security.TokenProvider, sessions SessionStore, touch TouchLimiter, users UserLookup, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{tokens: tokens, sessions: sessions, touch: touch, users: users, log: log, now: time.Now}
}

// Authenticate rejects the request with 401 unless it carries a signed, unexpired access token
// whose session is live in the store. The identity is stored in the context for handlers.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r)
		if !ok {
			httpx.WriteError(w, r, a.log, errUnauthenticated)
			return
		}
		claims, err := a.tokens.ValidateAccess(token)
		if err != nil {
			httpx.WriteError(w, r, a.log, errUnauthenticated)
			return
		}
		sess, err := a.sessions.FindValidAccessToken(r.Context(), security.HashToken(token))
		if err != nil {
			// Store errors reject the request.
			a.log.Warn("auth: session lookup failed", zap.Error(err))
			httpx.WriteError(w, r, a.log, errUnauthenticated)
			return
		}
		if !sess.Active(a.now()) || sess.UserID != claims.UserID {
			httpx.WriteError(w, r, a.log, errUnauthenticated)
			return
		}
		if a.touch == nil || a.touch.Allow(r.Context(), sess.ID) {
			if err := a.sessions.TouchLastUsed(r.Context(), sess.ID, a.now()); err != nil {
				a.log.Debug("auth: touch session failed", zap.String("session_id", sess.ID), zap.Error(err))
			}
		}
		ctx := WithIdentity(r.Context(), Identity{UserID: claims.UserID, Email: claims.Email, SessionID: sess.ID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits callers whose stored role is one of roles. Must run after Authenticate.
func (a *Authenticator) RequireRole(roles ...userdomain.Role) func(http.Handler) http.Handler {
	allowed := make(map[userdomain.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				httpx.WriteError(w, r, a.log, apperr.New(apperr.Unauthenticated, "User not authenticated"))
				return
			}
			u, err := a.users.GetByID(r.Context(), id.UserID)
			if err != nil {
				httpx.WriteError(w, r, a.log, err)
				return
			}
			if u == nil {
				httpx.WriteError(w, r, a.log, errUserNotFound)
				return
			}
			if !allowed[u.Role] {
				httpx.WriteError(w, r, a.log, errForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken returns the token from an "Authorization: Bearer <token>" header. The scheme is
// matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(r.Header.Get("Authorization")), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
