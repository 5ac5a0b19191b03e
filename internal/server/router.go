package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Svyat0y/form-builder-backend/internal/audit"
	healthhandler "github.com/Svyat0y/form-builder-backend/internal/health/handler"
	identityhandler "github.com/Svyat0y/form-builder-backend/internal/identity/handler"
	"github.com/Svyat0y/form-builder-backend/internal/server/middleware"
	sessionhandler "github.com/Svyat0y/form-builder-backend/internal/session/handler"
	"github.com/Svyat0y/form-builder-backend/internal/telemetry"
	userdomain "github.com/Svyat0y/form-builder-backend/internal/user/domain"
	userhandler "github.com/Svyat0y/form-builder-backend/internal/user/handler"
)

const healthPath = "/healthz"

// Deps holds everything the HTTP router mounts. Tracer, Metrics, Events and Audit may be nil.
type Deps struct {
	Auth     *identityhandler.AuthHandler
	Users    *userhandler.UserHandler
	Sessions *sessionhandler.SessionHandler
	Health   *healthhandler.Checker

	Authenticator *middleware.Authenticator

	Audit   audit.AuditLogger
	Tracer  trace.Tracer
	Metrics middleware.HTTPRecorder
	Events  telemetry.EventEmitter
	Logger  *zap.Logger

	CORSOrigins    []string
	RequestTimeout time.Duration
}

// NewRouter returns the chi router serving /healthz and the /api routes.
//
// Route → handler mapping:
//   - /api/auth/*             → internal/identity/handler
//   - /api/users, /users/{id} → internal/user/handler
//   - /api/users/me/sessions  → internal/session/handler
//   - /healthz                → internal/health/handler
func NewRouter(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.ClientInfo)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(d.CORSOrigins))
	r.Use(chimiddleware.Timeout(timeout))
	r.Use(middleware.Telemetry(d.Tracer, d.Metrics, d.Events, log, healthPath))

	r.Method(http.MethodGet, healthPath, d.Health)

	authn := d.Authenticator
	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", d.Auth.Register)
			r.Post("/login", d.Auth.Login)
			r.Post("/refresh", d.Auth.Refresh)
			r.Post("/logout", d.Auth.Logout)
			r.Get("/{provider}", d.Auth.OAuthStart)
			r.Get("/{provider}/callback", d.Auth.OAuthCallback)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(authn.Authenticate, middleware.Audit(d.Audit))
			r.Get("/", d.Users.List)
			r.Get("/me", d.Users.Me)
			r.Get("/me/activity", d.Users.Activity)
			r.Get("/me/sessions", d.Sessions.List)
			r.Delete("/me/sessions/{id}", d.Sessions.Revoke)
			r.Delete("/{id}", d.Users.Delete)
			r.With(authn.RequireRole(userdomain.RoleAdmin, userdomain.RoleSuperAdmin)).Patch("/{id}/role", d.Users.UpdateRole)
			r.Post("/{id}/logout", d.Users.ForceLogout)
		})
	})
	return r
}
