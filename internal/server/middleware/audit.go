package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Svyat0y/form-builder-backend/internal/audit"
)

type rejectedRequestMetadata struct {
	Method string `json:"method"`
	Route  string `json:"route"`
	Status int    `json:"status"`
}

// Audit records authenticated requests that were rejected (4xx/5xx). Successful operations are
// audited by the services themselves with richer metadata. logger may be nil.
func Audit(logger audit.AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := statusOf(ww)
			if status < http.StatusBadRequest {
				return
			}
			id, ok := IdentityFrom(r.Context())
			if !ok {
				return
			}
			route := routePattern(r)
			ar := audit.ParseRoute(r.Method, route)
			meta, _ := json.Marshal(rejectedRequestMetadata{Method: r.Method, Route: route, Status: status})
			logger.LogEvent(r.Context(), id.UserID, ar.Action+"_rejected", ar.Resource, string(meta))
		})
	}
}

func statusOf(ww chimiddleware.WrapResponseWriter) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}

// routePattern returns the matched chi pattern, or the raw path when no route matched.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
