package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
)

type contextKey struct{ name string }

var (
	identityKey     = contextKey{"identity"}
	identitySlotKey = contextKey{"identity_slot"}
	clientIPKey     = contextKey{"client_ip"}
)

// Identity is the authenticated caller, set by Authenticator.Authenticate.
type Identity struct {
	UserID    string
	Email     string
	SessionID string
}

// WithIdentity returns a context carrying id. It also fills the identity slot of an enclosing
// middleware, so wrappers mounted above the authenticator see the caller once next returns.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	if s, ok := ctx.Value(identitySlotKey).(*identitySlot); ok {
		s.set(id)
	}
	return context.WithValue(ctx, identityKey, id)
}

// identitySlot receives the identity stored further down the handler chain.
type identitySlot struct {
	mu sync.Mutex
	id Identity
	ok bool
}

func (s *identitySlot) set(id Identity) {
	s.mu.Lock()
	s.id, s.ok = id, true
	s.mu.Unlock()
}

func (s *identitySlot) get() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.ok
}

func withIdentitySlot(ctx context.Context) (context.Context, *identitySlot) {
	s := &identitySlot{}
	return context.WithValue(ctx, identitySlotKey, s), s
}

// IdentityFrom returns the caller identity and true if the request was authenticated.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(identityKey).(Identity)
	return v, ok
}

// ClientIPFrom returns the client IP stored by ClientInfo, or "".
func ClientIPFrom(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}

// ClientInfo stores the client IP in the request context. Run after chi's RealIP so
// X-Forwarded-For and X-Real-IP are already folded into RemoteAddr.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIPKey, ClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the request's remote host without the port, or "unknown".
func ClientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if addr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
