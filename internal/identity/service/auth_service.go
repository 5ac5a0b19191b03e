package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Svyat0y/form-builder-backend/internal/apperr"
	"github.com/Svyat0y/form-builder-backend/internal/audit"
	"github.com/Svyat0y/form-builder-backend/internal/db"
	"github.com/Svyat0y/form-builder-backend/internal/device"
	identitydomain "github.com/Svyat0y/form-builder-backend/internal/identity/domain"
	"github.com/Svyat0y/form-builder-backend/internal/security"
	sessiondomain "github.com/Svyat0y/form-builder-backend/internal/session/domain"
	"github.com/Svyat0y/form-builder-backend/internal/telemetry"
	telemetrydomain "github.com/Svyat0y/form-builder-backend/internal/telemetry/domain"
	userdomain "github.com/Svyat0y/form-builder-backend/internal/user/domain"
)

// Sentinel errors for the auth service; the HTTP layer maps their kinds to status codes.
var (
	ErrDuplicateEmail      = apperr.New(apperr.DuplicateEmail, "User with this email already exists")
	ErrInvalidCredentials  = apperr.New(apperr.InvalidCredentials, "Invalid email or password")
	ErrInvalidRefreshToken = apperr.New(apperr.InvalidRefreshToken, "Invalid refresh token")
	ErrSecurityViolation   = apperr.New(apperr.SecurityViolation, "Security violation detected: all sessions have been revoked")
	ErrUnauthenticated     = apperr.New(apperr.Unauthenticated, "Unauthorized")
	ErrSessionNotFound     = apperr.New(apperr.NotFound, "Session not found")
)

// DefaultMaxActiveSessions is the per-user cap on concurrent non-revoked sessions.
const DefaultMaxActiveSessions = 10

const eventSource = "auth_service"

// Client describes the device a request came from.
type Client struct {
	UserAgent string
	IP        string
}

// RegisterInput is the payload of Register.
type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

// LoginInput is the payload of Login.
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
	Client     Client
}

// AuthResult holds the outcome of Login, LoginWithProvider and Refresh.
// RefreshToken is empty when the session was opened without remember-me.
type AuthResult struct {
	User             *userdomain.User
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	Delete(ctx context.Context, id string) (bool, error)
}

// IdentityRepo is the minimal identity repository needed by the auth service.
type IdentityRepo interface {
	GetByUserAndProvider(ctx context.Context, userID string, provider identitydomain.IdentityProvider) (*identitydomain.Identity, error)
	GetByProviderID(ctx context.Context, provider identitydomain.IdentityProvider, providerID string) (*identitydomain.Identity, error)
	Create(ctx context.Context, i *identitydomain.Identity) error
}

// SessionRepo is the session store contract the auth service drives.
type SessionRepo interface {
	Create(ctx context.Context, s *sessiondomain.Session) error
	Update(ctx context.Context, id string, u sessiondomain.TokenUpdate) (bool, error)
	Rotate(ctx context.Context, id, currentRefreshHash string, u sessiondomain.TokenUpdate) (bool, error)
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	FindByDeviceFingerprint(ctx context.Context, userID, fingerprint string) (*sessiondomain.Session, error)
	CountActive(ctx context.Context, userID string) (int, error)
	EvictOldest(ctx context.Context, userID string, keep int) (int64, error)
	FindValidAccessToken(ctx context.Context, accessHash string) (*sessiondomain.Session, error)
	FindValidRefreshToken(ctx context.Context, refreshHash string) (*sessiondomain.Session, error)
	RevokeByAccess(ctx context.Context, accessHash string) error
	RevokeByRefresh(ctx context.Context, refreshHash string) error
	RevokeByID(ctx context.Context, userID, id string) (bool, error)
	RevokeAllByUser(ctx context.Context, userID string) (int64, error)
	ListActive(ctx context.Context, userID string) ([]*sessiondomain.Session, error)
}

// Options carries the optional collaborators of AuthService.
type Options struct {
	MaxActiveSessions int
	Audit             audit.AuditLogger
	Events            telemetry.EventEmitter
	Logger            *zap.Logger
}

// AuthService implements register, password and OAuth login, refresh with reuse detection, and logout
// over per-device sessions.
type AuthService struct {
	users       UserRepo
	identities  IdentityRepo
	sessions    SessionRepo
	hasher      *security.Hasher
	tokens      *security.TokenProvider
	maxSessions int
	audit       audit.AuditLogger
	events      telemetry.EventEmitter
	log         *zap.Logger
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(
	users UserRepo,
	identities IdentityRepo,
	sessions SessionRepo,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	opts Options,
) *AuthService {
	if opts.MaxActiveSessions <= 0 {
		opts.MaxActiveSessions = DefaultMaxActiveSessions
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &AuthService{
		users:       users,
		identities:  identities,
		sessions:    sessions,
		hasher:      hasher,
		tokens:      tokens,
		maxSessions: opts.MaxActiveSessions,
		audit:       opts.Audit,
		events:      opts.Events,
		log:         opts.Logger,
		now:         time.Now,
	}
}

// Register creates a user with role USER and a local identity holding the bcrypt hash of the password.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*userdomain.User, error) {
	email := normalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	if err := validateRegistration(email, name, in.Password); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateEmail
	}
	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &userdomain.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		Role:      userdomain.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	identity := &identitydomain.Identity{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		Provider:     identitydomain.IdentityProviderLocal,
		ProviderID:   email,
		PasswordHash: hashed,
		CreatedAt:    now,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		if _, delErr := s.users.Delete(context.WithoutCancel(ctx), user.ID); delErr != nil {
			s.log.Error("register: failed to remove user after identity error",
				zap.String("user_id", user.ID), zap.Error(delErr))
		}
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	s.record(ctx, user.ID, "", audit.ActionRegister, audit.ResourceUser, telemetrydomain.EventRegister, nil)
	return user, nil
}

// Login verifies email and password and opens or reuses the session of the calling device.
// Unknown email, accounts without a password and wrong passwords fail identically.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.hasher.Verify(s.dummy(), in.Password)
		s.loginFailed(ctx, "", "unknown_email")
		return nil, ErrInvalidCredentials
	}
	ok, err := s.verifyPassword(ctx, user.ID, in.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.loginFailed(ctx, user.ID, "bad_password")
		return nil, ErrInvalidCredentials
	}
	res, err := s.startSession(ctx, user, in.RememberMe, in.Client)
	if err != nil {
		return nil, err
	}
	s.record(ctx, user.ID, res.SessionID, audit.ActionLoginSuccess, audit.ResourceSession,
		telemetrydomain.EventLoginSuccess, map[string]any{"method": "password", "remember_me": in.RememberMe})
	return res, nil
}

// verifyPassword checks password against the user's local identity. Users without one never match.
func (s *AuthService) verifyPassword(ctx context.Context, userID, password string) (bool, error) {
	ident, err := s.identities.GetByUserAndProvider(ctx, userID, identitydomain.IdentityProviderLocal)
	if err != nil {
		return false, err
	}
	if ident == nil || ident.PasswordHash == "" {
		s.hasher.Verify(s.dummy(), password)
		return false, nil
	}
	return s.hasher.Verify(ident.PasswordHash, password), nil
}

// dummy returns a hash compared against when there is no real one, so unknown accounts cost the same.
func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(uuid.New().String()[:16])
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

func (s *AuthService) loginFailed(ctx context.Context, userID, reason string) {
	s.record(ctx, userID, "", audit.ActionLoginFailure, audit.ResourceSession,
		telemetrydomain.EventLoginFailure, map[string]any{"reason": reason})
}

// LoginWithProvider signs in with an OAuth profile: the linked identity's user, else the user with the
// same email (linking the provider), else a new user. Sessions are opened exactly as in Login.
func (s *AuthService) LoginWithProvider(ctx context.Context, profile identitydomain.ExternalProfile, rememberMe bool, client Client) (*AuthResult, error) {
	if !profile.Provider.External() || strings.TrimSpace(profile.ExternalID) == "" {
		return nil, apperr.Invalidf("unsupported or incomplete provider profile")
	}
	user, err := s.resolveExternalUser(ctx, profile)
	if err != nil {
		return nil, err
	}
	res, err := s.startSession(ctx, user, rememberMe, client)
	if err != nil {
		return nil, err
	}
	s.record(ctx, user.ID, res.SessionID, audit.ActionLoginSuccess, audit.ResourceSession,
		telemetrydomain.EventLoginSuccess, map[string]any{"method": string(profile.Provider), "remember_me": rememberMe})
	return res, nil
}

func (s *AuthService) resolveExternalUser(ctx context.Context, profile identitydomain.ExternalProfile) (*userdomain.User, error) {
	ident, err := s.identities.GetByProviderID(ctx, profile.Provider, profile.ExternalID)
	if err != nil {
		return nil, err
	}
	if ident != nil {
		user, err := s.users.GetByID(ctx, ident.UserID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, fmt.Errorf("identity %s has no user", ident.ID)
		}
		return user, nil
	}

	email := normalizeEmail(profile.Email)
	if email == "" {
		return nil, apperr.Invalidf("provider did not return an email address")
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		if user, err = s.createExternalUser(ctx, email, profile.Name); err != nil {
			return nil, err
		}
	}
	link := &identitydomain.Identity{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		Provider:   profile.Provider,
		ProviderID: profile.ExternalID,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.identities.Create(ctx, link); err != nil {
		if !db.IsUniqueViolation(err) {
			return nil, err
		}
		// Linked by a concurrent callback, or the user already has another account of this provider.
		linked, lookupErr := s.identities.GetByProviderID(ctx, profile.Provider, profile.ExternalID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if linked == nil || linked.UserID != user.ID {
			return nil, apperr.Invalidf("account is already linked to another " + string(profile.Provider) + " profile")
		}
	}
	return user, nil
}

func (s *AuthService) createExternalUser(ctx context.Context, email, name string) (*userdomain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	now := s.now().UTC()
	user := &userdomain.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		Role:      userdomain.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if !db.IsUniqueViolation(err) {
			return nil, err
		}
		existing, getErr := s.users.GetByEmail(ctx, email)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}
	s.record(ctx, user.ID, "", audit.ActionRegister, audit.ResourceUser, telemetrydomain.EventRegister, nil)
	return user, nil
}

// startSession issues a new token pair for the device's session: the existing active slot is updated
// in place, otherwise a new session is created after evicting down to the cap.
func (s *AuthService) startSession(ctx context.Context, user *userdomain.User, rememberMe bool, client Client) (*AuthResult, error) {
	res, err := s.openSession(ctx, user, rememberMe, client)
	if err != nil && db.IsUniqueViolation(err) {
		// A concurrent login from the same device created the slot first; reuse it.
		return s.openSession(ctx, user, rememberMe, client)
	}
	return res, err
}

func (s *AuthService) openSession(ctx context.Context, user *userdomain.User, rememberMe bool, client Client) (*AuthResult, error) {
	fp := device.Fingerprint(client.UserAgent, client.IP)
	existing, err := s.sessions.FindByDeviceFingerprint(ctx, user.ID, fp)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		pair, err := s.tokens.IssuePair(existing.ID, user.ID, user.Email)
		if err != nil {
			return nil, err
		}
		ok, err := s.sessions.Update(ctx, existing.ID, s.tokenUpdate(pair, rememberMe))
		if err != nil {
			return nil, err
		}
		if ok {
			return s.result(user, existing.ID, pair, rememberMe), nil
		}
		// Revoked between lookup and update; the slot is gone, open a new one.
	}
	return s.createSession(ctx, user, rememberMe, client, fp)
}

func (s *AuthService) createSession(ctx context.Context, user *userdomain.User, rememberMe bool, client Client, fp string) (*AuthResult, error) {
	count, err := s.sessions.CountActive(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if count >= s.maxSessions {
		evicted, err := s.sessions.EvictOldest(ctx, user.ID, s.maxSessions-1)
		if err != nil {
			return nil, err
		}
		if evicted > 0 {
			s.record(ctx, user.ID, "", audit.ActionSessionEvicted, audit.ResourceSession,
				telemetrydomain.EventSessionEvicted, map[string]any{"evicted": evicted})
		}
	}
	id := uuid.New().String()
	pair, err := s.tokens.IssuePair(id, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	u := s.tokenUpdate(pair, rememberMe)
	sess := &sessiondomain.Session{
		ID:                id,
		UserID:            user.ID,
		AccessTokenHash:   u.AccessTokenHash,
		RefreshTokenHash:  u.RefreshTokenHash,
		DeviceFingerprint: fp,
		DeviceInfo:        client.UserAgent,
		IPAddress:         client.IP,
		CreatedAt:         u.LastUsed,
		LastUsed:          u.LastUsed,
		ExpiresAt:         u.ExpiresAt,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return s.result(user, id, pair, rememberMe), nil
}

// tokenUpdate builds the stored state for pair. Without remember-me the refresh digest is cleared and
// the session lives only as long as the access token.
func (s *AuthService) tokenUpdate(pair security.TokenPair, rememberMe bool) sessiondomain.TokenUpdate {
	now := s.now().UTC()
	u := sessiondomain.TokenUpdate{
		AccessTokenHash: security.HashToken(pair.AccessToken),
		ExpiresAt:       now.Add(s.tokens.AccessTTL()),
		LastUsed:        now,
	}
	if rememberMe {
		u.RefreshTokenHash = security.HashToken(pair.RefreshToken)
		u.ExpiresAt = now.Add(s.tokens.RefreshTTL())
	}
	return u
}

func (s *AuthService) result(user *userdomain.User, sessionID string, pair security.TokenPair, rememberMe bool) *AuthResult {
	res := &AuthResult{
		User:            user,
		SessionID:       sessionID,
		AccessToken:     pair.AccessToken,
		AccessExpiresAt: pair.AccessExpiresAt,
	}
	if rememberMe {
		res.RefreshToken = pair.RefreshToken
		res.RefreshExpiresAt = pair.RefreshExpiresAt
	}
	return res
}

// Refresh rotates the session holding refreshToken. A well-signed token that no longer matches its
// session (rotated away or revoked) is treated as theft: every session of the user is revoked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, client Client) (*AuthResult, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}
	digest := security.HashToken(refreshToken)
	sess, err := s.sessions.FindValidRefreshToken(ctx, digest)
	if err != nil {
		s.log.Warn("refresh: session lookup failed", zap.Error(err))
		sess = nil
	}
	if sess == nil {
		return nil, s.refreshMiss(ctx, claims, digest, client)
	}
	if sess.UserID != claims.UserID || sess.ID != claims.SessionID {
		return nil, ErrInvalidRefreshToken
	}
	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidRefreshToken
	}
	pair, err := s.tokens.IssuePair(sess.ID, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	ok, err := s.sessions.Rotate(ctx, sess.ID, digest, s.tokenUpdate(pair, true))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidRefreshToken
	}
	s.record(ctx, user.ID, sess.ID, audit.ActionRefresh, audit.ResourceSession, telemetrydomain.EventRefresh, nil)
	return s.result(user, sess.ID, pair, true), nil
}

// refreshMiss decides between an ordinary invalid token and reuse of a stale one.
func (s *AuthService) refreshMiss(ctx context.Context, claims *security.Claims, digest string, client Client) error {
	prior, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return err
	}
	if prior == nil || prior.UserID != claims.UserID {
		return ErrInvalidRefreshToken
	}
	if !prior.Revoked && (prior.RefreshTokenHash == "" || prior.RefreshTokenHash == digest) {
		// Expired with this very token, or a session that keeps no refresh token.
		return ErrInvalidRefreshToken
	}
	revoked, err := s.sessions.RevokeAllByUser(context.WithoutCancel(ctx), claims.UserID)
	if err != nil {
		return err
	}
	s.log.Error("refresh token reuse detected; all sessions revoked",
		zap.String("user_id", claims.UserID),
		zap.String("session_id", claims.SessionID),
		zap.String("ip", client.IP),
		zap.Int64("revoked", revoked),
	)
	s.record(ctx, claims.UserID, claims.SessionID, audit.ActionRefreshReuse, audit.ResourceSession,
		telemetrydomain.EventRefreshReuse, map[string]any{"revoked": revoked, "ip": client.IP})
	return ErrSecurityViolation
}

// Logout revokes the session of accessToken, and its refresh token too, or every session of the user
// when accessToken is empty. Logging out twice is not an error.
func (s *AuthService) Logout(ctx context.Context, userID, accessToken string) error {
	if accessToken == "" {
		if _, err := s.sessions.RevokeAllByUser(ctx, userID); err != nil {
			return err
		}
		s.record(ctx, userID, "", audit.ActionLogout, audit.ResourceSession, telemetrydomain.EventLogout,
			map[string]any{"scope": "all"})
		return nil
	}
	digest := security.HashToken(accessToken)
	sess, err := s.sessions.FindValidAccessToken(ctx, digest)
	if err != nil {
		s.log.Warn("logout: session lookup failed", zap.Error(err))
		sess = nil
	}
	if err := s.sessions.RevokeByAccess(ctx, digest); err != nil {
		return err
	}
	sessionID := ""
	if sess != nil {
		sessionID = sess.ID
		if sess.HasRefreshToken() {
			if err := s.sessions.RevokeByRefresh(ctx, sess.RefreshTokenHash); err != nil {
				return err
			}
		}
	}
	s.record(ctx, userID, sessionID, audit.ActionLogout, audit.ResourceSession, telemetrydomain.EventLogout, nil)
	return nil
}

// LogoutToken logs out the session of a signed access token. Only the signature and expiry are checked,
// so repeating a logout with an already revoked token still succeeds.
func (s *AuthService) LogoutToken(ctx context.Context, accessToken string) error {
	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		return ErrUnauthenticated
	}
	return s.Logout(ctx, claims.UserID, accessToken)
}

// ListSessions returns the user's active sessions, most recently used first.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error) {
	return s.sessions.ListActive(ctx, userID)
}

// RevokeSession revokes one of the user's own sessions. Unknown or foreign ids are NotFound.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	ok, err := s.sessions.RevokeByID(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	s.record(ctx, userID, sessionID, audit.ActionSessionRevoked, audit.ResourceSession, "", nil)
	return nil
}

// record writes the audit entry and, when eventType is set, the telemetry event of an outcome.
func (s *AuthService) record(ctx context.Context, userID, sessionID, action, resource, eventType string, meta map[string]any) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, userID, action, resource, auditMetadata(sessionID, meta))
	}
	if eventType != "" {
		var payload any
		if len(meta) > 0 {
			payload = meta
		}
		telemetry.EmitAsync(s.events, ctx, telemetrydomain.NewEvent(eventType, eventSource, userID, sessionID, payload), s.log)
	}
}

// auditMetadata encodes meta plus the session id as a JSON object, or "" when both are empty.
func auditMetadata(sessionID string, meta map[string]any) string {
	if sessionID == "" && len(meta) == 0 {
		return ""
	}
	m := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		m[k] = v
	}
	if sessionID != "" {
		m["session_id"] = sessionID
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
