package security

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, or fails verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoSigningKey is returned when a provider is built without signing material.
	ErrNoSigningKey = errors.New("token signing key is not configured")
)

// Token types carried in the typ claim so one kind cannot stand in for the other.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims are carried by both access and refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	SessionID string `json:"sid"`
	Type      string `json:"typ"`
}

// TokenPair is a freshly issued access and refresh token.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// TokenProvider issues and validates JWT access and refresh tokens. It signs with HS256 when built
// from a shared secret, or RS256/ES* when built from a key pair. It is immutable after construction.
type TokenProvider struct {
	method     jwt.SigningMethod
	signKey    any
	verifyKey  any
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewHMACTokenProvider returns a TokenProvider that signs with HS256 using secret.
// It fails when secret is empty so the service never issues guessable tokens.
func NewHMACTokenProvider(secret []byte, issuer, audience string, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	if len(secret) == 0 {
		return nil, ErrNoSigningKey
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &TokenProvider{
		method:     jwt.SigningMethodHS256,
		signKey:    key,
		verifyKey:  key,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// NewTokenProvider returns a TokenProvider that signs with the given private key. The algorithm follows
// the key: RS256 for RSA, ES256/ES384/ES512 for ECDSA on P-256/P-384/P-521. Other keys fail with ErrInvalidKey.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	if privateKey == nil || publicKey == nil {
		return nil, ErrNoSigningKey
	}
	alg := KeyAlg(privateKey.Public())
	if alg == "" || KeyAlg(publicKey) != alg {
		return nil, ErrInvalidKey
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, ErrInvalidKey
	}
	return &TokenProvider{
		method:     method,
		signKey:    privateKey,
		verifyKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// AccessTTL returns the access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssuePair issues an access and a refresh token for the given session, user and email.
// Every token gets a random jti, so two pairs issued in the same second never collide.
func (p *TokenProvider) IssuePair(sessionID, userID, email string) (TokenPair, error) {
	now := p.now().UTC()
	access, accessExp, err := p.issue(TypeAccess, sessionID, userID, email, now, p.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := p.issue(TypeRefresh, sessionID, userID, email, now, p.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (p *TokenProvider) issue(typ, sessionID, userID, email string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:    userID,
		Email:     email,
		SessionID: sessionID,
		Type:      typ,
	}
	token, err := jwt.NewWithClaims(p.method, claims).SignedString(p.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ValidateAccess parses and validates an access token (signature, exp, iss, aud, typ).
func (p *TokenProvider) ValidateAccess(tokenString string) (*Claims, error) {
	return p.validate(tokenString, TypeAccess)
}

// ValidateRefresh parses and validates a refresh token (signature, exp, iss, aud, typ).
func (p *TokenProvider) ValidateRefresh(tokenString string) (*Claims, error) {
	return p.validate(tokenString, TypeRefresh)
}

func (p *TokenProvider) validate(tokenString, typ string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return p.verifyKey, nil
	},
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != typ || claims.UserID == "" || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
