package security

import (
	"testing"
	"time"
)

func TestTokenProvider_IssueAndValidate(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	pair, err := p.IssuePair("s1", "u1", "user@example.com")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("empty token in pair")
	}
	if !pair.RefreshExpiresAt.After(pair.AccessExpiresAt) {
		t.Error("refresh token should outlive access token")
	}

	access, err := p.ValidateAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if access.UserID != "u1" || access.Email != "user@example.com" || access.SessionID != "s1" {
		t.Errorf("ValidateAccess claims = %+v", access)
	}
	if access.Subject != "u1" {
		t.Errorf("sub = %q, want u1", access.Subject)
	}

	refresh, err := p.ValidateRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("ValidateRefresh: %v", err)
	}
	if refresh.SessionID != "s1" || refresh.UserID != "u1" {
		t.Errorf("ValidateRefresh claims = %+v", refresh)
	}
}

func TestTokenProvider_TypesNotInterchangeable(t *testing.T) {
	p, _ := NewTestTokenProvider()
	pair, err := p.IssuePair("s1", "u1", "user@example.com")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if _, err := p.ValidateAccess(pair.RefreshToken); err != ErrInvalidToken {
		t.Errorf("refresh token as access: want ErrInvalidToken, got %v", err)
	}
	if _, err := p.ValidateRefresh(pair.AccessToken); err != ErrInvalidToken {
		t.Errorf("access token as refresh: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_PairsAreUnique(t *testing.T) {
	p, _ := NewTestTokenProvider()
	frozen := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p = p.WithClock(func() time.Time { return frozen })
	a, _ := p.IssuePair("s1", "u1", "user@example.com")
	b, _ := p.IssuePair("s1", "u1", "user@example.com")
	if a.AccessToken == b.AccessToken || a.RefreshToken == b.RefreshToken {
		t.Error("pairs issued in the same instant must differ")
	}
}

func TestTokenProvider_Expired(t *testing.T) {
	p, _ := NewTestTokenProvider()
	issuedAt := time.Now().Add(-2 * time.Hour)
	old := p.WithClock(func() time.Time { return issuedAt })
	pair, err := old.IssuePair("s1", "u1", "user@example.com")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if _, err := p.ValidateAccess(pair.AccessToken); err != ErrInvalidToken {
		t.Errorf("expired access token: want ErrInvalidToken, got %v", err)
	}
	if _, err := p.ValidateRefresh(pair.RefreshToken); err != nil {
		t.Errorf("refresh token within 24h should still be valid: %v", err)
	}
}

func TestTokenProvider_WrongSecretIssuerAudience(t *testing.T) {
	p, _ := NewTestTokenProvider()
	pair, _ := p.IssuePair("s1", "u1", "user@example.com")

	other, _ := NewHMACTokenProvider([]byte("another-secret-another-secret-123"), "test-issuer", "test-audience", time.Minute, time.Hour)
	if _, err := other.ValidateAccess(pair.AccessToken); err != ErrInvalidToken {
		t.Errorf("wrong secret: want ErrInvalidToken, got %v", err)
	}
	wrongIss, _ := NewHMACTokenProvider([]byte(testSecret), "other-issuer", "test-audience", time.Minute, time.Hour)
	if _, err := wrongIss.ValidateAccess(pair.AccessToken); err != ErrInvalidToken {
		t.Errorf("wrong issuer: want ErrInvalidToken, got %v", err)
	}
	wrongAud, _ := NewHMACTokenProvider([]byte(testSecret), "test-issuer", "other-audience", time.Minute, time.Hour)
	if _, err := wrongAud.ValidateAccess(pair.AccessToken); err != ErrInvalidToken {
		t.Errorf("wrong audience: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_Garbage(t *testing.T) {
	p, _ := NewTestTokenProvider()
	for _, tok := range []string{"", "invalid-token", "a.b.c"} {
		if _, err := p.ValidateAccess(tok); err != ErrInvalidToken {
			t.Errorf("ValidateAccess(%q): want ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestNewHMACTokenProvider_EmptySecret(t *testing.T) {
	if _, err := NewHMACTokenProvider(nil, "i", "a", time.Minute, time.Hour); err != ErrNoSigningKey {
		t.Errorf("want ErrNoSigningKey, got %v", err)
	}
}

func TestTokenProvider_KeyPair(t *testing.T) {
	p, err := NewTestKeyPairTokenProvider()
	if err != nil {
		t.Fatalf("NewTestKeyPairTokenProvider: %v", err)
	}
	pair, err := p.IssuePair("s1", "u1", "user@example.com")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if _, err := p.ValidateAccess(pair.AccessToken); err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	hmac, _ := NewTestTokenProvider()
	if _, err := hmac.ValidateAccess(pair.AccessToken); err != ErrInvalidToken {
		t.Errorf("RS256 token on HS256 provider: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_TTLs(t *testing.T) {
	p, _ := NewTestTokenProvider()
	if p.AccessTTL() != 15*time.Minute || p.RefreshTTL() != 24*time.Hour {
		t.Errorf("TTLs = %v/%v", p.AccessTTL(), p.RefreshTTL())
	}
}
