package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"strings"

	"golang.org/x/oauth2"
)

// NewState returns a random state value and a PKCE verifier for one authorization attempt.
func NewState() (state, verifier string, err error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), oauth2.GenerateVerifier(), nil
}

// EncodeState packs state and verifier into one cookie value.
func EncodeState(state, verifier string) string {
	return state + "." + verifier
}

// DecodeState splits a cookie value written by EncodeState.
func DecodeState(v string) (state, verifier string, ok bool) {
	state, verifier, ok = strings.Cut(v, ".")
	if !ok || state == "" || verifier == "" {
		return "", "", false
	}
	return state, verifier, true
}
