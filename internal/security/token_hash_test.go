package security

import "testing"

func TestHashToken(t *testing.T) {
	a := HashToken("token-a")
	if len(a) != 64 {
		t.Fatalf("HashToken length = %d, want 64", len(a))
	}
	if a != HashToken("token-a") {
		t.Error("HashToken must be deterministic")
	}
	if a == HashToken("token-b") {
		t.Error("different tokens must hash differently")
	}
	if a == "token-a" {
		t.Error("HashToken returned the plaintext")
	}
}

func TestTokenHashEqual(t *testing.T) {
	stored := HashToken("token-a")
	if !TokenHashEqual("token-a", stored) {
		t.Error("matching token should compare equal")
	}
	if TokenHashEqual("token-b", stored) {
		t.Error("different token should not compare equal")
	}
	if TokenHashEqual("", "") {
		t.Error("empty stored hash must never match")
	}
}
