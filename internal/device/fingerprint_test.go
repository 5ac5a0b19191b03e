package device

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestSubnet(t *testing.T) {
	tests := []struct {
		ip   string
		want string
	}{
		{"192.168.1.20", "192.168"},
		{" 10.0.0.1 ", "10.0"},
		{"2001:db8:85a3::8a2e:370:7334", "2001:db8"},
		{"::1", ":"},
		{"::ffff:10.1.2.3", "::ffff:10.1"},
		{"", UnknownSubnet},
		{"localhost", UnknownSubnet},
	}
	for _, tt := range tests {
		if got := Subnet(tt.ip); got != tt.want {
			t.Errorf("Subnet(%q) = %q, want %q", tt.ip, got, tt.want)
		}
	}
}

func TestFingerprint_StableWithinSubnet(t *testing.T) {
	ua := "Mozilla/5.0 (X11; Linux x86_64)"
	a := Fingerprint(ua, "203.0.113.5")
	b := Fingerprint(ua, "203.0.200.77")
	if a != b {
		t.Error("same user agent and /16 should give the same fingerprint")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64", len(a))
	}
	if Fingerprint(ua, "198.51.100.1") == a {
		t.Error("different subnet should change the fingerprint")
	}
	if Fingerprint("curl/8.0", "203.0.113.5") == a {
		t.Error("different user agent should change the fingerprint")
	}
}

func TestFingerprint_Format(t *testing.T) {
	sum := sha256.Sum256([]byte("agent|unknown"))
	want := hex.EncodeToString(sum[:])
	if got := Fingerprint("agent", ""); got != want {
		t.Errorf("Fingerprint = %q, want %q", got, want)
	}
}
