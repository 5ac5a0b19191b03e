// Package device derives coarse, pseudonymous device fingerprints used to
// keep one session per user per device.
//
// The fingerprint is user agent plus a /16-equivalent subnet. Distinct devices
// behind the same network with the same browser collide, and a client can
// trivially forge it. It deduplicates sessions; it is not a security control.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// UnknownSubnet is used when the client IP is absent or unparseable.
const UnknownSubnet = "unknown"

// Fingerprint returns the hex SHA-256 of "userAgent|subnet".
func Fingerprint(userAgent, ip string) string {
	sum := sha256.Sum256([]byte(userAgent + "|" + Subnet(ip)))
	return hex.EncodeToString(sum[:])
}

// Subnet returns the first two dot-separated octets of an IPv4 address, the
// first two colon-separated groups of an IPv6 address, or UnknownSubnet.
func Subnet(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return UnknownSubnet
	}
	if parts := strings.Split(ip, "."); len(parts) >= 2 {
		return parts[0] + "." + parts[1]
	}
	if strings.Contains(ip, ":") {
		parts := strings.Split(ip, ":")
		return parts[0] + ":" + parts[1]
	}
	return UnknownSubnet
}
