package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strings"
)

// DeviceFingerprint derives the identifier tying the two phases of a login to
// the same client. A fingerprint the server already issued (a 64-char hex
// digest echoed back from the first-pass response) is used as-is, so the
// second request matches the pending verification stored under it. Any other
// client-supplied value hashes deterministically. The header-derived fallback
// mixes in fresh randomness and is different on every call; clients on that
// path must echo back the value returned by the first-pass response.
func DeviceFingerprint(userAgent, acceptLanguage, forwardedIP, clientValue string) string {
	if clientValue != "" {
		if isFingerprintDigest(clientValue) {
			return strings.ToLower(clientValue)
		}
		sum := sha256.Sum256([]byte(clientValue))
		return hex.EncodeToString(sum[:])
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		// headers-only seed would be predictable; make the failure visible
		log.Printf("[fingerprint][fallback] random nonce failed: err=%v", err)
	}

	h := sha256.New()
	h.Write([]byte(userAgent))
	h.Write([]byte("|"))
	h.Write([]byte(acceptLanguage))
	h.Write([]byte("|"))
	h.Write([]byte(forwardedIP))
	h.Write([]byte("|"))
	h.Write(nonce)
	return hex.EncodeToString(h.Sum(nil))
}

// isFingerprintDigest reports whether v already has the shape of a
// fingerprint this server issues: exactly 64 hex characters.
func isFingerprintDigest(v string) bool {
	if len(v) != 64 {
		return false
	}
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
