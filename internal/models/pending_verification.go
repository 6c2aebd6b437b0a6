package models

import "time"

// PendingVerification — one live OTP per (email, fingerprint) pair. Repeated
// first-pass logins for the same pair overwrite the code (upsert), so at most
// one code can ever be valid for a device.
type PendingVerification struct {
	Email       string    `json:"email"`
	Fingerprint string    `json:"fingerprint"`
	Code        string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
}
