package models

import "time"

// Session is created once at the end of a fully verified login and never
// mutated afterwards. Email is kept alongside UserID so the row stays usable
// when the user id reference could not be persisted (degraded insert mode).
type Session struct {
	ID        int64     `json:"id"`
	Token     string    `json:"-"`
	UserID    *int      `json:"user_id,omitempty"` // nil in degraded mode
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	Verified  bool      `json:"verified"`

	// request context captured at issue time
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	IssuedAt  time.Time `json:"issued_at"`
}
