package models

import "time"

type User struct {
	ID               int    `json:"id"`
	Email            string `json:"email"`
	Username         string `json:"username"`
	PasswordHash     string `json:"-"` // never serialized
	ProfilePicture   string `json:"profile_picture"`
	CompletedProfile bool   `json:"completed_profile"`

	// account state
	Verified      bool   `json:"-"`
	Suspended     bool   `json:"-"`
	SuspendReason string `json:"-"`
	Honeytoken    bool   `json:"-"` // decoy account, never allowed to log in

	// login bookkeeping, written only after a fully verified login
	LastLoginAt     *time.Time `json:"-"`
	LastFingerprint *string    `json:"-"`
	Online          bool       `json:"-"`
}

type LoginRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	RememberMe       bool   `json:"remember_me"`
	CaptchaToken     string `json:"captcha_token"`
	Fingerprint      string `json:"fingerprint"`
	VerificationCode string `json:"verification_code"`
}

// PublicProfile is the subset of User returned by the login and /me responses.
type PublicProfile struct {
	ID               int    `json:"id"`
	Email            string `json:"email"`
	Username         string `json:"username"`
	ProfilePicture   string `json:"profile_picture"`
	CompletedProfile bool   `json:"completed_profile"`
}

func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:               u.ID,
		Email:            u.Email,
		Username:         u.Username,
		ProfilePicture:   u.ProfilePicture,
		CompletedProfile: u.CompletedProfile,
	}
}
