package services

import (
	"errors"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

var ErrWeakPassword = errors.New("password does not meet the security policy")

// dummyHash is a real bcrypt digest compared against when no user matches the
// email, so the "no such user" and "wrong password" branches cost the same.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type AuthService interface {
	HashPassword(plain string) (string, error)

	// VerifyPassword performs exactly one bcrypt comparison whether or not a
	// stored hash exists. Pass "" when the user was not found; the result is
	// then always false, but the comparison still runs.
	VerifyPassword(plain, storedHash string) bool

	CheckPasswordStrength(plain string) error
}

type authService struct{}

func NewAuthService() AuthService {
	return &authService{}
}

func (s *authService) HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (s *authService) VerifyPassword(plain, storedHash string) bool {
	hash := storedHash
	if hash == "" {
		hash = dummyHash
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	if storedHash == "" {
		return false
	}
	return err == nil
}

func (s *authService) CheckPasswordStrength(plain string) error {
	if len(plain) < 8 {
		return ErrWeakPassword
	}
	var hasLetter, hasDigit bool
	for _, r := range plain {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return ErrWeakPassword
	}
	return nil
}
