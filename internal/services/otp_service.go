package services

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log"
	"math/big"
	"time"

	"clipstream/internal/models"
	"clipstream/internal/repositories"
)

const defaultOtpTTL = 60 * time.Second

type OtpOutcome int

const (
	OtpValid OtpOutcome = iota
	OtpExpired
	OtpMismatch
	OtpNotFound
)

type OtpService interface {
	// Issue generates a fresh 6-digit code for (email, fingerprint),
	// overwriting any previous one, and emails it to the user.
	Issue(email, fingerprint string) error

	// Check enforces expiry server-side and is single-use: both a valid and
	// an expired record are deleted as part of the check.
	Check(email, fingerprint, submitted string) (OtpOutcome, error)
}

type otpService struct {
	repo   repositories.PendingVerificationRepository
	emails EmailService
	ttl    time.Duration
	now    func() time.Time // overridable in tests
}

func NewOtpService(repo repositories.PendingVerificationRepository, emails EmailService) OtpService {
	return &otpService{
		repo:   repo,
		emails: emails,
		ttl:    defaultOtpTTL,
		now:    time.Now,
	}
}

// generateCode — uniform 6-digit code, 100000..999999.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("otp random: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func (s *otpService) Issue(email, fingerprint string) error {
	code, err := generateCode()
	if err != nil {
		return err
	}

	rec := &models.PendingVerification{
		Email:       email,
		Fingerprint: fingerprint,
		Code:        code,
		ExpiresAt:   s.now().Add(s.ttl),
	}
	if err := s.repo.Upsert(rec); err != nil {
		return fmt.Errorf("otp persist: %w", err)
	}

	if err := s.emails.SendLoginCode(email, code); err != nil {
		return fmt.Errorf("otp dispatch: %w", err)
	}

	log.Printf("[otp][issue] sent: email=%q fp_prefix=%.8s", email, fingerprint)
	return nil
}

func (s *otpService) Check(email, fingerprint, submitted string) (OtpOutcome, error) {
	rec, err := s.repo.Get(email, fingerprint)
	if err != nil {
		return OtpNotFound, err
	}
	if rec == nil {
		return OtpNotFound, nil
	}

	if s.now().After(rec.ExpiresAt) {
		// cleanup-on-read: an expired code is gone after the first look
		if err := s.repo.Delete(email, fingerprint); err != nil {
			log.Printf("[otp][check] expired cleanup failed: email=%q err=%v", email, err)
		}
		return OtpExpired, nil
	}

	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(submitted)) != 1 {
		return OtpMismatch, nil
	}

	// single use
	if err := s.repo.Delete(email, fingerprint); err != nil {
		return OtpValid, fmt.Errorf("otp consume: %w", err)
	}
	return OtpValid, nil
}
