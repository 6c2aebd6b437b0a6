package repositories

import (
	"database/sql"
	"fmt"

	"clipstream/internal/models"
)

type PendingVerificationRepository interface {
	// Upsert keeps at most one live record per (email, fingerprint):
	// a repeated first-pass login overwrites the previous code.
	Upsert(v *models.PendingVerification) error
	Get(email, fingerprint string) (*models.PendingVerification, error)
	Delete(email, fingerprint string) error
}

type pendingVerificationRepository struct {
	DB *sql.DB
}

func NewPendingVerificationRepository(db *sql.DB) PendingVerificationRepository {
	return &pendingVerificationRepository{DB: db}
}

func (r *pendingVerificationRepository) Upsert(v *models.PendingVerification) error {
	const q = `
		INSERT INTO pending_verifications (email, fingerprint, code, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email, fingerprint)
		DO UPDATE SET code = EXCLUDED.code, expires_at = EXCLUDED.expires_at
	`
	if _, err := r.DB.Exec(q, v.Email, v.Fingerprint, v.Code, v.ExpiresAt); err != nil {
		return fmt.Errorf("pending_verification upsert: %w", err)
	}
	return nil
}

func (r *pendingVerificationRepository) Get(email, fingerprint string) (*models.PendingVerification, error) {
	const q = `
		SELECT email, fingerprint, code, expires_at
		FROM pending_verifications
		WHERE email = $1 AND fingerprint = $2
	`
	v := &models.PendingVerification{}
	err := r.DB.QueryRow(q, email, fingerprint).Scan(&v.Email, &v.Fingerprint, &v.Code, &v.ExpiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("pending_verification get: %w", err)
	}
	return v, nil
}

func (r *pendingVerificationRepository) Delete(email, fingerprint string) error {
	_, err := r.DB.Exec(`DELETE FROM pending_verifications WHERE email = $1 AND fingerprint = $2`, email, fingerprint)
	if err != nil {
		return fmt.Errorf("pending_verification delete: %w", err)
	}
	return nil
}
