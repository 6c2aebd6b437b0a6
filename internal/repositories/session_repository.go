package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"clipstream/internal/models"
)

type SessionRepository interface {
	Create(s *models.Session) error
	GetByToken(token string) (*models.Session, error)
	DeleteByToken(token string) error
	DeleteExpired(now time.Time) (int64, error)

	// AttachUser repairs a session persisted without a user id (degraded
	// insert mode). Idempotent.
	AttachUser(token string, userID int) error
}

type sessionRepository struct {
	DB *sql.DB
}

func NewSessionRepository(db *sql.DB) SessionRepository {
	return &sessionRepository{DB: db}
}

func (r *sessionRepository) Create(s *models.Session) error {
	const q = `
		INSERT INTO sessions (token, user_id, email, expires_at, is_verified, ip, user_agent, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	var userID interface{}
	if s.UserID != nil {
		userID = *s.UserID
	}
	err := r.DB.QueryRow(q,
		s.Token, userID, s.Email, s.ExpiresAt, s.Verified,
		s.IP, s.UserAgent, s.IssuedAt,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("session create: %w", err)
	}
	return nil
}

func (r *sessionRepository) GetByToken(token string) (*models.Session, error) {
	const q = `
		SELECT id, token, user_id, email, expires_at, is_verified, ip, user_agent, issued_at
		FROM sessions
		WHERE token = $1
	`
	s := &models.Session{}
	var userID sql.NullInt64
	err := r.DB.QueryRow(q, token).Scan(
		&s.ID, &s.Token, &userID, &s.Email, &s.ExpiresAt, &s.Verified,
		&s.IP, &s.UserAgent, &s.IssuedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("session get: %w", err)
	}
	if userID.Valid {
		id := int(userID.Int64)
		s.UserID = &id
	}
	return s, nil
}

func (r *sessionRepository) DeleteByToken(token string) error {
	if _, err := r.DB.Exec(`DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions past their expiry. Called from an operator
// sweep, not from the login path.
func (r *sessionRepository) DeleteExpired(now time.Time) (int64, error) {
	res, err := r.DB.Exec(`DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("session delete expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *sessionRepository) AttachUser(token string, userID int) error {
	_, err := r.DB.Exec(`UPDATE sessions SET user_id = $2 WHERE token = $1`, token, userID)
	if err != nil {
		return fmt.Errorf("session attach user: %w", err)
	}
	return nil
}

// IsForeignKeyViolation reports whether err is a postgres FK violation
// (class 23503). The login flow uses this to detect the user-id mismatch case
// and retry the insert with the email as the only cross-reference.
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}
