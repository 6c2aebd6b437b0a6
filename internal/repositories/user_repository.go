package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"clipstream/internal/models"
)

type UserRepository interface {
	GetByID(id int) (*models.User, error)
	GetByEmail(email string) (*models.User, error)

	// MarkLoggedIn records the post-login bookkeeping fields. Best-effort
	// caller side: a failure here must not abort an otherwise valid login.
	MarkLoggedIn(userID int, fingerprint string, at time.Time) error
}

type userRepository struct {
	DB *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{DB: db}
}

const userColumns = `
	id, email, username, password_hash,
	COALESCE(profile_picture,''), COALESCE(completed_profile,FALSE),
	is_verified, is_suspended, COALESCE(suspend_reason,''),
	COALESCE(is_honeytoken,FALSE),
	last_login_at, last_fingerprint, COALESCE(is_online,FALSE)
`

func (r *userRepository) GetByID(id int) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(r.DB.QueryRow(q, id))
}

func (r *userRepository) GetByEmail(email string) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return r.scanOne(r.DB.QueryRow(q, email))
}

func (r *userRepository) scanOne(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var (
		lastLogin sql.NullTime
		lastFp    sql.NullString
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash,
		&u.ProfilePicture, &u.CompletedProfile,
		&u.Verified, &u.Suspended, &u.SuspendReason,
		&u.Honeytoken,
		&lastLogin, &lastFp, &u.Online,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("user scan: %w", err)
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	if lastFp.Valid {
		s := lastFp.String
		u.LastFingerprint = &s
	}
	return u, nil
}

func (r *userRepository) MarkLoggedIn(userID int, fingerprint string, at time.Time) error {
	const q = `
		UPDATE users
		SET last_login_at = $2, last_fingerprint = $3, is_online = TRUE
		WHERE id = $1
	`
	if _, err := r.DB.Exec(q, userID, at, fingerprint); err != nil {
		return fmt.Errorf("user mark logged in: %w", err)
	}
	return nil
}
