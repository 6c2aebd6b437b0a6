package services

import (
	"errors"
	"log"
	"time"

	"clipstream/internal/models"
	"clipstream/internal/repositories"
)

var ErrUserNotFound = errors.New("user not found")

type FoundBy string

const (
	FoundByID    FoundBy = "id"
	FoundByEmail FoundBy = "email"
)

type UserService interface {
	GetUserByEmail(email string) (*models.User, error)
	GetUserByID(id int) (*models.User, error)
	MarkLoggedIn(userID int, fingerprint string, at time.Time) error

	// ResolveSessionUser maps a session back to its user: by id when the
	// session carries one, by email otherwise. When only the email matched,
	// the session row is repaired to carry the id (logged, idempotent).
	ResolveSessionUser(session *models.Session) (*models.User, FoundBy, error)
}

type userService struct {
	repo     repositories.UserRepository
	sessions repositories.SessionRepository
}

func NewUserService(repo repositories.UserRepository, sessions repositories.SessionRepository) UserService {
	return &userService{repo: repo, sessions: sessions}
}

func (s *userService) GetUserByEmail(email string) (*models.User, error) {
	return s.repo.GetByEmail(email)
}

func (s *userService) GetUserByID(id int) (*models.User, error) {
	return s.repo.GetByID(id)
}

func (s *userService) MarkLoggedIn(userID int, fingerprint string, at time.Time) error {
	return s.repo.MarkLoggedIn(userID, fingerprint, at)
}

func (s *userService) ResolveSessionUser(session *models.Session) (*models.User, FoundBy, error) {
	if session.UserID != nil {
		user, err := s.repo.GetByID(*session.UserID)
		if err != nil {
			return nil, "", err
		}
		if user != nil {
			return user, FoundByID, nil
		}
	}

	user, err := s.repo.GetByEmail(session.Email)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, "", ErrUserNotFound
	}

	// repair the degraded session so the next lookup resolves by id
	if session.UserID == nil || *session.UserID != user.ID {
		if err := s.sessions.AttachUser(session.Token, user.ID); err != nil {
			log.Printf("[session][repair] attach user failed: email=%q err=%v", session.Email, err)
		} else {
			log.Printf("[session][repair] re-linked session to user: user_id=%d", user.ID)
		}
	}
	return user, FoundByEmail, nil
}
