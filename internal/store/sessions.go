package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/bizmatch-io/bizmatch/internal/models"
	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session has expired")
)

// CreateSession persists a session row. The write is synchronous: the
// row is durable before the HTTP response carrying the cookie goes out.
func (s *Store) CreateSession(userID, token string, expiresAt time.Time) (*models.Session, error) {
	session := &models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}

	_, err := s.db.Exec(
		s.bind("INSERT INTO sessions (id, user_id, token, created_at, expires_at) VALUES (?, ?, ?, ?, ?)"),
		session.ID, session.UserID, session.Token, session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSessionByToken retrieves a session by its token. Expired sessions
// are deleted on sight and reported as expired.
func (s *Store) GetSessionByToken(token string) (*models.Session, error) {
	session := &models.Session{}
	err := s.db.QueryRow(
		s.bind("SELECT id, user_id, token, created_at, expires_at FROM sessions WHERE token = ?"), token,
	).Scan(&session.ID, &session.UserID, &session.Token, &session.CreatedAt, &session.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if session.IsExpired() {
		s.DeleteSession(token)
		return nil, ErrSessionExpired
	}
	return session, nil
}

// DeleteSession deletes a session by its token.
func (s *Store) DeleteSession(token string) error {
	_, err := s.db.Exec(s.bind("DELETE FROM sessions WHERE token = ?"), token)
	return err
}

// DeleteUserSessions removes every session belonging to a user.
func (s *Store) DeleteUserSessions(userID string) error {
	_, err := s.db.Exec(s.bind("DELETE FROM sessions WHERE user_id = ?"), userID)
	return err
}

// CleanupExpiredSessions removes all sessions past their expiry.
func (s *Store) CleanupExpiredSessions() error {
	_, err := s.db.Exec(s.bind("DELETE FROM sessions WHERE expires_at < ?"), time.Now())
	return err
}
