package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/bizmatch-io/bizmatch/internal/models"
)

var ErrResetTokenInvalid = errors.New("password reset token invalid or expired")

// CreatePasswordReset stores a single-use reset token.
func (s *Store) CreatePasswordReset(userID, token string, expiresAt time.Time) (*models.PasswordResetToken, error) {
	reset := &models.PasswordResetToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}

	_, err := s.db.Exec(
		s.bind("INSERT INTO password_reset_tokens (token, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)"),
		reset.Token, reset.UserID, reset.ExpiresAt, reset.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return reset, nil
}

// GetPasswordReset retrieves a reset token. Expired tokens are removed
// and reported as invalid.
func (s *Store) GetPasswordReset(token string) (*models.PasswordResetToken, error) {
	reset := &models.PasswordResetToken{}
	err := s.db.QueryRow(
		s.bind("SELECT token, user_id, expires_at, created_at FROM password_reset_tokens WHERE token = ?"), token,
	).Scan(&reset.Token, &reset.UserID, &reset.ExpiresAt, &reset.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResetTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	if reset.IsExpired() {
		s.DeletePasswordReset(token)
		return nil, ErrResetTokenInvalid
	}
	return reset, nil
}

// DeletePasswordReset removes a reset token (single use).
func (s *Store) DeletePasswordReset(token string) error {
	_, err := s.db.Exec(s.bind("DELETE FROM password_reset_tokens WHERE token = ?"), token)
	return err
}
