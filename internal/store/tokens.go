package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/bizmatch-io/bizmatch/internal/models"
	"github.com/google/uuid"
)

var ErrTokenNotFound = errors.New("api token not found")

// CreateAPIToken persists a named bearer token for programmatic access.
func (s *Store) CreateAPIToken(userID, name, token string, expiresAt *time.Time) (*models.APIToken, error) {
	t := &models.APIToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		Name:      name,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}

	_, err := s.db.Exec(
		s.bind("INSERT INTO api_tokens (id, user_id, token, name, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)"),
		t.ID, t.UserID, t.Token, t.Name, t.CreatedAt, t.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetAPITokenByValue retrieves a token by its bearer value. Expired
// tokens stay in the table for listing but are reported as not found.
func (s *Store) GetAPITokenByValue(token string) (*models.APIToken, error) {
	t := &models.APIToken{}
	err := s.db.QueryRow(
		s.bind("SELECT id, user_id, token, name, created_at, expires_at FROM api_tokens WHERE token = ?"), token,
	).Scan(&t.ID, &t.UserID, &t.Token, &t.Name, &t.CreatedAt, &t.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.IsExpired() {
		return nil, ErrTokenNotFound
	}
	return t, nil
}

// ListAPITokens returns every token a user owns, newest first.
func (s *Store) ListAPITokens(userID string) ([]*models.APIToken, error) {
	rows, err := s.db.Query(
		s.bind("SELECT id, user_id, token, name, created_at, expires_at FROM api_tokens WHERE user_id = ? ORDER BY created_at DESC"),
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*models.APIToken
	for rows.Next() {
		t := &models.APIToken{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Name, &t.CreatedAt, &t.ExpiresAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// DeleteAPIToken removes a token owned by the user.
func (s *Store) DeleteAPIToken(userID, tokenID string) error {
	res, err := s.db.Exec(s.bind("DELETE FROM api_tokens WHERE id = ? AND user_id = ?"), tokenID, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTokenNotFound
	}
	return nil
}
