package store

import (
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/bizmatch-io/bizmatch/internal/models"
	"github.com/google/uuid"
)

// CreateUser inserts a durable user row. The password must already be
// hashed by the caller. Returns ErrEmailTaken when the email exists.
func (s *Store) CreateUser(email, passwordHash, name string) (*models.User, error) {
	now := time.Now()
	user := &models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Password:  passwordHash,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.Exec(
		s.bind("INSERT INTO users (id, email, password, name, unsubscribed, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)"),
		user.ID, user.Email, user.Password, user.Name, user.Unsubscribed, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	return user, nil
}

const userColumns = "id, email, password, name, unsubscribed, created_at, updated_at"

func (s *Store) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Email, &user.Password, &user.Name,
		&user.Unsubscribed, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(email string) (*models.User, error) {
	row := s.db.QueryRow(s.bind("SELECT "+userColumns+" FROM users WHERE email = ?"), email)
	return s.scanUser(row)
}

// GetUserByID retrieves a user by their ID.
func (s *Store) GetUserByID(id string) (*models.User, error) {
	row := s.db.QueryRow(s.bind("SELECT "+userColumns+" FROM users WHERE id = ?"), id)
	return s.scanUser(row)
}

// UpdateUserProfile updates the mutable profile fields.
func (s *Store) UpdateUserProfile(id, name string, unsubscribed bool) error {
	result, err := s.db.Exec(
		s.bind("UPDATE users SET name = ?, unsubscribed = ?, updated_at = ? WHERE id = ?"),
		name, unsubscribed, time.Now(), id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUserPassword replaces the stored password hash.
func (s *Store) UpdateUserPassword(id, passwordHash string) error {
	result, err := s.db.Exec(
		s.bind("UPDATE users SET password = ?, updated_at = ? WHERE id = ?"),
		passwordHash, time.Now(), id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes a user. Sessions, quiz attempts, payments, refunds
// and reset tokens follow via CASCADE at the schema level.
func (s *Store) DeleteUser(id string) error {
	result, err := s.db.Exec(s.bind("DELETE FROM users WHERE id = ?"), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	log.Printf("[DB] Deleted user %s (owned rows cascade)", id)
	return nil
}
