package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User represents a durable user account in the database.
// Staged (pre-payment) accounts never appear here; they live in the
// staging store until promoted.
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Password     string    `json:"-" db:"password"`
	Name         string    `json:"name" db:"name"`
	Unsubscribed bool      `json:"unsubscribed" db:"unsubscribed"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// ValidatePassword checks if the provided password matches the user's password
func (u *User) ValidatePassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
	return err == nil
}

// UserRef identifies either a durable user or a staged (pre-payment)
// account. The two id namespaces are kept apart so a staged token can
// never be used as a foreign key by accident.
type UserRef struct {
	durableID   string
	stagedToken string
}

// DurableRef returns a reference to a durable user row.
func DurableRef(userID string) UserRef {
	return UserRef{durableID: userID}
}

// StagedRef returns a reference to a staged account token.
func StagedRef(token string) UserRef {
	return UserRef{stagedToken: token}
}

// Durable reports the durable user id, if this reference is durable.
func (r UserRef) Durable() (string, bool) {
	return r.durableID, r.durableID != ""
}

// Staged reports the staged token, if this reference is staged.
func (r UserRef) Staged() (string, bool) {
	return r.stagedToken, r.stagedToken != ""
}

// IsZero reports whether the reference identifies nobody (anonymous).
func (r UserRef) IsZero() bool {
	return r.durableID == "" && r.stagedToken == ""
}
