package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrEmailTaken = errors.New("email already taken")

	// ErrDuplicateCompletedUnlock is raised by the partial unique index
	// when a second completed report-unlock payment targets the same
	// quiz attempt. Callers treat it as "already unlocked", not failure.
	ErrDuplicateCompletedUnlock = errors.New("completed unlock already exists for attempt")
)

// Store handles all database operations. The dialect selects
// placeholder syntax: "postgres" uses $n, everything else uses ?.
type Store struct {
	db      *sql.DB
	dialect string
}

// New creates a new store instance.
func New(db *sql.DB, dialect string) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying connection for transactional callers.
func (s *Store) DB() *sql.DB {
	return s.db
}

// bind rewrites ? placeholders to $n for PostgreSQL. Queries are written
// once in SQLite syntax; everything else the two dialects share.
func (s *Store) bind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isUniqueViolation matches the driver-specific unique-constraint error
// text for both backends.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
