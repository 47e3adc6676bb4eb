package models

import (
	"encoding/json"
	"time"
)

// QuizAttempt represents one completed quiz submission. Attempts are
// immutable once written; they disappear only when the owning user is
// deleted (CASCADE).
type QuizAttempt struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Answers     json.RawMessage `json:"answers" db:"answers"`
	CompletedAt time.Time       `json:"completed_at" db:"completed_at"`
}

// RankedMatch is one scored business-model recommendation, produced by
// the external scoring engine. Opaque to this service beyond display.
type RankedMatch struct {
	Model   string  `json:"model"`
	Score   float64 `json:"score"`
	Summary string  `json:"summary,omitempty"`
}
