package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/bizmatch-io/bizmatch/internal/models"
	"github.com/google/uuid"
)

// CreateQuizAttempt records one completed quiz submission.
func (s *Store) CreateQuizAttempt(userID string, answers json.RawMessage) (*models.QuizAttempt, error) {
	attempt := &models.QuizAttempt{
		ID:          uuid.NewString(),
		UserID:      userID,
		Answers:     answers,
		CompletedAt: time.Now(),
	}

	_, err := s.db.Exec(
		s.bind("INSERT INTO quiz_attempts (id, user_id, answers, completed_at) VALUES (?, ?, ?, ?)"),
		attempt.ID, attempt.UserID, string(attempt.Answers), attempt.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	return attempt, nil
}

// GetQuizAttempt retrieves one attempt by id.
func (s *Store) GetQuizAttempt(id string) (*models.QuizAttempt, error) {
	attempt := &models.QuizAttempt{}
	var answers string
	err := s.db.QueryRow(
		s.bind("SELECT id, user_id, answers, completed_at FROM quiz_attempts WHERE id = ?"), id,
	).Scan(&attempt.ID, &attempt.UserID, &answers, &attempt.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	attempt.Answers = json.RawMessage(answers)
	return attempt, nil
}

// ListQuizAttempts returns a user's attempts ordered by completion time.
func (s *Store) ListQuizAttempts(userID string) ([]*models.QuizAttempt, error) {
	rows, err := s.db.Query(
		s.bind("SELECT id, user_id, answers, completed_at FROM quiz_attempts WHERE user_id = ? ORDER BY completed_at ASC"),
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*models.QuizAttempt
	for rows.Next() {
		attempt := &models.QuizAttempt{}
		var answers string
		if err := rows.Scan(&attempt.ID, &attempt.UserID, &answers, &attempt.CompletedAt); err != nil {
			return nil, err
		}
		attempt.Answers = json.RawMessage(answers)
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

// CountQuizAttempts returns how many attempts a user has recorded.
func (s *Store) CountQuizAttempts(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		s.bind("SELECT COUNT(*) FROM quiz_attempts WHERE user_id = ?"), userID,
	).Scan(&count)
	return count, err
}
