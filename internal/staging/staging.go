// Package staging manages temporary accounts created at quiz-completion
// time, before the user has committed to paying. Staged records live in
// a TTL key-value store, never in the durable identity table; abandoned
// checkouts simply expire with no durable trace.
package staging

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bizmatch-io/bizmatch/internal/auth"
	"github.com/bizmatch-io/bizmatch/internal/kv"
	"github.com/bizmatch-io/bizmatch/internal/store"
	"github.com/google/uuid"
)

var (
	ErrUserAlreadyExists    = errors.New("user already exists")
	ErrStagedRecordNotFound = errors.New("staged record not found or expired")
)

const (
	stagedPrefix   = "staged:"
	promotedPrefix = "promoted:"
)

// Record is a staged (not yet durable) account. The password is hashed
// before the record is ever written.
type Record struct {
	Token        string          `json:"token"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"password_hash"`
	Name         string          `json:"name"`
	QuizAnswers  json.RawMessage `json:"quiz_answers,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Promotion records the outcome of a successful promotion so redundant
// webhook deliveries resolve to the same durable user.
type Promotion struct {
	UserID        string `json:"user_id"`
	QuizAttemptID string `json:"quiz_attempt_id,omitempty"`
}

// Reconciler stages accounts and promotes them into the durable store
// once payment completes.
type Reconciler struct {
	store   *store.Store
	records kv.Store
	ttl     time.Duration
}

// NewReconciler creates a reconciler backed by the given TTL store.
func NewReconciler(st *store.Store, records kv.Store, ttl time.Duration) *Reconciler {
	return &Reconciler{store: st, records: records, ttl: ttl}
}

// Stage holds credentials and quiz data pending payment. The email must
// not belong to a durable user; callers should direct such users to the
// login flow instead.
func (r *Reconciler) Stage(email, password, name string, quizAnswers json.RawMessage) (string, error) {
	_, err := r.store.GetUserByEmail(email)
	if err == nil {
		return "", ErrUserAlreadyExists
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", err
	}

	rec := Record{
		Token:        uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		QuizAnswers:  quizAnswers,
		CreatedAt:    time.Now(),
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	r.records.Set(stagedPrefix+rec.Token, b, r.ttl)

	log.Printf("[STAGE] Staged account for %s (ttl=%s)", email, r.ttl)
	return rec.Token, nil
}

// Lookup returns the staged record for a token, if it still exists.
func (r *Reconciler) Lookup(token string) (*Record, error) {
	b, ok := r.records.Get(stagedPrefix + token)
	if !ok {
		return nil, ErrStagedRecordNotFound
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("corrupt staged record: %w", err)
	}
	return &rec, nil
}

// Promote turns a staged record into a durable user and attaches the
// staged quiz attempt. Idempotent: the first success is remembered under
// the same token, so a second call (webhook redelivery) returns the same
// durable user id instead of creating a duplicate. If a different signup
// claimed the email in the meantime, promotion fails with
// ErrUserAlreadyExists rather than overwriting.
func (r *Reconciler) Promote(token string) (*Promotion, error) {
	if b, ok := r.records.Get(promotedPrefix + token); ok {
		var p Promotion
		if err := json.Unmarshal(b, &p); err == nil {
			return &p, nil
		}
	}

	rec, err := r.Lookup(token)
	if err != nil {
		return nil, err
	}

	user, err := r.store.CreateUser(rec.Email, rec.PasswordHash, rec.Name)
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return nil, ErrUserAlreadyExists
		}
		return nil, err
	}

	p := Promotion{UserID: user.ID}
	if len(rec.QuizAnswers) > 0 {
		attempt, err := r.store.CreateQuizAttempt(user.ID, rec.QuizAnswers)
		if err != nil {
			return nil, err
		}
		p.QuizAttemptID = attempt.ID
	}

	if b, err := json.Marshal(p); err == nil {
		// The promotion marker outlives the staged record so late
		// webhook redeliveries still resolve.
		r.records.Set(promotedPrefix+token, b, 2*r.ttl)
	}
	r.records.Delete(stagedPrefix + token)

	log.Printf("[STAGE] Promoted staged account %s to user %s", token, user.ID)
	return &p, nil
}
