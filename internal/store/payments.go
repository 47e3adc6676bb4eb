package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/bizmatch-io/bizmatch/internal/models"
	"github.com/google/uuid"
)

const paymentColumns = "id, user_id, amount_cents, currency, purpose, quiz_attempt_id, processor_intent_id, status, retakes_granted, created_at, completed_at"

// CreatePayment inserts a pending payment record in the ledger.
func (s *Store) CreatePayment(p *models.Payment) (*models.Payment, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	p.CreatedAt = time.Now()

	_, err := s.db.Exec(
		s.bind(`INSERT INTO payments (id, user_id, amount_cents, currency, purpose, quiz_attempt_id, processor_intent_id, status, retakes_granted, created_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.UserID, p.AmountCents, p.Currency, p.Purpose, p.QuizAttemptID,
		p.ProcessorIntentID, p.Status, p.RetakesGranted, p.CreatedAt, p.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateCompletedUnlock
		}
		return nil, err
	}
	return p, nil
}

func scanPayment(scan func(dest ...any) error) (*models.Payment, error) {
	p := &models.Payment{}
	err := scan(&p.ID, &p.UserID, &p.AmountCents, &p.Currency, &p.Purpose,
		&p.QuizAttemptID, &p.ProcessorIntentID, &p.Status, &p.RetakesGranted,
		&p.CreatedAt, &p.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPayment retrieves a payment by id.
func (s *Store) GetPayment(id string) (*models.Payment, error) {
	row := s.db.QueryRow(s.bind("SELECT "+paymentColumns+" FROM payments WHERE id = ?"), id)
	return scanPayment(row.Scan)
}

// GetPaymentByIntentID retrieves a payment by its processor reference.
func (s *Store) GetPaymentByIntentID(intentID string) (*models.Payment, error) {
	row := s.db.QueryRow(s.bind("SELECT "+paymentColumns+" FROM payments WHERE processor_intent_id = ?"), intentID)
	return scanPayment(row.Scan)
}

// GetPendingUnlockPayment returns an open unlock intent for the pair, so
// duplicate clicks reuse the same intent instead of minting another.
func (s *Store) GetPendingUnlockPayment(userID, attemptID string) (*models.Payment, error) {
	row := s.db.QueryRow(
		s.bind("SELECT "+paymentColumns+" FROM payments WHERE user_id = ? AND quiz_attempt_id = ? AND purpose = ? AND status = ? ORDER BY created_at DESC LIMIT 1"),
		userID, attemptID, models.PurposeReportUnlock, models.PaymentStatusPending,
	)
	return scanPayment(row.Scan)
}

// CompletePayment moves a pending payment to completed. Calling it again
// for an already-completed payment is a no-op, which makes redundant
// webhook deliveries safe. The partial unique index rejects a second
// completed unlock for the same attempt.
func (s *Store) CompletePayment(id string) error {
	current, err := s.GetPayment(id)
	if err != nil {
		return err
	}
	if current.Status == models.PaymentStatusCompleted {
		return nil
	}

	now := time.Now()
	_, err = s.db.Exec(
		s.bind("UPDATE payments SET status = ?, completed_at = ? WHERE id = ? AND status = ?"),
		models.PaymentStatusCompleted, now, id, models.PaymentStatusPending,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCompletedUnlock
		}
		return err
	}
	return nil
}

// FailPayment marks a pending payment as failed.
func (s *Store) FailPayment(id string) error {
	_, err := s.db.Exec(
		s.bind("UPDATE payments SET status = ? WHERE id = ? AND status = ?"),
		models.PaymentStatusFailed, id, models.PaymentStatusPending,
	)
	return err
}

// HasCompletedUnlockForAttempt reports whether a completed report-unlock
// payment exists for the exact quiz attempt.
func (s *Store) HasCompletedUnlockForAttempt(attemptID string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		s.bind("SELECT COUNT(*) FROM payments WHERE quiz_attempt_id = ? AND purpose = ? AND status = ?"),
		attemptID, models.PurposeReportUnlock, models.PaymentStatusCompleted,
	).Scan(&count)
	return count > 0, err
}

// HasCompletedPayment reports whether the user has any completed payment
// of the given purpose.
func (s *Store) HasCompletedPayment(userID string, purpose models.PaymentPurpose) (bool, error) {
	var count int
	err := s.db.QueryRow(
		s.bind("SELECT COUNT(*) FROM payments WHERE user_id = ? AND purpose = ? AND status = ?"),
		userID, purpose, models.PaymentStatusCompleted,
	).Scan(&count)
	return count > 0, err
}

// SumRetakeGrants totals the retakes granted by completed bundle
// purchases for a user.
func (s *Store) SumRetakeGrants(userID string) (int, error) {
	var total int
	err := s.db.QueryRow(
		s.bind("SELECT COALESCE(SUM(retakes_granted), 0) FROM payments WHERE user_id = ? AND purpose = ? AND status = ?"),
		userID, models.PurposeRetakeBundle, models.PaymentStatusCompleted,
	).Scan(&total)
	return total, err
}

// ListPayments returns all payments for a user, newest first.
func (s *Store) ListPayments(userID string) ([]*models.Payment, error) {
	rows, err := s.db.Query(
		s.bind("SELECT "+paymentColumns+" FROM payments WHERE user_id = ? ORDER BY created_at DESC"),
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows.Scan)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// CreateRefund records a refund against a payment.
func (s *Store) CreateRefund(r *models.Refund) (*models.Refund, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = models.RefundStatusPending
	}
	r.CreatedAt = time.Now()

	_, err := s.db.Exec(
		s.bind(`INSERT INTO refunds (id, payment_id, amount_cents, reason, status, processor_refund_id, admin_note, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.PaymentID, r.AmountCents, r.Reason, r.Status, r.ProcessorRefundID, r.AdminNote, r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRefundsForPayment returns refunds recorded against a payment.
func (s *Store) ListRefundsForPayment(paymentID string) ([]*models.Refund, error) {
	rows, err := s.db.Query(
		s.bind("SELECT id, payment_id, amount_cents, reason, status, processor_refund_id, admin_note, created_at FROM refunds WHERE payment_id = ? ORDER BY created_at DESC"),
		paymentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []*models.Refund
	for rows.Next() {
		r := &models.Refund{}
		err := rows.Scan(&r.ID, &r.PaymentID, &r.AmountCents, &r.Reason, &r.Status,
			&r.ProcessorRefundID, &r.AdminNote, &r.CreatedAt)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, r)
	}
	return refunds, rows.Err()
}

// SumRefundsForPayment totals refunds already issued against a payment.
func (s *Store) SumRefundsForPayment(paymentID string) (int64, error) {
	var total int64
	err := s.db.QueryRow(
		s.bind("SELECT COALESCE(SUM(amount_cents), 0) FROM refunds WHERE payment_id = ? AND status != ?"),
		paymentID, models.RefundStatusFailed,
	).Scan(&total)
	return total, err
}
