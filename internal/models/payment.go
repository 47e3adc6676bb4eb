package models

import (
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type PaymentPurpose string

const (
	PurposeReportUnlock PaymentPurpose = "report-unlock"
	PurposeAccessPass   PaymentPurpose = "access-pass"
	PurposeRetakeBundle PaymentPurpose = "quiz-retake-bundle"
)

// Payment represents one payment record in the ledger. Amounts are in
// integer minor units (cents). A completed payment is immutable except
// for associated refunds.
type Payment struct {
	ID                string         `json:"id" db:"id"`
	UserID            string         `json:"user_id" db:"user_id"`
	AmountCents       int64          `json:"amount_cents" db:"amount_cents"`
	Currency          string         `json:"currency" db:"currency"`
	Purpose           PaymentPurpose `json:"purpose" db:"purpose"`
	QuizAttemptID     *string        `json:"quiz_attempt_id,omitempty" db:"quiz_attempt_id"`
	ProcessorIntentID string         `json:"processor_intent_id" db:"processor_intent_id"`
	Status            PaymentStatus  `json:"status" db:"status"`
	RetakesGranted    int            `json:"retakes_granted" db:"retakes_granted"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// IsCompleted reports whether the payment reached its terminal paid state.
func (p *Payment) IsCompleted() bool {
	return p.Status == PaymentStatusCompleted
}

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusFailed    RefundStatus = "failed"
)

// Refund represents a refund against a completed payment. A refund
// records the money movement only; it does not revoke report access.
type Refund struct {
	ID                string       `json:"id" db:"id"`
	PaymentID         string       `json:"payment_id" db:"payment_id"`
	AmountCents       int64        `json:"amount_cents" db:"amount_cents"`
	Reason            string       `json:"reason" db:"reason"`
	Status            RefundStatus `json:"status" db:"status"`
	ProcessorRefundID string       `json:"processor_refund_id" db:"processor_refund_id"`
	AdminNote         string       `json:"admin_note,omitempty" db:"admin_note"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
}
