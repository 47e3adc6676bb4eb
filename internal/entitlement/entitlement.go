// Package entitlement is the single source of truth for report access
// and quiz-retake allowance. Everything here is a pure read over the
// payment ledger and attempt store; safe to call repeatedly and
// concurrently.
package entitlement

import (
	"github.com/bizmatch-io/bizmatch/internal/models"
	"github.com/bizmatch-io/bizmatch/internal/store"
)

// Pricing is the two-tier price ladder. Exactly two report tiers exist,
// selected by whether the durable user has ever completed a
// report-unlock payment before. ReturningReportCents must be lower.
type Pricing struct {
	Currency             string
	FirstReportCents     int64
	ReturningReportCents int64
	AccessPassCents      int64
	RetakeBundleCents    int64
	RetakeBundleSize     int
}

// Status answers "may this user see the full report, and if not, for
// how much."
type Status struct {
	Unlocked   bool   `json:"unlocked"`
	PriceCents int64  `json:"price_cents,omitempty"`
	Currency   string `json:"currency,omitempty"`
}

// Service resolves entitlements against the store.
type Service struct {
	store   *store.Store
	pricing Pricing
}

// New creates an entitlement service.
func New(st *store.Store, pricing Pricing) *Service {
	return &Service{store: st, pricing: pricing}
}

// Pricing exposes the configured price ladder.
func (s *Service) Pricing() Pricing {
	return s.pricing
}

// UnlockStatus decides whether the report for a quiz attempt is
// unlocked for the given user reference. Unlocked means a completed
// report-unlock payment exists for that exact attempt, or the user
// holds an access pass. Once true this never flips back by itself;
// refunds do not re-lock, only account or attempt deletion removes it.
func (s *Service) UnlockStatus(ref models.UserRef, attemptID string) (*Status, error) {
	userID, durable := ref.Durable()

	if attemptID != "" {
		unlocked, err := s.store.HasCompletedUnlockForAttempt(attemptID)
		if err != nil {
			return nil, err
		}
		if unlocked {
			return &Status{Unlocked: true}, nil
		}
	}

	if durable {
		hasPass, err := s.store.HasCompletedPayment(userID, models.PurposeAccessPass)
		if err != nil {
			return nil, err
		}
		if hasPass {
			return &Status{Unlocked: true}, nil
		}
	}

	price, err := s.QuoteReportPrice(ref)
	if err != nil {
		return nil, err
	}
	return &Status{Unlocked: false, PriceCents: price, Currency: s.pricing.Currency}, nil
}

// QuoteReportPrice returns the unlock price for the reference. Staged
// and anonymous users always get the first-report tier; a durable user
// gets the returning tier only after at least one completed
// report-unlock payment.
func (s *Service) QuoteReportPrice(ref models.UserRef) (int64, error) {
	userID, durable := ref.Durable()
	if !durable {
		return s.pricing.FirstReportCents, nil
	}

	paidBefore, err := s.store.HasCompletedPayment(userID, models.PurposeReportUnlock)
	if err != nil {
		return 0, err
	}
	if paidBefore {
		return s.pricing.ReturningReportCents, nil
	}
	return s.pricing.FirstReportCents, nil
}

// CanSubmitQuiz decides whether a durable user may record another quiz
// attempt. The first attempt is free; completed retake bundles add
// allowance; an access pass lifts the limit entirely. Evaluated at
// submission time; the client-side mirror of this value is advisory.
func (s *Service) CanSubmitQuiz(userID string) (bool, int, error) {
	hasPass, err := s.store.HasCompletedPayment(userID, models.PurposeAccessPass)
	if err != nil {
		return false, 0, err
	}
	if hasPass {
		return true, -1, nil
	}

	grants, err := s.store.SumRetakeGrants(userID)
	if err != nil {
		return false, 0, err
	}
	attempts, err := s.store.CountQuizAttempts(userID)
	if err != nil {
		return false, 0, err
	}

	remaining := 1 + grants - attempts
	if remaining < 0 {
		remaining = 0
	}
	return remaining > 0, remaining, nil
}
