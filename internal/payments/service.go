package payments

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"

	"github.com/bizmatch-io/bizmatch/internal/email"
	"github.com/bizmatch-io/bizmatch/internal/entitlement"
	"github.com/bizmatch-io/bizmatch/internal/models"
	"github.com/bizmatch-io/bizmatch/internal/staging"
	"github.com/bizmatch-io/bizmatch/internal/store"
	qrcode "github.com/skip2/go-qrcode"
)

var (
	ErrAttemptNotFound     = errors.New("quiz attempt not found")
	ErrUnknownIntent       = errors.New("no payment matches processor intent")
	ErrPaymentNotCompleted = errors.New("payment is not completed")
	ErrRefundTooLarge      = errors.New("refund exceeds remaining payment amount")
	ErrUnsupportedPurpose  = errors.New("unsupported payment purpose")
)

// Checkout is what the client needs to drive a payment: the processor
// intent, a hosted checkout URL and a QR code rendering of it.
type Checkout struct {
	PaymentID         string `json:"payment_id,omitempty"`
	ProcessorIntentID string `json:"processor_intent_id"`
	ClientSecret      string `json:"client_secret"`
	CheckoutURL       string `json:"checkout_url"`
	QRCodePNG         string `json:"qr_code_png,omitempty"`
	AmountCents       int64  `json:"amount_cents"`
	Currency          string `json:"currency"`
	AlreadyUnlocked   bool   `json:"already_unlocked,omitempty"`
}

// Service owns payment-intent creation, webhook reconciliation and
// refunds against the ledger.
type Service struct {
	store        *store.Store
	entitlements *entitlement.Service
	reconciler   *staging.Reconciler
	processor    Processor
	sender       email.Sender
	checkoutBase string
}

// New creates a payment service.
func New(st *store.Store, ent *entitlement.Service, rec *staging.Reconciler, proc Processor, sender email.Sender, checkoutBase string) *Service {
	return &Service{
		store:        st,
		entitlements: ent,
		reconciler:   rec,
		processor:    proc,
		sender:       sender,
		checkoutBase: checkoutBase,
	}
}

// CreateUnlockIntent starts a report-unlock payment for (user, attempt).
// The entitlement check runs first: an already-unlocked pair returns
// AlreadyUnlocked instead of a second intent, so duplicate clicks and
// extra tabs cannot double-charge. An open pending intent for the same
// pair is reused for the same reason.
func (s *Service) CreateUnlockIntent(ref models.UserRef, attemptID string) (*Checkout, error) {
	status, err := s.entitlements.UnlockStatus(ref, attemptID)
	if err != nil {
		return nil, err
	}
	if status.Unlocked {
		return &Checkout{AlreadyUnlocked: true}, nil
	}

	price, err := s.entitlements.QuoteReportPrice(ref)
	if err != nil {
		return nil, err
	}
	currency := s.entitlements.Pricing().Currency

	if userID, durable := ref.Durable(); durable {
		attempt, err := s.store.GetQuizAttempt(attemptID)
		if err != nil || attempt.UserID != userID {
			return nil, ErrAttemptNotFound
		}

		if pending, err := s.store.GetPendingUnlockPayment(userID, attemptID); err == nil {
			log.Printf("[PAY] Reusing pending unlock intent %s for attempt %s", pending.ProcessorIntentID, attemptID)
			return s.checkout(pending.ID, pending.ProcessorIntentID, "", pending.AmountCents, pending.Currency), nil
		}

		intent, err := s.processor.CreateIntent(price, currency, map[string]string{
			"purpose":    string(models.PurposeReportUnlock),
			"user_id":    userID,
			"attempt_id": attemptID,
		})
		if err != nil {
			return nil, err
		}

		payment, err := s.store.CreatePayment(&models.Payment{
			UserID:            userID,
			AmountCents:       price,
			Currency:          currency,
			Purpose:           models.PurposeReportUnlock,
			QuizAttemptID:     &attemptID,
			ProcessorIntentID: intent.ID,
		})
		if err != nil {
			return nil, err
		}
		return s.checkout(payment.ID, intent.ID, intent.ClientSecret, price, currency), nil
	}

	token, isStaged := ref.Staged()
	if !isStaged {
		return nil, ErrAttemptNotFound
	}
	if _, err := s.reconciler.Lookup(token); err != nil {
		return nil, err
	}

	// Staged checkout: no durable user exists yet, so no ledger row is
	// written here. The staged token travels in the intent's own
	// metadata, bound server-side at creation time; the webhook reads it
	// back from the processor, promotes the staged account and records
	// the completed payment under the new durable user id.
	intent, err := s.processor.CreateIntent(price, currency, map[string]string{
		"purpose":      string(models.PurposeReportUnlock),
		"staged_token": token,
	})
	if err != nil {
		return nil, err
	}
	return s.checkout("", intent.ID, intent.ClientSecret, price, currency), nil
}

// CreatePurchaseIntent starts an access-pass or retake-bundle payment
// for a durable user.
func (s *Service) CreatePurchaseIntent(userID string, purpose models.PaymentPurpose) (*Checkout, error) {
	pricing := s.entitlements.Pricing()

	var price int64
	var retakes int
	switch purpose {
	case models.PurposeAccessPass:
		hasPass, err := s.store.HasCompletedPayment(userID, models.PurposeAccessPass)
		if err != nil {
			return nil, err
		}
		if hasPass {
			// Passes never expire; a second one buys nothing.
			return &Checkout{AlreadyUnlocked: true}, nil
		}
		price = pricing.AccessPassCents
	case models.PurposeRetakeBundle:
		price = pricing.RetakeBundleCents
		retakes = pricing.RetakeBundleSize
	default:
		return nil, ErrUnsupportedPurpose
	}

	intent, err := s.processor.CreateIntent(price, pricing.Currency, map[string]string{
		"purpose": string(purpose),
		"user_id": userID,
	})
	if err != nil {
		return nil, err
	}

	payment, err := s.store.CreatePayment(&models.Payment{
		UserID:            userID,
		AmountCents:       price,
		Currency:          pricing.Currency,
		Purpose:           purpose,
		ProcessorIntentID: intent.ID,
		RetakesGranted:    retakes,
	})
	if err != nil {
		return nil, err
	}
	return s.checkout(payment.ID, intent.ID, intent.ClientSecret, price, pricing.Currency), nil
}

// WebhookEvent is the processor's confirmation callback payload. It
// arrives on a public endpoint, so only the intent id is taken from it;
// status and metadata are re-fetched from the processor.
type WebhookEvent struct {
	IntentID string `json:"intent_id"`
	Status   string `json:"status"`
}

// HandleProcessorEvent reconciles a webhook delivery with the ledger.
// The intent record is re-confirmed with the processor rather than
// trusted from the payload. Redeliveries are harmless: completion is
// idempotent and staged promotion remembers its first outcome.
func (s *Service) HandleProcessorEvent(ev WebhookEvent) error {
	confirmed, err := s.processor.ConfirmIntent(ev.IntentID)
	if err != nil {
		return fmt.Errorf("intent confirmation failed: %w", err)
	}

	switch confirmed.Status {
	case IntentFailed:
		if payment, err := s.store.GetPaymentByIntentID(ev.IntentID); err == nil {
			if err := s.store.FailPayment(payment.ID); err != nil {
				return err
			}
			log.Printf("[PAY] Marked payment %s failed", payment.ID)
		}
		return nil
	case IntentSucceeded:
		// Fall through.
	default:
		log.Printf("[PAY] Ignoring webhook for intent %s in state %s", ev.IntentID, confirmed.Status)
		return nil
	}

	if token := confirmed.Metadata["staged_token"]; token != "" {
		return s.completeStaged(ev.IntentID, confirmed, token)
	}
	return s.completeDurable(ev.IntentID)
}

func (s *Service) completeDurable(intentID string) error {
	payment, err := s.store.GetPaymentByIntentID(intentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownIntent
		}
		return err
	}

	if err := s.store.CompletePayment(payment.ID); err != nil {
		if errors.Is(err, store.ErrDuplicateCompletedUnlock) {
			// Desired end state already holds; recover as success.
			log.Printf("[PAY] Unlock for attempt already completed, intent %s treated as settled", intentID)
			return nil
		}
		return err
	}

	log.Printf("[PAY] Completed payment %s (%s)", payment.ID, payment.Purpose)
	s.sendReceipt(payment.UserID, payment)
	return nil
}

func (s *Service) completeStaged(intentID string, confirmed *ConfirmedIntent, token string) error {
	promotion, err := s.reconciler.Promote(token)
	if err != nil {
		return fmt.Errorf("staged promotion failed: %w", err)
	}

	// Redelivery: the ledger row from the first delivery already exists.
	if existing, err := s.store.GetPaymentByIntentID(intentID); err == nil {
		if existing.IsCompleted() {
			return nil
		}
		return s.store.CompletePayment(existing.ID)
	}

	currency := confirmed.Currency
	if currency == "" {
		currency = s.entitlements.Pricing().Currency
	}

	var attemptID *string
	if promotion.QuizAttemptID != "" {
		attemptID = &promotion.QuizAttemptID
	}

	payment, err := s.store.CreatePayment(&models.Payment{
		UserID:            promotion.UserID,
		AmountCents:       confirmed.AmountCents,
		Currency:          currency,
		Purpose:           models.PurposeReportUnlock,
		QuizAttemptID:     attemptID,
		ProcessorIntentID: intentID,
	})
	if err != nil {
		return err
	}
	if err := s.store.CompletePayment(payment.ID); err != nil {
		if errors.Is(err, store.ErrDuplicateCompletedUnlock) {
			return nil
		}
		return err
	}

	log.Printf("[PAY] Completed staged payment %s for promoted user %s", payment.ID, promotion.UserID)
	s.sendReceipt(promotion.UserID, payment)
	return nil
}

// Refund issues a partial or full refund against a completed payment.
// Access already granted by the payment stays granted; the refund row
// only records the money movement.
func (s *Service) Refund(paymentID string, amountCents int64, reason, adminNote string) (*models.Refund, error) {
	payment, err := s.store.GetPayment(paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.IsCompleted() {
		return nil, ErrPaymentNotCompleted
	}

	refunded, err := s.store.SumRefundsForPayment(paymentID)
	if err != nil {
		return nil, err
	}
	if amountCents <= 0 || refunded+amountCents > payment.AmountCents {
		return nil, ErrRefundTooLarge
	}

	processorRefundID, err := s.processor.CreateRefund(payment.ProcessorIntentID, amountCents)
	if err != nil {
		return nil, err
	}

	refund, err := s.store.CreateRefund(&models.Refund{
		PaymentID:         paymentID,
		AmountCents:       amountCents,
		Reason:            reason,
		Status:            models.RefundStatusCompleted,
		ProcessorRefundID: processorRefundID,
		AdminNote:         adminNote,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[PAY] Refunded %d on payment %s (%s)", amountCents, paymentID, reason)
	return refund, nil
}

func (s *Service) checkout(paymentID, intentID, clientSecret string, amount int64, currency string) *Checkout {
	c := &Checkout{
		PaymentID:         paymentID,
		ProcessorIntentID: intentID,
		ClientSecret:      clientSecret,
		AmountCents:       amount,
		Currency:          currency,
	}
	if s.checkoutBase != "" {
		c.CheckoutURL = s.checkoutBase + "/pay/" + intentID
		if png, err := qrcode.Encode(c.CheckoutURL, qrcode.Medium, 256); err == nil {
			c.QRCodePNG = base64.StdEncoding.EncodeToString(png)
		} else {
			log.Printf("[PAY] QR generation failed for intent %s: %v", intentID, err)
		}
	}
	return c
}

// sendReceipt is best-effort: a payment must complete even when the
// receipt mail cannot be sent.
func (s *Service) sendReceipt(userID string, payment *models.Payment) {
	user, err := s.store.GetUserByID(userID)
	if err != nil || user.Unsubscribed {
		return
	}
	go func() {
		data := map[string]string{
			"amount":   fmt.Sprintf("%.2f", float64(payment.AmountCents)/100),
			"currency": payment.Currency,
			"purpose":  string(payment.Purpose),
		}
		if err := s.sender.Send("payment-receipt", user.Email, data); err != nil {
			log.Printf("[MAIL] Receipt send failed for %s: %v", user.Email, err)
		}
	}()
}
