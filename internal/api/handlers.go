package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/bizmatch-io/bizmatch/internal/models"
	"github.com/bizmatch-io/bizmatch/internal/payments"
	"github.com/bizmatch-io/bizmatch/internal/staging"
	"github.com/bizmatch-io/bizmatch/internal/store"
	"github.com/go-chi/chi/v5"
)

// callerRef builds the user reference for entitlement checks: the
// session user when present, otherwise a staged token supplied by the
// client. The zero ref means a fully anonymous caller.
func (api *Api) callerRef(r *http.Request, stagedToken string) models.UserRef {
	if user := currentUser(r); user != nil {
		return models.DurableRef(user.ID)
	}
	if stagedToken == "" {
		stagedToken = r.URL.Query().Get("staged_token")
	}
	if stagedToken != "" {
		return models.StagedRef(stagedToken)
	}
	return models.UserRef{}
}

// CreateQuizAttemptHandler records a quiz submission. The retake gate
// runs at submission time against the ledger, never against anything
// the client claims.
func (api *Api) CreateQuizAttemptHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req struct {
		QuizData json.RawMessage `json:"quizData"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.QuizData) == 0 {
		respondError(w, http.StatusBadRequest, "quizData is required")
		return
	}

	allowed, remaining, err := api.entitlements.CanSubmitQuiz(user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to evaluate retake allowance")
		return
	}
	if !allowed {
		respondPaymentRequired(w, "quiz-retake-exhausted",
			api.entitlements.Pricing().RetakeBundleCents, api.entitlements.Pricing().Currency)
		return
	}

	attempt, err := api.store.CreateQuizAttempt(user.ID, req.QuizData)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to record quiz attempt")
		return
	}

	if remaining > 0 {
		remaining--
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"attempt_id":        attempt.ID,
		"retakes_remaining": remaining,
	})
}

func (api *Api) ListQuizAttemptsHandler(w http.ResponseWriter, r *http.Request) {
	attempts, err := api.store.ListQuizAttempts(currentUser(r).ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list quiz attempts")
		return
	}
	respondJSON(w, http.StatusOK, attempts)
}

// GetReportHandler renders the full recommendation report for an
// attempt. Locked attempts answer 402 with the current unlock price so
// the client can route straight into checkout.
func (api *Api) GetReportHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	attemptID := chi.URLParam(r, "id")

	attempt, err := api.store.GetQuizAttempt(attemptID)
	if err != nil || attempt.UserID != user.ID {
		respondError(w, http.StatusNotFound, "Quiz attempt not found")
		return
	}

	status, err := api.entitlements.UnlockStatus(models.DurableRef(user.ID), attemptID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to evaluate report access")
		return
	}
	if !status.Unlocked {
		respondPaymentRequired(w, "report-locked", status.PriceCents, status.Currency)
		return
	}

	matches, err := api.scorer.ScoreBusinessModels(attempt.Answers)
	if err != nil {
		respondError(w, http.StatusBadGateway, "Recommendation engine unavailable")
		return
	}

	report := map[string]interface{}{
		"attempt_id":   attempt.ID,
		"generated_at": time.Now().UTC(),
		"matches":      matches,
	}

	var downloadURL string
	if api.archive != nil {
		if raw, err := json.Marshal(report); err == nil {
			if err := api.archive.ArchiveReport(r.Context(), user.ID, attempt.ID, raw); err != nil {
				log.Printf("[REPORTS] Archive failed for attempt %s: %v", attempt.ID, err)
			} else if url, err := api.archive.PresignReport(r.Context(), user.ID, attempt.ID, 24*time.Hour); err == nil {
				downloadURL = url
			}
		}
	}
	if downloadURL != "" {
		report["download_url"] = downloadURL
	}

	respondJSON(w, http.StatusOK, report)
}

// CreateUnlockPaymentHandler starts a report-unlock payment. Works for
// a logged-in user and for a staged prospect carrying their staged
// token. Already-unlocked pairs come back as a 200 no-op.
func (api *Api) CreateUnlockPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QuizAttemptID string `json:"quiz_attempt_id"`
		StagedToken   string `json:"staged_token,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ref := api.callerRef(r, req.StagedToken)
	if ref.IsZero() {
		respondError(w, http.StatusUnauthorized, "Authentication or staged token required")
		return
	}
	if _, durable := ref.Durable(); durable && req.QuizAttemptID == "" {
		respondError(w, http.StatusBadRequest, "quiz_attempt_id is required")
		return
	}

	checkout, err := api.payments.CreateUnlockIntent(ref, req.QuizAttemptID)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrAttemptNotFound):
			respondError(w, http.StatusNotFound, "Quiz attempt not found")
		case errors.Is(err, staging.ErrStagedRecordNotFound):
			respondError(w, http.StatusNotFound, "Staged signup not found or expired, please sign up again")
		default:
			respondError(w, http.StatusInternalServerError, "Failed to create payment")
		}
		return
	}

	respondJSON(w, http.StatusOK, checkout)
}

func (api *Api) UnlockStatusHandler(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptID")

	ref := api.callerRef(r, "")
	if ref.IsZero() {
		respondError(w, http.StatusUnauthorized, "Authentication or staged token required")
		return
	}

	// Staged prospects own no durable attempts, so the only callers who
	// may see a status are the attempt's owner.
	attempt, err := api.store.GetQuizAttempt(attemptID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Quiz attempt not found")
		return
	}
	if userID, durable := ref.Durable(); !durable || attempt.UserID != userID {
		respondError(w, http.StatusNotFound, "Quiz attempt not found")
		return
	}

	status, err := api.entitlements.UnlockStatus(ref, attemptID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to evaluate report access")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// CreatePaymentHandler starts an access-pass or retake-bundle purchase.
func (api *Api) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req struct {
		Purpose string `json:"purpose"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	checkout, err := api.payments.CreatePurchaseIntent(user.ID, models.PaymentPurpose(req.Purpose))
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedPurpose) {
			respondError(w, http.StatusBadRequest, "Unsupported payment purpose")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to create payment")
		return
	}

	respondJSON(w, http.StatusOK, checkout)
}

func (api *Api) ListPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := api.store.ListPayments(currentUser(r).ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list payments")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// PaymentWebhookHandler ingests processor confirmations. The payload is
// never trusted on its own; the service re-confirms the intent before
// touching the ledger. Redeliveries resolve to the same end state.
func (api *Api) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var ev payments.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.IntentID == "" {
		respondError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	if err := api.payments.HandleProcessorEvent(ev); err != nil {
		if errors.Is(err, payments.ErrUnknownIntent) {
			log.Printf("[PAY] Webhook for unknown intent %s ignored", ev.IntentID)
			respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		log.Printf("[PAY] Webhook processing failed for intent %s: %v", ev.IntentID, err)
		respondError(w, http.StatusInternalServerError, "Webhook processing failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// RefundPaymentHandler issues a refund. Report access granted by the
// payment is kept; the refund records the money movement only.
func (api *Api) RefundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")

	var req struct {
		AmountCents int64  `json:"amount_cents"`
		Reason      string `json:"reason"`
		AdminNote   string `json:"admin_note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	refund, err := api.payments.Refund(paymentID, req.AmountCents, req.Reason, req.AdminNote)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "Payment not found")
		case errors.Is(err, payments.ErrPaymentNotCompleted), errors.Is(err, payments.ErrRefundTooLarge):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "Refund failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, refund)
}

// ClientStateHandler returns the canonical snapshot the client mirrors
// into local storage. The mirror is advisory; every privileged endpoint
// re-derives entitlement server-side.
func (api *Api) ClientStateHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"authenticated":        false,
			"hasCompletedQuiz":     false,
			"currentQuizAttemptId": "",
			"hasUnlockedAnalysis":  false,
			"userEmail":            "",
		})
		return
	}

	attempts, err := api.store.ListQuizAttempts(user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load client state")
		return
	}

	var currentAttemptID string
	var unlocked bool
	if len(attempts) > 0 {
		currentAttemptID = attempts[len(attempts)-1].ID
		status, err := api.entitlements.UnlockStatus(models.DurableRef(user.ID), currentAttemptID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to load client state")
			return
		}
		unlocked = status.Unlocked
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated":        true,
		"hasCompletedQuiz":     len(attempts) > 0,
		"currentQuizAttemptId": currentAttemptID,
		"hasUnlockedAnalysis":  unlocked,
		"userEmail":            user.Email,
	})
}
