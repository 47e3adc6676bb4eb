package store

import (
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/bizmatch-io/bizmatch/internal/config"
	"github.com/bizmatch-io/bizmatch/internal/database"
	"github.com/bizmatch-io/bizmatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testDBPath = "test_bizmatch_store.db"

type StoreTestSuite struct {
	suite.Suite
	store *Store
}

func (s *StoreTestSuite) SetupTest() {
	os.Remove(testDBPath)

	cfg := &config.Config{}
	cfg.Database.Type = "sqlite"
	cfg.Database.Path = testDBPath

	db, dialect, err := database.Open(cfg)
	require.NoError(s.T(), err)

	s.store = New(db, dialect)
}

func (s *StoreTestSuite) TearDownTest() {
	if s.store != nil {
		s.store.DB().Close()
	}
	os.Remove(testDBPath)
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) mustCreateUser(email string) *models.User {
	user, err := s.store.CreateUser(email, "$2a$10$fakehashfakehashfakehash", "Test User")
	require.NoError(s.T(), err)
	return user
}

func (s *StoreTestSuite) TestCreateAndGetUser() {
	user := s.mustCreateUser("test@example.com")
	assert.NotEmpty(s.T(), user.ID)

	got, err := s.store.GetUserByEmail("test@example.com")
	assert.NoError(s.T(), err)
	assert.Equal(s.T(), user.ID, got.ID)

	got, err = s.store.GetUserByID(user.ID)
	assert.NoError(s.T(), err)
	assert.Equal(s.T(), "test@example.com", got.Email)
}

func (s *StoreTestSuite) TestCreateUserDuplicateEmail() {
	s.mustCreateUser("dup@example.com")

	_, err := s.store.CreateUser("dup@example.com", "hash", "Other")
	assert.ErrorIs(s.T(), err, ErrEmailTaken)
}

func (s *StoreTestSuite) TestGetUserNotFound() {
	_, err := s.store.GetUserByEmail("missing@example.com")
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *StoreTestSuite) TestAccountDeletionCascades() {
	user := s.mustCreateUser("cascade@example.com")

	attempt, err := s.store.CreateQuizAttempt(user.ID, json.RawMessage(`{"q1":"a"}`))
	require.NoError(s.T(), err)

	payment, err := s.store.CreatePayment(&models.Payment{
		UserID:        user.ID,
		AmountCents:   2900,
		Currency:      "usd",
		Purpose:       models.PurposeReportUnlock,
		QuizAttemptID: &attempt.ID,
	})
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.store.CompletePayment(payment.ID))

	_, err = s.store.CreateRefund(&models.Refund{
		PaymentID:   payment.ID,
		AmountCents: 500,
		Reason:      "goodwill",
		Status:      models.RefundStatusCompleted,
	})
	require.NoError(s.T(), err)

	_, err = s.store.CreateSession(user.ID, "cascade-session-token", time.Now().Add(time.Hour))
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.store.DeleteUser(user.ID))

	// Every owned row must be gone, not just the user.
	for table, want := range map[string]int{
		"quiz_attempts": 0,
		"payments":      0,
		"refunds":       0,
		"sessions":      0,
	} {
		var count int
		err := s.store.DB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count)
		require.NoError(s.T(), err)
		assert.Equal(s.T(), want, count, "table %s should be empty after cascade", table)
	}
}

func (s *StoreTestSuite) TestDeleteUserNotFound() {
	err := s.store.DeleteUser("no-such-id")
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *StoreTestSuite) TestCompletePaymentIsIdempotent() {
	user := s.mustCreateUser("pay@example.com")
	attempt, err := s.store.CreateQuizAttempt(user.ID, json.RawMessage(`{}`))
	require.NoError(s.T(), err)

	payment, err := s.store.CreatePayment(&models.Payment{
		UserID:        user.ID,
		AmountCents:   2900,
		Currency:      "usd",
		Purpose:       models.PurposeReportUnlock,
		QuizAttemptID: &attempt.ID,
	})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.PaymentStatusPending, payment.Status)

	require.NoError(s.T(), s.store.CompletePayment(payment.ID))
	require.NoError(s.T(), s.store.CompletePayment(payment.ID))

	got, err := s.store.GetPayment(payment.ID)
	require.NoError(s.T(), err)
	assert.True(s.T(), got.IsCompleted())
	assert.NotNil(s.T(), got.CompletedAt)
}

func (s *StoreTestSuite) TestSecondCompletedUnlockForAttemptRejected() {
	user := s.mustCreateUser("double@example.com")
	attempt, err := s.store.CreateQuizAttempt(user.ID, json.RawMessage(`{}`))
	require.NoError(s.T(), err)

	first, err := s.store.CreatePayment(&models.Payment{
		UserID:        user.ID,
		AmountCents:   2900,
		Currency:      "usd",
		Purpose:       models.PurposeReportUnlock,
		QuizAttemptID: &attempt.ID,
	})
	require.NoError(s.T(), err)

	second, err := s.store.CreatePayment(&models.Payment{
		UserID:        user.ID,
		AmountCents:   2900,
		Currency:      "usd",
		Purpose:       models.PurposeReportUnlock,
		QuizAttemptID: &attempt.ID,
	})
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.store.CompletePayment(first.ID))

	err = s.store.CompletePayment(second.ID)
	assert.True(s.T(), errors.Is(err, ErrDuplicateCompletedUnlock),
		"completing a second unlock for the same attempt must hit the unique index, got %v", err)

	unlocked, err := s.store.HasCompletedUnlockForAttempt(attempt.ID)
	require.NoError(s.T(), err)
	assert.True(s.T(), unlocked)
}

func (s *StoreTestSuite) TestPendingUnlockLookup() {
	user := s.mustCreateUser("pending@example.com")
	attempt, err := s.store.CreateQuizAttempt(user.ID, json.RawMessage(`{}`))
	require.NoError(s.T(), err)

	_, err = s.store.GetPendingUnlockPayment(user.ID, attempt.ID)
	assert.ErrorIs(s.T(), err, ErrNotFound)

	payment, err := s.store.CreatePayment(&models.Payment{
		UserID:            user.ID,
		AmountCents:       2900,
		Currency:          "usd",
		Purpose:           models.PurposeReportUnlock,
		QuizAttemptID:     &attempt.ID,
		ProcessorIntentID: "pi_pending_1",
	})
	require.NoError(s.T(), err)

	got, err := s.store.GetPendingUnlockPayment(user.ID, attempt.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), payment.ID, got.ID)

	require.NoError(s.T(), s.store.CompletePayment(payment.ID))
	_, err = s.store.GetPendingUnlockPayment(user.ID, attempt.ID)
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *StoreTestSuite) TestRetakeGrantsOnlyCountCompleted() {
	user := s.mustCreateUser("retake@example.com")

	pending, err := s.store.CreatePayment(&models.Payment{
		UserID:         user.ID,
		AmountCents:    900,
		Currency:       "usd",
		Purpose:        models.PurposeRetakeBundle,
		RetakesGranted: 3,
	})
	require.NoError(s.T(), err)

	grants, err := s.store.SumRetakeGrants(user.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 0, grants, "pending bundles grant nothing")

	require.NoError(s.T(), s.store.CompletePayment(pending.ID))

	grants, err = s.store.SumRetakeGrants(user.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 3, grants)
}

func (s *StoreTestSuite) TestRefundSumExcludesFailed() {
	user := s.mustCreateUser("refund@example.com")
	payment, err := s.store.CreatePayment(&models.Payment{
		UserID:      user.ID,
		AmountCents: 9900,
		Currency:    "usd",
		Purpose:     models.PurposeAccessPass,
	})
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.store.CompletePayment(payment.ID))

	_, err = s.store.CreateRefund(&models.Refund{
		PaymentID: payment.ID, AmountCents: 1000, Status: models.RefundStatusCompleted,
	})
	require.NoError(s.T(), err)
	_, err = s.store.CreateRefund(&models.Refund{
		PaymentID: payment.ID, AmountCents: 2000, Status: models.RefundStatusFailed,
	})
	require.NoError(s.T(), err)

	total, err := s.store.SumRefundsForPayment(payment.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1000), total)
}

func (s *StoreTestSuite) TestSessionExpiryIsEnforced() {
	user := s.mustCreateUser("session@example.com")

	_, err := s.store.CreateSession(user.ID, "expired-token", time.Now().Add(-time.Minute))
	require.NoError(s.T(), err)

	_, err = s.store.GetSessionByToken("expired-token")
	assert.ErrorIs(s.T(), err, ErrSessionExpired)

	// Expired sessions are deleted on sight.
	_, err = s.store.GetSessionByToken("expired-token")
	assert.ErrorIs(s.T(), err, ErrSessionNotFound)
}

func (s *StoreTestSuite) TestAPITokenLifecycle() {
	user := s.mustCreateUser("tokens@example.com")

	expires := time.Now().Add(time.Hour)
	token, err := s.store.CreateAPIToken(user.ID, "ci", "opaque-token-value", &expires)
	require.NoError(s.T(), err)

	got, err := s.store.GetAPITokenByValue("opaque-token-value")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), token.ID, got.ID)

	list, err := s.store.ListAPITokens(user.ID)
	require.NoError(s.T(), err)
	assert.Len(s.T(), list, 1)

	require.NoError(s.T(), s.store.DeleteAPIToken(user.ID, token.ID))
	_, err = s.store.GetAPITokenByValue("opaque-token-value")
	assert.ErrorIs(s.T(), err, ErrTokenNotFound)
}

func (s *StoreTestSuite) TestQuizAttemptOrdering() {
	user := s.mustCreateUser("attempts@example.com")

	a1, err := s.store.CreateQuizAttempt(user.ID, json.RawMessage(`{"n":1}`))
	require.NoError(s.T(), err)
	a2, err := s.store.CreateQuizAttempt(user.ID, json.RawMessage(`{"n":2}`))
	require.NoError(s.T(), err)

	list, err := s.store.ListQuizAttempts(user.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), list, 2)
	assert.Equal(s.T(), a1.ID, list[0].ID)
	assert.Equal(s.T(), a2.ID, list[1].ID)

	count, err := s.store.CountQuizAttempts(user.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 2, count)
}
