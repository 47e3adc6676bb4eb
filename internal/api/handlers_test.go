package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bizmatch-io/bizmatch/internal/auth"
	"github.com/bizmatch-io/bizmatch/internal/config"
	"github.com/bizmatch-io/bizmatch/internal/database"
	"github.com/bizmatch-io/bizmatch/internal/email"
	"github.com/bizmatch-io/bizmatch/internal/entitlement"
	"github.com/bizmatch-io/bizmatch/internal/kv"
	"github.com/bizmatch-io/bizmatch/internal/models"
	"github.com/bizmatch-io/bizmatch/internal/payments"
	"github.com/bizmatch-io/bizmatch/internal/staging"
	"github.com/bizmatch-io/bizmatch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testDBPath = "test_bizmatch_api.db"

type stubProcessor struct {
	nextID  int
	intents map[string]*payments.ConfirmedIntent
}

func newStubProcessor() *stubProcessor {
	return &stubProcessor{
		intents: make(map[string]*payments.ConfirmedIntent),
	}
}

func (f *stubProcessor) CreateIntent(amountCents int64, currency string, metadata map[string]string) (*payments.Intent, error) {
	f.nextID++
	id := fmt.Sprintf("pi_%d", f.nextID)
	f.intents[id] = &payments.ConfirmedIntent{
		Status:      payments.IntentPending,
		AmountCents: amountCents,
		Currency:    currency,
		Metadata:    metadata,
	}
	return &payments.Intent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (f *stubProcessor) ConfirmIntent(intentID string) (*payments.ConfirmedIntent, error) {
	intent, ok := f.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("unknown intent %s", intentID)
	}
	return intent, nil
}

func (f *stubProcessor) succeed(intentID string) {
	f.intents[intentID].Status = payments.IntentSucceeded
}

func (f *stubProcessor) CreateRefund(intentID string, amountCents int64) (string, error) {
	return "re_1", nil
}

type stubScorer struct{}

func (stubScorer) ScoreBusinessModels(answers json.RawMessage) ([]models.RankedMatch, error) {
	return []models.RankedMatch{
		{Model: "saas", Score: 0.92, Summary: "Recurring revenue fits your profile"},
		{Model: "agency", Score: 0.71, Summary: "Service work as a fallback"},
	}, nil
}

type APITestSuite struct {
	suite.Suite
	api       *Api
	store     *store.Store
	cache     *kv.MemoryStore
	processor *stubProcessor
}

func (s *APITestSuite) SetupTest() {
	os.Remove(testDBPath)

	cfg := &config.Config{}
	cfg.Database.Type = "sqlite"
	cfg.Database.Path = testDBPath
	cfg.Session.CookieName = "session_token"
	cfg.Auth.AdminToken = "admin-secret"
	cfg.Pricing.Currency = "usd"
	cfg.Pricing.FirstReportCents = 2900
	cfg.Pricing.ReturningReportCents = 1900
	cfg.Pricing.AccessPassCents = 9900
	cfg.Pricing.RetakeBundleCents = 900
	cfg.Pricing.RetakeBundleSize = 3

	db, dialect, err := database.Open(cfg)
	require.NoError(s.T(), err)

	s.store = store.New(db, dialect)
	s.cache = kv.NewMemoryStore(time.Minute)
	s.processor = newStubProcessor()

	tokens := auth.NewTokenManager("test-secret")
	gate := auth.NewGate(s.store, s.cache, tokens, cfg.Session.CookieName, false, 24*time.Hour, 24*time.Hour, time.Hour)
	reconciler := staging.NewReconciler(s.store, s.cache, 24*time.Hour)
	entitlements := entitlement.New(s.store, entitlement.Pricing{
		Currency:             cfg.Pricing.Currency,
		FirstReportCents:     cfg.Pricing.FirstReportCents,
		ReturningReportCents: cfg.Pricing.ReturningReportCents,
		AccessPassCents:      cfg.Pricing.AccessPassCents,
		RetakeBundleCents:    cfg.Pricing.RetakeBundleCents,
		RetakeBundleSize:     cfg.Pricing.RetakeBundleSize,
	})
	paymentSvc := payments.New(s.store, entitlements, reconciler, s.processor, email.NoopSender{}, "")

	s.api, err = New(Deps{
		Config:       cfg,
		Store:        s.store,
		Gate:         gate,
		Reconciler:   reconciler,
		Entitlements: entitlements,
		Payments:     paymentSvc,
		Scorer:       stubScorer{},
		Sender:       email.NoopSender{},
	})
	require.NoError(s.T(), err)
}

func (s *APITestSuite) TearDownTest() {
	s.cache.Close()
	s.store.DB().Close()
	os.Remove(testDBPath)
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}

func (s *APITestSuite) request(method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("User-Agent", "api-test-agent/1.0")
	if cookie != nil {
		req.AddCookie(cookie)
	}

	w := httptest.NewRecorder()
	s.api.Router.ServeHTTP(w, req)
	return w
}

func (s *APITestSuite) decode(w *httptest.ResponseRecorder) map[string]interface{} {
	var out map[string]interface{}
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// createAccount writes a durable user directly, bypassing staging.
func (s *APITestSuite) createAccount(emailAddr, password string) *models.User {
	hash, err := auth.HashPassword(password)
	require.NoError(s.T(), err)
	user, err := s.store.CreateUser(emailAddr, hash, "Test User")
	require.NoError(s.T(), err)
	return user
}

func (s *APITestSuite) login(emailAddr, password string) *http.Cookie {
	w := s.request(http.MethodPost, "/auth/login",
		fmt.Sprintf(`{"email":%q,"password":%q}`, emailAddr, password), nil)
	require.Equal(s.T(), http.StatusOK, w.Code)

	for _, c := range w.Result().Cookies() {
		if c.Name == "session_token" {
			return c
		}
	}
	s.T().Fatal("login did not set a session cookie")
	return nil
}

func (s *APITestSuite) TestSignupStagesAccount() {
	w := s.request(http.MethodPost, "/auth/signup",
		`{"email":"new@example.com","password":"Str0ngPass!","name":"New","quizData":{"q1":"a"}}`, nil)
	assert.Equal(s.T(), http.StatusAccepted, w.Code)
	assert.NotEmpty(s.T(), s.decode(w)["staged_token"])

	// Nothing durable yet.
	_, err := s.store.GetUserByEmail("new@example.com")
	assert.ErrorIs(s.T(), err, store.ErrNotFound)
}

func (s *APITestSuite) TestSignupConflictForDurableEmail() {
	s.createAccount("taken@example.com", "Str0ngPass!")

	w := s.request(http.MethodPost, "/auth/signup",
		`{"email":"taken@example.com","password":"Str0ngPass!"}`, nil)
	assert.Equal(s.T(), http.StatusConflict, w.Code)
}

func (s *APITestSuite) TestSignupValidation() {
	w := s.request(http.MethodPost, "/auth/signup", `{"email":"bad","password":"Str0ngPass!"}`, nil)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)

	w = s.request(http.MethodPost, "/auth/signup", `{"email":"ok@example.com","password":"weak"}`, nil)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
}

func (s *APITestSuite) TestLoginAndMe() {
	s.createAccount("me@example.com", "Str0ngPass!")

	w := s.request(http.MethodGet, "/auth/me", "", nil)
	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)

	cookie := s.login("me@example.com", "Str0ngPass!")

	w = s.request(http.MethodGet, "/auth/me", "", cookie)
	assert.Equal(s.T(), http.StatusOK, w.Code)
	body := s.decode(w)
	assert.Equal(s.T(), "me@example.com", body["email"])
	assert.Nil(s.T(), body["password"], "password material must never serialize")
}

func (s *APITestSuite) TestLoginBadCredentials() {
	s.createAccount("badpass@example.com", "Str0ngPass!")

	w := s.request(http.MethodPost, "/auth/login",
		`{"email":"badpass@example.com","password":"wrong"}`, nil)
	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)
}

func (s *APITestSuite) TestQuizRetakeGate() {
	s.createAccount("quiz@example.com", "Str0ngPass!")
	cookie := s.login("quiz@example.com", "Str0ngPass!")

	// First attempt is free.
	w := s.request(http.MethodPost, "/quiz-attempts", `{"quizData":{"q1":"a"}}`, cookie)
	assert.Equal(s.T(), http.StatusCreated, w.Code)
	assert.NotEmpty(s.T(), s.decode(w)["attempt_id"])

	// Second attempt hits the gate with a machine-readable reason.
	w = s.request(http.MethodPost, "/quiz-attempts", `{"quizData":{"q1":"b"}}`, cookie)
	assert.Equal(s.T(), http.StatusPaymentRequired, w.Code)
	body := s.decode(w)
	assert.Equal(s.T(), "quiz-retake-exhausted", body["reason"])
}

func (s *APITestSuite) TestReportLockedThenUnlocked() {
	s.createAccount("report@example.com", "Str0ngPass!")
	cookie := s.login("report@example.com", "Str0ngPass!")

	w := s.request(http.MethodPost, "/quiz-attempts", `{"quizData":{"q1":"a"}}`, cookie)
	require.Equal(s.T(), http.StatusCreated, w.Code)
	attemptID := s.decode(w)["attempt_id"].(string)

	// Locked: 402 with reason and price.
	w = s.request(http.MethodGet, "/quiz-attempts/"+attemptID+"/report", "", cookie)
	assert.Equal(s.T(), http.StatusPaymentRequired, w.Code)
	body := s.decode(w)
	assert.Equal(s.T(), "report-locked", body["reason"])
	assert.Equal(s.T(), float64(2900), body["price_cents"])

	// Pay and confirm.
	w = s.request(http.MethodPost, "/report-unlock/create-payment",
		fmt.Sprintf(`{"quiz_attempt_id":%q}`, attemptID), cookie)
	require.Equal(s.T(), http.StatusOK, w.Code)
	intentID := s.decode(w)["processor_intent_id"].(string)

	s.processor.succeed(intentID)
	w = s.request(http.MethodPost, "/payments/webhook",
		fmt.Sprintf(`{"intent_id":%q,"status":"succeeded"}`, intentID), nil)
	require.Equal(s.T(), http.StatusOK, w.Code)

	// Unlocked: full report with matches.
	w = s.request(http.MethodGet, "/quiz-attempts/"+attemptID+"/report", "", cookie)
	assert.Equal(s.T(), http.StatusOK, w.Code)
	report := s.decode(w)
	assert.NotEmpty(s.T(), report["matches"])
}

func (s *APITestSuite) TestUnlockStatusEndpoint() {
	s.createAccount("status@example.com", "Str0ngPass!")
	cookie := s.login("status@example.com", "Str0ngPass!")

	w := s.request(http.MethodPost, "/quiz-attempts", `{"quizData":{}}`, cookie)
	require.Equal(s.T(), http.StatusCreated, w.Code)
	attemptID := s.decode(w)["attempt_id"].(string)

	w = s.request(http.MethodGet, "/report-unlock/status/"+attemptID, "", cookie)
	assert.Equal(s.T(), http.StatusOK, w.Code)
	body := s.decode(w)
	assert.Equal(s.T(), false, body["unlocked"])
	assert.Equal(s.T(), float64(2900), body["price_cents"])
}

func (s *APITestSuite) TestJWTExchange() {
	s.createAccount("script@example.com", "Str0ngPass!")
	cookie := s.login("script@example.com", "Str0ngPass!")

	w := s.request(http.MethodPost, "/auth/tokens/jwt", "", cookie)
	require.Equal(s.T(), http.StatusOK, w.Code)
	token := s.decode(w)["token"].(string)
	require.NotEmpty(s.T(), token)

	// The minted token works as a bearer credential on its own, from a
	// client the fallback cache has never seen.
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("User-Agent", "jwt-client/1.0")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.api.Router.ServeHTTP(rec, req)
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	body := map[string]interface{}{}
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(s.T(), "script@example.com", body["email"])
}

func (s *APITestSuite) TestUnlockStatusHidesForeignAttempts() {
	s.createAccount("owner@example.com", "Str0ngPass!")
	cookie := s.login("owner@example.com", "Str0ngPass!")

	w := s.request(http.MethodPost, "/quiz-attempts", `{"quizData":{}}`, cookie)
	require.Equal(s.T(), http.StatusCreated, w.Code)
	attemptID := s.decode(w)["attempt_id"].(string)

	s.createAccount("nosy@example.com", "Str0ngPass!")
	otherCookie := s.login("nosy@example.com", "Str0ngPass!")

	w = s.request(http.MethodGet, "/report-unlock/status/"+attemptID, "", otherCookie)
	assert.Equal(s.T(), http.StatusNotFound, w.Code)
}

func (s *APITestSuite) TestUnlockStatusRequiresIdentity() {
	w := s.request(http.MethodGet, "/report-unlock/status/some-attempt", "", nil)
	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)
}

func (s *APITestSuite) TestStagedCheckoutEndToEnd() {
	w := s.request(http.MethodPost, "/auth/signup",
		`{"email":"staged@example.com","password":"Str0ngPass!","quizData":{"q1":"a"}}`, nil)
	require.Equal(s.T(), http.StatusAccepted, w.Code)
	stagedToken := s.decode(w)["staged_token"].(string)

	w = s.request(http.MethodPost, "/report-unlock/create-payment",
		fmt.Sprintf(`{"staged_token":%q}`, stagedToken), nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	intentID := s.decode(w)["processor_intent_id"].(string)

	s.processor.succeed(intentID)
	w = s.request(http.MethodPost, "/payments/webhook",
		fmt.Sprintf(`{"intent_id":%q,"status":"succeeded"}`, intentID), nil)
	require.Equal(s.T(), http.StatusOK, w.Code)

	// The staged account is durable now and can log in.
	user, err := s.store.GetUserByEmail("staged@example.com")
	require.NoError(s.T(), err)

	count, err := s.store.CountQuizAttempts(user.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, count)

	s.login("staged@example.com", "Str0ngPass!")
}

func (s *APITestSuite) TestWebhookIgnoresPayloadMetadata() {
	// The paying prospect stages a signup and starts checkout.
	w := s.request(http.MethodPost, "/auth/signup",
		`{"email":"payer@example.com","password":"Str0ngPass!","quizData":{"q1":"a"}}`, nil)
	require.Equal(s.T(), http.StatusAccepted, w.Code)

	w = s.request(http.MethodPost, "/report-unlock/create-payment",
		fmt.Sprintf(`{"staged_token":%q}`, s.decode(w)["staged_token"].(string)), nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	intentID := s.decode(w)["processor_intent_id"].(string)
	s.processor.succeed(intentID)

	// A second prospect posts the delivery first, naming their own
	// staged token and a one-cent amount in the body.
	w = s.request(http.MethodPost, "/auth/signup",
		`{"email":"lurker@example.com","password":"Str0ngPass!","quizData":{"q1":"z"}}`, nil)
	require.Equal(s.T(), http.StatusAccepted, w.Code)
	lurkerToken := s.decode(w)["staged_token"].(string)

	w = s.request(http.MethodPost, "/payments/webhook",
		fmt.Sprintf(`{"intent_id":%q,"status":"succeeded","metadata":{"staged_token":%q,"amount_cents":"1"}}`,
			intentID, lurkerToken), nil)
	require.Equal(s.T(), http.StatusOK, w.Code)

	// The payer is promoted and unlocked at the intent's real amount.
	payer, err := s.store.GetUserByEmail("payer@example.com")
	require.NoError(s.T(), err)
	paid, err := s.store.ListPayments(payer.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), paid, 1)
	assert.True(s.T(), paid[0].IsCompleted())
	assert.Equal(s.T(), int64(2900), paid[0].AmountCents)

	// The lurker stays staged with nothing durable.
	_, err = s.store.GetUserByEmail("lurker@example.com")
	assert.ErrorIs(s.T(), err, store.ErrNotFound)

	var users int
	require.NoError(s.T(), s.store.DB().QueryRow("SELECT COUNT(*) FROM users").Scan(&users))
	assert.Equal(s.T(), 1, users)
}

func (s *APITestSuite) TestWebhookRejectsBadPayload() {
	w := s.request(http.MethodPost, "/payments/webhook", `{"status":"succeeded"}`, nil)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
}

func (s *APITestSuite) TestRefundRequiresAdminToken() {
	w := s.request(http.MethodPost, "/payments/some-id/refund", `{"amount_cents":100}`, nil)
	assert.Equal(s.T(), http.StatusForbidden, w.Code)
}

func (s *APITestSuite) TestAdminRefund() {
	s.createAccount("refundme@example.com", "Str0ngPass!")
	cookie := s.login("refundme@example.com", "Str0ngPass!")

	w := s.request(http.MethodPost, "/quiz-attempts", `{"quizData":{}}`, cookie)
	require.Equal(s.T(), http.StatusCreated, w.Code)
	attemptID := s.decode(w)["attempt_id"].(string)

	w = s.request(http.MethodPost, "/report-unlock/create-payment",
		fmt.Sprintf(`{"quiz_attempt_id":%q}`, attemptID), cookie)
	require.Equal(s.T(), http.StatusOK, w.Code)
	intentID := s.decode(w)["processor_intent_id"].(string)
	paymentID := s.decode(w)["payment_id"].(string)

	s.processor.succeed(intentID)
	w = s.request(http.MethodPost, "/payments/webhook",
		fmt.Sprintf(`{"intent_id":%q}`, intentID), nil)
	require.Equal(s.T(), http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/payments/"+paymentID+"/refund",
		strings.NewReader(`{"amount_cents":1000,"reason":"goodwill"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "api-test-agent/1.0")
	req.Header.Set("X-Admin-Token", "admin-secret")
	rec := httptest.NewRecorder()
	s.api.Router.ServeHTTP(rec, req)
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	// Access stays.
	w = s.request(http.MethodGet, "/quiz-attempts/"+attemptID+"/report", "", cookie)
	assert.Equal(s.T(), http.StatusOK, w.Code)
}

func (s *APITestSuite) TestClientStateAnonymous() {
	w := s.request(http.MethodGet, "/client-state", "", nil)
	assert.Equal(s.T(), http.StatusOK, w.Code)
	body := s.decode(w)
	assert.Equal(s.T(), false, body["authenticated"])
	assert.Equal(s.T(), false, body["hasCompletedQuiz"])
}

func (s *APITestSuite) TestClientStateAuthenticated() {
	s.createAccount("state@example.com", "Str0ngPass!")
	cookie := s.login("state@example.com", "Str0ngPass!")

	w := s.request(http.MethodPost, "/quiz-attempts", `{"quizData":{}}`, cookie)
	require.Equal(s.T(), http.StatusCreated, w.Code)
	attemptID := s.decode(w)["attempt_id"].(string)

	w = s.request(http.MethodGet, "/client-state", "", cookie)
	assert.Equal(s.T(), http.StatusOK, w.Code)
	body := s.decode(w)
	assert.Equal(s.T(), true, body["authenticated"])
	assert.Equal(s.T(), true, body["hasCompletedQuiz"])
	assert.Equal(s.T(), attemptID, body["currentQuizAttemptId"])
	assert.Equal(s.T(), false, body["hasUnlockedAnalysis"])
	assert.Equal(s.T(), "state@example.com", body["userEmail"])
}

func (s *APITestSuite) TestAccountDeletionCascades() {
	user := s.createAccount("delete@example.com", "Str0ngPass!")
	cookie := s.login("delete@example.com", "Str0ngPass!")

	w := s.request(http.MethodPost, "/quiz-attempts", `{"quizData":{}}`, cookie)
	require.Equal(s.T(), http.StatusCreated, w.Code)

	w = s.request(http.MethodDelete, "/auth/account", "", cookie)
	assert.Equal(s.T(), http.StatusOK, w.Code)

	_, err := s.store.GetUserByID(user.ID)
	assert.ErrorIs(s.T(), err, store.ErrNotFound)

	count, err := s.store.CountQuizAttempts(user.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 0, count)
}

func (s *APITestSuite) TestHeartbeat() {
	w := s.request(http.MethodGet, "/heartbeat", "", nil)
	assert.Equal(s.T(), http.StatusOK, w.Code)
}
