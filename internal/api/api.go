package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/bizmatch-io/bizmatch/internal/auth"
	"github.com/bizmatch-io/bizmatch/internal/config"
	"github.com/bizmatch-io/bizmatch/internal/email"
	"github.com/bizmatch-io/bizmatch/internal/entitlement"
	"github.com/bizmatch-io/bizmatch/internal/payments"
	"github.com/bizmatch-io/bizmatch/internal/reportstore"
	"github.com/bizmatch-io/bizmatch/internal/scoring"
	"github.com/bizmatch-io/bizmatch/internal/staging"
	"github.com/bizmatch-io/bizmatch/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Deps bundles everything the HTTP surface needs.
type Deps struct {
	Config       *config.Config
	Store        *store.Store
	Gate         *auth.Gate
	Reconciler   *staging.Reconciler
	Entitlements *entitlement.Service
	Payments     *payments.Service
	Scorer       scoring.Scorer
	Archive      *reportstore.Archive
	Sender       email.Sender
}

type Api struct {
	Config       *config.Config
	Router       *chi.Mux
	store        *store.Store
	gate         *auth.Gate
	reconciler   *staging.Reconciler
	entitlements *entitlement.Service
	payments     *payments.Service
	scorer       scoring.Scorer
	archive      *reportstore.Archive
	sender       email.Sender
}

func New(d Deps) (*Api, error) {
	api := &Api{
		Config:       d.Config,
		Router:       chi.NewRouter(),
		store:        d.Store,
		gate:         d.Gate,
		reconciler:   d.Reconciler,
		entitlements: d.Entitlements,
		payments:     d.Payments,
		scorer:       d.Scorer,
		archive:      d.Archive,
		sender:       d.Sender,
	}

	api.setupRoutes()
	return api, nil
}

func (api *Api) setupRoutes() {
	r := api.Router

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://*.local:*", "http://localhost:*", "http://127.0.0.1:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Admin-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Heartbeat("/heartbeat"))

	r.Use(api.withUser)

	// Public routes. Report-unlock endpoints accept a staged token in
	// place of a session, so a prospect can pay before signup completes.
	r.Post("/auth/signup", api.SignupHandler)
	r.Post("/auth/login", api.LoginHandler)
	r.Post("/auth/logout", api.LogoutHandler)
	r.Post("/auth/password-reset/request", api.PasswordResetRequestHandler)
	r.Post("/auth/password-reset/confirm", api.PasswordResetConfirmHandler)
	r.Post("/report-unlock/create-payment", api.CreateUnlockPaymentHandler)
	r.Get("/report-unlock/status/{attemptID}", api.UnlockStatusHandler)
	r.Post("/payments/webhook", api.PaymentWebhookHandler)
	r.Get("/client-state", api.ClientStateHandler)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(api.requireUser)

		r.Get("/auth/me", api.MeHandler)
		r.Delete("/auth/account", api.DeleteAccountHandler)
		r.Put("/auth/profile", api.UpdateProfileHandler)
		r.Put("/auth/password", api.UpdatePasswordHandler)

		r.Post("/auth/tokens", api.CreateTokenHandler)
		r.Get("/auth/tokens", api.ListTokensHandler)
		r.Delete("/auth/tokens/{id}", api.DeleteTokenHandler)
		r.Post("/auth/tokens/jwt", api.CreateJWTHandler)

		r.Post("/quiz-attempts", api.CreateQuizAttemptHandler)
		r.Get("/quiz-attempts", api.ListQuizAttemptsHandler)
		r.Get("/quiz-attempts/{id}/report", api.GetReportHandler)

		r.Post("/payments/create", api.CreatePaymentHandler)
		r.Get("/payments", api.ListPaymentsHandler)
	})

	// Admin routes.
	r.Group(func(r chi.Router) {
		r.Use(api.requireAdmin)
		r.Post("/payments/{id}/refund", api.RefundPaymentHandler)
	})
}

// Serve starts the HTTP server and the background session sweeper.
func (api *Api) Serve() {
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			if err := api.store.CleanupExpiredSessions(); err != nil {
				log.Printf("Error cleaning up expired sessions: %v", err)
			}
			<-ticker.C
		}
	}()

	log.Printf("Starting API server on 0.0.0.0:%d", api.Config.APIPort)
	log.Fatal(http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", api.Config.APIPort), api.Router))
}
