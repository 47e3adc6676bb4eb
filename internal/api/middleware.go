package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/bizmatch-io/bizmatch/internal/models"
)

type contextKey string

const userContextKey contextKey = "user"

// withUser resolves the caller through the session gate and stores the
// result, possibly nil, on the request context. Resolution never fails
// a request; handlers that need a user enforce it themselves.
func (api *Api) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := api.gate.Resolve(w, r)
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireUser rejects anonymous callers with 401.
func (api *Api) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if currentUser(r) == nil {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin gates operational endpoints behind the configured admin
// token.
func (api *Api) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := api.Config.Auth.AdminToken
		given := r.Header.Get("X-Admin-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(given)) != 1 {
			respondError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func currentUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(userContextKey).(*models.User)
	return user
}

type errorResponse struct {
	Error      string `json:"error"`
	Reason     string `json:"reason,omitempty"`
	PriceCents int64  `json:"price_cents,omitempty"`
	Currency   string `json:"currency,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// respondPaymentRequired emits the machine-readable 402 shape the
// client branches on to pick a payment UI.
func respondPaymentRequired(w http.ResponseWriter, reason string, priceCents int64, currency string) {
	respondJSON(w, http.StatusPaymentRequired, errorResponse{
		Error:      "Payment required",
		Reason:     reason,
		PriceCents: priceCents,
		Currency:   currency,
	})
}
