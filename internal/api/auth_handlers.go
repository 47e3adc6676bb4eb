package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/bizmatch-io/bizmatch/internal/auth"
	"github.com/bizmatch-io/bizmatch/internal/staging"
	"github.com/bizmatch-io/bizmatch/internal/store"
	"github.com/go-chi/chi/v5"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupHandler stages a new account. Nothing durable is written here;
// the staged record lives in the short-lived staging store until a
// completed payment promotes it.
func (api *Api) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string          `json:"email"`
		Password string          `json:"password"`
		Name     string          `json:"name"`
		QuizData json.RawMessage `json:"quizData,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !auth.ValidateEmail(req.Email) {
		respondError(w, http.StatusBadRequest, "Invalid email format")
		return
	}
	if !auth.ValidatePassword(req.Password) {
		respondError(w, http.StatusBadRequest, "Password does not meet requirements")
		return
	}

	token, err := api.reconciler.Stage(req.Email, req.Password, req.Name, req.QuizData)
	if err != nil {
		if errors.Is(err, staging.ErrUserAlreadyExists) {
			respondError(w, http.StatusConflict, "An account with this email already exists, please log in")
			return
		}
		respondError(w, http.StatusInternalServerError, "Signup failed")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"staged_token": token})
}

func (api *Api) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := api.gate.Authenticate(creds.Email, creds.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	if err := api.gate.EstablishSession(w, r, user.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (api *Api) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	api.gate.DestroySession(w, r)
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (api *Api) MeHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, currentUser(r))
}

// DeleteAccountHandler removes the account and everything it owns.
// Attempts, payments, refunds, sessions and tokens go with the user row
// via CASCADE; archived reports are swept from object storage after.
func (api *Api) DeleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	if err := api.store.DeleteUser(user.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to delete account")
		return
	}

	api.gate.DestroySession(w, r)

	if api.archive != nil {
		go func(userID string) {
			if err := api.archive.DeleteUserReports(context.Background(), userID); err != nil {
				log.Printf("[REPORTS] Archive sweep failed for deleted user %s: %v", userID, err)
			}
		}(user.ID)
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (api *Api) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req struct {
		Name         string `json:"name"`
		Unsubscribed bool   `json:"unsubscribed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := api.store.UpdateUserProfile(user.ID, req.Name, req.Unsubscribed); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to update profile")
		return
	}

	updated, err := api.store.GetUserByID(user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load profile")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// UpdatePasswordHandler changes the password and rotates every session,
// keeping only the one this request rides on.
func (api *Api) UpdatePasswordHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !user.ValidatePassword(req.CurrentPassword) {
		respondError(w, http.StatusUnauthorized, "Current password is incorrect")
		return
	}
	if !auth.ValidatePassword(req.NewPassword) {
		respondError(w, http.StatusBadRequest, "Password does not meet requirements")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to update password")
		return
	}
	if err := api.store.UpdateUserPassword(user.ID, hash); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to update password")
		return
	}

	api.gate.DestroyUserSessions(user.ID)
	if err := api.gate.EstablishSession(w, r, user.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to refresh session")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// PasswordResetRequestHandler always answers 200 so account existence
// is not leaked. The token travels only by mail.
func (api *Api) PasswordResetRequestHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := api.gate.RequestPasswordReset(req.Email)
	if err == nil {
		go func(recipient, token string) {
			if err := api.sender.Send("password-reset", recipient, map[string]string{"token": token}); err != nil {
				log.Printf("[MAIL] Password reset send failed for %s: %v", recipient, err)
			}
		}(req.Email, token)
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Printf("[AUTH] Password reset request failed: %v", err)
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "If an account exists for that address, a reset email has been sent",
	})
}

func (api *Api) PasswordResetConfirmHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !auth.ValidatePassword(req.NewPassword) {
		respondError(w, http.StatusBadRequest, "Password does not meet requirements")
		return
	}

	if err := api.gate.ResetPassword(req.Token, req.NewPassword); err != nil {
		respondError(w, http.StatusBadRequest, "Reset token is invalid or expired")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (api *Api) CreateTokenHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := api.gate.CreateAPIToken(user.ID, req.Name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create token")
		return
	}

	respondJSON(w, http.StatusCreated, token)
}

// CreateJWTHandler exchanges the session for a short-lived signed
// bearer token, for scripts that cannot carry cookies.
func (api *Api) CreateJWTHandler(w http.ResponseWriter, r *http.Request) {
	token, expiresAt, err := api.gate.IssueJWT(currentUser(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt,
	})
}

func (api *Api) ListTokensHandler(w http.ResponseWriter, r *http.Request) {
	tokens, err := api.gate.ListAPITokens(currentUser(r).ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list tokens")
		return
	}
	respondJSON(w, http.StatusOK, tokens)
}

func (api *Api) DeleteTokenHandler(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "id")

	if err := api.gate.DeleteAPIToken(currentUser(r).ID, tokenID); err != nil {
		respondError(w, http.StatusNotFound, "Token not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
