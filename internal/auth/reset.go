package auth

import (
	"errors"
	"time"

	"github.com/bizmatch-io/bizmatch/internal/store"
)

const resetTokenTTL = time.Hour

// RequestPasswordReset mints a single-use reset token for the account
// behind email. The token is opaque and high-entropy; the caller is
// responsible for delivering it (mail), never for echoing it to the
// requester, so account existence is not leaked.
func (g *Gate) RequestPasswordReset(email string) (string, error) {
	user, err := g.store.GetUserByEmail(email)
	if err != nil {
		return "", err
	}

	token, err := generateRandomToken()
	if err != nil {
		return "", err
	}

	if _, err := g.store.CreatePasswordReset(user.ID, token, time.Now().Add(resetTokenTTL)); err != nil {
		return "", err
	}
	return token, nil
}

// ResetPassword consumes a reset token and replaces the user's password.
// The token is deleted on success (single use) and every existing
// session for the user is revoked.
func (g *Gate) ResetPassword(token, newPassword string) error {
	reset, err := g.store.GetPasswordReset(token)
	if err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	if err := g.store.UpdateUserPassword(reset.UserID, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.store.DeletePasswordReset(token)
			return store.ErrResetTokenInvalid
		}
		return err
	}

	g.store.DeletePasswordReset(token)
	g.DestroyUserSessions(reset.UserID)
	return nil
}
