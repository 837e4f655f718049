package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/cvscreen/internal/api/response"
	"github.com/kiranshivaraju/cvscreen/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// Auth checks the shared API key on protected routes. The key is compared
// against a bcrypt hash when one is configured, otherwise against the
// plaintext key in constant time.
type Auth struct {
	key  []byte
	hash []byte
}

// NewAuth creates a new Auth middleware.
func NewAuth(cfg config.AuthConfig) *Auth {
	a := &Auth{}
	if cfg.APIKeyHash != "" {
		a.hash = []byte(cfg.APIKeyHash)
	} else if cfg.APIKey != "" {
		a.key = []byte(cfg.APIKey)
	}
	return a
}

// Authenticate accepts the key as a Bearer token or in X-API-Key, and tags
// the request with the caller's client address for rate limiting.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			rawKey = strings.TrimSpace(r.Header.Get("X-API-Key"))
		}
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if !a.valid(rawKey) {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(setClient(r.Context(), clientAddr(r))))
	})
}

func (a *Auth) valid(rawKey string) bool {
	switch {
	case a.hash != nil:
		return bcrypt.CompareHashAndPassword(a.hash, []byte(rawKey)) == nil
	case a.key != nil:
		return subtle.ConstantTimeCompare(a.key, []byte(rawKey)) == 1
	default:
		return false
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
