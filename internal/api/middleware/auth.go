// Package middleware holds the cross-cutting request processing: bearer
// authentication, per-principal rate limiting, and request logging.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/fleethub/fleethub/internal/api/respond"
	"github.com/fleethub/fleethub/internal/authn"
)

// Authenticator validates bearer credentials. Two acceptance paths:
// an exact match against the static admin token (AUTH_TOKEN), else a
// lookup in the hashed API-key store. No token configured and no key
// match means 401 — there is no open mode on protected routes.
type Authenticator struct {
	adminToken string
	keys       *authn.KeyStore
}

// NewAuthenticator builds the authenticator. adminToken may be empty;
// keys may be nil (static-token-only deployments).
func NewAuthenticator(adminToken string, keys *authn.KeyStore) *Authenticator {
	return &Authenticator{adminToken: adminToken, keys: keys}
}

// Verify checks a raw bearer credential.
func (a *Authenticator) Verify(r *http.Request, raw string) bool {
	if a.adminToken != "" &&
		subtle.ConstantTimeCompare([]byte(raw), []byte(a.adminToken)) == 1 {
		return true
	}
	if a.keys != nil {
		if _, err := a.keys.Verify(r.Context(), raw); err == nil {
			return true
		}
	}
	return false
}

// Middleware enforces bearer auth on everything it wraps.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := BearerToken(r)
		if !ok {
			unauthorized(w, "bearer credential required")
			return
		}
		if !a.Verify(r, raw) {
			unauthorized(w, "invalid credential")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BearerToken extracts the credential from an "Authorization: Bearer <x>"
// header. Any other header shape is rejected.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := header[len(prefix):]
	if token == "" {
		return "", false
	}
	return token, true
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="fleethub"`)
	respond.Fail(w, http.StatusUnauthorized, msg)
}
