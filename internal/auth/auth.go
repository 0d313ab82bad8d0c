package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// HeaderName is the alternative header for clients that cannot set Authorization
const HeaderName = "X-Wharf-Token"

// Auth guards the API with one static token
type Auth struct {
	token string
}

// New creates a new Auth instance; an empty token disables authentication
func New(token string) *Auth {
	return &Auth{token: token}
}

// IsEnabled reports whether a token is configured; a nil Auth is disabled
func (a *Auth) IsEnabled() bool {
	return a != nil && a.token != ""
}

// ValidateToken compares in constant time
func (a *Auth) ValidateToken(token string) bool {
	return subtle.ConstantTimeCompare([]byte(a.token), []byte(token)) == 1
}

// Middleware rejects requests without a valid token with 401
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.IsEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		if token := TokenFromRequest(r); token != "" && a.ValidateToken(token) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "Authentication required"}`))
	})
}

// TokenFromRequest reads "Authorization: Bearer <token>", falling back to HeaderName
func TokenFromRequest(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return r.Header.Get(HeaderName)
}
