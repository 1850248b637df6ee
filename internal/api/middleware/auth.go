package middleware

import (
	"net/http"
	"strings"

	"github.com/kiranshivaraju/stockmeta/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

// Auth checks a bearer token against a single bcrypt hash. With an empty
// hash every request is let through.
type Auth struct {
	tokenHash []byte
}

// NewAuth creates a new Auth middleware.
func NewAuth(tokenHash string) *Auth {
	return &Auth{tokenHash: []byte(strings.TrimSpace(tokenHash))}
}

func (a *Auth) Enabled() bool {
	return len(a.tokenHash) > 0
}

// Authenticate validates the Bearer token and tags the request as coming
// from the token holder.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}
		if bcrypt.CompareHashAndPassword(a.tokenHash, []byte(token)) != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API token", nil)
			return
		}

		r = r.WithContext(setClient(r.Context(), "token:"+GetActor(r)))
		next.ServeHTTP(w, r)
	})
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
