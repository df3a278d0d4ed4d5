package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/coachdesk/coachd/internal/config"
)

type ctxKey string

const emailKey ctxKey = "email"

// GetEmail extracts the authenticated caller's email from context.
func GetEmail(ctx context.Context) string {
	email, _ := ctx.Value(emailKey).(string)
	return email
}

// AccessValidator checks an access token and returns its subject.
type AccessValidator interface {
	ValidateAccess(token string) (string, error)
}

// Auth returns middleware that resolves the caller identity from a
// bearer token or the access cookie. Every failure mode gets the same
// uniform 401 so callers cannot distinguish missing from invalid.
func Auth(tokens AccessValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if c, err := r.Cookie(config.AccessCookieName); err == nil {
					token = c.Value
				}
			}
			if token == "" {
				writeUnauthorized(w)
				return
			}

			email, err := tokens.ValidateAccess(token)
			if err != nil {
				writeUnauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), emailKey, email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}`))
}
