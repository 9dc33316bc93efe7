package middleware

import (
	"context"
	"net/http"

	"github.com/emberlyhq/emberly-backend/internal/auth"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Auth verifies the bearer credential on REST requests and stores the user id
// in the request context. Unauthenticated requests are refused outright.
func Auth(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := verifier.Verify(auth.FromRequest(r))
			if err != nil {
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
		})
	}
}

// UserID returns the authenticated user id set by Auth, or "" when absent.
func UserID(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}
