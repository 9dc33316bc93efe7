package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/emberlyhq/emberly-backend/internal/models"
)

// Verifier checks HS256 bearer tokens issued by the identity service against
// the shared secret. Token issuance happens elsewhere; this side only
// verifies signature and expiry.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Claims is the subset of the identity token this service relies on.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Verify parses and validates a bearer token, returning the user id it was
// issued for. Any failure maps to ErrAuthenticationFailed.
func (v *Verifier) Verify(token string) (string, error) {
	if token == "" {
		return "", models.ErrAuthenticationFailed
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", models.ErrAuthenticationFailed
	}
	if claims.UserID == "" {
		return "", models.ErrAuthenticationFailed
	}
	return claims.UserID, nil
}

// Sign issues a token for userID. Used by tests and local tooling; production
// tokens come from the identity service with the same secret.
func (v *Verifier) Sign(userID string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(v.secret)
}

// FromRequest extracts the bearer credential from an HTTP request: the
// Authorization header first, then the token query parameter (the browser
// WebSocket API cannot set headers).
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
