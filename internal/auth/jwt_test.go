package auth

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/emberlyhq/emberly-backend/internal/models"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Sign("user-123", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	userID, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "user-123" {
		t.Errorf("user id = %q, want user-123", userID)
	}
}

func TestVerifyRejections(t *testing.T) {
	v := NewVerifier("test-secret")
	expired, _ := v.Sign("user-123", -time.Minute)
	wrongSecret, _ := NewVerifier("other-secret").Sign("user-123", time.Minute)
	anonymous, _ := v.Sign("", time.Minute)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not.a.jwt"},
		{name: "expired token", token: expired},
		{name: "wrong secret", token: wrongSecret},
		{name: "missing user id", token: anonymous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(tt.token); !errors.Is(err, models.ErrAuthenticationFailed) {
				t.Errorf("err = %v, want ErrAuthenticationFailed", err)
			}
		})
	}
}

func TestFromRequest(t *testing.T) {
	withHeader, _ := http.NewRequest(http.MethodGet, "/ws/chat", nil)
	withHeader.Header.Set("Authorization", "Bearer header-token")

	withQuery, _ := http.NewRequest(http.MethodGet, "/ws/chat?token=query-token", nil)

	withBoth, _ := http.NewRequest(http.MethodGet, "/ws/chat?token=query-token", nil)
	withBoth.Header.Set("Authorization", "Bearer header-token")

	bare, _ := http.NewRequest(http.MethodGet, "/ws/chat", nil)

	tests := []struct {
		name string
		req  *http.Request
		want string
	}{
		{name: "authorization header", req: withHeader, want: "header-token"},
		{name: "query parameter", req: withQuery, want: "query-token"},
		{name: "header wins over query", req: withBoth, want: "header-token"},
		{name: "no credential", req: bare, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromRequest(tt.req); got != tt.want {
				t.Errorf("FromRequest = %q, want %q", got, tt.want)
			}
		})
	}
}
