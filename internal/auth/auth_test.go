package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fenggwsx/StayChat/internal/config"
)

var testJWT = config.JWTConfig{Secret: "test-secret", Issuer: "staychat-test", Expiration: time.Hour}

func TestTokenRoundTrip(t *testing.T) {
	token, expiresAt, err := NewToken(testJWT, "u1", "Alice")
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expiry in the past: %s", expiresAt)
	}
	claims, err := ParseToken(testJWT, token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != "u1" || claims.Name != "Alice" || claims.Subject != "u1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	valid, _, err := NewToken(testJWT, "u1", "Alice")
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	expired, _, err := NewToken(config.JWTConfig{Secret: testJWT.Secret, Issuer: testJWT.Issuer, Expiration: -time.Minute}, "u1", "Alice")
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}

	tests := []struct {
		name  string
		cfg   config.JWTConfig
		token string
	}{
		{"empty", testJWT, ""},
		{"garbage", testJWT, "not-a-jwt"},
		{"wrong secret", config.JWTConfig{Secret: "other", Issuer: testJWT.Issuer}, valid},
		{"wrong issuer", config.JWTConfig{Secret: testJWT.Secret, Issuer: "elsewhere"}, valid},
		{"expired", testJWT, expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.cfg, tt.token); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter2", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := ComparePassword(hash, "hunter2"); err != nil {
		t.Fatalf("ComparePassword: %v", err)
	}
	if err := ComparePassword(hash, "hunter3"); err == nil {
		t.Fatal("expected mismatch")
	}
	if _, err := HashPassword("", 0); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"bearer header", "/ws", "Bearer abc", "abc"},
		{"lowercase scheme", "/ws", "bearer abc", "abc"},
		{"query fallback", "/ws?token=xyz", "", "xyz"},
		{"header wins", "/ws?token=xyz", "Bearer abc", "abc"},
		{"other scheme", "/ws", "Basic abc", ""},
		{"none", "/ws", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := TokenFromRequest(req); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
