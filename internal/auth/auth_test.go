package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestFromRequestDevMode(t *testing.T) {
	v := NewVerifier("")

	r := httptest.NewRequest("GET", "/v1/sessions/mine", nil)
	r.Header.Set("X-User-ID", "u1")
	r.Header.Set("X-Username", "alice")

	id, err := v.FromRequest(r)
	if err != nil {
		t.Fatalf("FromRequest() error = %v", err)
	}
	if id.UserID != "u1" || id.Username != "alice" {
		t.Fatalf("identity = %+v", id)
	}
}

func TestFromRequestDevModeMissingUser(t *testing.T) {
	v := NewVerifier("")
	r := httptest.NewRequest("GET", "/v1/sessions/mine", nil)
	if _, err := v.FromRequest(r); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("error = %v, want ErrMissingCredentials", err)
	}
}

func TestFromRequestValidBearer(t *testing.T) {
	v := NewVerifier(testSecret)
	signed := signToken(t, testSecret, jwt.MapClaims{
		"sub":      "u1",
		"username": "alice",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})

	r := httptest.NewRequest("GET", "/v1/sessions/mine", nil)
	r.Header.Set("Authorization", "Bearer "+signed)

	id, err := v.FromRequest(r)
	if err != nil {
		t.Fatalf("FromRequest() error = %v", err)
	}
	if id.UserID != "u1" || id.Username != "alice" {
		t.Fatalf("identity = %+v", id)
	}
}

func TestFromRequestQueryToken(t *testing.T) {
	v := NewVerifier(testSecret)
	signed := signToken(t, testSecret, jwt.MapClaims{
		"sub": "u2",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	r := httptest.NewRequest("GET", "/v1/sessions/ws?access_token="+signed, nil)
	id, err := v.FromRequest(r)
	if err != nil {
		t.Fatalf("FromRequest() error = %v", err)
	}
	if id.UserID != "u2" {
		t.Fatalf("UserID = %q, want %q", id.UserID, "u2")
	}
	if id.Username != "u2" {
		t.Fatalf("Username should fall back to sub, got %q", id.Username)
	}
}

func TestFromRequestRejectsBadTokens(t *testing.T) {
	v := NewVerifier(testSecret)

	expired := signToken(t, testSecret, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signToken(t, "other-secret", jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	noSubject := signToken(t, testSecret, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	cases := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong key", wrongKey},
		{"no subject", noSubject},
		{"garbage", "not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.Header.Set("Authorization", "Bearer "+tc.token)
			if _, err := v.FromRequest(r); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestFromRequestMissingBearer(t *testing.T) {
	v := NewVerifier(testSecret)
	r := httptest.NewRequest("GET", "/", nil)
	if _, err := v.FromRequest(r); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("error = %v, want ErrMissingCredentials", err)
	}
}
