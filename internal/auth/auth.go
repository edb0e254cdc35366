package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Identity is the verified caller, as issued by the external identity
// service. This package only verifies; it never issues tokens.
type Identity struct {
	UserID   string
	Username string
}

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Verifier extracts a caller identity from an HTTP request. With a
// secret configured it verifies HS256 bearer tokens; without one it
// runs in dev mode and trusts plain identity headers.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &Verifier{}
	}
	return &Verifier{secret: []byte(secret)}
}

// FromRequest resolves the caller identity. Browser websocket clients
// cannot set headers, so a bearer token is also accepted via the
// access_token query parameter.
func (v *Verifier) FromRequest(r *http.Request) (Identity, error) {
	if len(v.secret) == 0 {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
		}
		if userID == "" {
			return Identity{}, ErrMissingCredentials
		}
		username := strings.TrimSpace(r.Header.Get("X-Username"))
		if username == "" {
			username = strings.TrimSpace(r.URL.Query().Get("username"))
		}
		if username == "" {
			username = userID
		}
		return Identity{UserID: userID, Username: username}, nil
	}

	raw := bearerToken(r)
	if raw == "" {
		return Identity{}, ErrMissingCredentials
	}
	return v.parse(raw)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func (v *Verifier) parse(raw string) (Identity, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Identity{}, ErrInvalidToken
	}
	username, _ := claims["username"].(string)
	if username == "" {
		username, _ = claims["name"].(string)
	}
	if username == "" {
		username = sub
	}
	return Identity{UserID: sub, Username: username}, nil
}
