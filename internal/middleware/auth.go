package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type authCtxKey int

const authKey authCtxKey = 7

// RoleAnon is the role carried by keys embedded in participant clients.
const RoleAnon = "anon"

// APIKeyClaims identify a project key. Keys carry no participant identity.
type APIKeyClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SignAPIKey issues an HS256 project key. A zero ttl never expires.
func SignAPIKey(secret []byte, role string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("api secret is empty")
	}
	now := time.Now()
	claims := APIKeyClaims{Role: role, RegisteredClaims: jwt.RegisteredClaims{Issuer: "flashtrack", IssuedAt: jwt.NewNumericDate(now)}}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseAPIKey validates tok against secret and returns its claims.
func ParseAPIKey(secret []byte, tok string) (*APIKeyClaims, error) {
	t, err := jwt.ParseWithClaims(tok, &APIKeyClaims{}, func(token *jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*APIKeyClaims); ok && t.Valid && c.Role != "" {
		return c, nil
	}
	return nil, errors.New("invalid api key")
}

func keyFromRequest(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get("apikey")); k != "" {
		return k
	}
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// RequireAPIKey rejects /api requests without a valid project key taken
// from the apikey header or a bearer token. Other paths such as /health
// and /version pass through.
func RequireAPIKey(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/api/") || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			c, err := ParseAPIKey(secret, keyFromRequest(r))
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), authKey, c)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RoleFromContext(ctx context.Context) (string, bool) {
	if c, ok := ctx.Value(authKey).(*APIKeyClaims); ok && c.Role != "" {
		return c.Role, true
	}
	return "", false
}
