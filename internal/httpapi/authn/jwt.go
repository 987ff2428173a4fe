// Package authn implements the optional bearer-token authentication
// middleware for the relaymem HTTP surface. When no signing key is
// configured the middleware is a no-op passthrough, matching the
// development-mode default named in spec.md §6's "Configuration" section.
package authn

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal identifies the caller a validated bearer token names.
type Principal struct {
	UserID string
}

type principalKey struct{}

// FromContext extracts the [Principal] set by [Middleware], if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// Middleware returns an http.Handler wrapper that validates an
// "Authorization: Bearer <token>" header using signingKey and populates a
// [Principal] in the request context. When signingKey is empty, Middleware
// returns a passthrough that does not touch the request.
func Middleware(signingKey string) func(http.Handler) http.Handler {
	if signingKey == "" {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeUnauthorized(w, "missing bearer token")
				return
			}

			parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
				}
				return []byte(signingKey), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !parsed.Valid {
				writeUnauthorized(w, "invalid bearer token")
				return
			}
			c, ok := parsed.Claims.(*claims)
			if !ok || c.UserID == "" {
				writeUnauthorized(w, "token missing user_id claim")
				return
			}
			if c.ExpiresAt != nil && c.ExpiresAt.Time.Before(time.Now()) {
				writeUnauthorized(w, "token expired")
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, Principal{UserID: c.UserID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}
