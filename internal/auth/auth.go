// Package auth resolves the authenticated principal of a request. Authentication is
// optional: requests without a valid token proceed anonymously, and the principal is
// only used to partition rate limits.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type principalKey struct{}

// WithPrincipal returns ctx carrying the principal name.
func WithPrincipal(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, principalKey{}, name)
}

// PrincipalFromContext returns the principal name stored by PrincipalMiddleware.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(principalKey{}).(string)
	return name, ok && name != ""
}

// Verifier checks HS256 bearer tokens and extracts one claim as the principal name.
type Verifier struct {
	secret []byte
	claim  string
}

// NewVerifier returns a Verifier, or nil when secret is empty (authentication disabled).
// claim defaults to "sub".
func NewVerifier(secret, claim string) *Verifier {
	if secret == "" {
		return nil
	}
	if claim == "" {
		claim = "sub"
	}
	return &Verifier{secret: []byte(secret), claim: claim}
}

// Principal validates tokenStr and returns the configured claim.
func (v *Verifier) Principal(tokenStr string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	name, _ := claims[v.claim].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("verify token: claim %q missing", v.claim)
	}
	return name, nil
}

// Sign issues an HS256 token naming principal in the configured claim. Used by tests
// and local tooling.
func (v *Verifier) Sign(principal string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		v.claim: principal,
		"exp":   time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// PrincipalMiddleware stores the verified principal in the request context. A nil
// verifier, a missing header, or an invalid token leaves the request anonymous.
func PrincipalMiddleware(v *Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if v == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}
			name, err := v.Principal(strings.TrimSpace(strings.TrimPrefix(authz, "Bearer ")))
			if err != nil {
				if logger != nil {
					logger.Debug("ignoring bearer token", zap.Error(err), zap.Bool("expired", errors.Is(err, jwt.ErrTokenExpired)))
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), name)))
		})
	}
}
