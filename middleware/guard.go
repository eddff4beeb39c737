package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/torutek/authkit/jwt"
	"go.uber.org/zap"
)

// Validator verifies a raw bearer token.
type Validator interface {
	ValidateToken(ctx context.Context, token string) (*jwt.Claims, error)
}

// Observer is implemented by validators that count guard rejections. status
// is the HTTP status the guard answered with: 401, 403, or 500 for an
// undeclared route.
type Observer interface {
	ObserveGuard(status int)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by [Authenticate] or [Enforce].
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*jwt.Claims)
	return claims, ok && claims != nil
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, claims *jwt.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// Authenticate rejects requests without a valid bearer token with 401.
func Authenticate(v Validator, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := authenticate(w, r, v, logger)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// authenticate writes the 401 itself when it returns false.
func authenticate(w http.ResponseWriter, r *http.Request, v Validator, logger *zap.Logger) (*jwt.Claims, bool) {
	if v == nil {
		logger.Error("guard has no validator", zap.String("path", r.URL.Path))
		reject(w, v, http.StatusUnauthorized)
		return nil, false
	}

	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		logger.Warn("missing bearer token",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		reject(w, v, http.StatusUnauthorized)
		return nil, false
	}

	claims, err := v.ValidateToken(r.Context(), token)
	if err != nil {
		logger.Warn("token validation failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		reject(w, v, http.StatusUnauthorized)
		return nil, false
	}

	return claims, true
}

func reject(w http.ResponseWriter, v Validator, status int) {
	observe(v, status)
	if status == http.StatusForbidden {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func observe(v Validator, status int) {
	if o, ok := v.(Observer); ok {
		o.ObserveGuard(status)
	}
}

func bearerToken(value string) (string, bool) {
	scheme, token, found := strings.Cut(value, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}

	return token, true
}
