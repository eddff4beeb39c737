package middleware

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/torutek/authkit/jwt"
	"go.uber.org/zap"
)

// Policy is a named authorization check run against verified claims.
type Policy struct {
	Name  string
	Allow func(r *http.Request, claims *jwt.Claims) bool
}

// RequireClaim passes when the string claim name equals one of values, or
// when a list claim contains one of them.
func RequireClaim(name string, values ...string) Policy {
	return Policy{
		Name: "claim:" + name,
		Allow: func(_ *http.Request, claims *jwt.Claims) bool {
			switch v := claims.Extra[name].(type) {
			case string:
				return slices.Contains(values, v)
			case []any:
				for _, item := range v {
					if s, ok := item.(string); ok && slices.Contains(values, s) {
						return true
					}
				}
			}
			return false
		},
	}
}

// RequireSubject passes when the token subject is one of subjects.
func RequireSubject(subjects ...string) Policy {
	return Policy{
		Name: "subject",
		Allow: func(_ *http.Request, claims *jwt.Claims) bool {
			return slices.Contains(subjects, claims.Subject)
		},
	}
}

// Declaration is the authorization requirement attached to one route.
type Declaration struct {
	anonymous bool
	policies  []Policy
}

// AllowAnonymous declares a route reachable without credentials.
func AllowAnonymous() Declaration {
	return Declaration{anonymous: true}
}

// Authorize declares a route that needs a valid bearer token and, if given,
// every policy to pass.
func Authorize(policies ...Policy) Declaration {
	return Declaration{policies: slices.Clone(policies)}
}

// Anonymous reports whether the declaration skips authentication.
func (d Declaration) Anonymous() bool {
	return d.anonymous
}

// Policies maps "METHOD pattern" to a route declaration. Safe for concurrent
// use, though routes are normally declared once during startup.
type Policies struct {
	mu     sync.RWMutex
	routes map[string]Declaration
}

// NewPolicies returns an empty route declaration table.
func NewPolicies() *Policies {
	return &Policies{routes: make(map[string]Declaration)}
}

// Declare records d for method and chi route pattern. A later declaration for
// the same route replaces the earlier one.
func (p *Policies) Declare(method, pattern string, d Declaration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[routeKey(method, pattern)] = d
}

// Lookup returns the declaration for method and pattern.
func (p *Policies) Lookup(method, pattern string) (Declaration, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.routes[routeKey(method, pattern)]
	return d, ok
}

// Len reports the number of declared routes.
func (p *Policies) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.routes)
}

func routeKey(method, pattern string) string {
	return strings.ToUpper(method) + " " + pattern
}

// Handle registers h on r and declares d for the same route.
func Handle(r chi.Router, p *Policies, method, pattern string, d Declaration, h http.Handler) {
	p.Declare(method, pattern, d)
	r.Method(method, pattern, h)
}

// Enforce resolves each request against routes and applies the declared
// requirement. Requests that match no route pass through untouched so the
// router can answer 404 or 405.
func Enforce(routes chi.Routes, p *Policies, v Validator, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pattern, matched := matchRoute(routes, r)
			if !matched {
				next.ServeHTTP(w, r)
				return
			}

			decl, declared := p.Lookup(r.Method, pattern)
			if !declared {
				msg := fmt.Sprintf("route %s %s must declare Authorize or AllowAnonymous", r.Method, pattern)
				logger.Error("undeclared route", zap.String("method", r.Method), zap.String("pattern", pattern))
				observe(v, http.StatusInternalServerError)
				http.Error(w, msg, http.StatusInternalServerError)
				return
			}

			if decl.anonymous {
				next.ServeHTTP(w, r)
				return
			}

			claims, ok := authenticate(w, r, v, logger)
			if !ok {
				return
			}

			for _, policy := range decl.policies {
				if policy.Allow == nil || !policy.Allow(r, claims) {
					logger.Warn("policy rejected request",
						zap.String("method", r.Method),
						zap.String("pattern", pattern),
						zap.String("policy", policy.Name),
						zap.String("sub", claims.Subject))
					reject(w, v, http.StatusForbidden)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func matchRoute(routes chi.Routes, r *http.Request) (string, bool) {
	if routes == nil {
		return "", false
	}
	path := r.URL.RawPath
	if path == "" {
		path = r.URL.Path
	}
	if path == "" {
		path = "/"
	}

	rctx := chi.NewRouteContext()
	if !routes.Match(rctx, r.Method, path) {
		return "", false
	}
	return rctx.RoutePattern(), true
}
