package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/torutek/authkit"
	"github.com/torutek/authkit/metrics/export/prometheus"
	"github.com/torutek/authkit/middleware"
	"go.uber.org/zap"
)

type nonceRequest struct {
	Key string `json:"key" validate:"required,max=256"`
}

type tokenRequest struct {
	Nonce string `json:"nonce" validate:"required,max=64"`
}

type server struct {
	engine   *authkit.Engine
	logger   *zap.Logger
	validate *validator.Validate
	// exposeNonce echoes issued nonces in the response body instead of only
	// logging them. Local use only.
	exposeNonce bool
	// trustProxy takes the client IP from X-Forwarded-For / X-Real-IP. Only
	// safe behind a proxy that overwrites those headers.
	trustProxy bool
}

func newServer(engine *authkit.Engine, logger *zap.Logger, exposeNonce, trustProxy bool) *server {
	return &server{
		engine:      engine,
		logger:      logger,
		validate:    validator.New(),
		exposeNonce: exposeNonce,
		trustProxy:  trustProxy,
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	policies := middleware.NewPolicies()

	r.Use(chimw.RequestID)
	if s.trustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(clientIP)
	r.Use(middleware.Enforce(r, policies, s.engine, s.logger))

	middleware.Handle(r, policies, http.MethodPost, "/auth/nonce", middleware.AllowAnonymous(), http.HandlerFunc(s.handleNonce))
	middleware.Handle(r, policies, http.MethodPost, "/auth/token", middleware.AllowAnonymous(), http.HandlerFunc(s.handleToken))
	middleware.Handle(r, policies, http.MethodGet, "/me", middleware.Authorize(), http.HandlerFunc(s.handleMe))
	middleware.Handle(r, policies, http.MethodGet, "/healthz", middleware.AllowAnonymous(), http.HandlerFunc(handleHealth))
	middleware.Handle(r, policies, http.MethodGet, "/metrics", middleware.AllowAnonymous(),
		prometheus.NewPrometheusExporter(s.engine).Handler())

	return r
}

func (s *server) handleNonce(w http.ResponseWriter, r *http.Request) {
	var req nonceRequest
	if !s.decode(w, r, &req) {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	nonce, err := s.engine.GenerateNonce(r.Context(), req.Key)
	if err != nil {
		if errors.Is(err, authkit.ErrInvalidKey) {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable")
		return
	}

	// Stands in for mail or SMS delivery.
	s.logger.Debug("deliver nonce", zap.String("key", req.Key), zap.String("nonce", nonce))

	resp := map[string]any{
		"status":     "sent",
		"expires_in": int64(s.engine.NonceTTL() / time.Second),
	}
	if s.exposeNonce {
		resp["nonce"] = nonce
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !s.decode(w, r, &req) {
		writeError(w, http.StatusUnauthorized, "invalid_nonce")
		return
	}

	token, err := s.engine.ExchangeNonce(r.Context(), req.Nonce)
	switch {
	case err == nil:
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, token)
	case errors.Is(err, authkit.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "slow_down")
	case errors.Is(err, authkit.ErrNonceStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable")
	default:
		writeError(w, http.StatusUnauthorized, "invalid_nonce")
	}
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject":    claims.Subject,
		"expires_at": claims.ExpiresAt.UTC(),
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return false
	}
	return s.validate.Struct(dst) == nil
}

func clientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(authkit.WithClientIP(r.Context(), ip)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
