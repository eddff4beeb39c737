package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/torutek/authkit/internal/audit"
	"github.com/torutek/authkit/internal/rate"
	"github.com/torutek/authkit/jwt"
	"github.com/torutek/authkit/passwordless"
	"go.uber.org/zap"
)

// Engine issues and redeems passwordless nonces and the bearer tokens they
// are exchanged for.
//
// Engine instances are immutable after Build and safe for concurrent use.
type Engine struct {
	config  Config
	nonces  *passwordless.Service
	tokens  *jwt.Manager
	owned   *openedStore
	limiter *rate.Limiter
	logger  *zap.Logger
	audit   *audit.Dispatcher
	metrics *Metrics
	now     func() time.Time
}

// TokenResult is a freshly issued bearer token.
type TokenResult struct {
	Token     string    `json:"access_token"`
	TokenType string    `json:"token_type"`
	Subject   string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int64     `json:"expires_in"`
}

// Close flushes pending audit events and closes any store the Engine opened.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.owned != nil {
		return e.owned.close()
	}
	return nil
}

// AuditDropped reports how many audit events were dropped because the buffer
// was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}
	return e.metrics.Snapshot()
}

// Logger returns the Engine's logger, never nil.
func (e *Engine) Logger() *zap.Logger {
	if e == nil || e.logger == nil {
		return zap.NewNop()
	}
	return e.logger
}

// NonceTTL reports how long issued nonces stay redeemable.
func (e *Engine) NonceTTL() time.Duration {
	if e == nil || e.nonces == nil {
		return 0
	}
	return e.nonces.TTL()
}

// AccessTTL reports the lifetime of issued bearer tokens.
func (e *Engine) AccessTTL() time.Duration {
	return e.config.JWT.AccessTTL
}

/*
====================================
NONCES
====================================
*/

// GenerateNonce binds a fresh nonce to key for the configured TTL.
//
// It returns ErrInvalidKey for an empty key and ErrNonceStoreUnavailable when
// the store write fails.
func (e *Engine) GenerateNonce(ctx context.Context, key string) (string, error) {
	if e == nil || e.nonces == nil {
		return "", ErrEngineNotReady
	}

	nonce, err := e.nonces.GenerateNonce(ctx, key)
	if err != nil {
		if errors.Is(err, passwordless.ErrEmptyKey) {
			return "", ErrInvalidKey
		}
		if errors.Is(err, passwordless.ErrStoreUnavailable) {
			e.metrics.Inc(MetricNonceStoreError)
			e.logger.Error("nonce store write failed", zap.Error(err))
			return "", fmt.Errorf("%w: %w", ErrNonceStoreUnavailable, err)
		}
		e.logger.Error("nonce generation failed", zap.Error(err))
		return "", err
	}

	ref := audit.NonceRef(nonce)
	e.metrics.Inc(MetricNonceIssued)
	e.logger.Debug("nonce issued", zap.String("nonce_ref", ref))
	e.emitAudit(ctx, audit.Event{
		EventType: audit.EventNonceIssued,
		Subject:   key,
		NonceRef:  ref,
		Success:   true,
	})

	return nonce, nil
}

// GetKeyFromNonce redeems nonce. The first redemption of a live nonce returns
// its key and ok == true; unknown, expired and already-redeemed nonces all
// return ok == false with a nil error.
//
// When a failure limit is configured and ctx carries a client IP (see
// WithClientIP), a client that has used up its budget gets ErrRateLimited
// without the store being consulted.
func (e *Engine) GetKeyFromNonce(ctx context.Context, nonce string) (string, bool, error) {
	if e == nil || e.nonces == nil {
		return "", false, ErrEngineNotReady
	}

	ref := audit.NonceRef(nonce)
	ip := clientIPFromContext(ctx)
	reserved, err := e.reserveAttempt(ctx, ip, ref)
	if err != nil {
		return "", false, err
	}

	start := time.Now()
	key, ok, err := e.nonces.GetKeyFromNonce(ctx, nonce)
	e.metrics.Observe(MetricRedeemLatency, time.Since(start))

	if err != nil {
		if reserved {
			e.releaseAttempt(ctx, ip)
		}
		e.metrics.Inc(MetricNonceStoreError)
		e.logger.Error("nonce store take failed", zap.String("nonce_ref", ref), zap.Error(err))
		return "", false, fmt.Errorf("%w: %w", ErrNonceStoreUnavailable, err)
	}

	if !ok {
		// The reserved attempt stays counted as a failure.
		e.metrics.Inc(MetricNonceRedeemMiss)
		e.logger.Debug("nonce redeem miss", zap.String("nonce_ref", ref))
		e.emitAudit(ctx, audit.Event{
			EventType: audit.EventNonceRedeemMiss,
			NonceRef:  ref,
			Error:     "not_found",
		})
		return "", false, nil
	}

	if reserved {
		e.releaseAttempt(ctx, ip)
	}
	e.metrics.Inc(MetricNonceRedeemed)
	e.emitAudit(ctx, audit.Event{
		EventType: audit.EventNonceRedeemed,
		Subject:   key,
		NonceRef:  ref,
		Success:   true,
	})

	return key, true, nil
}

// ExchangeNonce redeems nonce and issues a bearer token whose subject is the
// bound key. Every kind of miss yields ErrUnauthorized.
//
// An Engine configured with verification keys only returns ErrTokenIssueFailed
// without redeeming the nonce.
func (e *Engine) ExchangeNonce(ctx context.Context, nonce string) (*TokenResult, error) {
	if e != nil && e.tokens != nil && !e.tokens.CanSign() {
		return nil, fmt.Errorf("%w: %w", ErrTokenIssueFailed, jwt.ErrNoSigningKey)
	}

	key, ok, err := e.GetKeyFromNonce(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnauthorized
	}
	return e.IssueToken(ctx, key, nil)
}

/*
====================================
TOKENS
====================================
*/

// IssueToken signs a bearer token for subject valid for the configured
// AccessTTL. extra carries private claims; registered claim names are rejected.
func (e *Engine) IssueToken(ctx context.Context, subject string, extra map[string]any) (*TokenResult, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	ttl := e.config.JWT.AccessTTL
	issuedAt := e.now()
	token, err := e.tokens.IssueToken(subject, ttl, extra)
	if err != nil {
		e.logger.Error("token issue failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrTokenIssueFailed, err)
	}

	e.metrics.Inc(MetricTokenIssued)
	e.emitAudit(ctx, audit.Event{
		EventType: audit.EventTokenIssued,
		Subject:   subject,
		Success:   true,
	})

	return &TokenResult{
		Token:     token,
		TokenType: "Bearer",
		Subject:   subject,
		ExpiresAt: issuedAt.Add(ttl).Truncate(time.Second),
		ExpiresIn: int64(ttl / time.Second),
	}, nil
}

// ValidateToken verifies a bearer token and returns its claims. All failures
// are reported as ErrTokenInvalid.
func (e *Engine) ValidateToken(ctx context.Context, token string) (*jwt.Claims, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	claims, err := e.tokens.ParseToken(token)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))
	if err != nil {
		e.metrics.Inc(MetricTokenRejected)
		e.emitAudit(ctx, audit.Event{
			EventType: audit.EventTokenRejected,
			Error:     "invalid_token",
		})
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	return claims, nil
}

// ObserveGuard records a route guard rejection by HTTP status.
func (e *Engine) ObserveGuard(status int) {
	if e == nil {
		return
	}
	switch status {
	case http.StatusUnauthorized:
		e.metrics.Inc(MetricGuardUnauthorized)
	case http.StatusForbidden:
		e.metrics.Inc(MetricGuardForbidden)
	case http.StatusInternalServerError:
		e.metrics.Inc(MetricGuardUndeclared)
		e.logger.Error("guard rejected request", zap.Error(ErrUndeclaredRoute))
	}
}

// PurgeExpired removes expired rows from stores that keep them (PostgreSQL).
// Other backends expire entries themselves and report zero.
func (e *Engine) PurgeExpired(ctx context.Context) (int64, error) {
	if e == nil || e.owned == nil || e.owned.purge == nil {
		return 0, nil
	}
	n, err := e.owned.purge(ctx)
	if err != nil {
		e.logger.Warn("purge expired nonces failed", zap.Error(err))
		return 0, fmt.Errorf("%w: %w", ErrNonceStoreUnavailable, err)
	}
	return n, nil
}

// reserveAttempt claims one redemption attempt for ip before the store is
// consulted. It reports whether an attempt was reserved.
func (e *Engine) reserveAttempt(ctx context.Context, ip, ref string) (bool, error) {
	if e.limiter == nil || ip == "" {
		return false, nil
	}

	err := e.limiter.Reserve(ctx, ip)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, rate.ErrRateLimited):
		e.metrics.Inc(MetricNonceRateLimited)
		e.logger.Warn("nonce redemption throttled", zap.String("ip", ip))
		e.emitAudit(ctx, audit.Event{
			EventType: audit.EventNonceThrottled,
			NonceRef:  ref,
			Error:     "rate_limited",
		})
		return false, ErrRateLimited
	default:
		e.metrics.Inc(MetricNonceStoreError)
		e.logger.Error("failure counter reserve failed", zap.Error(err))
		return false, fmt.Errorf("%w: %w", ErrNonceStoreUnavailable, err)
	}
}

// releaseAttempt hands back an attempt that did not end in a miss. Counter
// errors are logged only; the redemption has already been answered.
func (e *Engine) releaseAttempt(ctx context.Context, ip string) {
	if err := e.limiter.Release(ctx, ip); err != nil {
		e.logger.Warn("failure counter release failed", zap.Error(err))
	}
}

func (e *Engine) emitAudit(ctx context.Context, event audit.Event) {
	if e == nil || e.audit == nil {
		return
	}
	event.Timestamp = e.now().UTC()
	event.IP = clientIPFromContext(ctx)
	e.audit.Emit(ctx, event)
}
