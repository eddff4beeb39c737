package authkit

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/torutek/authkit/cache"
	"github.com/torutek/authkit/internal/audit"
	"github.com/torutek/authkit/internal/rate"
	"github.com/torutek/authkit/jwt"
	"github.com/torutek/authkit/passwordless"
	"go.uber.org/zap"
)

// Builder collects dependencies and produces an Engine.
//
// Builder instances are intended to be configured during initialization and
// used for exactly one Build call.
type Builder struct {
	config    Config
	store     cache.Cache
	logger    *zap.Logger
	auditSink AuditSink
	random    io.Reader
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithCache supplies the nonce store. The Engine does not close a store it did
// not open. Without it, Build opens the backend named by Config.Cache.
func (b *Builder) WithCache(store cache.Cache) *Builder {
	b.store = store
	return b
}

// WithLogger sets the Engine logger. A nil logger disables logging.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink enables audit dispatch to sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithRandom replaces the nonce seed source.
func (b *Builder) WithRandom(r io.Reader) *Builder {
	b.random = r
	return b
}

// WithClock replaces time.Now for token timestamps and the in-memory store.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled overrides Config.Metrics.Enabled.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms overrides Config.Metrics.EnableLatencyHistograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build is BuildContext with a background context.
func (b *Builder) Build() (*Engine, error) {
	return b.BuildContext(context.Background())
}

// BuildContext validates the configuration, opens the configured store when
// none was supplied, and returns a ready Engine. ctx bounds store connection
// checks only.
func (b *Builder) BuildContext(ctx context.Context) (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwtManagerConfig(cfg.JWT, now))
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	// -------- STORE --------
	var owned *openedStore
	store := b.store
	if store == nil {
		owned, err = openStore(ctx, cfg.Cache, now)
		if err != nil {
			return nil, err
		}
		store = owned.cache
	}

	// -------- NONCES --------
	opts := []passwordless.Option{
		passwordless.WithTTL(cfg.Passwordless.NonceTTL),
		passwordless.WithNonceLength(cfg.Passwordless.NonceLength),
		passwordless.WithKeyPrefix(cfg.Passwordless.KeyPrefix),
		passwordless.WithStrictFormat(cfg.Passwordless.StrictFormat),
	}
	if b.random != nil {
		opts = append(opts, passwordless.WithRandom(b.random))
	}
	svc, err := passwordless.NewService(store, opts...)
	if err != nil {
		if owned != nil {
			_ = owned.close()
		}
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	// -------- FAILURE LIMIT --------
	var limiter *rate.Limiter
	if cfg.Passwordless.MaxRedeemFailures > 0 {
		var counter rate.Counter
		if owned != nil && owned.counter != nil {
			counter = owned.counter
		} else {
			counter = rate.NewMemoryCounter(now)
		}
		limiter = rate.New(counter, rate.Config{
			MaxFailures: cfg.Passwordless.MaxRedeemFailures,
			Window:      cfg.Passwordless.FailureWindow,
		})
	}

	engine := &Engine{
		config:  cfg,
		nonces:  svc,
		tokens:  jm,
		owned:   owned,
		limiter: limiter,
		logger:  logger,
		metrics: NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		now: now,
	}

	logger.Info("authkit engine ready",
		zap.String("cache_backend", backendName(cfg.Cache, b.store != nil)),
		zap.Duration("nonce_ttl", cfg.Passwordless.NonceTTL),
		zap.Int("nonce_length", cfg.Passwordless.NonceLength),
		zap.Int("max_redeem_failures", cfg.Passwordless.MaxRedeemFailures),
		zap.String("signing_method", cfg.JWT.SigningMethod),
		zap.Bool("audit", cfg.Audit.Enabled),
		zap.Bool("metrics", cfg.Metrics.Enabled))

	b.built = true

	return engine, nil
}

func jwtManagerConfig(cfg JWTConfig, now func() time.Time) jwt.Config {
	out := jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.SigningMethod),
		PrivateKey:    cloneBytes(cfg.PrivateKey),
		PublicKey:     cloneBytes(cfg.PublicKey),
		Issuer:        cfg.Issuer,
		Audience:      cfg.Audience,
		KeyID:         cfg.KeyID,
		Now:           now,
	}
	if out.SigningMethod == jwt.MethodHS256 {
		out.PrivateKey = cloneBytes(cfg.hmacSecret())
	}
	if len(cfg.VerifyKeys) > 0 {
		out.VerifyKeys = make(map[string][]byte, len(cfg.VerifyKeys))
		for kid, key := range cfg.VerifyKeys {
			out.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func backendName(cfg CacheConfig, supplied bool) string {
	if supplied {
		return "custom"
	}
	if cfg.Optimistic {
		return cfg.Backend + "+optimistic"
	}
	return cfg.Backend
}
