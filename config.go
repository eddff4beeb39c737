package authkit

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/torutek/authkit/passwordless"
)

// Config is the complete Engine configuration. Every field can be set from the
// environment through [LoadConfig]; the env tags list the variable names.
type Config struct {
	Passwordless PasswordlessConfig
	JWT          JWTConfig
	Cache        CacheConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
	Log          LogConfig
}

/*
====================================
PASSWORDLESS CONFIG
====================================
*/

// PasswordlessConfig controls nonce issuance.
type PasswordlessConfig struct {
	NonceTTL     time.Duration `env:"AUTHKIT_NONCE_TTL,default=10m"`
	NonceLength  int           `env:"AUTHKIT_NONCE_LENGTH,default=8"`
	KeyPrefix    string        `env:"AUTHKIT_NONCE_KEY_PREFIX,default=pwl:"`
	StrictFormat bool          `env:"AUTHKIT_NONCE_STRICT_FORMAT,default=false"`

	// MaxRedeemFailures caps failed redemptions per client IP within
	// FailureWindow. Zero disables the limit.
	MaxRedeemFailures int           `env:"AUTHKIT_NONCE_MAX_FAILURES,default=0"`
	FailureWindow     time.Duration `env:"AUTHKIT_NONCE_FAILURE_WINDOW,default=15m"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls bearer token issuance and validation.
type JWTConfig struct {
	SigningMethod string        `env:"AUTHKIT_JWT_SIGNING_METHOD,default=hs256"` // "hs256" or "ed25519"
	Issuer        string        `env:"AUTHKIT_JWT_ISSUER,default=authkit"`
	Audience      string        `env:"AUTHKIT_JWT_AUDIENCE"` // defaults to Issuer
	AccessTTL     time.Duration `env:"AUTHKIT_JWT_ACCESS_TTL,default=15m"`
	KeyID         string        `env:"AUTHKIT_JWT_KEY_ID"`

	// Secret is the hs256 key when PrivateKey is empty.
	Secret         string `env:"AUTHKIT_JWT_SECRET"`
	PrivateKeyFile string `env:"AUTHKIT_JWT_PRIVATE_KEY_FILE"`
	PublicKeyFile  string `env:"AUTHKIT_JWT_PUBLIC_KEY_FILE"`

	PrivateKey []byte
	PublicKey  []byte
	VerifyKeys map[string][]byte
}

/*
====================================
CACHE CONFIG
====================================
*/

// Cache backends accepted by CacheConfig.Backend.
const (
	CacheMemory   = "memory"
	CacheRedis    = "redis"
	CacheValkey   = "valkey"
	CachePostgres = "postgres"
)

// CacheConfig selects and configures the nonce backing store. It is ignored
// when a store is supplied through Builder.WithCache.
type CacheConfig struct {
	Backend string `env:"AUTHKIT_CACHE_BACKEND,default=memory"`
	// Optimistic routes redemption through Get + CompareAndDelete instead of
	// the backend's native atomic take.
	Optimistic bool `env:"AUTHKIT_CACHE_OPTIMISTIC,default=false"`

	MemorySweepInterval time.Duration `env:"AUTHKIT_MEMORY_SWEEP_INTERVAL,default=1m"`

	RedisAddr     string `env:"AUTHKIT_REDIS_ADDR"`
	RedisPassword string `env:"AUTHKIT_REDIS_PASSWORD"`
	RedisDB       int    `env:"AUTHKIT_REDIS_DB,default=0"`
	RedisPrefix   string `env:"AUTHKIT_REDIS_PREFIX,default=authkit:"`

	ValkeyAddr string `env:"AUTHKIT_VALKEY_ADDR"`

	PostgresDSN string `env:"AUTHKIT_POSTGRES_DSN"`
	SQLTable    string `env:"AUTHKIT_SQL_TABLE,default=authkit_cache"`
}

/*
====================================
AUDIT / METRICS / LOG CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"AUTHKIT_AUDIT_ENABLED,default=false"`
	BufferSize int  `env:"AUTHKIT_AUDIT_BUFFER,default=1024"`
	DropIfFull bool `env:"AUTHKIT_AUDIT_DROP_IF_FULL,default=true"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"AUTHKIT_METRICS_ENABLED,default=true"`
	EnableLatencyHistograms bool `env:"AUTHKIT_METRICS_LATENCY,default=false"`
}

// LogConfig controls the zap logger built by NewLogger.
type LogConfig struct {
	Level       string `env:"AUTHKIT_LOG_LEVEL,default=info"`
	Development bool   `env:"AUTHKIT_LOG_DEVELOPMENT,default=false"`
	Encoding    string `env:"AUTHKIT_LOG_ENCODING,default=json"` // "json" or "console"
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration LoadConfig starts from.
func DefaultConfig() Config {
	return Config{
		Passwordless: PasswordlessConfig{
			NonceTTL:      passwordless.DefaultTTL,
			NonceLength:   passwordless.DefaultNonceLength,
			KeyPrefix:     passwordless.DefaultKeyPrefix,
			FailureWindow: 15 * time.Minute,
		},
		JWT: JWTConfig{
			SigningMethod: "hs256",
			Issuer:        "authkit",
			AccessTTL:     15 * time.Minute,
		},
		Cache: CacheConfig{
			Backend:             CacheMemory,
			MemorySweepInterval: time.Minute,
			RedisPrefix:         "authkit:",
			SQLTable:            "authkit_cache",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

func (c JWTConfig) hmacSecret() []byte {
	if len(c.PrivateKey) > 0 {
		return c.PrivateKey
	}
	return []byte(c.Secret)
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
LOADING
====================================
*/

// LoadConfig reads optional .env files (default ".env") into the process
// environment, then decodes AUTHKIT_* variables over DefaultConfig. Key files
// named by the JWT section are read into PrivateKey and PublicKey.
func LoadConfig(envFiles ...string) (Config, error) {
	cfg, err := DecodeConfig(envFiles...)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DecodeConfig is LoadConfig without the final Validate, for callers that
// fill in settings of their own before building an Engine.
func DecodeConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := DefaultConfig()
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.loadKeyFiles(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadKeyFiles() error {
	if c.JWT.PrivateKeyFile != "" && len(c.JWT.PrivateKey) == 0 {
		b, err := os.ReadFile(c.JWT.PrivateKeyFile)
		if err != nil {
			return fmt.Errorf("read JWT private key: %w", err)
		}
		c.JWT.PrivateKey = b
	}
	if c.JWT.PublicKeyFile != "" && len(c.JWT.PublicKey) == 0 {
		b, err := os.ReadFile(c.JWT.PublicKeyFile)
		if err != nil {
			return fmt.Errorf("read JWT public key: %w", err)
		}
		c.JWT.PublicKey = b
	}
	return nil
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	// Passwordless
	if c.Passwordless.NonceTTL <= 0 {
		return errors.New("Passwordless NonceTTL must be > 0")
	}
	if c.Passwordless.NonceLength < 1 || c.Passwordless.NonceLength > passwordless.MaxNonceLength {
		return fmt.Errorf("Passwordless NonceLength must be between 1 and %d", passwordless.MaxNonceLength)
	}
	if c.Passwordless.MaxRedeemFailures < 0 {
		return errors.New("Passwordless MaxRedeemFailures must be >= 0")
	}
	if c.Passwordless.MaxRedeemFailures > 0 && c.Passwordless.FailureWindow <= 0 {
		return errors.New("Passwordless FailureWindow must be > 0 when MaxRedeemFailures is set")
	}

	// JWT
	if strings.TrimSpace(c.JWT.Issuer) == "" {
		return errors.New("JWT Issuer is required")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		secret := c.JWT.hmacSecret()
		if len(secret) == 0 && len(c.JWT.VerifyKeys) == 0 {
			return errors.New("hs256 requires Secret or PrivateKey")
		}
		if len(secret) > 0 && len(secret) < 32 {
			return errors.New("hs256 secret must be at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
			return errors.New("ed25519 requires PublicKey or VerifyKeys")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Cache
	switch c.Cache.Backend {
	case CacheMemory:
		if c.Cache.MemorySweepInterval < 0 {
			return errors.New("Cache MemorySweepInterval must be >= 0")
		}
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return errors.New("Cache RedisAddr is required for the redis backend")
		}
		if c.Cache.RedisDB < 0 {
			return errors.New("Cache RedisDB must be >= 0")
		}
	case CacheValkey:
		if c.Cache.ValkeyAddr == "" {
			return errors.New("Cache ValkeyAddr is required for the valkey backend")
		}
	case CachePostgres:
		if c.Cache.PostgresDSN == "" {
			return errors.New("Cache PostgresDSN is required for the postgres backend")
		}
		if strings.TrimSpace(c.Cache.SQLTable) == "" {
			return errors.New("Cache SQLTable must not be blank")
		}
	default:
		return errors.New("Cache Backend must be one of memory, redis, valkey, postgres")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Log
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Encoding != "" && c.Log.Encoding != "json" && c.Log.Encoding != "console" {
		return errors.New("Log Encoding must be 'json' or 'console'")
	}

	return nil
}
