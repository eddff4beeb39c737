package authkit

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = testSecret
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "defaults with secret", mutate: func(c *Config) {}, wantValid: true},
		{name: "missing secret", mutate: func(c *Config) { c.JWT.Secret = "" }, wantValid: false},
		{name: "short secret", mutate: func(c *Config) { c.JWT.Secret = "short" }, wantValid: false},
		{name: "private key used as secret", mutate: func(c *Config) {
			c.JWT.Secret = ""
			c.JWT.PrivateKey = []byte(testSecret)
		}, wantValid: true},
		{name: "signing invalid", mutate: func(c *Config) { c.JWT.SigningMethod = "rs256" }, wantValid: false},
		{name: "ed25519 without public key", mutate: func(c *Config) { c.JWT.SigningMethod = "ed25519" }, wantValid: false},
		{name: "blank issuer", mutate: func(c *Config) { c.JWT.Issuer = "  " }, wantValid: false},
		{name: "blank audience", mutate: func(c *Config) { c.JWT.Audience = "  " }, wantValid: false},
		{name: "zero access ttl", mutate: func(c *Config) { c.JWT.AccessTTL = 0 }, wantValid: false},
		{name: "zero nonce ttl", mutate: func(c *Config) { c.Passwordless.NonceTTL = 0 }, wantValid: false},
		{name: "nonce length 64", mutate: func(c *Config) { c.Passwordless.NonceLength = 64 }, wantValid: true},
		{name: "nonce length 65", mutate: func(c *Config) { c.Passwordless.NonceLength = 65 }, wantValid: false},
		{name: "nonce length 0", mutate: func(c *Config) { c.Passwordless.NonceLength = 0 }, wantValid: false},
		{name: "redis without addr", mutate: func(c *Config) { c.Cache.Backend = CacheRedis }, wantValid: false},
		{name: "redis with addr", mutate: func(c *Config) {
			c.Cache.Backend = CacheRedis
			c.Cache.RedisAddr = "localhost:6379"
		}, wantValid: true},
		{name: "valkey without addr", mutate: func(c *Config) { c.Cache.Backend = CacheValkey }, wantValid: false},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Cache.Backend = CachePostgres }, wantValid: false},
		{name: "unknown backend", mutate: func(c *Config) { c.Cache.Backend = "memcached" }, wantValid: false},
		{name: "audit zero buffer", mutate: func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}, wantValid: false},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantValid: false},
		{name: "bad log encoding", mutate: func(c *Config) { c.Log.Encoding = "xml" }, wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.wantValid {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
			}
		})
	}
}

func TestCloneConfigDeepCopiesKeys(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.PrivateKey = []byte("abc")
	cfg.JWT.VerifyKeys = map[string][]byte{"k1": []byte("xyz")}

	out := cloneConfig(cfg)
	cfg.JWT.PrivateKey[0] = 'Z'
	cfg.JWT.VerifyKeys["k1"][0] = 'Z'
	cfg.JWT.VerifyKeys["k2"] = nil

	if string(out.JWT.PrivateKey) != "abc" {
		t.Fatal("private key shares backing array")
	}
	if string(out.JWT.VerifyKeys["k1"]) != "xyz" || len(out.JWT.VerifyKeys) != 1 {
		t.Fatal("verify keys share storage")
	}
}

func unsetAfter(t *testing.T, keys ...string) {
	t.Helper()
	t.Cleanup(func() {
		for _, k := range keys {
			_ = os.Unsetenv(k)
		}
	})
}

func TestLoadConfigFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	content := "AUTHKIT_JWT_SECRET=" + testSecret + "\nAUTHKIT_NONCE_LENGTH=12\nAUTHKIT_CACHE_BACKEND=redis\nAUTHKIT_REDIS_ADDR=127.0.0.1:6390\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	unsetAfter(t, "AUTHKIT_JWT_SECRET", "AUTHKIT_NONCE_LENGTH", "AUTHKIT_CACHE_BACKEND", "AUTHKIT_REDIS_ADDR")
	t.Setenv("AUTHKIT_NONCE_TTL", "5m")

	cfg, err := LoadConfig(envFile)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Passwordless.NonceLength != 12 {
		t.Fatalf("expected nonce length 12, got %d", cfg.Passwordless.NonceLength)
	}
	if cfg.Passwordless.NonceTTL != 5*time.Minute {
		t.Fatalf("expected nonce ttl 5m, got %v", cfg.Passwordless.NonceTTL)
	}
	if cfg.Passwordless.KeyPrefix != "pwl:" {
		t.Fatalf("expected default key prefix, got %q", cfg.Passwordless.KeyPrefix)
	}
	if cfg.Cache.Backend != CacheRedis || cfg.Cache.RedisAddr != "127.0.0.1:6390" {
		t.Fatalf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.JWT.AccessTTL != 15*time.Minute {
		t.Fatalf("expected default access ttl, got %v", cfg.JWT.AccessTTL)
	}
}

func TestLoadConfigMissingFileIsIgnored(t *testing.T) {
	t.Setenv("AUTHKIT_JWT_SECRET", testSecret)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Passwordless.NonceTTL != 10*time.Minute || cfg.Passwordless.NonceLength != 8 {
		t.Fatalf("expected nonce defaults, got %+v", cfg.Passwordless)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("AUTHKIT_JWT_SECRET", testSecret)
	t.Setenv("AUTHKIT_NONCE_LENGTH", "100")

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.env")); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadConfigReadsKeyFiles(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	dir := t.TempDir()
	pubFile := filepath.Join(dir, "jwt.pub")
	if err := os.WriteFile(pubFile, pub, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	t.Setenv("AUTHKIT_JWT_SIGNING_METHOD", "ed25519")
	t.Setenv("AUTHKIT_JWT_PUBLIC_KEY_FILE", pubFile)

	cfg, err := LoadConfig(filepath.Join(dir, "absent.env"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.JWT.PublicKey) != ed25519.PublicKeySize {
		t.Fatalf("expected public key to be loaded, got %d bytes", len(cfg.JWT.PublicKey))
	}
}

func TestDecodeConfigSkipsValidation(t *testing.T) {
	t.Setenv("AUTHKIT_CACHE_BACKEND", "redis")

	cfg, err := DecodeConfig(filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.Cache.Backend != CacheRedis || cfg.Cache.RedisAddr != "" {
		t.Fatalf("unexpected cache config %+v", cfg.Cache)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected decoded config to still fail Validate, got %v", err)
	}
}
