package authkit

import (
	"slices"
	"testing"
	"time"
)

func TestSecurityReportDefaults(t *testing.T) {
	engine := buildTestEngine(t, nil)

	r := engine.SecurityReport()
	if r.SigningAlgorithm != "hs256" || r.NonceLength != 8 || r.NonceEntropyBits != 32 {
		t.Fatalf("unexpected report %+v", r)
	}
	if r.CacheBackend != CacheMemory || r.FailureLimitActive {
		t.Fatalf("unexpected report %+v", r)
	}
	if !r.CanIssueTokens || r.TokenIssuer != validConfig().JWT.Issuer || r.NonceTTL != 10*time.Minute {
		t.Fatalf("unexpected report %+v", r)
	}
	for _, want := range []string{
		"nonces carry 32 bits or less and no failure limit is set",
		"memory store is not shared between instances",
	} {
		if !slices.Contains(r.Warnings, want) {
			t.Fatalf("expected warning %q in %v", want, r.Warnings)
		}
	}
}

func TestSecurityReportHardened(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine := buildTestEngine(t, func(b *Builder) {
		cfg := validConfig()
		cfg.Passwordless.NonceLength = 16
		cfg.Passwordless.MaxRedeemFailures = 5
		cfg.Passwordless.StrictFormat = true
		cfg.JWT.AccessTTL = 10 * time.Minute
		cfg.Cache.Backend = CacheRedis
		cfg.Cache.RedisAddr = rdb.Options().Addr
		b.WithConfig(cfg)
	})

	r := engine.SecurityReport()
	if !r.FailureLimitActive || !r.SharedFailureLimit || !r.StrictNonceFormat {
		t.Fatalf("unexpected report %+v", r)
	}
	if r.NonceEntropyBits != 64 || r.CacheBackend != CacheRedis {
		t.Fatalf("unexpected report %+v", r)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
}

func TestSecurityReportNilEngine(t *testing.T) {
	var e *Engine
	if r := e.SecurityReport(); r.SigningAlgorithm != "" || r.Warnings != nil {
		t.Fatalf("expected zero report, got %+v", r)
	}
}
