package authkit

import "time"

// weakNonceBits is the entropy below which guessing a live nonce is practical
// without a failure limit.
const weakNonceBits = 32

// SecurityReport is a read-only summary of the Engine's security posture.
type SecurityReport struct {
	SigningAlgorithm   string
	TokenIssuer        string
	CanIssueTokens     bool
	AccessTTL          time.Duration
	NonceTTL           time.Duration
	NonceLength        int
	NonceEntropyBits   int
	StrictNonceFormat  bool
	FailureLimitActive bool
	SharedFailureLimit bool
	CacheBackend       string
	AuditEnabled       bool
	// Warnings lists settings worth revisiting before production use.
	Warnings []string
}

// SecurityReport describes how the Engine is configured.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	pw := e.config.Passwordless
	limited := e.limiter != nil
	shared := limited && e.owned != nil && e.owned.counter != nil

	r := SecurityReport{
		SigningAlgorithm:   e.config.JWT.SigningMethod,
		AccessTTL:          e.config.JWT.AccessTTL,
		NonceTTL:           pw.NonceTTL,
		NonceLength:        pw.NonceLength,
		StrictNonceFormat:  pw.StrictFormat,
		FailureLimitActive: limited,
		SharedFailureLimit: shared,
		CacheBackend:       backendName(e.config.Cache, e.owned == nil),
		AuditEnabled:       e.config.Audit.Enabled,
	}
	if e.nonces != nil {
		r.NonceTTL = e.nonces.TTL()
		r.NonceLength = e.nonces.NonceLength()
	}
	r.NonceEntropyBits = r.NonceLength * 4
	if e.tokens != nil {
		r.TokenIssuer = e.tokens.Issuer()
		r.CanIssueTokens = e.tokens.CanSign()
	}

	if !r.CanIssueTokens {
		r.Warnings = append(r.Warnings, "no signing key, nonces cannot be exchanged for tokens")
	}

	if r.NonceEntropyBits <= weakNonceBits && !limited {
		r.Warnings = append(r.Warnings, "nonces carry 32 bits or less and no failure limit is set")
	}
	if limited && !shared {
		r.Warnings = append(r.Warnings, "failure limit is per process")
	}
	if e.config.Cache.Backend == CacheMemory && e.owned != nil {
		r.Warnings = append(r.Warnings, "memory store is not shared between instances")
	}
	if e.config.JWT.AccessTTL > time.Hour {
		r.Warnings = append(r.Warnings, "access tokens live longer than one hour")
	}

	return r
}
