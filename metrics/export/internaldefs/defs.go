package internaldefs

import (
	"github.com/torutek/authkit"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authkit.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   authkit.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: authkit.MetricNonceIssued, Name: "authkit_nonce_issued_total", Help: "Nonces bound to a key."},
	{ID: authkit.MetricNonceRedeemed, Name: "authkit_nonce_redeemed_total", Help: "Nonces redeemed successfully."},
	{ID: authkit.MetricNonceRedeemMiss, Name: "authkit_nonce_redeem_miss_total", Help: "Redemptions of unknown, expired or spent nonces."},
	{ID: authkit.MetricNonceStoreError, Name: "authkit_nonce_store_error_total", Help: "Nonce store failures."},
	{ID: authkit.MetricTokenIssued, Name: "authkit_token_issued_total", Help: "Bearer tokens issued."},
	{ID: authkit.MetricTokenRejected, Name: "authkit_token_rejected_total", Help: "Bearer tokens that failed validation."},
	{ID: authkit.MetricGuardUnauthorized, Name: "authkit_guard_unauthorized_total", Help: "Requests rejected by the route guard with 401."},
	{ID: authkit.MetricGuardForbidden, Name: "authkit_guard_forbidden_total", Help: "Requests rejected by the route guard with 403."},
	{ID: authkit.MetricNonceRateLimited, Name: "authkit_nonce_rate_limited_total", Help: "Redemptions refused after too many failures from one client."},
	{ID: authkit.MetricGuardUndeclared, Name: "authkit_guard_undeclared_total", Help: "Requests routed to handlers without an access declaration."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: authkit.MetricRedeemLatency, Name: "authkit_nonce_redeem_latency_seconds", Help: "Nonce redemption latency."},
	{ID: authkit.MetricValidateLatency, Name: "authkit_token_validate_latency_seconds", Help: "Bearer token validation latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "authkit_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// HistogramBounds are the Prometheus le labels matching the engine buckets.
var HistogramBounds = []string{
	"0.001",
	"0.0025",
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"+Inf",
}

// HistogramBoundSuffix gives instrument-name-safe forms of HistogramBounds.
var HistogramBoundSuffix = []string{
	"0_001",
	"0_0025",
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling or
// truncating as needed.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
