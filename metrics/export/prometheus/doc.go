// Package prometheus serves engine metrics in the Prometheus text exposition
// format without depending on a Prometheus client library or registry.
//
// Counters are named authkit_*_total. The two latency histograms are
// authkit_nonce_redeem_latency_seconds and authkit_token_validate_latency_seconds
// and appear only when latency histograms are enabled on the engine.
// Rendering never mutates engine state.
package prometheus
