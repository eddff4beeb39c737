package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Event types emitted by the Engine.
const (
	EventNonceIssued     = "nonce_issued"
	EventNonceRedeemed   = "nonce_redeemed"
	EventNonceRedeemMiss = "nonce_redeem_miss"
	EventNonceThrottled  = "nonce_throttled"
	EventTokenIssued     = "token_issued"
	EventTokenRejected   = "token_rejected"
)

// Event is a single audit record.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Subject   string            `json:"subject,omitempty"`
	NonceRef  string            `json:"nonce_ref,omitempty"`
	TokenID   string            `json:"token_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NonceRef returns a short, non-reversible reference to nonce suitable for
// logs and audit trails.
func NonceRef(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:6])
}
