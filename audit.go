package authkit

import (
	"io"

	"github.com/torutek/authkit/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one audit record emitted by the Engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the Engine's dispatcher goroutine.
type AuditSink = audit.Sink

// Audit event types.
const (
	AuditNonceIssued     = audit.EventNonceIssued
	AuditNonceRedeemed   = audit.EventNonceRedeemed
	AuditNonceRedeemMiss = audit.EventNonceRedeemMiss
	AuditNonceThrottled  = audit.EventNonceThrottled
	AuditTokenIssued     = audit.EventTokenIssued
	AuditTokenRejected   = audit.EventTokenRejected
)

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink delivers audit events on a buffered channel.
type ChannelSink = audit.ChannelSink

// NewChannelSink returns a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON object per event to w.
func NewJSONWriterSink(w io.Writer) AuditSink {
	return audit.NewJSONWriterSink(w)
}

// NewZapSink logs each event through logger.
func NewZapSink(logger *zap.Logger) AuditSink {
	return audit.NewZapSink(logger)
}

// MultiSink fans events out to several sinks.
func MultiSink(sinks ...AuditSink) AuditSink {
	return audit.MultiSink(sinks)
}
