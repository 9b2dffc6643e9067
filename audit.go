package medauth

import (
	"io"

	"github.com/avenlock/medauth/internal/audit"
)

// AuditEvent is the record delivered to the configured audit sink for every
// security-relevant decision the engine makes.
type AuditEvent = audit.Event

// AuditSink receives audit events. Implementations must be safe for
// concurrent use; slow sinks only delay the background dispatcher, never a
// request.
type AuditSink = audit.Sink

// NoOpAuditSink discards all events.
type NoOpAuditSink = audit.NoOpSink

// NewChannelAuditSink returns a sink backed by a buffered channel, useful in
// tests and embedders with their own event loop.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONAuditSink returns a sink writing one JSON event per line.
func NewJSONAuditSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)
