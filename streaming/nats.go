package streaming

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/structa/flowgate/core"
)

// NATSPublisher mirrors execution events onto a NATS subject tree so other
// services can observe runs without holding an in-process subscription.
// Subjects follow "<prefix>.<execution_id>.<event_type>".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger core.Logger
}

// NATSOption configures a NATSPublisher.
type NATSOption func(*NATSPublisher)

// WithSubjectPrefix overrides the default "flowgate.events" prefix.
func WithSubjectPrefix(prefix string) NATSOption {
	return func(p *NATSPublisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithNATSLogger sets the logger for publish failures.
func WithNATSLogger(logger core.Logger) NATSOption {
	return func(p *NATSPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewNATSPublisher wraps an established connection. The caller owns the
// connection lifecycle.
func NewNATSPublisher(conn *nats.Conn, opts ...NATSOption) *NATSPublisher {
	p := &NATSPublisher{
		conn:   conn,
		prefix: "flowgate.events",
		logger: &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends the event to NATS. Failures are logged and returned but
// callers treat event mirroring as best effort.
func (p *NATSPublisher) Publish(event Event) error {
	payload, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.subject(event)
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn("Failed to publish event to NATS", map[string]interface{}{
			"subject":      subject,
			"execution_id": event.ExecutionID,
			"error":        err.Error(),
		})
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) subject(event Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, event.ExecutionID, event.Type)
}
