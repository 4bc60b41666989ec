package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSPublisher publishes audit events to a NATS subject hierarchy. The
// event type becomes the subject suffix, so "learning.outcome" with
// prefix "advisord.audit" publishes on "advisord.audit.learning.outcome".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher connects to NATS and returns a publisher.
func NewNATSPublisher(url, subjectPrefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url cannot be empty")
	}
	if subjectPrefix == "" {
		return nil, fmt.Errorf("subject prefix cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name("advisord-audit"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: strings.TrimSuffix(subjectPrefix, "."),
		logger: logger,
	}, nil
}

// Publish marshals the event to JSON and publishes it. Publishing is
// fire-and-forget; a disconnected client buffers until reconnect.
func (p *NATSPublisher) Publish(_ context.Context, event Event) error {
	if event.Type == "" {
		return ErrEmptyType
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	subject := p.prefix + "." + event.Type
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection so buffered events flush before shutdown.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("draining nats connection", zap.Error(err))
		p.conn.Close()
	}
	return nil
}

var _ Publisher = (*NATSPublisher)(nil)
