package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject expansions publish to when none
// is configured.
const DefaultSubject = "palimpsest.entity.expanded"

// NATSPublisher forwards change notifications to a NATS subject as
// JSON.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	owned   bool
}

// NewNATSPublisher connects to the NATS server at url and publishes to
// subject (DefaultSubject when empty).
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("event: connect to NATS: %w", err)
	}
	p := NewNATSPublisherConn(conn, subject)
	p.owned = true
	return p, nil
}

// NewNATSPublisherConn wraps an existing connection, which the caller
// remains responsible for closing.
func NewNATSPublisherConn(conn *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

// Publish sends the event to the configured subject.
func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event: marshal event for %s: %w", ev.Identifier, err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("event: publish %s: %w", ev.Identifier, err)
	}
	return nil
}

// Close drains the connection when this publisher owns it.
func (p *NATSPublisher) Close() error {
	if p.owned {
		return p.conn.Drain()
	}
	return nil
}
