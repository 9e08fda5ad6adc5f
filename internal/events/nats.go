package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// messageSubject is the subject forwarded-message events are published on.
const messageSubject = "napgram.message"

// NATSClient interface to allow mocking.
type NATSClient interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher implements Publisher over a NATS connection.
type NATSPublisher struct {
	conn NATSClient
}

// NewNATSPublisher creates a new publisher.
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

// PublishMessage publishes a forwarded-message event.
func (p *NATSPublisher) PublishMessage(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.conn.Publish(messageSubject, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	return nil
}
