package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"emcp-client/internal/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PaymentEventType payment lifecycle stage
type PaymentEventType string

const (
	PaymentAttempt PaymentEventType = "attempt"
	PaymentSuccess PaymentEventType = "success"
	PaymentFailure PaymentEventType = "failure"
)

// PaymentEvent emitted around every paid invocation
type PaymentEvent struct {
	ID          string           `json:"id"`
	Type        PaymentEventType `json:"type"`
	ToolID      string           `json:"tool_id"`
	Amount      string           `json:"amount,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	Receiver    string           `json:"receiver,omitempty"`
	Transaction string           `json:"transaction,omitempty"`
	Error       string           `json:"error,omitempty"`
	ErrorKind   string           `json:"error_kind,omitempty"`
	Duration    time.Duration    `json:"duration_ns,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Publisher emits payment events
type Publisher interface {
	Publish(ctx context.Context, event PaymentEvent) error
}

// MessagePublisher raw subject publisher (satisfied by *nats.Conn and clients.NATSClient)
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events to <prefix>.payments.<type>
type NATSPublisher struct {
	conn   MessagePublisher
	prefix string
}

func NewNATSPublisher(conn MessagePublisher, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "emcp"
	}
	return &NATSPublisher{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject for an event type
func (p *NATSPublisher) Subject(t PaymentEventType) string {
	return fmt.Sprintf("%s.payments.%s", p.prefix, t)
}

func (p *NATSPublisher) Publish(_ context.Context, event PaymentEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode payment event: %w", err)
	}

	subject := p.Subject(event.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		metrics.NATSMessagesFailed.WithLabelValues(string(event.Type)).Inc()
		return fmt.Errorf("failed to publish payment event: %w", err)
	}
	metrics.NATSMessagesPublished.WithLabelValues(string(event.Type)).Inc()

	logrus.WithFields(logrus.Fields{
		"subject": subject,
		"tool_id": event.ToolID,
		"tx":      event.Transaction,
	}).Debug("📤 [Events] Payment event published")
	return nil
}

// NoopPublisher discards events
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, PaymentEvent) error { return nil }
