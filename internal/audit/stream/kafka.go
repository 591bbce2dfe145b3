// Package stream publishes audit events to Kafka for the log-shipping worker.
// Publishing is best-effort: a slow or absent broker never blocks the request
// path beyond a short timeout.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Event is the wire form of one audit event on the topic.
type Event struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Action    string `json:"action"`
	Metadata  string `json:"metadata,omitempty"`
	CreatedAt string `json:"created_at"` // RFC3339Nano
}

// Publisher writes audit events to a Kafka topic. Implements audit.AuditLogger.
type Publisher struct {
	writer *kafka.Writer
	log    *logrus.Logger
}

// NewPublisher creates a Kafka publisher for the given topic. Returns nil when
// brokers or topic are unset so callers can wire it unconditionally. Call
// Close when shutting down.
func NewPublisher(brokers []string, topic string, log *logrus.Logger) *Publisher {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Publisher{writer: writer, log: log}
}

// LogEvent serializes the event as JSON and writes it to the topic.
// Best-effort: failures are logged and not returned.
func (p *Publisher) LogEvent(ctx context.Context, userID, sessionID, action, metadata string) {
	if p == nil || p.writer == nil {
		return
	}
	payload, err := json.Marshal(Event{
		UserID:    userID,
		SessionID: sessionID,
		Action:    action,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		p.log.WithError(err).Error("audit stream marshal failed")
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(writeCtx, kafka.Message{Value: payload}); err != nil {
		p.log.WithError(err).Error("audit stream publish failed")
	}
}

// Close closes the Kafka writer. Safe to call on a nil Publisher.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
