package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of kafka.Writer the publisher needs.
// Tests substitute a capture fake.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher serializes events and writes them to the topic selected by
// TopicFor. One writer per topic; writes are synchronous so callers learn
// about broker failures.
type Publisher struct {
	writers map[string]MessageWriter
	source  string
	logger  *slog.Logger
}

// NewPublisher creates a publisher with one Kafka writer per topic.
func NewPublisher(brokers []string, source string) *Publisher {
	writers := map[string]MessageWriter{}
	for _, topic := range []string{TopicProjectUpdates, TopicConversationEvents} {
		writers[topic] = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		}
	}
	return &Publisher{
		writers: writers,
		source:  source,
		logger:  slog.Default(),
	}
}

// NewPublisherWithWriters creates a publisher over pre-built writers,
// keyed by topic. Used by tests.
func NewPublisherWithWriters(writers map[string]MessageWriter, source string) *Publisher {
	return &Publisher{writers: writers, source: source, logger: slog.Default()}
}

// Publish sends one event. sessionID, when non-empty, is injected into the
// data object under "sessionId". key is the partitioning hint — typically
// the project id or session id; it falls back to sessionID when empty.
func (p *Publisher) Publish(ctx context.Context, eventType string, data map[string]any, key, sessionID string) error {
	if data == nil {
		data = map[string]any{}
	}
	if sessionID != "" {
		data["sessionId"] = sessionID
	}
	if key == "" {
		key = sessionID
	}

	evt := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    p.source,
		Data:      data,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", eventType, err)
	}

	topic := TopicFor(eventType)
	writer, ok := p.writers[topic]
	if !ok {
		return fmt.Errorf("no writer for topic %s", topic)
	}

	msg := kafka.Message{Value: payload}
	if key != "" {
		msg.Key = []byte(key)
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", eventType, topic, err)
	}
	p.logger.Debug("Published event", "type", eventType, "topic", topic, "key", key)
	return nil
}

// PublishConversationEvent publishes a conversation.* event for a session.
func (p *Publisher) PublishConversationEvent(ctx context.Context, eventType, sessionID string, data map[string]any) error {
	return p.Publish(ctx, eventType, data, sessionID, sessionID)
}

// PublishProjectEvent publishes a project.* event keyed by project id.
func (p *Publisher) PublishProjectEvent(ctx context.Context, eventType, projectID, sessionID string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	if projectID != "" {
		data["projectId"] = projectID
	}
	return p.Publish(ctx, eventType, data, projectID, sessionID)
}

// PublishProgress publishes a progress.update event for a workflow step.
func (p *Publisher) PublishProgress(ctx context.Context, sessionID, projectID string, progress float64, message string) error {
	data := map[string]any{
		"progress": progress,
		"message":  message,
	}
	if projectID != "" {
		data["projectId"] = projectID
	}
	return p.Publish(ctx, EventProgressUpdate, data, sessionID, sessionID)
}

// PublishError publishes an error event carrying the stable error kind.
func (p *Publisher) PublishError(ctx context.Context, sessionID, errorType, message string) error {
	return p.Publish(ctx, EventError, map[string]any{
		"errorType": errorType,
		"message":   message,
	}, sessionID, sessionID)
}

// Close closes every topic writer, returning the first error.
func (p *Publisher) Close() error {
	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close writer for %s: %w", topic, err)
		}
	}
	return firstErr
}
