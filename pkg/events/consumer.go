package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/forgemcp/concierge/pkg/models"
)

// Handler processes one consumed event. Handlers for the same event run
// concurrently; a failure in one never affects the others.
type Handler func(ctx context.Context, evt Event) error

// MessageReader is the subset of kafka.Reader the consumer needs.
// Tests substitute a scripted fake.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads the configured topics under one consumer group and
// dispatches each event to the handlers registered for its exact type,
// then to the wildcard handlers. Malformed payloads are logged and
// skipped.
type Consumer struct {
	readers []MessageReader

	mu       sync.RWMutex
	handlers map[string][]Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewConsumer creates a consumer with one reader per topic.
func NewConsumer(brokers []string, group string, topics []string) *Consumer {
	c := newConsumer()
	for _, topic := range topics {
		c.readers = append(c.readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			GroupID: group,
			Topic:   topic,
		}))
	}
	return c
}

// NewConsumerWithReaders creates a consumer over pre-built readers.
// Used by tests.
func NewConsumerWithReaders(readers []MessageReader) *Consumer {
	c := newConsumer()
	c.readers = readers
	return c
}

func newConsumer() *Consumer {
	return &Consumer{
		handlers: make(map[string][]Handler),
		logger:   slog.Default(),
	}
}

// Subscribe registers a handler for an event type. Wildcard registers for
// every type. Must be called before Start.
func (c *Consumer) Subscribe(eventType string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], h)
}

// Start launches one read loop per topic reader.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	for _, r := range c.readers {
		c.wg.Add(1)
		go func(r MessageReader) {
			defer c.wg.Done()
			c.readLoop(ctx, r)
		}(r)
	}
	c.logger.Info("Event consumer started", "topics", len(c.readers))
}

// Stop cancels the read loops, waits for them, and closes the readers.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			c.logger.Warn("Failed to close reader", "error", err)
		}
	}
	c.logger.Info("Event consumer stopped")
}

func (c *Consumer) readLoop(ctx context.Context, r MessageReader) {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // shutting down
			}
			c.logger.Error("Bus read failed", "error", err)
			continue
		}

		var evt Event
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			c.logger.Warn("Ignoring malformed bus message",
				"topic", msg.Topic, "offset", msg.Offset, "error", err)
			continue
		}
		c.dispatch(ctx, evt)
	}
}

// dispatch runs the exact-type handlers and then the wildcard handlers,
// each in its own goroutine. Handler errors and panics are contained and
// logged with the handler_failure kind.
func (c *Consumer) dispatch(ctx context.Context, evt Event) {
	c.mu.RLock()
	hs := make([]Handler, 0, len(c.handlers[evt.Type])+len(c.handlers[Wildcard]))
	hs = append(hs, c.handlers[evt.Type]...)
	hs = append(hs, c.handlers[Wildcard]...)
	c.mu.RUnlock()

	if len(hs) == 0 {
		c.logger.Debug("No handler for event", "type", evt.Type)
		return
	}

	var wg sync.WaitGroup
	for _, h := range hs {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("Event handler panicked",
						"type", evt.Type, "panic", r,
						"error_kind", models.ErrorKindHandlerFailure)
				}
			}()
			if err := h(ctx, evt); err != nil {
				c.logger.Error("Event handler failed",
					"type", evt.Type, "error", err,
					"error_kind", models.ErrorKindHandlerFailure)
			}
		}(h)
	}
	wg.Wait()
}
