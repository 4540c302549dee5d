// Package events provides the message-bus integration (Kafka producer and
// consumer-group fan-in) and the in-process WebSocket hub that pushes
// structured messages to connected clients.
//
// Topic routing is a pure function of the event type prefix:
//
//	project.*, validation.*        → project-updates
//	conversation.*, progress.*, error → conversation-events
package events

import (
	"strings"
	"time"
)

// Bus topics.
const (
	TopicProjectUpdates     = "project-updates"
	TopicConversationEvents = "conversation-events"
)

// Conversation lifecycle events.
const (
	EventConversationMessageReceived   = "conversation.message.received"
	EventConversationResponseGenerated = "conversation.response.generated"
)

// Project lifecycle events.
const (
	EventProjectCreationCompleted     = "project.creation.completed"
	EventProjectCreationFailed        = "project.creation.failed"
	EventProjectModificationCompleted = "project.modification.completed"
	EventProjectModificationFailed    = "project.modification.failed"
	EventProjectUpdated               = "project.updated"
	EventProjectGenerationComplete    = "project.generation.complete"
)

// Validation, progress, error, and external events.
const (
	EventValidationComplete = "validation.complete"
	EventProgressUpdate     = "progress.update"
	EventError              = "error"
	EventExternalUpdate     = "external.update"
)

// Wildcard matches every event type in a handler registration.
const Wildcard = "*"

// Event is the bus payload: a dotted type, a UTC timestamp, the producing
// service, and a free-form data object. When the event concerns a session,
// data carries it under "sessionId".
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data"`
}

// SessionID returns data["sessionId"], or "" when absent.
func (e *Event) SessionID() string {
	if s, ok := e.Data["sessionId"].(string); ok {
		return s
	}
	return ""
}

// ProjectID returns data["projectId"], or "" when absent.
func (e *Event) ProjectID() string {
	if s, ok := e.Data["projectId"].(string); ok {
		return s
	}
	return ""
}

// TopicFor routes an event type to its bus topic by prefix.
func TopicFor(eventType string) string {
	if strings.HasPrefix(eventType, "project.") || strings.HasPrefix(eventType, "validation.") {
		return TopicProjectUpdates
	}
	return TopicConversationEvents
}
