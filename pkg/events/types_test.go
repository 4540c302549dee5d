package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicForRoutesByPrefix(t *testing.T) {
	tests := []struct {
		eventType string
		topic     string
	}{
		{EventProjectCreationCompleted, TopicProjectUpdates},
		{EventProjectCreationFailed, TopicProjectUpdates},
		{EventProjectModificationCompleted, TopicProjectUpdates},
		{EventProjectUpdated, TopicProjectUpdates},
		{EventProjectGenerationComplete, TopicProjectUpdates},
		{EventValidationComplete, TopicProjectUpdates},
		{EventConversationMessageReceived, TopicConversationEvents},
		{EventConversationResponseGenerated, TopicConversationEvents},
		{EventProgressUpdate, TopicConversationEvents},
		{EventError, TopicConversationEvents},
		{EventExternalUpdate, TopicConversationEvents},
		{"something.else", TopicConversationEvents},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.topic, TopicFor(tt.eventType), tt.eventType)
	}
}

func TestEventAccessors(t *testing.T) {
	evt := Event{Data: map[string]any{"sessionId": "s1", "projectId": "p1"}}
	assert.Equal(t, "s1", evt.SessionID())
	assert.Equal(t, "p1", evt.ProjectID())

	empty := Event{Data: map[string]any{}}
	assert.Empty(t, empty.SessionID())
	assert.Empty(t, empty.ProjectID())
}
