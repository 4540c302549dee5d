// Package models defines the shared data model for conversation sessions,
// project context, and intent classification results.
//
// Sessions are serialized as a single JSON value per Redis key. The schema
// is explicit and language-neutral — no runtime type tags — so stored blobs
// survive upgrades and can be read by other tooling.
package models

import "time"

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one entry in a session's append-only message list.
type Message struct {
	ID        string         `json:"id"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Modification records one modification request against a project:
// the original text, the impact analysis, and the execution result.
type Modification struct {
	Timestamp time.Time      `json:"timestamp"`
	Request   string         `json:"request"`
	Impact    map[string]any `json:"impact,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
}

// ProjectContext tracks the in-progress generated project attached to a
// session. At most one per session; ProjectID, once set, never changes.
type ProjectContext struct {
	ProjectID     string         `json:"project_id,omitempty"`
	ProjectType   string         `json:"project_type,omitempty"`
	CurrentState  map[string]any `json:"current_state,omitempty"`
	Requirements  map[string]any `json:"requirements,omitempty"`
	Modifications []Modification `json:"modifications,omitempty"`
	State         ProjectState   `json:"state"`
}

// Session is the durable per-session record: ordered messages, free-form
// context, the optional project context, and the conversation state.
type Session struct {
	ID                string            `json:"id"`
	CreatedAt         time.Time         `json:"created_at"`
	LastActivity      time.Time         `json:"last_activity"`
	Messages          []Message         `json:"messages"`
	Context           map[string]any    `json:"context,omitempty"`
	Project           *ProjectContext   `json:"project,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
	ConversationState ConversationState `json:"conversation_state"`
}

// LastMessage returns the most recent message, or nil for an empty session.
func (s *Session) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// HasProject reports whether the session has a project with an assigned id.
// A draft project (requirements gathered, nothing generated yet) does not count.
func (s *Session) HasProject() bool {
	return s.Project != nil && s.Project.ProjectID != ""
}
