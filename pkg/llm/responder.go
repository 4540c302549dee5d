// Package llm generates the user-visible reply text. The LLM is the only
// nondeterministic collaborator in the message path: everything else in the
// core is deterministic, and callers always have a template fallback, so a
// Responder failure never fails a conversation turn.
package llm

import (
	"context"

	"github.com/forgemcp/concierge/pkg/models"
)

// Request carries what the responder needs to phrase a reply: the system
// prompt, the recent conversation window, and the classified intent plus
// the next-action tag the reply should support.
type Request struct {
	SystemPrompt string
	History      []models.Message
	Intent       models.IntentType
	Action       string
}

// Responder produces the assistant reply for one conversation turn.
type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
}

// SystemPrompt is the default system prompt for reply generation.
const SystemPrompt = "You are the assistant of a project-generation service. " +
	"Answer briefly and concretely. When requirements are missing, ask for " +
	"them; when a workflow is running, tell the user progress will follow."
