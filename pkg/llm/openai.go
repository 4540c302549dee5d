package llm

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/forgemcp/concierge/pkg/models"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// OpenAIResponder generates replies through the OpenAI chat completions API.
type OpenAIResponder struct {
	client oai.Client
	model  string
}

// NewOpenAIResponder creates a responder. An empty model selects DefaultModel.
func NewOpenAIResponder(apiKey, model string) (*OpenAIResponder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIResponder{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// Respond sends the system prompt, the conversation window, and a steering
// hint for the classified intent, and returns the completion text.
func (r *OpenAIResponder) Respond(ctx context.Context, req Request) (string, error) {
	messages := []oai.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.History {
		switch m.Role {
		case models.RoleAssistant:
			messages = append(messages, oai.AssistantMessage(m.Content))
		case models.RoleSystem:
			messages = append(messages, oai.SystemMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}
	messages = append(messages, oai.SystemMessage(fmt.Sprintf(
		"The user's intent was classified as %q; the service will take the %q action. "+
			"Phrase a reply consistent with that.", req.Intent, req.Action)))

	completion, err := r.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(r.model),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
