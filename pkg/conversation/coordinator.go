// Package conversation hosts the coordinator: the single code path every
// inbound chat message takes, from session load through intent
// classification, state transition, workflow dispatch, and reply delivery.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forgemcp/concierge/pkg/events"
	"github.com/forgemcp/concierge/pkg/intent"
	"github.com/forgemcp/concierge/pkg/llm"
	"github.com/forgemcp/concierge/pkg/models"
	"github.com/forgemcp/concierge/pkg/session"
	"github.com/forgemcp/concierge/pkg/state"
)

// WorkflowDriver is the workflow surface the coordinator dispatches to.
// Implemented by *workflow.Driver.
type WorkflowDriver interface {
	StartCreation(ctx context.Context, sessionID string) error
	StartModification(ctx context.Context, sessionID, request string, force bool) error
	ResumePending(ctx context.Context, sessionID string) error
}

// Bus is the publisher surface for conversation lifecycle events.
// Implemented by *events.Publisher.
type Bus interface {
	PublishConversationEvent(ctx context.Context, eventType, sessionID string, data map[string]any) error
	PublishError(ctx context.Context, sessionID, errorType, message string) error
}

// Notifier pushes payloads to a session's live WebSocket connections.
// Implemented by *events.Hub.
type Notifier interface {
	SendToSession(sessionID string, payload any)
}

// StatusFetcher reads the backend's view of a project, used to answer
// project-info questions. Implemented by *mcp.Client.
type StatusFetcher interface {
	GetProjectStatus(ctx context.Context, projectID string) (map[string]any, error)
}

// Response is the outcome of one conversation turn.
type Response struct {
	Response      string         `json:"response"`
	SessionID     string         `json:"session_id"`
	Intent        string         `json:"intent"`
	Confidence    float64        `json:"confidence"`
	Action        string         `json:"action"`
	StateInfo     *state.Summary `json:"state_info,omitempty"`
	ProjectStatus map[string]any `json:"project_status,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Coordinator mediates one conversation turn end to end. It owns no state
// of its own; everything durable lives in the session store.
type Coordinator struct {
	store      *session.Store
	contextMgr *session.ContextManager
	classifier *intent.Classifier
	tracker    *state.Tracker
	driver     WorkflowDriver
	bus        Bus
	hub        Notifier
	status     StatusFetcher
	responder  llm.Responder

	logger *slog.Logger
}

// NewCoordinator wires the conversation core. responder and status may be
// nil; the coordinator then falls back on template replies and skips
// backend status lookups.
func NewCoordinator(
	store *session.Store,
	contextMgr *session.ContextManager,
	classifier *intent.Classifier,
	tracker *state.Tracker,
	driver WorkflowDriver,
	bus Bus,
	hub Notifier,
	status StatusFetcher,
	responder llm.Responder,
) *Coordinator {
	return &Coordinator{
		store:      store,
		contextMgr: contextMgr,
		classifier: classifier,
		tracker:    tracker,
		driver:     driver,
		bus:        bus,
		hub:        hub,
		status:     status,
		responder:  responder,
		logger:     slog.Default(),
	}
}

// HandleMessage processes one user message: load or create the session,
// append the message, classify, decide the next action, transition state,
// dispatch workflows, and produce the reply. The user and assistant
// messages are appended as a pair — once the user message is stored, the
// turn finishes even if the caller's context is canceled.
func (c *Coordinator) HandleMessage(ctx context.Context, sessionID, message string, contextPatch map[string]any) (*Response, error) {
	if message == "" {
		return nil, fmt.Errorf("%s: message must not be empty", models.ErrorKindValidation)
	}

	sess, err := c.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	sessionID = sess.ID

	if err := c.store.AppendMessage(ctx, sessionID, models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   message,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}

	// The user message is durable; the rest of the turn must finish even if
	// the caller goes away, or the conversation log ends on a user message
	// with no reply.
	turnCtx := context.WithoutCancel(ctx)

	if len(contextPatch) > 0 {
		if err := c.store.UpdateContext(turnCtx, sessionID, contextPatch); err != nil {
			c.logger.Warn("Could not apply context patch",
				"session_id", sessionID, "error", err)
		}
	}

	c.publishConversation(turnCtx, events.EventConversationMessageReceived, sessionID, map[string]any{
		"message_length": len(message),
	})

	// Classify against the post-append session so context boosts and the
	// assistant-reply heuristic see current state.
	sess, err = c.store.Get(turnCtx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload session: %w", err)
	}
	result := c.classifier.Classify(message, sess)
	action := state.NextAction(sess, result.Intent, message)

	c.logger.Info("Conversation turn",
		"session_id", sessionID,
		"intent", result.Intent,
		"confidence", result.Confidence,
		"action", action.Action,
		"next_state", action.NextState)

	if action.Action == state.ActionGatherRequirements || action.Action == state.ActionConfirmDetails {
		if entities, ok := result.Metadata["entities"].(models.Entities); ok {
			if err := c.contextMgr.MergeRequirements(turnCtx, sessionID, entities); err != nil {
				c.logger.Warn("Could not merge requirements",
					"session_id", sessionID, "error", err)
			}
		}
	}

	if action.NextState != sess.ConversationState {
		if _, err := c.tracker.TransitionConversation(turnCtx, sessionID, action.NextState); err != nil {
			return nil, fmt.Errorf("failed to transition conversation: %w", err)
		}
	}

	resp := &Response{
		SessionID:  sessionID,
		Intent:     string(result.Intent),
		Confidence: result.Confidence,
		Action:     action.Action,
		Timestamp:  time.Now().UTC(),
	}

	if err := c.dispatch(turnCtx, sessionID, message, action, resp); err != nil {
		// Dispatch failures are reported in-band: the turn still produces a
		// reply telling the user what went wrong.
		c.logger.Error("Action dispatch failed",
			"session_id", sessionID, "action", action.Action, "error", err)
		c.publishError(turnCtx, sessionID, models.ErrorKindInternal, err.Error())
		action.Message = "Something went wrong while starting that. Please try again in a moment."
	}

	resp.Response = c.reply(turnCtx, sessionID, result, action)

	if err := c.store.AppendMessage(turnCtx, sessionID, models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   resp.Response,
		Timestamp: time.Now().UTC(),
		Metadata: map[string]any{
			"intent": string(result.Intent),
			"action": action.Action,
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to record reply: %w", err)
	}

	c.publishConversation(turnCtx, events.EventConversationResponseGenerated, sessionID, map[string]any{
		"intent": string(result.Intent),
		"action": action.Action,
	})
	c.hub.SendToSession(sessionID, map[string]any{
		"type":      "chat_response",
		"response":  resp.Response,
		"intent":    resp.Intent,
		"timestamp": resp.Timestamp.Format(time.RFC3339Nano),
	})

	if summary, err := c.tracker.Summarize(turnCtx, sessionID); err == nil {
		resp.StateInfo = summary
	}
	return resp, nil
}

// dispatch executes the side effects of the decided action.
func (c *Coordinator) dispatch(ctx context.Context, sessionID, message string, action state.Action, resp *Response) error {
	switch action.Action {
	case state.ActionStartProcessing:
		return c.driver.StartCreation(ctx, sessionID)

	case state.ActionStartModification:
		return c.driver.StartModification(ctx, sessionID, message, false)

	case state.ActionResumeModification:
		return c.driver.ResumePending(ctx, sessionID)

	case state.ActionCancelModification:
		return c.cancelPending(ctx, sessionID)

	case state.ActionRespond:
		c.attachProjectStatus(ctx, sessionID, resp)
		return nil

	default:
		// gather_requirements / confirm_details have no side effects beyond
		// the merge and transition already applied.
		return nil
	}
}

// cancelPending discards the parked high-risk modification and returns the
// project to completed.
func (c *Coordinator) cancelPending(ctx context.Context, sessionID string) error {
	if err := c.contextMgr.UpdateProjectState(ctx, sessionID, map[string]any{
		"pending_modification": nil,
	}); err != nil {
		return fmt.Errorf("failed to discard pending modification: %w", err)
	}
	if err := c.tracker.UpdateProject(ctx, sessionID, models.ProjectCompleted, nil); err != nil {
		return fmt.Errorf("failed to restore project state: %w", err)
	}
	return nil
}

// attachProjectStatus enriches a project-info reply with the backend's view.
// Best effort: a status failure never fails the turn.
func (c *Coordinator) attachProjectStatus(ctx context.Context, sessionID string, resp *Response) {
	if c.status == nil || resp.Intent != string(models.IntentProjectInfo) {
		return
	}
	sess, err := c.store.Get(ctx, sessionID)
	if err != nil || !sess.HasProject() {
		return
	}
	status, err := c.status.GetProjectStatus(ctx, sess.Project.ProjectID)
	if err != nil {
		c.logger.Warn("Could not fetch project status",
			"session_id", sessionID, "project_id", sess.Project.ProjectID, "error", err)
		return
	}
	resp.ProjectStatus = status
}

// reply produces the user-visible text: the LLM when configured, the
// action's template otherwise. A responder failure falls back on the
// template — reply generation never fails a turn.
func (c *Coordinator) reply(ctx context.Context, sessionID string, result intent.Result, action state.Action) string {
	if c.responder == nil {
		return action.Message
	}

	rc, err := c.contextMgr.RelevantContext(ctx, sessionID, true)
	if err != nil {
		return action.Message
	}
	history := make([]models.Message, 0, len(rc.RecentMessages))
	for _, m := range rc.RecentMessages {
		history = append(history, models.Message{Role: m.Role, Content: m.Content})
	}

	text, err := c.responder.Respond(ctx, llm.Request{
		SystemPrompt: llm.SystemPrompt,
		History:      history,
		Intent:       result.Intent,
		Action:       action.Action,
	})
	if err != nil || text == "" {
		c.logger.Warn("Reply generation fell back on template",
			"session_id", sessionID, "error", err)
		return action.Message
	}
	return text
}

// SessionStats answers the WebSocket get_status frame.
func (c *Coordinator) SessionStats(ctx context.Context, sessionID string) (map[string]any, error) {
	summary, err := c.tracker.Summarize(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session_id":         summary.SessionID,
		"conversation_state": summary.ConversationState,
		"project_state":      summary.ProjectState,
		"message_count":      summary.MessageCount,
		"has_project":        summary.HasProject,
	}, nil
}

func (c *Coordinator) publishConversation(ctx context.Context, eventType, sessionID string, data map[string]any) {
	if err := c.bus.PublishConversationEvent(ctx, eventType, sessionID, data); err != nil {
		c.logger.Warn("Could not publish conversation event",
			"type", eventType, "session_id", sessionID, "error", err)
	}
}

func (c *Coordinator) publishError(ctx context.Context, sessionID, kind, message string) {
	if err := c.bus.PublishError(ctx, sessionID, kind, message); err != nil {
		c.logger.Warn("Could not publish error event",
			"session_id", sessionID, "error", err)
	}
}
