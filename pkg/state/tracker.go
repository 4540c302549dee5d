// Package state enforces the two state machines attached to a session: the
// dialogue (conversation) state machine and the project lifecycle state
// machine, plus the next-action policy that drives the coordinator.
package state

import (
	"context"
	"log/slog"

	"github.com/forgemcp/concierge/pkg/models"
	"github.com/forgemcp/concierge/pkg/session"
)

// conversationTransitions is the complete table of valid dialogue edges.
// Any (from, to) pair not listed is rejected and leaves state unchanged.
var conversationTransitions = map[models.ConversationState][]models.ConversationState{
	models.ConversationInitial: {
		models.ConversationGatheringRequirements,
		models.ConversationConfirmingDetails,
		models.ConversationError,
	},
	models.ConversationGatheringRequirements: {
		models.ConversationGatheringRequirements,
		models.ConversationConfirmingDetails,
		models.ConversationError,
	},
	models.ConversationConfirmingDetails: {
		models.ConversationProcessing,
		models.ConversationGatheringRequirements,
		models.ConversationError,
	},
	models.ConversationProcessing: {
		models.ConversationAwaitingFeedback,
		models.ConversationCompleted,
		models.ConversationError,
	},
	models.ConversationAwaitingFeedback: {
		models.ConversationProcessing,
		models.ConversationCompleted,
		models.ConversationGatheringRequirements,
		models.ConversationError,
	},
	models.ConversationCompleted: {
		models.ConversationGatheringRequirements,
		models.ConversationInitial,
	},
	models.ConversationError: {
		models.ConversationInitial,
		models.ConversationGatheringRequirements,
	},
}

// CanTransition reports whether the dialogue edge from → to is valid.
func CanTransition(from, to models.ConversationState) bool {
	for _, next := range conversationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// minRequirementKeys is the requirements threshold below which the tracker
// keeps gathering.
const minRequirementKeys = 3

// Tracker reads and mutates session state through the store.
type Tracker struct {
	store  *session.Store
	logger *slog.Logger
}

// NewTracker creates a state tracker over the given store.
func NewTracker(store *session.Store) *Tracker {
	return &Tracker{store: store, logger: slog.Default()}
}

// ConversationState returns the session's current dialogue state.
func (t *Tracker) ConversationState(ctx context.Context, id string) (models.ConversationState, error) {
	sess, err := t.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return currentConversationState(sess), nil
}

func currentConversationState(sess *models.Session) models.ConversationState {
	if sess.ConversationState == "" {
		return models.ConversationInitial
	}
	return sess.ConversationState
}

// TransitionConversation attempts the dialogue transition to target.
// Returns false — with state unchanged — when the edge is not in the table.
func (t *Tracker) TransitionConversation(ctx context.Context, id string, target models.ConversationState) (bool, error) {
	sess, err := t.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	current := currentConversationState(sess)
	if !CanTransition(current, target) {
		t.logger.Warn("Rejected conversation state transition",
			"session_id", id, "from", current, "to", target,
			"error_kind", models.ErrorKindInvalidTransition)
		return false, nil
	}
	sess.ConversationState = target
	if err := t.store.Save(ctx, sess); err != nil {
		return false, err
	}
	return true, nil
}

// SetConversationState writes the dialogue state without consulting the
// transition table. Reserved for workflow-driven moves — the driver parks a
// session in awaiting_feedback or error regardless of where the dialogue
// was when the workflow started. User and admin transitions go through
// TransitionConversation.
func (t *Tracker) SetConversationState(ctx context.Context, id string, target models.ConversationState) error {
	sess, err := t.store.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.ConversationState = target
	return t.store.Save(ctx, sess)
}

// ProjectState returns the project lifecycle state, or not_started when the
// session has no project context.
func (t *Tracker) ProjectState(ctx context.Context, id string) (models.ProjectState, error) {
	sess, err := t.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if sess.Project == nil {
		return models.ProjectNotStarted, nil
	}
	return sess.Project.State, nil
}

// UpdateProject sets the project lifecycle state and merges optional
// metadata into the project's current-state map. Creates a draft project
// context when none exists.
func (t *Tracker) UpdateProject(ctx context.Context, id string, target models.ProjectState, metadata map[string]any) error {
	sess, err := t.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Project == nil {
		sess.Project = &models.ProjectContext{State: models.ProjectNotStarted}
	}
	sess.Project.State = target
	if len(metadata) > 0 {
		if sess.Project.CurrentState == nil {
			sess.Project.CurrentState = map[string]any{}
		}
		for k, v := range metadata {
			sess.Project.CurrentState[k] = v
		}
	}
	return t.store.Save(ctx, sess)
}

// ShouldGatherMore reports whether the session still lacks the information
// needed to start a creation workflow: no project context, missing required
// fields, or a requirements map under the key threshold.
func (t *Tracker) ShouldGatherMore(ctx context.Context, id string) (bool, error) {
	sess, err := t.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return shouldGatherMore(sess), nil
}

func shouldGatherMore(sess *models.Session) bool {
	p := sess.Project
	if p == nil {
		return true
	}
	if p.ProjectType == "" || len(p.Requirements) == 0 || len(p.CurrentState) == 0 {
		return true
	}
	return len(p.Requirements) < minRequirementKeys
}

// Summary describes the session's state for the info endpoint.
type Summary struct {
	SessionID         string                   `json:"session_id"`
	ConversationState models.ConversationState `json:"conversation_state"`
	ProjectState      models.ProjectState      `json:"project_state"`
	MessageCount      int                      `json:"message_count"`
	HasProject        bool                     `json:"has_project"`
	ShouldGatherMore  bool                     `json:"should_gather_more"`
}

// Summarize returns the state summary for a session.
func (t *Tracker) Summarize(ctx context.Context, id string) (*Summary, error) {
	sess, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ps := models.ProjectNotStarted
	if sess.Project != nil {
		ps = sess.Project.State
	}
	return &Summary{
		SessionID:         sess.ID,
		ConversationState: currentConversationState(sess),
		ProjectState:      ps,
		MessageCount:      len(sess.Messages),
		HasProject:        sess.HasProject(),
		ShouldGatherMore:  shouldGatherMore(sess),
	}, nil
}
