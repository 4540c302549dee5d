package session

import (
	"context"
	"time"

	"github.com/forgemcp/concierge/pkg/models"
)

const (
	// recentMessageCount is how many trailing messages RelevantContext includes.
	recentMessageCount = 5
	// snippetMaxLen caps each included message at this many characters.
	snippetMaxLen = 100
)

// ProjectSummary is the condensed project view included in relevant context.
type ProjectSummary struct {
	ProjectID         string              `json:"project_id,omitempty"`
	ProjectType       string              `json:"project_type,omitempty"`
	CurrentState      map[string]any      `json:"current_state,omitempty"`
	Requirements      map[string]any      `json:"requirements,omitempty"`
	ModificationCount int                 `json:"modification_count"`
	State             models.ProjectState `json:"state"`
}

// MessageSnippet is a truncated message used in relevant context.
type MessageSnippet struct {
	Role    models.MessageRole `json:"role"`
	Content string             `json:"content"`
}

// RelevantContext is the decision/prompt context derived from a session.
type RelevantContext struct {
	SessionID      string           `json:"session_id"`
	MessageCount   int              `json:"message_count"`
	Project        *ProjectSummary  `json:"project,omitempty"`
	RecentMessages []MessageSnippet `json:"recent_messages,omitempty"`
}

// ContextManager derives context from sessions and maintains the project
// context sub-record. All access goes through the Store.
type ContextManager struct {
	store *Store
}

// NewContextManager creates a context manager over the given store.
func NewContextManager(store *Store) *ContextManager {
	return &ContextManager{store: store}
}

// ProjectContext returns the session's project context, or nil when the
// session has none.
func (m *ContextManager) ProjectContext(ctx context.Context, id string) (*models.ProjectContext, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Project, nil
}

// UpdateProjectState shallow-merges the patch into the project's
// current-state map, creating a draft project context if none exists.
func (m *ContextManager) UpdateProjectState(ctx context.Context, id string, patch map[string]any) error {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Project == nil {
		sess.Project = &models.ProjectContext{State: models.ProjectNotStarted}
	}
	if sess.Project.CurrentState == nil {
		sess.Project.CurrentState = map[string]any{}
	}
	for k, v := range patch {
		sess.Project.CurrentState[k] = v
	}
	return m.store.Save(ctx, sess)
}

// SetProjectState sets the project lifecycle state, creating a draft
// project context if none exists.
func (m *ContextManager) SetProjectState(ctx context.Context, id string, state models.ProjectState) error {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Project == nil {
		sess.Project = &models.ProjectContext{State: models.ProjectNotStarted}
	}
	sess.Project.State = state
	return m.store.Save(ctx, sess)
}

// SetProjectID assigns the backend project id. The id, once set, never
// changes — later calls with a different id are ignored.
func (m *ContextManager) SetProjectID(ctx context.Context, id, projectID string) error {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Project == nil {
		sess.Project = &models.ProjectContext{State: models.ProjectNotStarted}
	}
	if sess.Project.ProjectID != "" {
		return nil
	}
	sess.Project.ProjectID = projectID
	return m.store.Save(ctx, sess)
}

// AddModification appends a modification record to the project context.
func (m *ContextManager) AddModification(ctx context.Context, id string, mod models.Modification) error {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Project == nil {
		sess.Project = &models.ProjectContext{State: models.ProjectNotStarted}
	}
	if mod.Timestamp.IsZero() {
		mod.Timestamp = time.Now().UTC()
	}
	sess.Project.Modifications = append(sess.Project.Modifications, mod)
	return m.store.Save(ctx, sess)
}

// MergeRequirements folds extracted entities into the draft project's
// requirements map. Used while gathering requirements, before any project
// has been generated. The draft seeds current_state so downstream checks
// see a non-empty map.
func (m *ContextManager) MergeRequirements(ctx context.Context, id string, entities models.Entities) error {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Project == nil {
		sess.Project = &models.ProjectContext{
			State:        models.ProjectNotStarted,
			CurrentState: map[string]any{"phase": "drafting"},
		}
	}
	p := sess.Project
	if p.Requirements == nil {
		p.Requirements = map[string]any{}
	}
	if len(entities.ProjectTypes) > 0 {
		if p.ProjectType == "" {
			p.ProjectType = entities.ProjectTypes[0]
		}
		p.Requirements["project_type"] = p.ProjectType
	}
	if len(entities.Features) > 0 {
		p.Requirements["features"] = mergeList(p.Requirements["features"], entities.Features)
	}
	if len(entities.Technologies) > 0 {
		p.Requirements["technologies"] = mergeList(p.Requirements["technologies"], entities.Technologies)
	}
	return m.store.Save(ctx, sess)
}

// mergeList unions newItems into an existing []any/[]string requirement value.
func mergeList(existing any, newItems []string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	switch xs := existing.(type) {
	case []string:
		for _, v := range xs {
			add(v)
		}
	case []any:
		for _, v := range xs {
			if s, ok := v.(string); ok {
				add(s)
			}
		}
	}
	for _, v := range newItems {
		add(v)
	}
	return out
}

// RelevantContext returns the session summary used for classification and
// prompt assembly: session id, message count, an optional project summary,
// and — when includeHistory is set — the last messages truncated to
// snippetMaxLen characters each.
func (m *ContextManager) RelevantContext(ctx context.Context, id string, includeHistory bool) (*RelevantContext, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rc := &RelevantContext{
		SessionID:    sess.ID,
		MessageCount: len(sess.Messages),
	}
	if p := sess.Project; p != nil {
		rc.Project = &ProjectSummary{
			ProjectID:         p.ProjectID,
			ProjectType:       p.ProjectType,
			CurrentState:      p.CurrentState,
			Requirements:      p.Requirements,
			ModificationCount: len(p.Modifications),
			State:             p.State,
		}
	}
	if includeHistory {
		msgs := sess.Messages
		if len(msgs) > recentMessageCount {
			msgs = msgs[len(msgs)-recentMessageCount:]
		}
		for _, msg := range msgs {
			content := msg.Content
			if len(content) > snippetMaxLen {
				content = content[:snippetMaxLen]
			}
			rc.RecentMessages = append(rc.RecentMessages, MessageSnippet{
				Role:    msg.Role,
				Content: content,
			})
		}
	}
	return rc, nil
}
