package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgemcp/concierge/pkg/models"
	"github.com/forgemcp/concierge/pkg/session"
)

func newTestTracker(t *testing.T) (*Tracker, *session.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := session.NewStore(rdb, time.Hour)
	return NewTracker(store), store
}

var allConversationStates = []models.ConversationState{
	models.ConversationInitial,
	models.ConversationGatheringRequirements,
	models.ConversationConfirmingDetails,
	models.ConversationProcessing,
	models.ConversationAwaitingFeedback,
	models.ConversationCompleted,
	models.ConversationError,
}

// TestTransitionTableClosure checks every (from, to) pair against the
// transition table: valid edges move the state, invalid edges leave it
// untouched.
func TestTransitionTableClosure(t *testing.T) {
	ctx := context.Background()

	for _, from := range allConversationStates {
		for _, to := range allConversationStates {
			tracker, store := newTestTracker(t)
			sess, err := store.Create(ctx, "s1")
			require.NoError(t, err)
			sess.ConversationState = from
			require.NoError(t, store.Save(ctx, sess))

			ok, err := tracker.TransitionConversation(ctx, "s1", to)
			require.NoError(t, err)
			assert.Equal(t, CanTransition(from, to), ok, "from=%s to=%s", from, to)

			got, err := tracker.ConversationState(ctx, "s1")
			require.NoError(t, err)
			if ok {
				assert.Equal(t, to, got)
			} else {
				assert.Equal(t, from, got)
			}
		}
	}
}

func TestCanTransitionSpotChecks(t *testing.T) {
	tests := []struct {
		from, to models.ConversationState
		want     bool
	}{
		{models.ConversationInitial, models.ConversationGatheringRequirements, true},
		{models.ConversationInitial, models.ConversationProcessing, false},
		{models.ConversationGatheringRequirements, models.ConversationGatheringRequirements, true},
		{models.ConversationConfirmingDetails, models.ConversationProcessing, true},
		{models.ConversationProcessing, models.ConversationAwaitingFeedback, true},
		{models.ConversationProcessing, models.ConversationInitial, false},
		{models.ConversationAwaitingFeedback, models.ConversationProcessing, true},
		{models.ConversationCompleted, models.ConversationInitial, true},
		{models.ConversationCompleted, models.ConversationError, false},
		{models.ConversationError, models.ConversationInitial, true},
		{models.ConversationError, models.ConversationProcessing, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestEmptyStateReadsAsInitial(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "s1")
	require.NoError(t, err)
	sess.ConversationState = ""
	require.NoError(t, store.Save(ctx, sess))

	got, err := tracker.ConversationState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.ConversationInitial, got)
}

func TestSetConversationStateBypassesTable(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "s1")
	require.NoError(t, err)
	sess.ConversationState = models.ConversationCompleted
	require.NoError(t, store.Save(ctx, sess))

	// completed -> awaiting_feedback is not in the table, but the workflow
	// setter writes it anyway.
	require.NoError(t, tracker.SetConversationState(ctx, "s1", models.ConversationAwaitingFeedback))

	got, err := tracker.ConversationState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.ConversationAwaitingFeedback, got)
}

func TestProjectStateDefaultsToNotStarted(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "s1")
	require.NoError(t, err)

	got, err := tracker.ProjectState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectNotStarted, got)
}

func TestUpdateProjectMergesMetadata(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, tracker.UpdateProject(ctx, "s1", models.ProjectPlanning, map[string]any{"step": "structure"}))
	require.NoError(t, tracker.UpdateProject(ctx, "s1", models.ProjectInProgress, map[string]any{"progress": 0.3}))

	sess, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, sess.Project)
	assert.Equal(t, models.ProjectInProgress, sess.Project.State)
	assert.Equal(t, "structure", sess.Project.CurrentState["step"])
	assert.Equal(t, 0.3, sess.Project.CurrentState["progress"])
}

func TestShouldGatherMore(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "s1")
	require.NoError(t, err)

	// No project at all.
	more, err := tracker.ShouldGatherMore(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, more)

	// Project type and state present but too few requirement keys.
	sess.Project = &models.ProjectContext{
		ProjectType:  "web app",
		CurrentState: map[string]any{"phase": "drafting"},
		Requirements: map[string]any{"project_type": "web app"},
		State:        models.ProjectNotStarted,
	}
	require.NoError(t, store.Save(ctx, sess))
	more, err = tracker.ShouldGatherMore(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, more)

	// Enough requirement keys.
	sess.Project.Requirements["features"] = []string{"authentication"}
	sess.Project.Requirements["technologies"] = []string{"go"}
	require.NoError(t, store.Save(ctx, sess))
	more, err = tracker.ShouldGatherMore(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, more)
}

func TestSummarize(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "s1")
	require.NoError(t, err)
	sess.ConversationState = models.ConversationProcessing
	sess.Project = &models.ProjectContext{ProjectID: "proj-1", State: models.ProjectInProgress}
	sess.Messages = []models.Message{{ID: "m1", Role: models.RoleUser, Content: "hi"}}
	require.NoError(t, store.Save(ctx, sess))

	summary, err := tracker.Summarize(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", summary.SessionID)
	assert.Equal(t, models.ConversationProcessing, summary.ConversationState)
	assert.Equal(t, models.ProjectInProgress, summary.ProjectState)
	assert.Equal(t, 1, summary.MessageCount)
	assert.True(t, summary.HasProject)
}
