package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgemcp/concierge/pkg/conversation"
	"github.com/forgemcp/concierge/pkg/events"
	"github.com/forgemcp/concierge/pkg/intent"
	"github.com/forgemcp/concierge/pkg/models"
	"github.com/forgemcp/concierge/pkg/session"
	"github.com/forgemcp/concierge/pkg/state"
)

type noopDriver struct{}

func (noopDriver) StartCreation(context.Context, string) error                 { return nil }
func (noopDriver) StartModification(context.Context, string, string, bool) error { return nil }
func (noopDriver) ResumePending(context.Context, string) error                 { return nil }

type noopBus struct{}

func (noopBus) PublishConversationEvent(context.Context, string, string, map[string]any) error {
	return nil
}
func (noopBus) PublishError(context.Context, string, string, string) error { return nil }

type apiFixture struct {
	server *httptest.Server
	store  *session.Store
	mr     *miniredis.Miniredis
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := session.NewStore(rdb, time.Hour)
	contextMgr := session.NewContextManager(store)
	tracker := state.NewTracker(store)
	hub := events.NewHub(time.Second)

	coordinator := conversation.NewCoordinator(
		store, contextMgr, intent.NewClassifier(), tracker,
		noopDriver{}, noopBus{}, hub, nil, nil,
	)

	s := NewServer(store, contextMgr, tracker, coordinator, hub, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &apiFixture{server: srv, store: store, mr: mr}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (f *apiFixture) seedSession(t *testing.T, id string, mutate func(*models.Session)) {
	t.Helper()
	ctx := context.Background()
	sess, err := f.store.Create(ctx, id)
	require.NoError(t, err)
	if mutate != nil {
		mutate(sess)
		require.NoError(t, f.store.Save(ctx, sess))
	}
}

func TestHealthEndpoint(t *testing.T) {
	fx := newAPIFixture(t)

	resp, body := fx.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	checks, ok := body["checks"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, checks, "redis")
	assert.Contains(t, checks, "websocket_hub")
}

func TestHealthReportsRedisOutage(t *testing.T) {
	fx := newAPIFixture(t)
	fx.mr.Close()

	resp, body := fx.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestLivenessAndReadiness(t *testing.T) {
	fx := newAPIFixture(t)

	resp, _ := fx.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = fx.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	fx.mr.Close()
	resp, _ = fx.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestChatEndpoint(t *testing.T) {
	fx := newAPIFixture(t)

	resp, body := fx.do(t, http.MethodPost, "/api/v1/conversation/chat", ChatRequest{
		Message: "Hello there!",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "greeting", body["intent"])
	assert.NotEmpty(t, body["response"])
	assert.NotEmpty(t, body["session_id"])

	// The returned id continues the same session.
	sessionID := body["session_id"].(string)
	resp, body = fx.do(t, http.MethodPost, "/api/v1/conversation/chat", ChatRequest{
		Message:   "Hello again!",
		SessionID: sessionID,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sessionID, body["session_id"])
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	fx := newAPIFixture(t)

	resp, _ := fx.do(t, http.MethodPost, "/api/v1/conversation/chat", ChatRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatRejectsOversizedMessage(t *testing.T) {
	fx := newAPIFixture(t)

	resp, _ := fx.do(t, http.MethodPost, "/api/v1/conversation/chat", ChatRequest{
		Message: strings.Repeat("a", maxMessageLength+1),
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestSessionInfo(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedSession(t, "s1", func(sess *models.Session) {
		sess.ConversationState = models.ConversationGatheringRequirements
	})

	resp, body := fx.do(t, http.MethodGet, "/api/v1/sessions/s1/info", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "s1", body["session_id"])
	assert.Equal(t, "gathering_requirements", body["conversation_state"])
	assert.Equal(t, "not_started", body["project_state"])
}

func TestSessionInfoNotFound(t *testing.T) {
	fx := newAPIFixture(t)

	resp, _ := fx.do(t, http.MethodGet, "/api/v1/sessions/nope/info", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionContext(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedSession(t, "s1", func(sess *models.Session) {
		sess.Project = &models.ProjectContext{
			ProjectID:   "proj-1",
			ProjectType: "web app",
			State:       models.ProjectCompleted,
		}
		sess.Messages = []models.Message{
			{ID: "m1", Role: models.RoleUser, Content: "hello", Timestamp: time.Now().UTC()},
		}
	})

	resp, body := fx.do(t, http.MethodGet, "/api/v1/sessions/s1/context", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	project, ok := body["project"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "proj-1", project["project_id"])
	assert.Nil(t, body["recent_messages"])

	// history=true includes recent snippets.
	resp, body = fx.do(t, http.MethodGet, "/api/v1/sessions/s1/context?history=true", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	snippets, ok := body["recent_messages"].([]any)
	require.True(t, ok)
	assert.Len(t, snippets, 1)
}

func TestSessionHistory(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedSession(t, "s1", func(sess *models.Session) {
		for i := 0; i < 4; i++ {
			sess.Messages = append(sess.Messages, models.Message{
				ID: string(rune('a' + i)), Role: models.RoleUser, Content: "m", Timestamp: time.Now().UTC(),
			})
		}
	})

	resp, body := fx.do(t, http.MethodGet, "/api/v1/sessions/s1/history", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(4), body["count"])

	resp, body = fx.do(t, http.MethodGet, "/api/v1/sessions/s1/history?limit=2", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["count"])

	resp, _ = fx.do(t, http.MethodGet, "/api/v1/sessions/s1/history?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = fx.do(t, http.MethodGet, "/api/v1/sessions/s1/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestActiveSessions(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedSession(t, "s1", nil)
	fx.seedSession(t, "s2", nil)

	resp, body := fx.do(t, http.MethodGet, "/api/v1/sessions/active", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["count"])
	assert.ElementsMatch(t, []any{"s1", "s2"}, body["sessions"])
}

func TestDeleteSession(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedSession(t, "s1", nil)

	resp, body := fx.do(t, http.MethodDelete, "/api/v1/sessions/s1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "s1", body["session_id"])

	resp, _ = fx.do(t, http.MethodGet, "/api/v1/sessions/s1/info", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStateOverride(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedSession(t, "s1", nil)

	resp, body := fx.do(t, http.MethodPost, "/api/v1/sessions/s1/state", StateOverrideRequest{
		ConversationState: "gathering_requirements",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gathering_requirements", body["conversation_state"])

	info, infoBody := fx.do(t, http.MethodGet, "/api/v1/sessions/s1/info", nil)
	assert.Equal(t, http.StatusOK, info.StatusCode)
	assert.Equal(t, "gathering_requirements", infoBody["conversation_state"])
}

func TestStateOverrideRejectsInvalidEnum(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedSession(t, "s1", nil)

	resp, _ := fx.do(t, http.MethodPost, "/api/v1/sessions/s1/state", StateOverrideRequest{
		ConversationState: "daydreaming",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = fx.do(t, http.MethodPost, "/api/v1/sessions/s1/state", StateOverrideRequest{
		ProjectState: "imaginary",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStateOverrideRejectsInvalidTransition(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedSession(t, "s1", nil)

	// initial -> completed is not a valid edge.
	resp, _ := fx.do(t, http.MethodPost, "/api/v1/sessions/s1/state", StateOverrideRequest{
		ConversationState: "completed",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// State is unchanged after the rejection.
	_, body := fx.do(t, http.MethodGet, "/api/v1/sessions/s1/info", nil)
	assert.Equal(t, "initial", body["conversation_state"])
}

func TestStateOverrideSetsProjectState(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedSession(t, "s1", nil)

	resp, body := fx.do(t, http.MethodPost, "/api/v1/sessions/s1/state", StateOverrideRequest{
		ProjectState: "completed",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["project_state"])
}

func TestStateOverrideRequiresAField(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedSession(t, "s1", nil)

	resp, _ := fx.do(t, http.MethodPost, "/api/v1/sessions/s1/state", StateOverrideRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSecurityHeaders(t *testing.T) {
	fx := newAPIFixture(t)

	resp, _ := fx.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestCORSPreflight(t *testing.T) {
	fx := newAPIFixture(t)

	req, err := http.NewRequest(http.MethodOptions, fx.server.URL+"/api/v1/conversation/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.com")

	resp, err := fx.server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
