package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/forgemcp/concierge/pkg/models"
)

// sessionInfoHandler handles GET /api/v1/sessions/:id/info.
func (s *Server) sessionInfoHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	summary, err := s.tracker.Summarize(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

// sessionContextHandler handles GET /api/v1/sessions/:id/context.
// ?history=true includes the recent message snippets.
func (s *Server) sessionContextHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	includeHistory := c.QueryParam("history") == "true"

	rc, err := s.contextMgr.RelevantContext(c.Request().Context(), sessionID, includeHistory)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, rc)
}

// sessionHistoryHandler handles GET /api/v1/sessions/:id/history.
// ?limit=N returns the last N messages; 0 or absent returns all.
func (s *Server) sessionHistoryHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	messages, err := s.store.History(c.Request().Context(), sessionID, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
		"count":      len(messages),
	})
}

// activeSessionsHandler handles GET /api/v1/sessions/active.
func (s *Server) activeSessionsHandler(c *echo.Context) error {
	ids, err := s.store.ListActive(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ActiveSessionsResponse{Sessions: ids, Count: len(ids)})
}

// deleteSessionHandler handles DELETE /api/v1/sessions/:id.
func (s *Server) deleteSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if err := s.store.Delete(c.Request().Context(), sessionID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &DeleteResponse{
		SessionID: sessionID,
		Message:   "Session deleted",
	})
}

// StateOverrideRequest is the body for POST /api/v1/sessions/:id/state.
// Either field may be set; conversation transitions still obey the
// transition table.
type StateOverrideRequest struct {
	ConversationState string `json:"conversation_state,omitempty"`
	ProjectState      string `json:"project_state,omitempty"`
}

// stateOverrideHandler handles POST /api/v1/sessions/:id/state — the admin
// escape hatch for nudging a stuck session. Invalid enum values and
// transitions not in the table are rejected with 400.
func (s *Server) stateOverrideHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req StateOverrideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ConversationState == "" && req.ProjectState == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation_state or project_state is required")
	}

	ctx := c.Request().Context()
	resp := &StateOverrideResponse{SessionID: sessionID, Message: "State updated"}

	if req.ConversationState != "" {
		target := models.ConversationState(req.ConversationState)
		if !models.ValidConversationState(target) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation_state: "+req.ConversationState)
		}
		ok, err := s.tracker.TransitionConversation(ctx, sessionID, target)
		if err != nil {
			return mapServiceError(err)
		}
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest,
				"invalid conversation state transition to "+req.ConversationState)
		}
		resp.ConversationState = req.ConversationState
	}

	if req.ProjectState != "" {
		target := models.ProjectState(req.ProjectState)
		if !models.ValidProjectState(target) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid project_state: "+req.ProjectState)
		}
		if err := s.contextMgr.SetProjectState(ctx, sessionID, target); err != nil {
			return mapServiceError(err)
		}
		resp.ProjectState = req.ProjectState
	}

	return c.JSON(http.StatusOK, resp)
}
