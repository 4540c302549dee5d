package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// maxMessageLength bounds one chat message.
const maxMessageLength = 10_000

// ChatRequest is the HTTP request body for POST /api/v1/conversation/chat.
type ChatRequest struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id"`
	Context   map[string]any `json:"context,omitempty"`
}

// chatHandler handles POST /api/v1/conversation/chat.
// An empty session_id starts a new session; the reply carries the id to
// continue with.
func (s *Server) chatHandler(c *echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	if len(req.Message) > maxMessageLength {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "message exceeds maximum length")
	}

	resp, err := s.coordinator.HandleMessage(c.Request().Context(), req.SessionID, req.Message, req.Context)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, resp)
}
