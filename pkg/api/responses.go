package api

// HealthCheck is one component's health probe result.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// DeleteResponse is returned by DELETE /api/v1/sessions/:id.
type DeleteResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ActiveSessionsResponse is returned by GET /api/v1/sessions/active.
type ActiveSessionsResponse struct {
	Sessions []string `json:"sessions"`
	Count    int      `json:"count"`
}

// StateOverrideResponse is returned by POST /api/v1/sessions/:id/state.
type StateOverrideResponse struct {
	SessionID         string `json:"session_id"`
	ConversationState string `json:"conversation_state,omitempty"`
	ProjectState      string `json:"project_state,omitempty"`
	Message           string `json:"message"`
}
