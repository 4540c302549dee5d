// Package api is the HTTP surface: the chat endpoint, session inspection
// and admin endpoints, health probes, and the WebSocket upgrade path.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/forgemcp/concierge/pkg/conversation"
	"github.com/forgemcp/concierge/pkg/events"
	"github.com/forgemcp/concierge/pkg/session"
	"github.com/forgemcp/concierge/pkg/state"
)

// Server is the HTTP server wiring handlers to the conversation core.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	store       *session.Store
	contextMgr  *session.ContextManager
	tracker     *state.Tracker
	coordinator *conversation.Coordinator
	hub         *events.Hub

	corsOrigins []string
}

// NewServer creates the API server and registers all routes.
func NewServer(
	store *session.Store,
	contextMgr *session.ContextManager,
	tracker *state.Tracker,
	coordinator *conversation.Coordinator,
	hub *events.Hub,
	corsOrigins []string,
) *Server {
	s := &Server{
		store:       store,
		contextMgr:  contextMgr,
		tracker:     tracker,
		coordinator: coordinator,
		hub:         hub,
		corsOrigins: corsOrigins,
	}

	e := echo.New()
	e.Use(securityHeaders())
	e.Use(corsMiddleware(corsOrigins))

	e.GET("/health", s.healthHandler)
	e.GET("/health/live", s.livenessHandler)
	e.GET("/health/ready", s.readinessHandler)

	v1 := e.Group("/api/v1")
	v1.POST("/conversation/chat", s.chatHandler)
	v1.GET("/sessions/active", s.activeSessionsHandler)
	v1.GET("/sessions/:id/info", s.sessionInfoHandler)
	v1.GET("/sessions/:id/context", s.sessionContextHandler)
	v1.GET("/sessions/:id/history", s.sessionHistoryHandler)
	v1.POST("/sessions/:id/state", s.stateOverrideHandler)
	v1.DELETE("/sessions/:id", s.deleteSessionHandler)
	v1.GET("/realtime/ws/:session_id", s.wsHandler)

	s.echo = e
	return s
}

// Start listens on addr and serves until Shutdown. Blocks.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler { return s.echo }
