package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forgemcp/concierge/pkg/models"
	"github.com/forgemcp/concierge/pkg/session"
)

// RegisterCoreHandlers wires the conversation core's event handlers onto
// the consumer: lifecycle events patch session state and everything
// user-relevant is pushed through the hub.
func RegisterCoreHandlers(c *Consumer, store *session.Store, contextMgr *session.ContextManager, hub *Hub) {
	logger := slog.Default()

	c.Subscribe(EventProjectUpdated, func(ctx context.Context, evt Event) error {
		sid := evt.SessionID()
		if sid == "" {
			return nil
		}
		if details, ok := evt.Data["details"].(map[string]any); ok {
			if err := contextMgr.UpdateProjectState(ctx, sid, details); err != nil {
				return fmt.Errorf("failed to patch project context: %w", err)
			}
		}
		hub.SendToSession(sid, map[string]any{"type": "project_update", "data": evt.Data})
		return nil
	})

	c.Subscribe(EventProjectGenerationComplete, func(ctx context.Context, evt Event) error {
		sid := evt.SessionID()
		if sid == "" {
			return nil
		}
		target := models.ProjectCompleted
		if status, _ := evt.Data["status"].(string); status == "failed" {
			target = models.ProjectFailed
		}
		if err := contextMgr.SetProjectState(ctx, sid, target); err != nil {
			return fmt.Errorf("failed to set project state: %w", err)
		}
		hub.SendToSession(sid, map[string]any{"type": "generation_complete", "data": evt.Data})
		return nil
	})

	c.Subscribe(EventValidationComplete, func(ctx context.Context, evt Event) error {
		sid := evt.SessionID()
		if sid == "" {
			return nil
		}
		if err := contextMgr.UpdateProjectState(ctx, sid, map[string]any{"last_validation": evt.Data}); err != nil {
			return fmt.Errorf("failed to record validation: %w", err)
		}
		if issues, ok := evt.Data["issues"].([]any); ok && len(issues) > 0 {
			hub.SendToSession(sid, map[string]any{"type": "validation_issues", "data": evt.Data})
		}
		return nil
	})

	c.Subscribe(EventError, func(ctx context.Context, evt Event) error {
		sid := evt.SessionID()
		if sid == "" {
			return nil
		}
		message, _ := evt.Data["message"].(string)
		errorType, _ := evt.Data["errorType"].(string)
		err := store.AppendMessage(ctx, sid, models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleSystem,
			Content:   message,
			Timestamp: time.Now().UTC(),
			Metadata:  map[string]any{"error_kind": errorType},
		})
		if err != nil {
			return fmt.Errorf("failed to record error message: %w", err)
		}
		hub.SendToSession(sid, map[string]any{"type": "error", "data": evt.Data})
		return nil
	})

	c.Subscribe(EventProgressUpdate, func(_ context.Context, evt Event) error {
		if sid := evt.SessionID(); sid != "" {
			hub.SendToSession(sid, map[string]any{"type": "progress", "data": evt.Data})
		}
		return nil
	})

	c.Subscribe(EventExternalUpdate, func(_ context.Context, evt Event) error {
		if sid := evt.SessionID(); sid != "" {
			hub.SendToSession(sid, map[string]any{"type": "external_update", "data": evt.Data})
		}
		return nil
	})

	c.Subscribe(Wildcard, func(_ context.Context, evt Event) error {
		logger.Debug("Event received", "type", evt.Type, "source", evt.Source)
		return nil
	})
}
