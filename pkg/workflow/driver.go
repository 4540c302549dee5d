// Package workflow runs the long-lived project workflows: initial creation
// and modification. Workflows execute asynchronously on bounded worker
// slots, report progress through the event bus, and write every state
// change back through the session store so crash recovery can resume from
// persisted state.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgemcp/concierge/pkg/events"
	"github.com/forgemcp/concierge/pkg/mcp"
	"github.com/forgemcp/concierge/pkg/models"
	"github.com/forgemcp/concierge/pkg/session"
	"github.com/forgemcp/concierge/pkg/state"
)

const (
	// DefaultMaxConcurrent bounds the number of workflows in flight.
	DefaultMaxConcurrent = 4
	// DefaultWorkflowTimeout bounds one whole workflow run.
	DefaultWorkflowTimeout = 10 * time.Minute
)

// ErrShuttingDown is returned when a workflow is submitted after Stop.
var ErrShuttingDown = errors.New("workflow driver is shutting down")

// ErrBusy is returned when all worker slots are occupied.
var ErrBusy = errors.New("all workflow slots are busy")

// Backend is the project-generation surface the driver drives.
// Implemented by *mcp.Client.
type Backend interface {
	GenerateProjectStructure(ctx context.Context, requirements map[string]any, projectType string) (*mcp.StructureResult, error)
	GenerateBackend(ctx context.Context, projectID string, requirements map[string]any) (map[string]any, error)
	GenerateFrontend(ctx context.Context, projectID string, requirements map[string]any) (map[string]any, error)
	SetupInfrastructure(ctx context.Context, projectID string, requirements map[string]any) (map[string]any, error)
	ValidateConsistency(ctx context.Context, projectID, scope string) (*mcp.ValidationResult, error)
	AnalyzeChangeImpact(ctx context.Context, projectID, requestedChange string, currentState map[string]any) (*mcp.ImpactAnalysis, error)
	UpdateComponents(ctx context.Context, projectID string, components []string, updateType string) (*mcp.UpdateResult, error)
}

// EventSink is the publisher surface the driver reports through.
// Implemented by *events.Publisher.
type EventSink interface {
	PublishProjectEvent(ctx context.Context, eventType, projectID, sessionID string, data map[string]any) error
	PublishProgress(ctx context.Context, sessionID, projectID string, progress float64, message string) error
	PublishError(ctx context.Context, sessionID, errorType, message string) error
}

// Driver owns workflow execution. Submissions are non-blocking: when every
// slot is busy the caller gets ErrBusy and nothing is queued.
type Driver struct {
	backend    Backend
	store      *session.Store
	contextMgr *session.ContextManager
	tracker    *state.Tracker
	bus        EventSink

	slots   chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool

	timeout time.Duration
	logger  *slog.Logger
}

// NewDriver creates a workflow driver with maxConcurrent worker slots.
// Non-positive maxConcurrent selects DefaultMaxConcurrent.
func NewDriver(backend Backend, store *session.Store, contextMgr *session.ContextManager, tracker *state.Tracker, bus EventSink, maxConcurrent int) *Driver {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Driver{
		backend:    backend,
		store:      store,
		contextMgr: contextMgr,
		tracker:    tracker,
		bus:        bus,
		slots:      make(chan struct{}, maxConcurrent),
		timeout:    DefaultWorkflowTimeout,
		logger:     slog.Default(),
	}
}

// StartCreation launches the creation workflow for the session's draft
// project. Returns once the workflow is scheduled.
func (d *Driver) StartCreation(ctx context.Context, sessionID string) error {
	return d.submit(sessionID, "creation", func(runCtx context.Context) {
		d.runCreation(runCtx, sessionID)
	})
}

// StartModification launches the modification workflow. force skips the
// high-risk confirmation gate — set when the user has already confirmed.
func (d *Driver) StartModification(ctx context.Context, sessionID, request string, force bool) error {
	return d.submit(sessionID, "modification", func(runCtx context.Context) {
		d.runModification(runCtx, sessionID, request, force)
	})
}

// ResumePending re-launches the modification parked in the session's
// pending_modification slot, with the confirmation gate released.
func (d *Driver) ResumePending(ctx context.Context, sessionID string) error {
	sess, err := d.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	pending := pendingModification(sess)
	if pending == nil {
		return fmt.Errorf("session %s has no pending modification", sessionID)
	}
	request, _ := pending["request"].(string)
	return d.StartModification(ctx, sessionID, request, true)
}

// Stop drains in-flight workflows. New submissions fail immediately with
// ErrShuttingDown.
func (d *Driver) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.wg.Wait()
	d.logger.Info("Workflow driver stopped")
}

func (d *Driver) submit(sessionID, kind string, run func(ctx context.Context)) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrShuttingDown
	}
	select {
	case d.slots <- struct{}{}:
	default:
		d.mu.Unlock()
		return ErrBusy
	}
	d.wg.Add(1)
	d.mu.Unlock()

	d.logger.Info("Workflow scheduled", "workflow", kind, "session_id", sessionID)

	go func() {
		defer d.wg.Done()
		defer func() { <-d.slots }()

		// Workflows outlive the request that started them.
		runCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		run(runCtx)
	}()
	return nil
}

// runCreation executes the creation workflow synchronously: structure,
// conditional backend and frontend, infrastructure, validation. Progress
// climbs 0.1 → 1.0 and only reaches 1.0 on success.
func (d *Driver) runCreation(ctx context.Context, sessionID string) {
	sess, err := d.store.Get(ctx, sessionID)
	if err != nil {
		d.logger.Error("Creation workflow could not load session",
			"session_id", sessionID, "error", err)
		return
	}

	var requirements map[string]any
	var projectType string
	if sess.Project != nil {
		requirements = sess.Project.Requirements
		projectType = sess.Project.ProjectType
	}
	if requirements == nil {
		requirements = map[string]any{}
	}

	if err := d.tracker.UpdateProject(ctx, sessionID, models.ProjectPlanning, nil); err != nil {
		d.logger.Error("Creation workflow could not enter planning",
			"session_id", sessionID, "error", err)
		return
	}

	structure, err := d.backend.GenerateProjectStructure(ctx, requirements, projectType)
	if err != nil {
		d.fail(ctx, sessionID, "", "creation", "structure generation", err)
		return
	}
	projectID := structure.ProjectID
	if err := d.contextMgr.SetProjectID(ctx, sessionID, projectID); err != nil {
		d.fail(ctx, sessionID, projectID, "creation", "structure generation", err)
		return
	}
	// The id recorded first wins; all later steps use the stored one.
	if cur, err := d.store.Get(ctx, sessionID); err == nil && cur.Project != nil && cur.Project.ProjectID != "" {
		projectID = cur.Project.ProjectID
	}
	if structure.Structure != nil {
		if err := d.contextMgr.UpdateProjectState(ctx, sessionID, map[string]any{"structure": structure.Structure}); err != nil {
			d.fail(ctx, sessionID, projectID, "creation", "structure generation", err)
			return
		}
	}
	d.progress(ctx, sessionID, projectID, 0.1, "Analyzing requirements")

	if err := d.tracker.UpdateProject(ctx, sessionID, models.ProjectInProgress, nil); err != nil {
		d.fail(ctx, sessionID, projectID, "creation", "project setup", err)
		return
	}
	d.progress(ctx, sessionID, projectID, 0.3, "Setting up project structure")

	if wantsComponent(requirements, "needs_backend") {
		if _, err := d.backend.GenerateBackend(ctx, projectID, requirements); err != nil {
			d.fail(ctx, sessionID, projectID, "creation", "backend generation", err)
			return
		}
		d.progress(ctx, sessionID, projectID, 0.5, "Generating backend services")
	}

	if wantsComponent(requirements, "needs_frontend") {
		if _, err := d.backend.GenerateFrontend(ctx, projectID, requirements); err != nil {
			d.fail(ctx, sessionID, projectID, "creation", "frontend generation", err)
			return
		}
		d.progress(ctx, sessionID, projectID, 0.7, "Generating frontend")
	}

	if _, err := d.backend.SetupInfrastructure(ctx, projectID, requirements); err != nil {
		d.fail(ctx, sessionID, projectID, "creation", "infrastructure setup", err)
		return
	}
	d.progress(ctx, sessionID, projectID, 0.9, "Setting up infrastructure")

	validation, err := d.backend.ValidateConsistency(ctx, projectID, mcp.ScopeFull)
	if err != nil {
		d.fail(ctx, sessionID, projectID, "creation", "validation", err)
		return
	}
	if err := d.tracker.UpdateProject(ctx, sessionID, models.ProjectCompleted, map[string]any{
		"validation": asMap(validation),
	}); err != nil {
		d.fail(ctx, sessionID, projectID, "creation", "completion", err)
		return
	}
	// Full progress only after the completed state is durable; a failed
	// completion write must not leave a 1.0 on the wire.
	d.progress(ctx, sessionID, projectID, 1.0, "Project generation complete")

	d.publishProject(ctx, events.EventProjectCreationCompleted, projectID, sessionID, map[string]any{
		"status":     "completed",
		"validation": asMap(validation),
	})
	d.completeConversation(ctx, sessionID)
	d.logger.Info("Creation workflow completed",
		"session_id", sessionID, "project_id", projectID)
}

// runModification executes the modification workflow synchronously.
// High-risk changes without force are parked for user confirmation instead
// of being applied.
func (d *Driver) runModification(ctx context.Context, sessionID, request string, force bool) {
	sess, err := d.store.Get(ctx, sessionID)
	if err != nil {
		d.logger.Error("Modification workflow could not load session",
			"session_id", sessionID, "error", err)
		return
	}
	if sess.Project == nil || sess.Project.ProjectID == "" {
		d.logger.Warn("Modification workflow without a project",
			"session_id", sessionID)
		return
	}
	projectID := sess.Project.ProjectID
	currentState := sess.Project.CurrentState

	if err := d.tracker.UpdateProject(ctx, sessionID, models.ProjectModifying, nil); err != nil {
		d.fail(ctx, sessionID, projectID, "modification", "start", err)
		return
	}

	impact, err := d.backend.AnalyzeChangeImpact(ctx, projectID, request, currentState)
	if err != nil {
		d.fail(ctx, sessionID, projectID, "modification", "impact analysis", err)
		return
	}
	d.progress(ctx, sessionID, projectID, 0.2, "Change impact analyzed")

	if impact.HighRisk() && !force {
		d.parkForConfirmation(ctx, sessionID, projectID, request, impact)
		return
	}

	for _, component := range impact.AffectedComponents {
		if _, err := d.backend.UpdateComponents(ctx, projectID, []string{component}, "modify"); err != nil {
			d.fail(ctx, sessionID, projectID, "modification", "component update", err)
			return
		}
	}
	d.progress(ctx, sessionID, projectID, 0.6, "Components updated")

	validation, err := d.backend.ValidateConsistency(ctx, projectID, mcp.ScopeModified)
	if err != nil {
		d.fail(ctx, sessionID, projectID, "modification", "validation", err)
		return
	}
	d.progress(ctx, sessionID, projectID, 0.8, "Changes validated")

	if err := d.contextMgr.AddModification(ctx, sessionID, models.Modification{
		Timestamp: time.Now().UTC(),
		Request:   request,
		Impact:    asMap(impact),
		Result:    asMap(validation),
	}); err != nil {
		d.fail(ctx, sessionID, projectID, "modification", "record keeping", err)
		return
	}
	if err := d.contextMgr.UpdateProjectState(ctx, sessionID, map[string]any{
		"pending_modification": nil,
	}); err != nil {
		d.fail(ctx, sessionID, projectID, "modification", "record keeping", err)
		return
	}

	if err := d.tracker.UpdateProject(ctx, sessionID, models.ProjectCompleted, nil); err != nil {
		d.fail(ctx, sessionID, projectID, "modification", "completion", err)
		return
	}
	d.progress(ctx, sessionID, projectID, 1.0, "Modification complete")

	d.publishProject(ctx, events.EventProjectModificationCompleted, projectID, sessionID, map[string]any{
		"status":     "completed",
		"request":    request,
		"impact":     asMap(impact),
		"validation": asMap(validation),
	})
	d.completeConversation(ctx, sessionID)
	d.logger.Info("Modification workflow completed",
		"session_id", sessionID, "project_id", projectID)
}

// parkForConfirmation stores the pending change, tells the user what the
// backend predicted, and leaves the conversation awaiting feedback. The
// project stays in modifying until the user decides.
func (d *Driver) parkForConfirmation(ctx context.Context, sessionID, projectID, request string, impact *mcp.ImpactAnalysis) {
	impactMap := asMap(impact)
	if err := d.contextMgr.UpdateProjectState(ctx, sessionID, map[string]any{
		"pending_modification": map[string]any{
			"request": request,
			"impact":  impactMap,
		},
	}); err != nil {
		d.fail(ctx, sessionID, projectID, "modification", "confirmation", err)
		return
	}

	d.publishProject(ctx, events.EventProjectUpdated, projectID, sessionID, map[string]any{
		"status": "confirmation_needed",
		"impact": impactMap,
	})

	content := fmt.Sprintf(
		"This change is high risk: it affects %d component(s) and %s. Reply yes to proceed or no to cancel.",
		len(impact.AffectedComponents), breakingPhrase(impact.BreakingChanges))
	d.appendAssistant(ctx, sessionID, content, map[string]any{"kind": "confirmation_request"})

	if err := d.tracker.SetConversationState(ctx, sessionID, models.ConversationAwaitingFeedback); err != nil {
		d.logger.Warn("Could not move conversation to awaiting_feedback",
			"session_id", sessionID, "error", err)
	}
	d.logger.Info("Modification parked for confirmation",
		"session_id", sessionID, "project_id", projectID,
		"risk_level", impact.RiskLevel)
}

// fail records the terminal failure: project state, bus events, a
// user-visible message, and the conversation error state.
func (d *Driver) fail(ctx context.Context, sessionID, projectID, workflow, step string, err error) {
	kind := errorKind(err)
	d.logger.Error("Workflow failed",
		"workflow", workflow, "step", step,
		"session_id", sessionID, "project_id", projectID,
		"error_kind", kind, "error", err)

	if uerr := d.tracker.UpdateProject(ctx, sessionID, models.ProjectFailed, map[string]any{
		"error":       err.Error(),
		"failed_step": step,
	}); uerr != nil {
		d.logger.Error("Could not record failed project state",
			"session_id", sessionID, "error", uerr)
	}

	eventType := events.EventProjectCreationFailed
	if workflow == "modification" {
		eventType = events.EventProjectModificationFailed
	}
	d.publishProject(ctx, eventType, projectID, sessionID, map[string]any{
		"status":    "failed",
		"step":      step,
		"errorType": kind,
		"message":   err.Error(),
	})
	if perr := d.bus.PublishError(ctx, sessionID, kind, fmt.Sprintf("Project %s failed during %s", workflow, step)); perr != nil {
		d.logger.Warn("Could not publish error event", "session_id", sessionID, "error", perr)
	}

	content := fmt.Sprintf("Project %s failed during %s (%s). You can adjust the request and try again.",
		workflow, step, kind)
	d.appendAssistant(ctx, sessionID, content, map[string]any{"error_kind": kind})

	if terr := d.tracker.SetConversationState(ctx, sessionID, models.ConversationError); terr != nil {
		d.logger.Warn("Could not move conversation to error state",
			"session_id", sessionID, "error", terr)
	}
}

func (d *Driver) completeConversation(ctx context.Context, sessionID string) {
	if err := d.tracker.SetConversationState(ctx, sessionID, models.ConversationCompleted); err != nil {
		d.logger.Warn("Could not complete conversation state",
			"session_id", sessionID, "error", err)
	}
}

func (d *Driver) progress(ctx context.Context, sessionID, projectID string, value float64, message string) {
	if err := d.bus.PublishProgress(ctx, sessionID, projectID, value, message); err != nil {
		d.logger.Warn("Could not publish progress",
			"session_id", sessionID, "progress", value, "error", err)
	}
}

func (d *Driver) publishProject(ctx context.Context, eventType, projectID, sessionID string, data map[string]any) {
	if err := d.bus.PublishProjectEvent(ctx, eventType, projectID, sessionID, data); err != nil {
		d.logger.Warn("Could not publish project event",
			"type", eventType, "session_id", sessionID, "error", err)
	}
}

func (d *Driver) appendAssistant(ctx context.Context, sessionID, content string, metadata map[string]any) {
	err := d.store.AppendMessage(ctx, sessionID, models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})
	if err != nil {
		d.logger.Warn("Could not append workflow message",
			"session_id", sessionID, "error", err)
	}
}

// errorKind maps a workflow error to its stable kind for events and logs.
func errorKind(err error) string {
	var backendErr *mcp.BackendError
	switch {
	case errors.Is(err, mcp.ErrUnreachable):
		return models.ErrorKindMCPUnreachable
	case errors.As(err, &backendErr):
		return models.ErrorKindMCPError
	case errors.Is(err, session.ErrStoreUnavailable):
		return models.ErrorKindStoreUnavailable
	case errors.Is(err, session.ErrNotFound):
		return models.ErrorKindNotFound
	default:
		return models.ErrorKindInternal
	}
}

// wantsComponent reads an opt-out flag from the requirements: a component
// is generated unless the flag is explicitly false.
func wantsComponent(requirements map[string]any, key string) bool {
	v, ok := requirements[key]
	if !ok {
		return true
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b != "false" && b != "no"
	default:
		return true
	}
}

func pendingModification(sess *models.Session) map[string]any {
	if sess.Project == nil || sess.Project.CurrentState == nil {
		return nil
	}
	pending, _ := sess.Project.CurrentState["pending_modification"].(map[string]any)
	return pending
}

func breakingPhrase(breaking bool) string {
	if breaking {
		return "includes breaking changes"
	}
	return "has no breaking changes"
}

// asMap flattens a typed result to the map shape stored in session state
// and carried on events.
func asMap(v any) map[string]any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
