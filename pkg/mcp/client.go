// Package mcp is the typed HTTP client for the project-generation backend.
//
// Every call is a single round trip with a bounded timeout. The client does
// not retry — the workflow driver decides what a failure means. Backend
// responses with status >= 400 surface as *BackendError (kind mcp_error);
// transport failures and timeouts surface as ErrUnreachable (kind
// mcp_unreachable).
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/forgemcp/concierge/pkg/version"
)

// DefaultTimeout bounds each backend call.
const DefaultTimeout = 30 * time.Second

// ErrUnreachable indicates a network failure or timeout reaching the backend.
var ErrUnreachable = errors.New("mcp backend unreachable")

// BackendError is a backend response with HTTP status >= 400.
type BackendError struct {
	StatusCode int
	Payload    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("mcp backend returned %d: %s", e.StatusCode, e.Payload)
}

// ImpactAnalysis is the result of analyzing a requested change.
type ImpactAnalysis struct {
	AffectedComponents []string `json:"affectedComponents"`
	RiskLevel          string   `json:"riskLevel"`
	BreakingChanges    bool     `json:"breakingChanges"`
	RequiredUpdates    []string `json:"requiredUpdates"`
	Complexity         string   `json:"complexity"`
}

// HighRisk reports whether the analysis requires user confirmation.
func (a *ImpactAnalysis) HighRisk() bool { return a.RiskLevel == "high" }

// StructureResult is the outcome of project structure generation.
type StructureResult struct {
	ProjectID string         `json:"projectId"`
	Structure map[string]any `json:"structure"`
}

// UpdateResult is the outcome of a component update call.
type UpdateResult struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// ValidationResult is the outcome of a consistency validation call.
type ValidationResult struct {
	Status string   `json:"status"`
	Issues []string `json:"issues"`
}

// Validation scopes.
const (
	ScopeFull     = "full"
	ScopeModified = "modified"
)

// Client calls the project-generation backend over HTTP+JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a backend client. A non-positive timeout selects
// DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// AnalyzeChangeImpact asks the backend what a requested change would touch.
func (c *Client) AnalyzeChangeImpact(ctx context.Context, projectID, requestedChange string, currentState map[string]any) (*ImpactAnalysis, error) {
	var out ImpactAnalysis
	err := c.post(ctx, "/api/v1/projects/"+projectID+"/impact", map[string]any{
		"requestedChange": requestedChange,
		"currentState":    currentState,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateProjectStructure creates the initial project skeleton and returns
// the backend-assigned project id.
func (c *Client) GenerateProjectStructure(ctx context.Context, requirements map[string]any, projectType string) (*StructureResult, error) {
	var out StructureResult
	err := c.post(ctx, "/api/v1/projects/structure", map[string]any{
		"requirements": requirements,
		"projectType":  projectType,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateComponents applies an update to the given components.
func (c *Client) UpdateComponents(ctx context.Context, projectID string, components []string, updateType string) (*UpdateResult, error) {
	var out UpdateResult
	err := c.post(ctx, "/api/v1/projects/"+projectID+"/components", map[string]any{
		"components": components,
		"updateType": updateType,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateConsistency checks project consistency over the given scope
// (ScopeFull or ScopeModified).
func (c *Client) ValidateConsistency(ctx context.Context, projectID, scope string) (*ValidationResult, error) {
	var out ValidationResult
	err := c.post(ctx, "/api/v1/projects/"+projectID+"/validate", map[string]any{
		"scope": scope,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeDomain runs domain analysis over the gathered requirements.
func (c *Client) AnalyzeDomain(ctx context.Context, requirements map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.post(ctx, "/api/v1/domain/analyze", map[string]any{
		"requirements": requirements,
	}, &out)
	return out, err
}

// GenerateBackend generates the project's backend services.
func (c *Client) GenerateBackend(ctx context.Context, projectID string, requirements map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.post(ctx, "/api/v1/projects/"+projectID+"/backend", map[string]any{
		"requirements": requirements,
	}, &out)
	return out, err
}

// GenerateFrontend generates the project's frontend.
func (c *Client) GenerateFrontend(ctx context.Context, projectID string, requirements map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.post(ctx, "/api/v1/projects/"+projectID+"/frontend", map[string]any{
		"requirements": requirements,
	}, &out)
	return out, err
}

// SetupInfrastructure provisions deployment infrastructure for the project.
func (c *Client) SetupInfrastructure(ctx context.Context, projectID string, requirements map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.post(ctx, "/api/v1/projects/"+projectID+"/infrastructure", map[string]any{
		"requirements": requirements,
	}, &out)
	return out, err
}

// GetProjectStatus fetches the backend's view of the project.
func (c *Client) GetProjectStatus(ctx context.Context, projectID string) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/api/v1/projects/"+projectID+"/status", nil, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// do performs one round trip: marshal, send with the per-call timeout,
// map the failure modes, decode.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request for %s: %w", path, err)
		}
		reqBody = bytes.NewReader(data)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if resp.StatusCode >= 400 {
		return &BackendError{StatusCode: resp.StatusCode, Payload: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}
