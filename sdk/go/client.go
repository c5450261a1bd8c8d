package speclinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Specline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Specification is a captured answer weighted by confidence and value.
type Specification struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	Phase      string  `json:"phase"`
	Category   string  `json:"category"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Value      float64 `json:"value"`
	CreatedAt  string  `json:"created_at"`
}

// CategoryScore is the per-category maturity breakdown.
type CategoryScore struct {
	Category     string  `json:"category"`
	CurrentScore float64 `json:"current_score"`
	TargetScore  float64 `json:"target_score"`
	SpecCount    int     `json:"spec_count"`
	Percentage   float64 `json:"percentage"`
}

// PhaseMaturity is the scored completeness of one phase.
type PhaseMaturity struct {
	Phase             string                   `json:"phase"`
	OverallPercentage float64                  `json:"overall_percentage"`
	CategoryScores    map[string]CategoryScore `json:"category_scores"`
	Warnings          []string                 `json:"warnings,omitempty"`
	MissingCategories []string                 `json:"missing_categories,omitempty"`
	ReadyToAdvance    bool                     `json:"ready_to_advance"`
}

// WorkflowPath is one scored entry-to-exit route through a plan graph.
type WorkflowPath struct {
	PathID          string   `json:"path_id"`
	NodeIDs         []string `json:"node_ids"`
	TotalCostTokens int      `json:"total_cost_tokens"`
	TotalCostUSD    float64  `json:"total_cost_usd"`
	RiskScore       float64  `json:"risk_score"`
	QualityScore    float64  `json:"quality_score"`
	ROIScore        float64  `json:"roi_score"`
}

// PlanResult is the scored path set for a definition.
type PlanResult struct {
	Definition        json.RawMessage `json:"definition"`
	Paths             []WorkflowPath  `json:"paths"`
	RecommendedPathID string          `json:"recommended_path_id,omitempty"`
}

// ApprovalRequest is a pending, approved, or rejected plan gate entry.
type ApprovalRequest struct {
	RequestID         string         `json:"request_id"`
	ProjectID         string         `json:"project_id"`
	WorkflowID        string         `json:"workflow_id"`
	Phase             string         `json:"phase"`
	AllPaths          []WorkflowPath `json:"all_paths"`
	RecommendedPathID string         `json:"recommended_path_id,omitempty"`
	Status            string         `json:"status"`
	ApprovedPathID    *string        `json:"approved_path_id,omitempty"`
	CreatedAt         string         `json:"created_at"`
	ResolvedAt        *string        `json:"resolved_at,omitempty"`
}

// ExecutionState tracks progress along an approved path.
type ExecutionState struct {
	ExecutionID              string   `json:"execution_id"`
	ProjectID                string   `json:"project_id"`
	WorkflowID               string   `json:"workflow_id"`
	Phase                    string   `json:"phase"`
	ApprovedPathID           string   `json:"approved_path_id"`
	Status                   string   `json:"status"`
	CurrentNodeID            string   `json:"current_node_id"`
	CompletedNodes           []string `json:"completed_nodes"`
	RemainingNodes           []string `json:"remaining_nodes,omitempty"`
	EstimatedTokensRemaining int      `json:"estimated_tokens_remaining"`
	ActualTokensUsed         int      `json:"actual_tokens_used"`
	CreatedAt                string   `json:"created_at"`
}

// HistoryEntry records a completed workflow with estimate accuracy.
type HistoryEntry struct {
	ProjectID       string  `json:"project_id"`
	WorkflowID      string  `json:"workflow_id"`
	Phase           string  `json:"phase"`
	PathID          string  `json:"path_id"`
	EstimatedTokens int     `json:"estimated_tokens"`
	ActualTokens    int     `json:"actual_tokens"`
	VariancePct     float64 `json:"variance_pct"`
	CompletedAt     string  `json:"completed_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// AddSpecification captures a specification and returns the updated phase
// maturity alongside it.
func (c *Client) AddSpecification(ctx context.Context, phase, category, content string, confidence, value float64) (Specification, PhaseMaturity, error) {
	body := map[string]any{
		"phase":      phase,
		"category":   category,
		"content":    content,
		"confidence": confidence,
		"value":      value,
	}
	var resp struct {
		Specification Specification `json:"specification"`
		Maturity      PhaseMaturity `json:"maturity"`
	}
	err := c.do(ctx, http.MethodPost, c.projectPath("specs"), body, &resp)
	return resp.Specification, resp.Maturity, err
}

// Specifications lists captured specifications, optionally filtered by phase.
func (c *Client) Specifications(ctx context.Context, phase string) ([]Specification, error) {
	endpoint := c.projectPath("specs")
	if phase != "" {
		endpoint = fmt.Sprintf("%s?phase=%s", endpoint, url.QueryEscape(phase))
	}
	var resp []Specification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Maturity returns every phase plus the project-wide percentage.
func (c *Client) Maturity(ctx context.Context) ([]PhaseMaturity, float64, error) {
	var resp struct {
		Phases  []PhaseMaturity `json:"phases"`
		Overall float64         `json:"overall_percentage"`
	}
	err := c.do(ctx, http.MethodGet, c.projectPath("maturity"), nil, &resp)
	return resp.Phases, resp.Overall, err
}

// PhaseMaturity returns the scored state of one phase.
func (c *Client) PhaseMaturity(ctx context.Context, phase string) (PhaseMaturity, error) {
	var resp PhaseMaturity
	endpoint := c.projectPath(fmt.Sprintf("maturity/%s", url.PathEscape(phase)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Plan enumerates and scores every path of a workflow definition without
// persisting anything.
func (c *Client) Plan(ctx context.Context, definition any) (PlanResult, error) {
	var resp PlanResult
	err := c.do(ctx, http.MethodPost, c.projectPath("workflows/plan"), definition, &resp)
	return resp, err
}

// RequestApproval scores a definition and opens an approval gate entry.
func (c *Client) RequestApproval(ctx context.Context, definition any) (ApprovalRequest, error) {
	var resp ApprovalRequest
	err := c.do(ctx, http.MethodPost, c.projectPath("approvals"), definition, &resp)
	return resp, err
}

// Approvals lists approval requests, optionally filtered by status.
func (c *Client) Approvals(ctx context.Context, status string) ([]ApprovalRequest, error) {
	endpoint := c.projectPath("approvals")
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []ApprovalRequest
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Approval fetches one approval request by id.
func (c *Client) Approval(ctx context.Context, requestID string) (ApprovalRequest, error) {
	var resp ApprovalRequest
	endpoint := fmt.Sprintf("v0/approvals/%s", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Approve accepts a path and starts execution. An empty pathID takes the
// recommendation.
func (c *Client) Approve(ctx context.Context, requestID, pathID string) (ApprovalRequest, ExecutionState, error) {
	body := map[string]any{"path_id": pathID}
	var resp struct {
		Request   ApprovalRequest `json:"request"`
		Execution ExecutionState  `json:"execution"`
	}
	endpoint := fmt.Sprintf("v0/approvals/%s/approve", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Request, resp.Execution, err
}

// Reject declines a pending plan.
func (c *Client) Reject(ctx context.Context, requestID string) (ApprovalRequest, error) {
	var resp ApprovalRequest
	endpoint := fmt.Sprintf("v0/approvals/%s/reject", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodPost, endpoint, struct{}{}, &resp)
	return resp, err
}

// Execution fetches execution state by id.
func (c *Client) Execution(ctx context.Context, executionID string) (ExecutionState, error) {
	var resp ExecutionState
	endpoint := fmt.Sprintf("v0/executions/%s", url.PathEscape(executionID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RequiredCategories returns the categories the current node still owes,
// minus any already covered.
func (c *Client) RequiredCategories(ctx context.Context, executionID string, covered []string) ([]string, error) {
	endpoint := fmt.Sprintf("v0/executions/%s/categories", url.PathEscape(executionID))
	if len(covered) > 0 {
		endpoint = fmt.Sprintf("%s?covered=%s", endpoint, url.QueryEscape(strings.Join(covered, ",")))
	}
	var resp struct {
		NodeID     string   `json:"node_id"`
		Categories []string `json:"categories"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Categories, err
}

// Advance moves the execution to the next node, reporting tokens spent on
// the node just finished.
func (c *Client) Advance(ctx context.Context, executionID string, tokensUsed int) (ExecutionState, error) {
	body := map[string]any{"tokens_used": tokensUsed}
	var resp ExecutionState
	endpoint := fmt.Sprintf("v0/executions/%s/advance", url.PathEscape(executionID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Complete finishes the execution at an exit node and records history.
func (c *Client) Complete(ctx context.Context, executionID string, tokensUsed int) (ExecutionState, HistoryEntry, error) {
	body := map[string]any{"tokens_used": tokensUsed}
	var resp struct {
		Execution ExecutionState `json:"execution"`
		History   HistoryEntry   `json:"history"`
	}
	endpoint := fmt.Sprintf("v0/executions/%s/complete", url.PathEscape(executionID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Execution, resp.History, err
}

// History lists completed workflows with estimate accuracy.
func (c *Client) History(ctx context.Context) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	err := c.do(ctx, http.MethodGet, c.projectPath("history"), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
