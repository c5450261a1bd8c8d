package domain

// Project is the aggregate root everything else hangs off.
type Project struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Specification is one atomic piece of captured evidence about a category.
// Immutable once created; superseded, never deleted.
type Specification struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	Phase      string  `json:"phase"`
	Category   string  `json:"category"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Value      float64 `json:"value"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

// CategoryScore is derived on demand from the specifications in one category.
type CategoryScore struct {
	Category     string  `json:"category"`
	CurrentScore float64 `json:"current_score"`
	TargetScore  float64 `json:"target_score"`
	Confidence   float64 `json:"confidence"`
	SpecCount    int     `json:"spec_count"`
	Percentage   float64 `json:"percentage"`
	IsComplete   bool    `json:"is_complete"`
}

// PhaseMaturity is the derived completeness snapshot for one phase.
type PhaseMaturity struct {
	Phase             string                   `json:"phase"`
	OverallPercentage float64                  `json:"overall_percentage"`
	CategoryScores    map[string]CategoryScore `json:"category_scores"`
	Warnings          []string                 `json:"warnings,omitempty"`
	MissingCategories []string                 `json:"missing_categories,omitempty"`
	ReadyToAdvance    bool                     `json:"ready_to_advance"`
}

// NodeType enumerates the kinds of workflow plan nodes.
type NodeType string

const (
	NodePhaseStart  NodeType = "phase_start"
	NodeQuestionSet NodeType = "question_set"
	NodeAnalysis    NodeType = "analysis"
	NodePhaseEnd    NodeType = "phase_end"
)

// Strategy enumerates path selection strategies.
type Strategy string

const (
	StrategyMinimizeCost    Strategy = "minimize_cost"
	StrategyMinimizeRisk    Strategy = "minimize_risk"
	StrategyBalanced        Strategy = "balanced"
	StrategyMaximizeQuality Strategy = "maximize_quality"
	StrategyUserChoice      Strategy = "user_choice"
)

// WorkflowNode is one step in a candidate question plan.
type WorkflowNode struct {
	ID               string   `json:"id"`
	Type             NodeType `json:"type" enum:"phase_start,question_set,analysis,phase_end"`
	Label            string   `json:"label,omitempty"`
	EstimatedTokens  int      `json:"estimated_tokens"`
	TargetCategories []string `json:"target_categories,omitempty"`
	Difficulty       *float64 `json:"difficulty,omitempty"`
}

// WorkflowEdge is a transition between two plan nodes. Probability is
// informational only; Cost is extra token cost attributed to the transition.
type WorkflowEdge struct {
	FromNode    string  `json:"from_node"`
	ToNode      string  `json:"to_node"`
	Probability float64 `json:"probability,omitempty"`
	Cost        int     `json:"cost,omitempty"`
}

// WorkflowDefinition is a directed plan graph supplied by an external
// planner or one of the built-in templates.
type WorkflowDefinition struct {
	WorkflowID  string         `json:"workflow_id"`
	ProjectID   string         `json:"project_id,omitempty"`
	Phase       string         `json:"phase"`
	Nodes       []WorkflowNode `json:"nodes"`
	Edges       []WorkflowEdge `json:"edges"`
	EntryNodeID string         `json:"entry_node_id"`
	ExitNodeIDs []string       `json:"exit_node_ids"`
	Strategy    Strategy       `json:"strategy" enum:"minimize_cost,minimize_risk,balanced,maximize_quality,user_choice"`
	CreatedAt   string         `json:"created_at,omitempty" format:"date-time"`
}

// WorkflowPath is one simple route through a definition from entry to an
// exit, plus its scores once estimated.
type WorkflowPath struct {
	PathID   string   `json:"path_id"`
	NodeIDs  []string `json:"node_ids"`
	EdgeKeys []string `json:"edge_keys,omitempty"`

	TotalCostTokens    int            `json:"total_cost_tokens"`
	TotalCostUSD       float64        `json:"total_cost_usd"`
	CostBreakdown      map[string]int `json:"cost_breakdown,omitempty"`
	RiskScore          float64        `json:"risk_score"`
	IncompletenessRisk float64        `json:"incompleteness_risk"`
	ComplexityRisk     float64        `json:"complexity_risk"`
	ReworkProbability  float64        `json:"rework_probability"`
	QualityScore       float64        `json:"quality_score"`
	ROIScore           float64        `json:"roi_score"`
}

// Approval request statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// WorkflowApprovalRequest holds a scored plan pending an external decision.
// Exactly one pending request may exist per (project, phase).
type WorkflowApprovalRequest struct {
	RequestID         string             `json:"request_id"`
	ProjectID         string             `json:"project_id"`
	Phase             string             `json:"phase"`
	Definition        WorkflowDefinition `json:"definition"`
	AllPaths          []WorkflowPath     `json:"all_paths"`
	RecommendedPathID string             `json:"recommended_path_id,omitempty"`
	Status            string             `json:"status" enum:"pending,approved,rejected"`
	ApprovedPathID    *string            `json:"approved_path_id,omitempty"`
	CreatedAt         string             `json:"created_at" format:"date-time"`
	ResolvedAt        *string            `json:"resolved_at,omitempty" format:"date-time"`
}

// Execution statuses.
const (
	ExecutionActive    = "active"
	ExecutionCompleted = "completed"
)

// WorkflowExecutionState is the live progress marker through an approved path.
type WorkflowExecutionState struct {
	ExecutionID              string   `json:"execution_id"`
	ProjectID                string   `json:"project_id"`
	Phase                    string   `json:"phase"`
	WorkflowID               string   `json:"workflow_id"`
	ApprovedPathID           string   `json:"approved_path_id"`
	CurrentNodeID            string   `json:"current_node_id"`
	CompletedNodes           []string `json:"completed_nodes,omitempty"`
	RemainingNodes           []string `json:"remaining_nodes,omitempty"`
	EstimatedTokensRemaining int      `json:"estimated_tokens_remaining"`
	ActualTokensUsed         int      `json:"actual_tokens_used"`
	Status                   string   `json:"status" enum:"active,completed"`
	CreatedAt                string   `json:"created_at" format:"date-time"`
	UpdatedAt                string   `json:"updated_at" format:"date-time"`
}

// WorkflowHistoryEntry is the append-only record left behind when an
// execution completes.
type WorkflowHistoryEntry struct {
	ID              string  `json:"id"`
	ProjectID       string  `json:"project_id"`
	Phase           string  `json:"phase"`
	WorkflowID      string  `json:"workflow_id"`
	PathID          string  `json:"path_id"`
	EstimatedTokens int     `json:"estimated_tokens"`
	ActualTokens    int     `json:"actual_tokens"`
	VariancePct     float64 `json:"variance_pct"`
	CompletedAt     string  `json:"completed_at" format:"date-time"`
}

// Event is one row of the append-only project event log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates an actor against the HTTP API.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
