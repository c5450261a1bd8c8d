package server

import (
	"specline/internal/domain"
	"specline/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

type AddSpecificationRequest struct {
	Phase      string  `json:"phase"`
	Category   string  `json:"category"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence,omitempty" minimum:"0" maximum:"1"`
	Value      float64 `json:"value,omitempty" minimum:"0"`
}

type TemplateWorkflowRequest struct {
	Phase    string          `json:"phase"`
	Kind     string          `json:"kind" enum:"simple,comprehensive"`
	Strategy domain.Strategy `json:"strategy,omitempty" enum:"minimize_cost,minimize_risk,balanced,maximize_quality,user_choice"`
}

type ApproveRequest struct {
	PathID string `json:"path_id,omitempty"`
}

type AdvanceRequest struct {
	TokensUsed int `json:"tokens_used,omitempty" minimum:"0"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type SpecificationResponse struct {
	Specification domain.Specification `json:"specification"`
	Maturity      domain.PhaseMaturity `json:"maturity"`
}

type ProjectMaturityResponse struct {
	Phases  []domain.PhaseMaturity `json:"phases"`
	Overall float64                `json:"overall_percentage"`
}

type StatusResponse struct {
	Project         domain.Project                 `json:"project"`
	Overall         float64                        `json:"overall_percentage"`
	Phases          []domain.PhaseMaturity         `json:"phases"`
	PendingApproval *domain.WorkflowApprovalRequest `json:"pending_approval,omitempty"`
	ActiveExecution *domain.WorkflowExecutionState  `json:"active_execution,omitempty"`
}

type CategoriesResponse struct {
	NodeID     string   `json:"node_id"`
	Categories []string `json:"categories,omitempty"`
}

type ApprovalDecisionResponse struct {
	Request   domain.WorkflowApprovalRequest `json:"request"`
	Execution domain.WorkflowExecutionState  `json:"execution"`
}

type CompletionResponse struct {
	Execution domain.WorkflowExecutionState `json:"execution"`
	History   domain.WorkflowHistoryEntry   `json:"history"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
	// Key is only populated on creation; it is never stored in clear.
	Key string `json:"key,omitempty"`
}

func apiKeyResponse(k domain.APIKey, plaintext string) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
		Key:       plaintext,
	}
}

func mapAPIKeys(keys []domain.APIKey) []APIKeyResponse {
	res := make([]APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		res = append(res, apiKeyResponse(k, ""))
	}
	return res
}

type PlanResponse = engine.PlanResult
