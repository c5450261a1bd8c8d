package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"specline/internal/domain"
	"specline/internal/events"
	"specline/internal/repo"
)

// The approval gate. A (project, phase) slot holds at most one pending
// request and at most one active execution; RequestApproval refuses to
// stack a second of either.

// RequestApproval scores a plan and parks it pending an external decision.
func (e Engine) RequestApproval(ctx context.Context, def domain.WorkflowDefinition, actorID string) (domain.WorkflowApprovalRequest, error) {
	if def.ProjectID == "" {
		return domain.WorkflowApprovalRequest{}, errors.New("project is required")
	}
	if _, err := e.Repo.GetProject(ctx, def.ProjectID); err != nil {
		return domain.WorkflowApprovalRequest{}, err
	}
	if pending, err := e.Repo.PendingApprovalRequest(ctx, def.ProjectID, def.Phase); err == nil {
		return domain.WorkflowApprovalRequest{}, stateError("request approval over", "approval_request", pending.RequestID, pending.Status)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.WorkflowApprovalRequest{}, err
	}
	if active, err := e.Repo.ActiveExecution(ctx, def.ProjectID, def.Phase); err == nil {
		return domain.WorkflowApprovalRequest{}, stateError("request approval over", "execution", active.ExecutionID, active.Status)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.WorkflowApprovalRequest{}, err
	}

	if def.WorkflowID == "" {
		def.WorkflowID = uuid.NewString()
	}
	plan, err := e.Plan(ctx, def)
	if err != nil {
		return domain.WorkflowApprovalRequest{}, err
	}
	def = plan.Definition

	req := domain.WorkflowApprovalRequest{
		RequestID:         uuid.NewString(),
		ProjectID:         def.ProjectID,
		Phase:             def.Phase,
		Definition:        def,
		AllPaths:          plan.Paths,
		RecommendedPathID: plan.RecommendedPathID,
		Status:            domain.ApprovalPending,
		CreatedAt:         e.nowRFC3339(),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowApprovalRequest{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetWorkflowDefinition(ctx, def.WorkflowID); errors.Is(err, repo.ErrNotFound) {
		def.CreatedAt = req.CreatedAt
		req.Definition = def
		if err := e.Repo.InsertWorkflowDefinitionTx(ctx, tx, def); err != nil {
			return domain.WorkflowApprovalRequest{}, fmt.Errorf("insert workflow: %w", err)
		}
	} else if err != nil {
		return domain.WorkflowApprovalRequest{}, err
	}
	if err := e.Repo.InsertApprovalRequestTx(ctx, tx, req); err != nil {
		return domain.WorkflowApprovalRequest{}, fmt.Errorf("insert approval request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ApprovalRequested, req.ProjectID, "approval_request", req.RequestID, actorID, events.EventPayload{
		"phase":               req.Phase,
		"workflow_id":         def.WorkflowID,
		"paths":               len(req.AllPaths),
		"recommended_path_id": req.RecommendedPathID,
	}); err != nil {
		return domain.WorkflowApprovalRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowApprovalRequest{}, err
	}
	return req, nil
}

// Approve resolves a pending request and opens an execution positioned at
// the node immediately after the path's entry.
func (e Engine) Approve(ctx context.Context, requestID, pathID, actorID string) (domain.WorkflowApprovalRequest, domain.WorkflowExecutionState, error) {
	req, err := e.Repo.GetApprovalRequest(ctx, requestID)
	if err != nil {
		return domain.WorkflowApprovalRequest{}, domain.WorkflowExecutionState{}, err
	}
	if req.Status != domain.ApprovalPending {
		return domain.WorkflowApprovalRequest{}, domain.WorkflowExecutionState{}, stateError("approve", "approval_request", req.RequestID, req.Status)
	}
	if pathID == "" {
		pathID = req.RecommendedPathID
	}
	path, ok := findPath(req.AllPaths, pathID)
	if !ok {
		return domain.WorkflowApprovalRequest{}, domain.WorkflowExecutionState{}, fmt.Errorf("path %s in request %s: %w", pathID, requestID, repo.ErrNotFound)
	}

	now := e.nowRFC3339()
	req.Status = domain.ApprovalApproved
	req.ApprovedPathID = &path.PathID
	req.ResolvedAt = &now

	st := newExecutionState(req, path, now)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowApprovalRequest{}, domain.WorkflowExecutionState{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateApprovalRequestTx(ctx, tx, req); err != nil {
		return domain.WorkflowApprovalRequest{}, domain.WorkflowExecutionState{}, fmt.Errorf("update approval request: %w", err)
	}
	if err := e.Repo.InsertExecutionStateTx(ctx, tx, st); err != nil {
		return domain.WorkflowApprovalRequest{}, domain.WorkflowExecutionState{}, fmt.Errorf("insert execution: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.WorkflowApproved, req.ProjectID, "approval_request", req.RequestID, actorID, events.EventPayload{
		"phase":        req.Phase,
		"path_id":      path.PathID,
		"execution_id": st.ExecutionID,
	}); err != nil {
		return domain.WorkflowApprovalRequest{}, domain.WorkflowExecutionState{}, err
	}
	if err := e.Events.Append(ctx, tx, events.NodeEntered, req.ProjectID, "execution", st.ExecutionID, actorID, events.EventPayload{
		"node_id": st.CurrentNodeID,
	}); err != nil {
		return domain.WorkflowApprovalRequest{}, domain.WorkflowExecutionState{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowApprovalRequest{}, domain.WorkflowExecutionState{}, err
	}
	return req, st, nil
}

// Reject resolves a pending request without opening an execution. The slot
// frees up; a fresh request gets a new id.
func (e Engine) Reject(ctx context.Context, requestID, actorID string) (domain.WorkflowApprovalRequest, error) {
	req, err := e.Repo.GetApprovalRequest(ctx, requestID)
	if err != nil {
		return domain.WorkflowApprovalRequest{}, err
	}
	if req.Status != domain.ApprovalPending {
		return domain.WorkflowApprovalRequest{}, stateError("reject", "approval_request", req.RequestID, req.Status)
	}
	now := e.nowRFC3339()
	req.Status = domain.ApprovalRejected
	req.ResolvedAt = &now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowApprovalRequest{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateApprovalRequestTx(ctx, tx, req); err != nil {
		return domain.WorkflowApprovalRequest{}, fmt.Errorf("update approval request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.WorkflowRejected, req.ProjectID, "approval_request", req.RequestID, actorID, events.EventPayload{
		"phase": req.Phase,
	}); err != nil {
		return domain.WorkflowApprovalRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowApprovalRequest{}, err
	}
	return req, nil
}

// ExpireStaleApprovals rejects pending requests older than the configured
// expiry and returns how many were swept. No-op when expiry is disabled.
func (e Engine) ExpireStaleApprovals(ctx context.Context, actorID string) (int, error) {
	if e.Config == nil || e.Config.Approvals.ExpiryMinutes <= 0 {
		return 0, nil
	}
	cutoff := e.now().UTC().Add(-time.Duration(e.Config.Approvals.ExpiryMinutes) * time.Minute).Format(time.RFC3339)
	stale, err := e.Repo.PendingApprovalsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, req := range stale {
		now := e.nowRFC3339()
		req.Status = domain.ApprovalRejected
		req.ResolvedAt = &now

		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return swept, err
		}
		if err := e.Repo.UpdateApprovalRequestTx(ctx, tx, req); err != nil {
			tx.Rollback()
			return swept, fmt.Errorf("expire approval request %s: %w", req.RequestID, err)
		}
		if err := e.Events.Append(ctx, tx, events.ApprovalExpired, req.ProjectID, "approval_request", req.RequestID, actorID, events.EventPayload{
			"phase":      req.Phase,
			"created_at": req.CreatedAt,
		}); err != nil {
			tx.Rollback()
			return swept, err
		}
		if err := tx.Commit(); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

func findPath(paths []domain.WorkflowPath, pathID string) (domain.WorkflowPath, bool) {
	for _, p := range paths {
		if p.PathID == pathID {
			return p, true
		}
	}
	return domain.WorkflowPath{}, false
}

func newExecutionState(req domain.WorkflowApprovalRequest, path domain.WorkflowPath, now string) domain.WorkflowExecutionState {
	st := domain.WorkflowExecutionState{
		ExecutionID:              uuid.NewString(),
		ProjectID:                req.ProjectID,
		Phase:                    req.Phase,
		WorkflowID:               req.Definition.WorkflowID,
		ApprovedPathID:           path.PathID,
		EstimatedTokensRemaining: path.TotalCostTokens,
		Status:                   domain.ExecutionActive,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if len(path.NodeIDs) > 1 {
		st.CompletedNodes = []string{path.NodeIDs[0]}
		st.CurrentNodeID = path.NodeIDs[1]
		st.RemainingNodes = append([]string(nil), path.NodeIDs[2:]...)
	} else if len(path.NodeIDs) == 1 {
		st.CurrentNodeID = path.NodeIDs[0]
	}
	return st
}
