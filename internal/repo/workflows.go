package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"specline/internal/domain"
)

// Workflow definitions, approval requests, execution states and history are
// stored as JSON payloads with the columns needed for slot queries broken
// out alongside.

func (r Repo) InsertWorkflowDefinitionTx(ctx context.Context, tx *sql.Tx, def domain.WorkflowDefinition) error {
	payload, err := json.Marshal(def)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO workflow_definitions(workflow_id,project_id,phase,definition_json,created_at) VALUES (?,?,?,?,?)`,
		def.WorkflowID, def.ProjectID, def.Phase, string(payload), def.CreatedAt)
	return err
}

func (r Repo) GetWorkflowDefinition(ctx context.Context, workflowID string) (domain.WorkflowDefinition, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT definition_json FROM workflow_definitions WHERE workflow_id=?`, workflowID).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.WorkflowDefinition{}, ErrNotFound
	}
	if err != nil {
		return domain.WorkflowDefinition{}, err
	}
	var def domain.WorkflowDefinition
	if err := json.Unmarshal([]byte(payload), &def); err != nil {
		return domain.WorkflowDefinition{}, err
	}
	return def, nil
}

func (r Repo) ListWorkflowDefinitions(ctx context.Context, projectID, phase string) ([]domain.WorkflowDefinition, error) {
	query := `SELECT definition_json FROM workflow_definitions WHERE project_id=?`
	args := []any{projectID}
	if phase != "" {
		query += ` AND phase=?`
		args = append(args, phase)
	}
	query += ` ORDER BY created_at DESC, workflow_id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowDefinition
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var def domain.WorkflowDefinition
		if err := json.Unmarshal([]byte(payload), &def); err != nil {
			return nil, err
		}
		res = append(res, def)
	}
	return res, rows.Err()
}

func (r Repo) InsertApprovalRequestTx(ctx context.Context, tx *sql.Tx, req domain.WorkflowApprovalRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO approval_requests(request_id,project_id,phase,status,payload_json,recommended_path_id,approved_path_id,created_at,resolved_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		req.RequestID, req.ProjectID, req.Phase, req.Status, string(payload),
		nullable(req.RecommendedPathID), nullablePtr(req.ApprovedPathID), req.CreatedAt, nullablePtr(req.ResolvedAt))
	return err
}

// UpdateApprovalRequestTx rewrites the request payload and its slot columns.
func (r Repo) UpdateApprovalRequestTx(ctx context.Context, tx *sql.Tx, req domain.WorkflowApprovalRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE approval_requests SET status=?, payload_json=?, approved_path_id=?, resolved_at=? WHERE request_id=?`,
		req.Status, string(payload), nullablePtr(req.ApprovedPathID), nullablePtr(req.ResolvedAt), req.RequestID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetApprovalRequest(ctx context.Context, requestID string) (domain.WorkflowApprovalRequest, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM approval_requests WHERE request_id=?`, requestID).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.WorkflowApprovalRequest{}, ErrNotFound
	}
	if err != nil {
		return domain.WorkflowApprovalRequest{}, err
	}
	return unmarshalApproval(payload)
}

// PendingApprovalRequest returns the one pending request occupying the
// (project, phase) slot, or ErrNotFound.
func (r Repo) PendingApprovalRequest(ctx context.Context, projectID, phase string) (domain.WorkflowApprovalRequest, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM approval_requests WHERE project_id=? AND phase=? AND status=? LIMIT 1`,
		projectID, phase, domain.ApprovalPending).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.WorkflowApprovalRequest{}, ErrNotFound
	}
	if err != nil {
		return domain.WorkflowApprovalRequest{}, err
	}
	return unmarshalApproval(payload)
}

func (r Repo) ListApprovalRequests(ctx context.Context, projectID string, status string) ([]domain.WorkflowApprovalRequest, error) {
	query := `SELECT payload_json FROM approval_requests WHERE project_id=?`
	args := []any{projectID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, request_id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowApprovalRequest
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		req, err := unmarshalApproval(payload)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// PendingApprovalsBefore returns pending requests created at or before the
// cutoff, oldest first, for the expiry sweeper.
func (r Repo) PendingApprovalsBefore(ctx context.Context, cutoff string) ([]domain.WorkflowApprovalRequest, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT payload_json FROM approval_requests WHERE status=? AND created_at<=? ORDER BY created_at ASC`,
		domain.ApprovalPending, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowApprovalRequest
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		req, err := unmarshalApproval(payload)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

func unmarshalApproval(payload string) (domain.WorkflowApprovalRequest, error) {
	var req domain.WorkflowApprovalRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return domain.WorkflowApprovalRequest{}, err
	}
	return req, nil
}

func (r Repo) InsertExecutionStateTx(ctx context.Context, tx *sql.Tx, st domain.WorkflowExecutionState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO execution_states(execution_id,project_id,phase,status,state_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		st.ExecutionID, st.ProjectID, st.Phase, st.Status, string(payload), st.CreatedAt, st.UpdatedAt)
	return err
}

func (r Repo) UpdateExecutionStateTx(ctx context.Context, tx *sql.Tx, st domain.WorkflowExecutionState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE execution_states SET status=?, state_json=?, updated_at=? WHERE execution_id=?`,
		st.Status, string(payload), st.UpdatedAt, st.ExecutionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetExecutionState(ctx context.Context, executionID string) (domain.WorkflowExecutionState, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT state_json FROM execution_states WHERE execution_id=?`, executionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.WorkflowExecutionState{}, ErrNotFound
	}
	if err != nil {
		return domain.WorkflowExecutionState{}, err
	}
	var st domain.WorkflowExecutionState
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return domain.WorkflowExecutionState{}, err
	}
	return st, nil
}

// ActiveExecution returns the one active execution occupying the
// (project, phase) slot, or ErrNotFound.
func (r Repo) ActiveExecution(ctx context.Context, projectID, phase string) (domain.WorkflowExecutionState, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT state_json FROM execution_states WHERE project_id=? AND phase=? AND status=? LIMIT 1`,
		projectID, phase, domain.ExecutionActive).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.WorkflowExecutionState{}, ErrNotFound
	}
	if err != nil {
		return domain.WorkflowExecutionState{}, err
	}
	var st domain.WorkflowExecutionState
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return domain.WorkflowExecutionState{}, err
	}
	return st, nil
}

func (r Repo) InsertHistoryTx(ctx context.Context, tx *sql.Tx, h domain.WorkflowHistoryEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflow_history(id,project_id,phase,workflow_id,path_id,estimated_tokens,actual_tokens,variance_pct,completed_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		h.ID, h.ProjectID, h.Phase, h.WorkflowID, h.PathID, h.EstimatedTokens, h.ActualTokens, h.VariancePct, h.CompletedAt)
	return err
}

func (r Repo) ListWorkflowHistory(ctx context.Context, projectID string) ([]domain.WorkflowHistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,phase,workflow_id,path_id,estimated_tokens,actual_tokens,variance_pct,completed_at
FROM workflow_history WHERE project_id=? ORDER BY completed_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowHistoryEntry
	for rows.Next() {
		var h domain.WorkflowHistoryEntry
		if err := rows.Scan(&h.ID, &h.ProjectID, &h.Phase, &h.WorkflowID, &h.PathID, &h.EstimatedTokens, &h.ActualTokens, &h.VariancePct, &h.CompletedAt); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
