package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"specline/internal/domain"
	"specline/internal/events"
	"specline/internal/workflow"
)

// The path executor. It never generates question content itself; it tracks
// position along the approved path and tells the caller which categories the
// current node still owes.

// RequiredCategories returns the current node's target categories minus the
// ones already covered, in node declaration order.
func (e Engine) RequiredCategories(ctx context.Context, executionID string, alreadyCovered []string) ([]string, error) {
	st, err := e.Repo.GetExecutionState(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if st.Status != domain.ExecutionActive {
		return nil, stateError("query categories of", "execution", st.ExecutionID, st.Status)
	}
	def, err := e.Repo.GetWorkflowDefinition(ctx, st.WorkflowID)
	if err != nil {
		return nil, err
	}
	node, ok := workflow.NodeMap(def)[st.CurrentNodeID]
	if !ok {
		return nil, fmt.Errorf("node %s missing from workflow %s", st.CurrentNodeID, st.WorkflowID)
	}
	covered := make(map[string]bool, len(alreadyCovered))
	for _, c := range alreadyCovered {
		covered[c] = true
	}
	var required []string
	for _, c := range node.TargetCategories {
		if !covered[c] {
			required = append(required, c)
		}
	}
	return required, nil
}

// AdvanceExecution moves an active execution to the next node on its
// approved path. TokensUsed is the caller-reported spend for the node just
// completed; it accumulates into actual_tokens_used.
func (e Engine) AdvanceExecution(ctx context.Context, executionID string, tokensUsed int, actorID string) (domain.WorkflowExecutionState, error) {
	st, err := e.Repo.GetExecutionState(ctx, executionID)
	if err != nil {
		return domain.WorkflowExecutionState{}, err
	}
	if st.Status != domain.ExecutionActive {
		return domain.WorkflowExecutionState{}, stateError("advance", "execution", st.ExecutionID, st.Status)
	}
	if len(st.RemainingNodes) == 0 {
		return domain.WorkflowExecutionState{}, stateError("advance past final node of", "execution", st.ExecutionID, st.Status)
	}
	if tokensUsed < 0 {
		return domain.WorkflowExecutionState{}, fmt.Errorf("tokens used %d must not be negative", tokensUsed)
	}
	def, err := e.Repo.GetWorkflowDefinition(ctx, st.WorkflowID)
	if err != nil {
		return domain.WorkflowExecutionState{}, err
	}

	completed := st.CurrentNodeID
	next := st.RemainingNodes[0]
	st.CompletedNodes = append(st.CompletedNodes, completed)
	st.CurrentNodeID = next
	st.RemainingNodes = st.RemainingNodes[1:]
	st.ActualTokensUsed += tokensUsed
	st.EstimatedTokensRemaining -= nodeTokens(def, completed) + edgeCost(def, completed, next)
	if st.EstimatedTokensRemaining < 0 {
		st.EstimatedTokensRemaining = 0
	}
	st.UpdatedAt = e.nowRFC3339()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowExecutionState{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateExecutionStateTx(ctx, tx, st); err != nil {
		return domain.WorkflowExecutionState{}, fmt.Errorf("update execution: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.NodeCompleted, st.ProjectID, "execution", st.ExecutionID, actorID, events.EventPayload{
		"node_id":     completed,
		"tokens_used": tokensUsed,
	}); err != nil {
		return domain.WorkflowExecutionState{}, err
	}
	if err := e.Events.Append(ctx, tx, events.NodeEntered, st.ProjectID, "execution", st.ExecutionID, actorID, events.EventPayload{
		"node_id": next,
	}); err != nil {
		return domain.WorkflowExecutionState{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowExecutionState{}, err
	}
	return st, nil
}

// CompleteExecution closes an active execution standing on an exit node and
// writes the estimate-vs-actual record to workflow history.
func (e Engine) CompleteExecution(ctx context.Context, executionID string, tokensUsed int, actorID string) (domain.WorkflowExecutionState, domain.WorkflowHistoryEntry, error) {
	st, err := e.Repo.GetExecutionState(ctx, executionID)
	if err != nil {
		return domain.WorkflowExecutionState{}, domain.WorkflowHistoryEntry{}, err
	}
	if st.Status != domain.ExecutionActive {
		return domain.WorkflowExecutionState{}, domain.WorkflowHistoryEntry{}, stateError("complete", "execution", st.ExecutionID, st.Status)
	}
	if tokensUsed < 0 {
		return domain.WorkflowExecutionState{}, domain.WorkflowHistoryEntry{}, fmt.Errorf("tokens used %d must not be negative", tokensUsed)
	}
	def, err := e.Repo.GetWorkflowDefinition(ctx, st.WorkflowID)
	if err != nil {
		return domain.WorkflowExecutionState{}, domain.WorkflowHistoryEntry{}, err
	}
	if !isExit(def, st.CurrentNodeID) {
		return domain.WorkflowExecutionState{}, domain.WorkflowHistoryEntry{}, stateError("complete mid-path", "execution", st.ExecutionID, st.Status)
	}

	now := e.nowRFC3339()
	st.CompletedNodes = append(st.CompletedNodes, st.CurrentNodeID)
	st.ActualTokensUsed += tokensUsed
	st.EstimatedTokensRemaining = 0
	st.Status = domain.ExecutionCompleted
	st.UpdatedAt = now

	estimated := pathEstimate(def, st.CompletedNodes)
	h := domain.WorkflowHistoryEntry{
		ID:              uuid.NewString(),
		ProjectID:       st.ProjectID,
		Phase:           st.Phase,
		WorkflowID:      st.WorkflowID,
		PathID:          st.ApprovedPathID,
		EstimatedTokens: estimated,
		ActualTokens:    st.ActualTokensUsed,
		CompletedAt:     now,
	}
	if estimated > 0 {
		h.VariancePct = float64(st.ActualTokensUsed-estimated) / float64(estimated) * 100
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowExecutionState{}, domain.WorkflowHistoryEntry{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateExecutionStateTx(ctx, tx, st); err != nil {
		return domain.WorkflowExecutionState{}, domain.WorkflowHistoryEntry{}, fmt.Errorf("update execution: %w", err)
	}
	if err := e.Repo.InsertHistoryTx(ctx, tx, h); err != nil {
		return domain.WorkflowExecutionState{}, domain.WorkflowHistoryEntry{}, fmt.Errorf("insert history: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.WorkflowCompleted, st.ProjectID, "execution", st.ExecutionID, actorID, events.EventPayload{
		"phase":            st.Phase,
		"path_id":          st.ApprovedPathID,
		"estimated_tokens": h.EstimatedTokens,
		"actual_tokens":    h.ActualTokens,
		"variance_pct":     h.VariancePct,
	}); err != nil {
		return domain.WorkflowExecutionState{}, domain.WorkflowHistoryEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowExecutionState{}, domain.WorkflowHistoryEntry{}, err
	}
	return st, h, nil
}

func nodeTokens(def domain.WorkflowDefinition, nodeID string) int {
	if node, ok := workflow.NodeMap(def)[nodeID]; ok {
		return node.EstimatedTokens
	}
	return 0
}

func edgeCost(def domain.WorkflowDefinition, from, to string) int {
	if edge, ok := workflow.EdgeMap(def)[workflow.EdgeKey(from, to)]; ok {
		return edge.Cost
	}
	return 0
}

func isExit(def domain.WorkflowDefinition, nodeID string) bool {
	for _, id := range def.ExitNodeIDs {
		if id == nodeID {
			return true
		}
	}
	return false
}

// pathEstimate re-derives the original token estimate from the traversed
// node sequence so history does not depend on how advances decremented the
// running counter.
func pathEstimate(def domain.WorkflowDefinition, nodeIDs []string) int {
	total := 0
	for i, id := range nodeIDs {
		total += nodeTokens(def, id)
		if i > 0 {
			total += edgeCost(def, nodeIDs[i-1], id)
		}
	}
	return total
}
