package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"specline/internal/config"
	"specline/internal/db"
	"specline/internal/domain"
	"specline/internal/engine"
	"specline/internal/migrate"
	"specline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "proj-1", "test", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

// diamondWorkflow is a discovery plan with a cheap shallow branch and an
// expensive thorough branch rejoining at analysis.
func diamondWorkflow(strategy domain.Strategy) domain.WorkflowDefinition {
	easy, hard := 0.3, 0.6
	return domain.WorkflowDefinition{
		WorkflowID:  "wf-discovery",
		ProjectID:   "proj-1",
		Phase:       "discovery",
		EntryNodeID: "start",
		ExitNodeIDs: []string{"end"},
		Strategy:    strategy,
		Nodes: []domain.WorkflowNode{
			{ID: "start", Type: domain.NodePhaseStart},
			{ID: "basic_questions", Type: domain.NodeQuestionSet, EstimatedTokens: 7000,
				TargetCategories: []string{"goals", "users"}, Difficulty: &easy},
			{ID: "comprehensive_questions", Type: domain.NodeQuestionSet, EstimatedTokens: 11000,
				TargetCategories: []string{"goals", "users", "problem", "scope", "constraints", "success_criteria"}, Difficulty: &hard},
			{ID: "analysis", Type: domain.NodeAnalysis, EstimatedTokens: 5000},
			{ID: "end", Type: domain.NodePhaseEnd},
		},
		Edges: []domain.WorkflowEdge{
			{FromNode: "start", ToNode: "basic_questions"},
			{FromNode: "start", ToNode: "comprehensive_questions"},
			{FromNode: "basic_questions", ToNode: "analysis"},
			{FromNode: "comprehensive_questions", ToNode: "analysis"},
			{FromNode: "analysis", ToNode: "end"},
		},
	}
}

func TestAddSpecificationUpdatesMaturity(t *testing.T) {
	env := newTestEnv(t)
	spec, m, err := env.Engine.AddSpecification(env.Ctx, engine.SpecificationOptions{
		ProjectID:  "proj-1",
		Phase:      "discovery",
		Category:   "goals",
		Content:    "Ship an internal billing reconciliation tool",
		Confidence: 0.85,
		Value:      2.0,
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("add specification: %v", err)
	}
	if spec.ID == "" || spec.CreatedAt == "" {
		t.Fatalf("spec not populated: %+v", spec)
	}
	goals := m.CategoryScores["goals"]
	if goals.CurrentScore != 1.7 {
		t.Fatalf("goals current = %v, want 1.7", goals.CurrentScore)
	}
	if m.OverallPercentage < 1.88 || m.OverallPercentage > 1.89 {
		t.Fatalf("overall = %v, want ~1.889", m.OverallPercentage)
	}

	// snapshot persisted alongside the insert
	stored, err := env.Engine.Repo.GetPhaseMaturity(env.Ctx, "proj-1", "discovery")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if stored.OverallPercentage != m.OverallPercentage {
		t.Fatalf("snapshot overall = %v, want %v", stored.OverallPercentage, m.OverallPercentage)
	}
}

func TestAddSpecificationRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.Engine.AddSpecification(env.Ctx, engine.SpecificationOptions{
		ProjectID: "proj-1", Phase: "discovery", Category: "goals", Content: "x",
		Confidence: 1.5, ActorID: "tester",
	}); err == nil {
		t.Fatal("expected confidence range error")
	}
	if _, _, err := env.Engine.AddSpecification(env.Ctx, engine.SpecificationOptions{
		ProjectID: "proj-1", Phase: "shipping", Category: "goals", Content: "x", ActorID: "tester",
	}); err == nil {
		t.Fatal("expected unknown phase error")
	}
}

func TestApprovalLifecycle(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.RequestApproval(env.Ctx, diamondWorkflow(domain.StrategyMinimizeCost), "tester")
	if err != nil {
		t.Fatalf("request approval: %v", err)
	}
	if req.Status != domain.ApprovalPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}
	if len(req.AllPaths) != 2 {
		t.Fatalf("paths = %d, want 2", len(req.AllPaths))
	}
	if req.RecommendedPathID != "path-1" {
		t.Fatalf("recommended = %s, want path-1 (cheap branch)", req.RecommendedPathID)
	}
	if req.AllPaths[0].TotalCostTokens != 12000 || req.AllPaths[1].TotalCostTokens != 16000 {
		t.Fatalf("costs = %d/%d, want 12000/16000",
			req.AllPaths[0].TotalCostTokens, req.AllPaths[1].TotalCostTokens)
	}

	// slot occupied
	var stateErr *engine.StateError
	_, err = env.Engine.RequestApproval(env.Ctx, diamondWorkflow(domain.StrategyMinimizeCost), "tester")
	if !errors.As(err, &stateErr) {
		t.Fatalf("second request: got %v, want StateError", err)
	}

	// approve the thorough branch instead of the recommendation
	approved, st, err := env.Engine.Approve(env.Ctx, req.RequestID, "path-2", "tester")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.ApprovalApproved || approved.ApprovedPathID == nil || *approved.ApprovedPathID != "path-2" {
		t.Fatalf("approved request = %+v", approved)
	}
	if st.Status != domain.ExecutionActive || st.CurrentNodeID != "comprehensive_questions" {
		t.Fatalf("execution = %+v, want active at comprehensive_questions", st)
	}
	if len(st.CompletedNodes) != 1 || st.CompletedNodes[0] != "start" {
		t.Fatalf("completed = %v, want [start]", st.CompletedNodes)
	}
	if st.EstimatedTokensRemaining != 16000 {
		t.Fatalf("estimate remaining = %d, want 16000", st.EstimatedTokensRemaining)
	}

	if _, _, err := env.Engine.Approve(env.Ctx, req.RequestID, "path-2", "tester"); !errors.As(err, &stateErr) {
		t.Fatalf("double approve: got %v, want StateError", err)
	}

	// the thorough node owes every category not yet covered
	required, err := env.Engine.RequiredCategories(env.Ctx, st.ExecutionID, []string{"goals", "users"})
	if err != nil {
		t.Fatalf("required categories: %v", err)
	}
	want := []string{"problem", "scope", "constraints", "success_criteria"}
	if len(required) != len(want) {
		t.Fatalf("required = %v, want %v", required, want)
	}
	for i := range want {
		if required[i] != want[i] {
			t.Fatalf("required = %v, want %v", required, want)
		}
	}

	st, err = env.Engine.AdvanceExecution(env.Ctx, st.ExecutionID, 11800, "tester")
	if err != nil {
		t.Fatalf("advance to analysis: %v", err)
	}
	if st.CurrentNodeID != "analysis" || st.ActualTokensUsed != 11800 {
		t.Fatalf("after first advance: %+v", st)
	}
	if st.EstimatedTokensRemaining != 5000 {
		t.Fatalf("estimate remaining = %d, want 5000", st.EstimatedTokensRemaining)
	}
	st, err = env.Engine.AdvanceExecution(env.Ctx, st.ExecutionID, 4600, "tester")
	if err != nil {
		t.Fatalf("advance to end: %v", err)
	}
	if st.CurrentNodeID != "end" || len(st.RemainingNodes) != 0 {
		t.Fatalf("after second advance: %+v", st)
	}
	if _, err := env.Engine.AdvanceExecution(env.Ctx, st.ExecutionID, 0, "tester"); !errors.As(err, &stateErr) {
		t.Fatalf("advance past end: got %v, want StateError", err)
	}

	st, hist, err := env.Engine.CompleteExecution(env.Ctx, st.ExecutionID, 0, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if st.Status != domain.ExecutionCompleted {
		t.Fatalf("status = %s, want completed", st.Status)
	}
	if hist.EstimatedTokens != 16000 || hist.ActualTokens != 16400 {
		t.Fatalf("history = %+v, want estimated 16000 actual 16400", hist)
	}
	if hist.VariancePct != 2.5 {
		t.Fatalf("variance = %v, want 2.5", hist.VariancePct)
	}

	// slot freed: a fresh request is allowed again
	if _, err := env.Engine.RequestApproval(env.Ctx, diamondWorkflow(domain.StrategyMinimizeCost), "tester"); err != nil {
		t.Fatalf("request after completion: %v", err)
	}
}

func TestRejectFreesSlot(t *testing.T) {
	env := newTestEnv(t)
	def := diamondWorkflow(domain.StrategyBalanced)
	req, err := env.Engine.RequestApproval(env.Ctx, def, "tester")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	rejected, err := env.Engine.Reject(env.Ctx, req.RequestID, "tester")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.ApprovalRejected || rejected.ResolvedAt == nil {
		t.Fatalf("rejected = %+v", rejected)
	}

	var stateErr *engine.StateError
	if _, err := env.Engine.Reject(env.Ctx, req.RequestID, "tester"); !errors.As(err, &stateErr) {
		t.Fatalf("double reject: got %v, want StateError", err)
	}
	if _, _, err := env.Engine.Approve(env.Ctx, req.RequestID, "path-1", "tester"); !errors.As(err, &stateErr) {
		t.Fatalf("approve rejected: got %v, want StateError", err)
	}

	def.WorkflowID = "wf-discovery-2"
	again, err := env.Engine.RequestApproval(env.Ctx, def, "tester")
	if err != nil {
		t.Fatalf("re-request: %v", err)
	}
	if again.RequestID == req.RequestID {
		t.Fatal("re-request reused the old request id")
	}
}

func TestApproveUnknownPath(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.RequestApproval(env.Ctx, diamondWorkflow(domain.StrategyBalanced), "tester")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_, _, err = env.Engine.Approve(env.Ctx, req.RequestID, "path-9", "tester")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRequestBlockedWhileExecuting(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.RequestApproval(env.Ctx, diamondWorkflow(domain.StrategyMinimizeCost), "tester")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, _, err := env.Engine.Approve(env.Ctx, req.RequestID, "", "tester"); err != nil {
		t.Fatalf("approve recommendation: %v", err)
	}
	var stateErr *engine.StateError
	def := diamondWorkflow(domain.StrategyMinimizeCost)
	def.WorkflowID = "wf-discovery-2"
	if _, err := env.Engine.RequestApproval(env.Ctx, def, "tester"); !errors.As(err, &stateErr) {
		t.Fatalf("request while executing: got %v, want StateError", err)
	}
}

func TestExpireStaleApprovals(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Approvals.ExpiryMinutes = 30
	req, err := env.Engine.RequestApproval(env.Ctx, diamondWorkflow(domain.StrategyBalanced), "tester")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	// not yet stale
	swept, err := env.Engine.ExpireStaleApprovals(env.Ctx, "sweeper")
	if err != nil || swept != 0 {
		t.Fatalf("early sweep = %d, %v", swept, err)
	}

	env.Engine.Now = func() time.Time { return time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC) }
	swept, err = env.Engine.ExpireStaleApprovals(env.Ctx, "sweeper")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}
	expired, err := env.Engine.Repo.GetApprovalRequest(env.Ctx, req.RequestID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if expired.Status != domain.ApprovalRejected {
		t.Fatalf("status = %s, want rejected", expired.Status)
	}
}

func TestPlanComprehensiveTemplate(t *testing.T) {
	env := newTestEnv(t)
	def, err := env.Engine.TemplateWorkflow("proj-1", "discovery", "comprehensive", domain.StrategyMaximizeQuality)
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	plan, err := env.Engine.Plan(env.Ctx, def)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Paths) != 2 {
		t.Fatalf("paths = %d, want 2", len(plan.Paths))
	}
	if plan.RecommendedPathID == "" {
		t.Fatal("no recommendation for maximize_quality")
	}
	// nothing persisted by a dry-run plan
	if _, err := env.Engine.Repo.GetWorkflowDefinition(env.Ctx, def.WorkflowID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("definition stored by plan: %v", err)
	}
}

func TestProjectMaturityAveragesStartedPhases(t *testing.T) {
	env := newTestEnv(t)
	for _, c := range []string{"goals", "users", "problem"} {
		if _, _, err := env.Engine.AddSpecification(env.Ctx, engine.SpecificationOptions{
			ProjectID: "proj-1", Phase: "discovery", Category: c,
			Content: "captured", Confidence: 1.0, Value: 15, ActorID: "tester",
		}); err != nil {
			t.Fatalf("add spec: %v", err)
		}
	}
	phases, overall, err := env.Engine.ProjectMaturity(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("project maturity: %v", err)
	}
	if len(phases) != 4 {
		t.Fatalf("phases = %d, want 4", len(phases))
	}
	// only discovery has started; the untouched phases do not drag the mean
	if overall != phases[0].OverallPercentage {
		t.Fatalf("overall = %v, want discovery's %v", overall, phases[0].OverallPercentage)
	}
	if overall != 50 {
		t.Fatalf("overall = %v, want 50", overall)
	}
}
