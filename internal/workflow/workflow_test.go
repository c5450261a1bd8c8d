package workflow

import (
	"errors"
	"math"
	"testing"

	"specline/internal/domain"
)

func node(id string, typ domain.NodeType, tokens int, categories ...string) domain.WorkflowNode {
	return domain.WorkflowNode{ID: id, Type: typ, EstimatedTokens: tokens, TargetCategories: categories}
}

func edge(from, to string) domain.WorkflowEdge {
	return domain.WorkflowEdge{FromNode: from, ToNode: to}
}

// scenarioDef is the two-branch plan: start fans out to a basic and a
// comprehensive question set, both converging on analysis.
func scenarioDef() domain.WorkflowDefinition {
	return domain.WorkflowDefinition{
		WorkflowID:  "wf-1",
		Phase:       "discovery",
		Strategy:    domain.StrategyBalanced,
		EntryNodeID: "start",
		ExitNodeIDs: []string{"end"},
		Nodes: []domain.WorkflowNode{
			node("start", domain.NodePhaseStart, 0),
			node("basic_q", domain.NodeQuestionSet, 7000, "goals", "tech"),
			node("comprehensive_q", domain.NodeQuestionSet, 11000, "goals", "tech", "constraints", "risk", "timeline", "team"),
			node("analysis", domain.NodeAnalysis, 5000),
			node("end", domain.NodePhaseEnd, 0),
		},
		Edges: []domain.WorkflowEdge{
			edge("start", "basic_q"),
			edge("start", "comprehensive_q"),
			edge("basic_q", "analysis"),
			edge("comprehensive_q", "analysis"),
			edge("analysis", "end"),
		},
	}
}

var scenarioCategories = []string{"goals", "tech", "constraints", "risk", "timeline", "team"}

func TestValidateRejectsMalformedDefinitions(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.WorkflowDefinition)
	}{
		{"missing entry", func(d *domain.WorkflowDefinition) { d.EntryNodeID = "nope" }},
		{"missing exit", func(d *domain.WorkflowDefinition) { d.ExitNodeIDs = []string{"nope"} }},
		{"dangling edge", func(d *domain.WorkflowDefinition) { d.Edges = append(d.Edges, edge("start", "ghost")) }},
		{"exit with outgoing edge", func(d *domain.WorkflowDefinition) {
			d.Edges = append(d.Edges, edge("end", "analysis"))
		}},
		{"unreachable node", func(d *domain.WorkflowDefinition) {
			d.Nodes = append(d.Nodes, node("island", domain.NodeAnalysis, 100))
		}},
		{"no route to exit", func(d *domain.WorkflowDefinition) {
			d.Edges = d.Edges[:4] // drop analysis -> end
			d.ExitNodeIDs = []string{"end"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := scenarioDef()
			tc.mutate(&def)
			err := Validate(def)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestValidateAcceptsScenario(t *testing.T) {
	if err := Validate(scenarioDef()); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestDiamondYieldsTwoPaths(t *testing.T) {
	def := domain.WorkflowDefinition{
		WorkflowID:  "diamond",
		EntryNodeID: "entry",
		ExitNodeIDs: []string{"exit"},
		Nodes: []domain.WorkflowNode{
			node("entry", domain.NodePhaseStart, 0),
			node("a", domain.NodeQuestionSet, 10),
			node("b", domain.NodeQuestionSet, 20),
			node("merge", domain.NodeAnalysis, 5),
			node("exit", domain.NodePhaseEnd, 0),
		},
		Edges: []domain.WorkflowEdge{
			edge("entry", "a"), edge("entry", "b"),
			edge("a", "merge"), edge("b", "merge"),
			edge("merge", "exit"),
		},
	}
	paths := FindAllPaths(def)
	if len(paths) != 2 {
		t.Fatalf("got %d paths, want 2", len(paths))
	}
	for _, p := range paths {
		seen := map[string]bool{}
		for _, id := range p.NodeIDs {
			if seen[id] {
				t.Fatalf("path %s repeats node %s", p.PathID, id)
			}
			seen[id] = true
		}
		if p.NodeIDs[0] != "entry" || p.NodeIDs[len(p.NodeIDs)-1] != "exit" {
			t.Fatalf("path %s does not span entry to exit: %v", p.PathID, p.NodeIDs)
		}
	}
	if paths[0].PathID != "path-1" || paths[1].PathID != "path-2" {
		t.Fatalf("path ids not assigned in discovery order: %s, %s", paths[0].PathID, paths[1].PathID)
	}
}

func TestScenarioCosts(t *testing.T) {
	def := scenarioDef()
	paths := FindAllPaths(def)
	if len(paths) != 2 {
		t.Fatalf("got %d paths, want 2", len(paths))
	}
	est := NewCostEstimator(0)
	for i := range paths {
		est.Estimate(&paths[i], def)
	}
	// Edge order makes path-1 the basic branch.
	if paths[0].TotalCostTokens != 12000 {
		t.Fatalf("basic path tokens = %d, want 12000", paths[0].TotalCostTokens)
	}
	if paths[1].TotalCostTokens != 16000 {
		t.Fatalf("comprehensive path tokens = %d, want 16000", paths[1].TotalCostTokens)
	}
	if paths[0].CostBreakdown["basic_q"] != 7000 {
		t.Fatalf("breakdown missing basic_q tokens: %v", paths[0].CostBreakdown)
	}
	if math.Abs(paths[0].TotalCostUSD-12000*DefaultAvgTokenCostUSD) > 1e-9 {
		t.Fatalf("usd = %v", paths[0].TotalCostUSD)
	}
}

func TestEdgeCostsCountTowardTotal(t *testing.T) {
	def := scenarioDef()
	def.Edges[0].Cost = 500
	paths := FindAllPaths(def)
	est := NewCostEstimator(0)
	est.Estimate(&paths[0], def)
	if paths[0].TotalCostTokens != 12500 {
		t.Fatalf("tokens = %d, want 12500 with edge cost", paths[0].TotalCostTokens)
	}
}

func TestCostMonotonicity(t *testing.T) {
	def := scenarioDef()
	paths := FindAllPaths(def)
	est := NewCostEstimator(0)
	est.Estimate(&paths[0], def)
	before := paths[0].TotalCostTokens

	// Splice an extra positive-token node into the basic branch.
	def.Nodes = append(def.Nodes, node("extra", domain.NodeAnalysis, 1))
	def.Edges = []domain.WorkflowEdge{
		edge("start", "basic_q"),
		edge("start", "comprehensive_q"),
		edge("basic_q", "extra"),
		edge("extra", "analysis"),
		edge("comprehensive_q", "analysis"),
		edge("analysis", "end"),
	}
	paths = FindAllPaths(def)
	est.Estimate(&paths[0], def)
	if paths[0].TotalCostTokens <= before {
		t.Fatalf("adding a positive node did not increase cost: %d -> %d", before, paths[0].TotalCostTokens)
	}
}

func scoredScenarioPaths(t *testing.T, current domain.PhaseMaturity) (domain.WorkflowDefinition, []domain.WorkflowPath) {
	t.Helper()
	def := scenarioDef()
	paths := FindAllPaths(def)
	cost := NewCostEstimator(0)
	risk := NewRiskEstimator(0)
	for i := range paths {
		cost.Estimate(&paths[i], def)
		risk.Estimate(&paths[i], def, current, scenarioCategories)
	}
	return def, paths
}

func TestRiskScenario(t *testing.T) {
	_, paths := scoredScenarioPaths(t, domain.PhaseMaturity{OverallPercentage: 20})
	basic, comprehensive := paths[0], paths[1]

	// Basic covers 2 of 6 categories.
	if math.Abs(basic.IncompletenessRisk-4.0/6*100) > 1e-6 {
		t.Fatalf("basic incompleteness = %v", basic.IncompletenessRisk)
	}
	if comprehensive.IncompletenessRisk != 0 {
		t.Fatalf("comprehensive incompleteness = %v, want 0", comprehensive.IncompletenessRisk)
	}
	if basic.RiskScore <= comprehensive.RiskScore {
		t.Fatalf("basic path should be riskier: %v vs %v", basic.RiskScore, comprehensive.RiskScore)
	}
	if comprehensive.QualityScore <= basic.QualityScore {
		t.Fatalf("comprehensive path should score higher quality")
	}
	for _, p := range paths {
		if p.ReworkProbability < 0 || p.ReworkProbability > 100 {
			t.Fatalf("rework probability out of range: %v", p.ReworkProbability)
		}
	}
}

func TestReworkGrowsWithMaturityDeficit(t *testing.T) {
	_, immature := scoredScenarioPaths(t, domain.PhaseMaturity{OverallPercentage: 5})
	_, mature := scoredScenarioPaths(t, domain.PhaseMaturity{OverallPercentage: 85})
	if immature[0].ReworkProbability <= mature[0].ReworkProbability {
		t.Fatalf("rework should grow as maturity drops: %v vs %v",
			immature[0].ReworkProbability, mature[0].ReworkProbability)
	}
}

func TestComplexityBaselineWithoutDifficulty(t *testing.T) {
	_, paths := scoredScenarioPaths(t, domain.PhaseMaturity{})
	for _, p := range paths {
		if p.ComplexityRisk != DefaultComplexityBaseline {
			t.Fatalf("complexity = %v, want baseline %v", p.ComplexityRisk, DefaultComplexityBaseline)
		}
	}
}

func TestSelectorStrategies(t *testing.T) {
	_, paths := scoredScenarioPaths(t, domain.PhaseMaturity{OverallPercentage: 20})

	if got := Select(paths, domain.StrategyMinimizeCost); got != "path-1" {
		t.Fatalf("minimize_cost picked %s, want path-1", got)
	}
	if got := Select(paths, domain.StrategyMinimizeRisk); got != "path-2" {
		t.Fatalf("minimize_risk picked %s, want path-2", got)
	}
	if got := Select(paths, domain.StrategyMaximizeQuality); got != "path-2" {
		t.Fatalf("maximize_quality picked %s, want path-2", got)
	}
	if got := Select(paths, domain.StrategyUserChoice); got != "" {
		t.Fatalf("user_choice should not recommend, got %s", got)
	}
	if got := Select(nil, domain.StrategyMinimizeCost); got != "" {
		t.Fatalf("empty candidates should not recommend, got %s", got)
	}
}

func TestSelectorTieBreaksToEnumerationOrder(t *testing.T) {
	paths := []domain.WorkflowPath{
		{PathID: "path-1", TotalCostTokens: 100, RiskScore: 50, QualityScore: 50},
		{PathID: "path-2", TotalCostTokens: 100, RiskScore: 50, QualityScore: 50},
	}
	for _, s := range []domain.Strategy{
		domain.StrategyMinimizeCost, domain.StrategyMinimizeRisk,
		domain.StrategyBalanced, domain.StrategyMaximizeQuality,
	} {
		if got := Select(paths, s); got != "path-1" {
			t.Fatalf("strategy %s tie-broke to %s, want path-1", s, got)
		}
	}
}

func TestTemplatesValidateAndEnumerate(t *testing.T) {
	simple := SimpleTemplate("wf-s", "discovery", scenarioCategories, domain.StrategyBalanced)
	if err := Validate(simple); err != nil {
		t.Fatalf("simple template invalid: %v", err)
	}
	if got := len(FindAllPaths(simple)); got != 1 {
		t.Fatalf("simple template paths = %d, want 1", got)
	}

	comp := ComprehensiveTemplate("wf-c", "discovery", scenarioCategories, domain.StrategyBalanced)
	if err := Validate(comp); err != nil {
		t.Fatalf("comprehensive template invalid: %v", err)
	}
	paths := FindAllPaths(comp)
	if len(paths) != 2 {
		t.Fatalf("comprehensive template paths = %d, want 2", len(paths))
	}
	nodes := NodeMap(comp)
	full := nodes["comprehensive_questions"]
	if len(full.TargetCategories) != len(scenarioCategories) {
		t.Fatalf("comprehensive branch covers %d categories, want %d", len(full.TargetCategories), len(scenarioCategories))
	}
}
