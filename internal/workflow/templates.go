package workflow

import (
	"specline/internal/domain"
)

// Default token estimates for template nodes.
const (
	basicQuestionTokens         = 7000
	comprehensiveQuestionTokens = 11000
	analysisTokens              = 5000
)

func floatPtr(v float64) *float64 { return &v }

// SimpleTemplate builds a single-branch plan: one question set covering
// every phase category, then analysis.
func SimpleTemplate(workflowID, phase string, categories []string, strategy domain.Strategy) domain.WorkflowDefinition {
	return domain.WorkflowDefinition{
		WorkflowID:  workflowID,
		Phase:       phase,
		Strategy:    strategy,
		EntryNodeID: "start",
		ExitNodeIDs: []string{"end"},
		Nodes: []domain.WorkflowNode{
			{ID: "start", Type: domain.NodePhaseStart, Label: "Phase start"},
			{ID: "questions", Type: domain.NodeQuestionSet, Label: "Question round",
				EstimatedTokens: basicQuestionTokens, TargetCategories: append([]string(nil), categories...),
				Difficulty: floatPtr(0.4)},
			{ID: "analysis", Type: domain.NodeAnalysis, Label: "Synthesize answers", EstimatedTokens: analysisTokens},
			{ID: "end", Type: domain.NodePhaseEnd, Label: "Phase end"},
		},
		Edges: []domain.WorkflowEdge{
			{FromNode: "start", ToNode: "questions", Probability: 1},
			{FromNode: "questions", ToNode: "analysis", Probability: 1},
			{FromNode: "analysis", ToNode: "end", Probability: 1},
		},
	}
}

// ComprehensiveTemplate builds the two-branch plan used for approval
// comparisons: a basic question set covering the first half of the phase
// categories versus a comprehensive one covering them all, both funneling
// into analysis.
func ComprehensiveTemplate(workflowID, phase string, categories []string, strategy domain.Strategy) domain.WorkflowDefinition {
	half := (len(categories) + 1) / 2
	basic := append([]string(nil), categories[:half]...)
	full := append([]string(nil), categories...)
	return domain.WorkflowDefinition{
		WorkflowID:  workflowID,
		Phase:       phase,
		Strategy:    strategy,
		EntryNodeID: "start",
		ExitNodeIDs: []string{"end"},
		Nodes: []domain.WorkflowNode{
			{ID: "start", Type: domain.NodePhaseStart, Label: "Phase start"},
			{ID: "basic_questions", Type: domain.NodeQuestionSet, Label: "Essential questions",
				EstimatedTokens: basicQuestionTokens, TargetCategories: basic, Difficulty: floatPtr(0.3)},
			{ID: "comprehensive_questions", Type: domain.NodeQuestionSet, Label: "Full question round",
				EstimatedTokens: comprehensiveQuestionTokens, TargetCategories: full, Difficulty: floatPtr(0.6)},
			{ID: "analysis", Type: domain.NodeAnalysis, Label: "Synthesize answers", EstimatedTokens: analysisTokens},
			{ID: "end", Type: domain.NodePhaseEnd, Label: "Phase end"},
		},
		Edges: []domain.WorkflowEdge{
			{FromNode: "start", ToNode: "basic_questions", Probability: 0.5},
			{FromNode: "start", ToNode: "comprehensive_questions", Probability: 0.5},
			{FromNode: "basic_questions", ToNode: "analysis", Probability: 1},
			{FromNode: "comprehensive_questions", ToNode: "analysis", Probability: 1},
			{FromNode: "analysis", ToNode: "end", Probability: 1},
		},
	}
}
