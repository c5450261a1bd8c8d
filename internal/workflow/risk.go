package workflow

import (
	"specline/internal/domain"
)

// DefaultComplexityBaseline is the complexity risk assumed when no
// question-set node on the path carries difficulty metadata.
const DefaultComplexityBaseline = 20.0

// Weights of the blended risk score.
const (
	incompletenessWeight = 0.4
	complexityWeight     = 0.3
	reworkWeight         = 0.3
)

// RiskEstimator annotates paths with risk, quality and ROI metrics. It
// needs the current phase maturity: the less mature the phase, the more a
// thin path is likely to force rework later.
type RiskEstimator struct {
	ComplexityBaseline float64
}

// NewRiskEstimator fills in the default baseline when given zero.
func NewRiskEstimator(baseline float64) RiskEstimator {
	if baseline <= 0 {
		baseline = DefaultComplexityBaseline
	}
	return RiskEstimator{ComplexityBaseline: baseline}
}

// Estimate fills the risk fields on the path. phaseCategories is the full
// category target list for the phase; coverage is the union of target
// categories across the path's question-set nodes. Estimate expects cost
// fields to be populated already (ROI relates quality to token cost).
func (e RiskEstimator) Estimate(p *domain.WorkflowPath, def domain.WorkflowDefinition, current domain.PhaseMaturity, phaseCategories []string) {
	nodes := NodeMap(def)

	covered := map[string]bool{}
	var difficultySum float64
	var difficultyCount int
	for _, id := range p.NodeIDs {
		n := nodes[id]
		if n.Type != domain.NodeQuestionSet {
			continue
		}
		for _, c := range n.TargetCategories {
			covered[c] = true
		}
		if n.Difficulty != nil {
			difficultySum += *n.Difficulty
			difficultyCount++
		}
	}

	p.IncompletenessRisk = 0
	if len(phaseCategories) > 0 {
		missed := 0
		for _, c := range phaseCategories {
			if !covered[c] {
				missed++
			}
		}
		p.IncompletenessRisk = float64(missed) / float64(len(phaseCategories)) * 100
	}

	p.ComplexityRisk = e.ComplexityBaseline
	if difficultyCount > 0 {
		p.ComplexityRisk = clamp100(difficultySum / float64(difficultyCount) * 100)
	}

	deficit := clamp100(100 - current.OverallPercentage)
	p.ReworkProbability = clamp100(0.5*p.IncompletenessRisk + 0.5*deficit)

	p.RiskScore = incompletenessWeight*p.IncompletenessRisk +
		complexityWeight*p.ComplexityRisk +
		reworkWeight*p.ReworkProbability

	// Quality tracks coverage achieved; ROI relates it to token spend per
	// thousand tokens. Both are display metrics: only their ordering
	// between candidate paths matters.
	p.QualityScore = clamp100(100 - p.IncompletenessRisk)
	if p.TotalCostTokens > 0 {
		p.ROIScore = p.QualityScore / (float64(p.TotalCostTokens) / 1000)
	} else {
		p.ROIScore = 0
	}
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
