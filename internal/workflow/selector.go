package workflow

import (
	"specline/internal/domain"
)

// Balanced strategy weights over min-max normalized metrics.
const (
	balancedCostWeight    = 0.5
	balancedRiskWeight    = 0.3
	balancedQualityWeight = 0.2
)

// Select returns the recommended path id for the given strategy, or "" for
// user_choice (and for an empty candidate set). Candidates must already be
// scored. Ties resolve to the earliest path in enumeration order, since
// comparisons are strict.
func Select(paths []domain.WorkflowPath, strategy domain.Strategy) string {
	if len(paths) == 0 || strategy == domain.StrategyUserChoice {
		return ""
	}
	switch strategy {
	case domain.StrategyMinimizeCost:
		return argBest(paths, func(p domain.WorkflowPath) float64 { return float64(p.TotalCostTokens) }, false)
	case domain.StrategyMinimizeRisk:
		return argBest(paths, func(p domain.WorkflowPath) float64 { return p.RiskScore }, false)
	case domain.StrategyMaximizeQuality:
		return argBest(paths, func(p domain.WorkflowPath) float64 { return p.QualityScore }, true)
	case domain.StrategyBalanced:
		return selectBalanced(paths)
	default:
		return selectBalanced(paths)
	}
}

func argBest(paths []domain.WorkflowPath, metric func(domain.WorkflowPath) float64, maximize bool) string {
	best := 0
	for i := 1; i < len(paths); i++ {
		v := metric(paths[i])
		cur := metric(paths[best])
		if (maximize && v > cur) || (!maximize && v < cur) {
			best = i
		}
	}
	return paths[best].PathID
}

func selectBalanced(paths []domain.WorkflowPath) string {
	cost := normalized(paths, func(p domain.WorkflowPath) float64 { return float64(p.TotalCostTokens) })
	risk := normalized(paths, func(p domain.WorkflowPath) float64 { return p.RiskScore })
	quality := normalized(paths, func(p domain.WorkflowPath) float64 { return p.QualityScore })

	best := 0
	bestScore := balancedScore(cost[0], risk[0], quality[0])
	for i := 1; i < len(paths); i++ {
		score := balancedScore(cost[i], risk[i], quality[i])
		if score < bestScore {
			best = i
			bestScore = score
		}
	}
	return paths[best].PathID
}

func balancedScore(cost, risk, quality float64) float64 {
	return balancedCostWeight*cost + balancedRiskWeight*risk - balancedQualityWeight*quality
}

// normalized min-max scales a metric across the candidate set. A degenerate
// range maps to all zeros rather than dividing by zero.
func normalized(paths []domain.WorkflowPath, metric func(domain.WorkflowPath) float64) []float64 {
	lo, hi := metric(paths[0]), metric(paths[0])
	for _, p := range paths[1:] {
		v := metric(p)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(paths))
	if hi == lo {
		return out
	}
	for i, p := range paths {
		out[i] = (metric(p) - lo) / (hi - lo)
	}
	return out
}
