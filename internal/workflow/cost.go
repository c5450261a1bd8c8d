package workflow

import (
	"specline/internal/domain"
)

// DefaultAvgTokenCostUSD is the blended per-token price used when the
// project config does not override it.
const DefaultAvgTokenCostUSD = 0.000003

// CostEstimator annotates paths with token and dollar cost.
type CostEstimator struct {
	AvgTokenCostUSD float64
}

// NewCostEstimator fills in the default token price when given zero.
func NewCostEstimator(avgTokenCostUSD float64) CostEstimator {
	if avgTokenCostUSD <= 0 {
		avgTokenCostUSD = DefaultAvgTokenCostUSD
	}
	return CostEstimator{AvgTokenCostUSD: avgTokenCostUSD}
}

// Estimate fills TotalCostTokens, TotalCostUSD and the per-node breakdown on
// the path. Total tokens are the sum of node estimates plus traversed edge
// costs; adding any node with positive estimated tokens strictly increases
// the total.
func (e CostEstimator) Estimate(p *domain.WorkflowPath, def domain.WorkflowDefinition) {
	nodes := NodeMap(def)
	edges := EdgeMap(def)

	total := 0
	breakdown := make(map[string]int, len(p.NodeIDs))
	for _, id := range p.NodeIDs {
		tokens := nodes[id].EstimatedTokens
		breakdown[id] = tokens
		total += tokens
	}
	for _, key := range p.EdgeKeys {
		total += edges[key].Cost
	}

	p.TotalCostTokens = total
	p.TotalCostUSD = float64(total) * e.AvgTokenCostUSD
	p.CostBreakdown = breakdown
}
