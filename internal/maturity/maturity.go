// Package maturity scores how completely a project's requirements have
// been captured, phase by phase, from confidence-weighted specifications.
package maturity

import (
	"specline/internal/config"
	"specline/internal/domain"
)

const (
	// DefaultDenominator is the historical fixed divisor for a phase's
	// overall percentage, independent of what the category targets sum to.
	DefaultDenominator       = 90.0
	DefaultReadyThreshold    = 60.0
	DefaultCriticalThreshold = 40.0

	// Applied when a collaborator supplies a specification without
	// confidence or value. Specifications created through this module
	// always set both explicitly.
	fallbackConfidence = 0.9
	fallbackValue      = 1.0
)

// Calculator derives category and phase maturity. The zero value is not
// usable; construct with New.
type Calculator struct {
	Denominator       float64
	ReadyThreshold    float64
	CriticalThreshold float64
}

// New returns a Calculator with defaults filled in for zero fields.
func New(denominator, readyThreshold, criticalThreshold float64) Calculator {
	c := Calculator{
		Denominator:       denominator,
		ReadyThreshold:    readyThreshold,
		CriticalThreshold: criticalThreshold,
	}
	if c.Denominator <= 0 {
		c.Denominator = DefaultDenominator
	}
	if c.ReadyThreshold <= 0 {
		c.ReadyThreshold = DefaultReadyThreshold
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = DefaultCriticalThreshold
	}
	return c
}

// FromConfig builds a Calculator from the project config.
func FromConfig(cfg *config.Config) Calculator {
	if cfg == nil {
		return New(0, 0, 0)
	}
	return New(cfg.Maturity.PhaseDenominator, cfg.Maturity.ReadyThreshold, cfg.Maturity.CriticalThreshold)
}

// CategoryScore computes the capped, confidence-weighted score for one
// category. An empty spec list yields a zero, non-complete score; there are
// no error conditions.
func (c Calculator) CategoryScore(category string, specs []domain.Specification, target float64) domain.CategoryScore {
	var weightedSum, confidenceSum float64
	for _, s := range specs {
		confidence := s.Confidence
		if confidence == 0 {
			confidence = fallbackConfidence
		}
		value := s.Value
		if value == 0 {
			value = fallbackValue
		}
		weightedSum += value * confidence
		confidenceSum += confidence
	}
	current := weightedSum
	if current > target {
		current = target
	}
	score := domain.CategoryScore{
		Category:     category,
		CurrentScore: current,
		TargetScore:  target,
		SpecCount:    len(specs),
	}
	if target > 0 {
		score.Percentage = current / target * 100
	}
	if len(specs) > 0 {
		score.Confidence = confidenceSum / float64(len(specs))
	}
	score.IsComplete = current >= target
	return score
}

// PhaseMaturity computes the full maturity snapshot for one phase from all
// of its specifications and the phase's ordered category target table.
func (c Calculator) PhaseMaturity(phase string, specs []domain.Specification, targets []config.CategoryTarget) domain.PhaseMaturity {
	m := domain.PhaseMaturity{
		Phase:          phase,
		CategoryScores: make(map[string]domain.CategoryScore, len(targets)),
	}
	if len(specs) == 0 {
		for _, t := range targets {
			m.CategoryScores[t.Name] = c.CategoryScore(t.Name, nil, t.Points)
			m.MissingCategories = append(m.MissingCategories, t.Name)
		}
		m.Warnings = []string{beginAnsweringWarning(phase)}
		return m
	}

	byCategory := make(map[string][]domain.Specification)
	for _, s := range specs {
		byCategory[s.Category] = append(byCategory[s.Category], s)
	}

	var total float64
	for _, t := range targets {
		score := c.CategoryScore(t.Name, byCategory[t.Name], t.Points)
		m.CategoryScores[t.Name] = score
		total += score.CurrentScore
		if score.SpecCount == 0 {
			m.MissingCategories = append(m.MissingCategories, t.Name)
		}
	}

	m.OverallPercentage = total / c.Denominator * 100
	m.ReadyToAdvance = m.OverallPercentage >= c.ReadyThreshold
	m.Warnings = c.warnings(m, targets)
	return m
}

// Overall is the project-wide maturity: the mean of overall_percentage
// across phases that have started. Phases at 0 are excluded from the
// average, not counted as zeros.
func Overall(phases []domain.PhaseMaturity) float64 {
	var sum float64
	var n int
	for _, p := range phases {
		if p.OverallPercentage > 0 {
			sum += p.OverallPercentage
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
