package maturity

import (
	"fmt"
	"strings"

	"specline/internal/config"
	"specline/internal/domain"
)

const (
	maxWarnings          = 3
	maxNamedMissing      = 5
	maxNamedLowCoverage  = 3
	lowCoverageThreshold = 30.0
	imbalanceThreshold   = 80.0
)

// warnings produces at most maxWarnings messages in fixed priority order:
// overall maturity, missing categories, weak categories, imbalance.
// Lower-priority warnings are dropped once the cap is reached.
func (c Calculator) warnings(m domain.PhaseMaturity, targets []config.CategoryTarget) []string {
	var out []string
	add := func(msg string) {
		if len(out) < maxWarnings {
			out = append(out, msg)
		}
	}

	if m.OverallPercentage < c.CriticalThreshold {
		add(fmt.Sprintf("%s maturity is critically low at %.1f%%; most areas still need answers", m.Phase, m.OverallPercentage))
	} else if m.OverallPercentage < c.ReadyThreshold {
		add(fmt.Sprintf("%s maturity is %.1f%%, below the %.0f%% threshold; advancing now is risky", m.Phase, m.OverallPercentage, c.ReadyThreshold))
	}

	if len(m.MissingCategories) > 0 {
		named := m.MissingCategories
		if len(named) > maxNamedMissing {
			named = named[:maxNamedMissing]
		}
		add(fmt.Sprintf("no information captured for: %s", strings.Join(named, ", ")))
	}

	var weak []string
	for _, t := range targets {
		score := m.CategoryScores[t.Name]
		if score.SpecCount > 0 && score.Percentage < lowCoverageThreshold {
			weak = append(weak, t.Name)
			if len(weak) == maxNamedLowCoverage {
				break
			}
		}
	}
	if len(weak) > 0 {
		add(fmt.Sprintf("weak coverage in: %s", strings.Join(weak, ", ")))
	}

	if len(m.MissingCategories) > 0 {
		for _, t := range targets {
			if m.CategoryScores[t.Name].Percentage > imbalanceThreshold {
				add("coverage is unbalanced: some categories are nearly complete while others are untouched")
				break
			}
		}
	}

	return out
}

func beginAnsweringWarning(phase string) string {
	return fmt.Sprintf("no specifications captured for %s yet; start answering questions to build maturity", phase)
}
