package maturity

import (
	"math"
	"strings"
	"testing"

	"specline/internal/config"
	"specline/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func spec(category string, confidence, value float64) domain.Specification {
	return domain.Specification{Category: category, Confidence: confidence, Value: value, Phase: "discovery"}
}

func targets(pairs ...any) []config.CategoryTarget {
	var out []config.CategoryTarget
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, config.CategoryTarget{Name: pairs[i].(string), Points: pairs[i+1].(float64)})
	}
	return out
}

func TestCategoryScoreWeightedSum(t *testing.T) {
	c := New(0, 0, 0)
	specs := []domain.Specification{
		spec("goals", 0.9, 1.0),
		spec("goals", 0.8, 1.0),
	}
	score := c.CategoryScore("goals", specs, 15)
	if !almostEqual(score.CurrentScore, 1.7) {
		t.Fatalf("current score = %v, want 1.7", score.CurrentScore)
	}
	if !almostEqual(score.Percentage, 1.7/15*100) {
		t.Fatalf("percentage = %v, want ~11.33", score.Percentage)
	}
	if !almostEqual(score.Confidence, 0.85) {
		t.Fatalf("confidence = %v, want 0.85", score.Confidence)
	}
	if score.IsComplete {
		t.Fatalf("score should not be complete")
	}
	if score.SpecCount != 2 {
		t.Fatalf("spec count = %d, want 2", score.SpecCount)
	}
}

func TestCategoryScoreCappedAtTarget(t *testing.T) {
	c := New(0, 0, 0)
	var specs []domain.Specification
	for i := 0; i < 50; i++ {
		specs = append(specs, spec("goals", 1.0, 1.0))
	}
	for _, target := range []float64{0, 1, 5, 15, 49} {
		score := c.CategoryScore("goals", specs, target)
		if score.CurrentScore > target {
			t.Fatalf("target %v: current score %v exceeds target", target, score.CurrentScore)
		}
		if !score.IsComplete {
			t.Fatalf("target %v: expected complete", target)
		}
	}
}

func TestCategoryScoreDefaults(t *testing.T) {
	c := New(0, 0, 0)
	// Collaborator omitted confidence and value.
	score := c.CategoryScore("goals", []domain.Specification{{Category: "goals"}}, 15)
	if !almostEqual(score.CurrentScore, 0.9) {
		t.Fatalf("current score = %v, want 0.9 (default value x default confidence)", score.CurrentScore)
	}
}

func TestCategoryScoreEmpty(t *testing.T) {
	c := New(0, 0, 0)
	score := c.CategoryScore("goals", nil, 15)
	if score.CurrentScore != 0 || score.Confidence != 0 || score.IsComplete || score.SpecCount != 0 {
		t.Fatalf("unexpected empty score: %+v", score)
	}
	zero := c.CategoryScore("goals", nil, 0)
	if zero.Percentage != 0 {
		t.Fatalf("zero target should give zero percentage, got %v", zero.Percentage)
	}
	if !zero.IsComplete {
		t.Fatalf("zero target is trivially complete")
	}
}

func TestPhaseMaturityExactTargets(t *testing.T) {
	c := New(0, 0, 0)
	tt := targets("a", 30.0, "b", 30.0, "c", 30.0)
	var specs []domain.Specification
	for _, cat := range []string{"a", "b", "c"} {
		for i := 0; i < 30; i++ {
			specs = append(specs, spec(cat, 1.0, 1.0))
		}
	}
	m := c.PhaseMaturity("discovery", specs, tt)
	if !almostEqual(m.OverallPercentage, 100.0) {
		t.Fatalf("overall = %v, want 100", m.OverallPercentage)
	}
	if !m.ReadyToAdvance {
		t.Fatalf("expected ready to advance")
	}
	if len(m.MissingCategories) != 0 {
		t.Fatalf("unexpected missing categories: %v", m.MissingCategories)
	}
}

func TestPhaseMaturityMissingCategoryContributesZero(t *testing.T) {
	c := New(0, 0, 0)
	tt := targets("goals", 15.0, "users", 15.0)
	specs := []domain.Specification{spec("goals", 1.0, 9.0)}
	m := c.PhaseMaturity("discovery", specs, tt)
	if len(m.MissingCategories) != 1 || m.MissingCategories[0] != "users" {
		t.Fatalf("missing = %v, want [users]", m.MissingCategories)
	}
	if !almostEqual(m.OverallPercentage, 9.0/90*100) {
		t.Fatalf("overall = %v, want 10", m.OverallPercentage)
	}
	if score := m.CategoryScores["users"]; score.CurrentScore != 0 {
		t.Fatalf("missing category score = %v, want 0", score.CurrentScore)
	}
}

func TestPhaseMaturityEmpty(t *testing.T) {
	c := New(0, 0, 0)
	tt := targets("goals", 15.0, "users", 15.0)
	m := c.PhaseMaturity("discovery", nil, tt)
	if m.OverallPercentage != 0 {
		t.Fatalf("overall = %v, want 0", m.OverallPercentage)
	}
	if len(m.Warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", m.Warnings)
	}
	if len(m.MissingCategories) != 2 {
		t.Fatalf("missing = %v, want both categories", m.MissingCategories)
	}
}

func TestWarningsBoundAndOrder(t *testing.T) {
	c := New(0, 0, 0)
	// One nearly complete category, one weak, several untouched: triggers
	// all four warning rules; only the first three survive.
	tt := targets("a", 15.0, "b", 15.0, "c", 15.0, "d", 15.0, "e", 15.0, "f", 15.0)
	var specs []domain.Specification
	for i := 0; i < 14; i++ {
		specs = append(specs, spec("a", 1.0, 1.0))
	}
	specs = append(specs, spec("b", 0.5, 1.0))
	m := c.PhaseMaturity("discovery", specs, tt)
	if len(m.Warnings) != 3 {
		t.Fatalf("warnings = %d, want 3: %v", len(m.Warnings), m.Warnings)
	}
	if !strings.Contains(m.Warnings[0], "critically low") {
		t.Fatalf("first warning should be the overall one: %v", m.Warnings)
	}
	if !strings.Contains(m.Warnings[1], "no information captured") {
		t.Fatalf("second warning should name missing categories: %v", m.Warnings)
	}
	if !strings.Contains(m.Warnings[2], "weak coverage") {
		t.Fatalf("third warning should name weak categories: %v", m.Warnings)
	}
	// Missing categories are named in table order and capped at five.
	if strings.Count(m.Warnings[1], ",") != 3 {
		t.Fatalf("expected four missing categories named: %v", m.Warnings[1])
	}
}

func TestWarningAdvanceAtRisk(t *testing.T) {
	c := New(0, 0, 0)
	tt := targets("a", 45.0, "b", 45.0)
	var specs []domain.Specification
	for i := 0; i < 25; i++ {
		specs = append(specs, spec("a", 1.0, 1.0))
		specs = append(specs, spec("b", 1.0, 1.0))
	}
	m := c.PhaseMaturity("discovery", specs, tt)
	if m.OverallPercentage < 40 || m.OverallPercentage >= 60 {
		t.Fatalf("overall = %v, want between 40 and 60", m.OverallPercentage)
	}
	if len(m.Warnings) != 1 || !strings.Contains(m.Warnings[0], "below the 60% threshold") {
		t.Fatalf("warnings = %v", m.Warnings)
	}
}

func TestOverallExcludesUnstartedPhases(t *testing.T) {
	phases := []domain.PhaseMaturity{
		{Phase: "discovery", OverallPercentage: 80},
		{Phase: "analysis", OverallPercentage: 40},
		{Phase: "design", OverallPercentage: 0},
	}
	if got := Overall(phases); !almostEqual(got, 60) {
		t.Fatalf("overall = %v, want 60", got)
	}
	if got := Overall(nil); got != 0 {
		t.Fatalf("overall of nothing = %v, want 0", got)
	}
}
