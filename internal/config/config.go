package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"specline/internal/domain"
)

// Config models specline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id" json:"id"`
		Type string `yaml:"type" json:"type"`
	} `yaml:"project" json:"project"`
	Maturity struct {
		// PhaseDenominator is the fixed divisor used for a phase's overall
		// percentage. The historical behavior divides by 90 no matter what
		// the category targets sum to; leave it at 90 unless the target
		// table has been rebalanced.
		PhaseDenominator  float64 `yaml:"phase_denominator" json:"phase_denominator"`
		ReadyThreshold    float64 `yaml:"ready_threshold" json:"ready_threshold"`
		CriticalThreshold float64 `yaml:"critical_threshold" json:"critical_threshold"`
	} `yaml:"maturity" json:"maturity"`
	Pricing struct {
		AvgTokenCostUSD float64 `yaml:"avg_token_cost_usd" json:"avg_token_cost_usd"`
	} `yaml:"pricing" json:"pricing"`
	Planning struct {
		DefaultStrategy domain.Strategy `yaml:"default_strategy" json:"default_strategy"`
	} `yaml:"planning" json:"planning"`
	Approvals struct {
		// ExpiryMinutes auto-rejects pending approval requests older than
		// this. 0 disables expiry.
		ExpiryMinutes int `yaml:"expiry_minutes" json:"expiry_minutes"`
	} `yaml:"approvals" json:"approvals"`
	// Targets maps project type to its ordered phase target tables.
	Targets  map[string][]PhaseTargets `yaml:"targets" json:"targets"`
	Webhooks []WebhookConfig           `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// PhaseTargets is the ordered category target table for one phase.
type PhaseTargets struct {
	Phase      string           `yaml:"phase" json:"phase"`
	Categories []CategoryTarget `yaml:"categories" json:"categories"`
}

// CategoryTarget is one (category, target points) entry. Order matters:
// warning output names categories in table order.
type CategoryTarget struct {
	Name   string  `yaml:"name" json:"name"`
	Points float64 `yaml:"points" json:"points"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sl project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Type == "" {
		return fmt.Errorf("config.project.type is required")
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("config.targets is required")
	}
	table, ok := c.Targets[c.Project.Type]
	if !ok {
		return fmt.Errorf("config.targets has no table for project type %s", c.Project.Type)
	}
	if len(table) == 0 {
		return fmt.Errorf("target table for %s has no phases", c.Project.Type)
	}
	for projectType, phases := range c.Targets {
		seen := map[string]bool{}
		for _, pt := range phases {
			if pt.Phase == "" {
				return fmt.Errorf("targets.%s contains a phase with empty name", projectType)
			}
			if seen[pt.Phase] {
				return fmt.Errorf("targets.%s repeats phase %s", projectType, pt.Phase)
			}
			seen[pt.Phase] = true
			if len(pt.Categories) == 0 {
				return fmt.Errorf("targets.%s phase %s has no categories", projectType, pt.Phase)
			}
			cats := map[string]bool{}
			for _, ct := range pt.Categories {
				if ct.Name == "" {
					return fmt.Errorf("targets.%s phase %s has a category with empty name", projectType, pt.Phase)
				}
				if cats[ct.Name] {
					return fmt.Errorf("targets.%s phase %s repeats category %s", projectType, pt.Phase, ct.Name)
				}
				cats[ct.Name] = true
				if ct.Points < 0 {
					return fmt.Errorf("targets.%s phase %s category %s has negative points", projectType, pt.Phase, ct.Name)
				}
			}
		}
	}
	if c.Maturity.PhaseDenominator <= 0 {
		return fmt.Errorf("config.maturity.phase_denominator must be positive")
	}
	if c.Maturity.ReadyThreshold <= 0 || c.Maturity.ReadyThreshold > 100 {
		return fmt.Errorf("config.maturity.ready_threshold must be in (0,100]")
	}
	if c.Maturity.CriticalThreshold < 0 || c.Maturity.CriticalThreshold > c.Maturity.ReadyThreshold {
		return fmt.Errorf("config.maturity.critical_threshold must be in [0, ready_threshold]")
	}
	if c.Pricing.AvgTokenCostUSD < 0 {
		return fmt.Errorf("config.pricing.avg_token_cost_usd must not be negative")
	}
	if c.Approvals.ExpiryMinutes < 0 {
		return fmt.Errorf("config.approvals.expiry_minutes must not be negative")
	}
	switch c.Planning.DefaultStrategy {
	case domain.StrategyMinimizeCost, domain.StrategyMinimizeRisk, domain.StrategyBalanced,
		domain.StrategyMaximizeQuality, domain.StrategyUserChoice:
	default:
		return fmt.Errorf("config.planning.default_strategy %q is not a known strategy", c.Planning.DefaultStrategy)
	}
	return nil
}

// PhaseTargets returns the ordered target table for a phase of the active
// project type, or nil if the phase is unknown.
func (c *Config) PhaseTargets(phase string) []CategoryTarget {
	for _, pt := range c.Targets[c.Project.Type] {
		if pt.Phase == phase {
			return pt.Categories
		}
	}
	return nil
}

// Phases returns the phase names for the active project type in table order.
func (c *Config) Phases() []string {
	table := c.Targets[c.Project.Type]
	phases := make([]string, 0, len(table))
	for _, pt := range table {
		phases = append(phases, pt.Phase)
	}
	return phases
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "specline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Type = "standard"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  type: standard

maturity:
  phase_denominator: 90
  ready_threshold: 60
  critical_threshold: 40

pricing:
  avg_token_cost_usd: 0.000003

planning:
  default_strategy: balanced

approvals:
  expiry_minutes: 0

targets:
  standard:
    - phase: discovery
      categories:
        - {name: goals, points: 15}
        - {name: users, points: 15}
        - {name: problem, points: 15}
        - {name: scope, points: 15}
        - {name: constraints, points: 15}
        - {name: success_criteria, points: 15}
    - phase: analysis
      categories:
        - {name: requirements, points: 20}
        - {name: data_model, points: 15}
        - {name: integrations, points: 15}
        - {name: tech, points: 15}
        - {name: risk, points: 15}
        - {name: team, points: 10}
    - phase: design
      categories:
        - {name: architecture, points: 20}
        - {name: interfaces, points: 15}
        - {name: storage, points: 15}
        - {name: security, points: 15}
        - {name: ux, points: 15}
        - {name: operations, points: 10}
    - phase: implementation
      categories:
        - {name: milestones, points: 20}
        - {name: timeline, points: 15}
        - {name: testing, points: 15}
        - {name: deployment, points: 15}
        - {name: tooling, points: 15}
        - {name: handover, points: 10}
`
