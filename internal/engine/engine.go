package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"specline/internal/config"
	"specline/internal/domain"
	"specline/internal/events"
	"specline/internal/maturity"
	"specline/internal/repo"
	"specline/internal/workflow"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) calculator() maturity.Calculator {
	return maturity.FromConfig(e.Config)
}

// phaseTargets resolves the category target table for a phase, or errors if
// the phase is not in the active project type's table.
func (e Engine) phaseTargets(phase string) ([]config.CategoryTarget, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	targets := e.Config.PhaseTargets(phase)
	if targets == nil {
		return nil, fmt.Errorf("phase %s is not defined for project type %s", phase, e.Config.Project.Type)
	}
	return targets, nil
}

func categoryNames(targets []config.CategoryTarget) []string {
	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, t.Name)
	}
	return names
}

// InitProject initializes a new project with migrations already run.
func (e Engine) InitProject(ctx context.Context, projectID, description, actorID string) (domain.Project, error) {
	if strings.TrimSpace(projectID) == "" {
		return domain.Project{}, errors.New("project id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	cfg := e.Config
	if cfg == nil {
		cfg = config.Default(projectID)
	}
	p := domain.Project{
		ID:          projectID,
		Type:        cfg.Project.Type,
		Status:      "active",
		Description: description,
		CreatedAt:   e.nowRFC3339(),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,type,status,description,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Type, p.Status, nullable(p.Description), p.CreatedAt); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, cfg); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.init", p.ID, "project", p.ID, actorID, events.EventPayload{"status": p.Status, "type": p.Type}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// SpecificationOptions are parameters for capturing one specification.
type SpecificationOptions struct {
	ProjectID  string
	Phase      string
	Category   string
	Content    string
	Confidence float64
	Value      float64
	ActorID    string
}

// AddSpecification stores one piece of captured evidence and recomputes the
// phase maturity snapshot in the same transaction.
func (e Engine) AddSpecification(ctx context.Context, opts SpecificationOptions) (domain.Specification, domain.PhaseMaturity, error) {
	if opts.ProjectID == "" {
		return domain.Specification{}, domain.PhaseMaturity{}, errors.New("project is required")
	}
	if opts.Category == "" {
		return domain.Specification{}, domain.PhaseMaturity{}, errors.New("category is required")
	}
	if strings.TrimSpace(opts.Content) == "" {
		return domain.Specification{}, domain.PhaseMaturity{}, errors.New("content is required")
	}
	if opts.Confidence < 0 || opts.Confidence > 1 {
		return domain.Specification{}, domain.PhaseMaturity{}, fmt.Errorf("confidence %v out of range [0,1]", opts.Confidence)
	}
	if opts.Value < 0 {
		return domain.Specification{}, domain.PhaseMaturity{}, fmt.Errorf("value %v must not be negative", opts.Value)
	}
	targets, err := e.phaseTargets(opts.Phase)
	if err != nil {
		return domain.Specification{}, domain.PhaseMaturity{}, err
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Specification{}, domain.PhaseMaturity{}, err
	}

	existing, err := e.Repo.ListSpecifications(ctx, opts.ProjectID, opts.Phase)
	if err != nil {
		return domain.Specification{}, domain.PhaseMaturity{}, err
	}

	s := domain.Specification{
		ID:         uuid.NewString(),
		ProjectID:  opts.ProjectID,
		Phase:      opts.Phase,
		Category:   opts.Category,
		Content:    opts.Content,
		Confidence: opts.Confidence,
		Value:      opts.Value,
		CreatedAt:  e.nowRFC3339(),
	}
	m := e.calculator().PhaseMaturity(opts.Phase, append(existing, s), targets)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Specification{}, domain.PhaseMaturity{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSpecificationTx(ctx, tx, s); err != nil {
		return domain.Specification{}, domain.PhaseMaturity{}, fmt.Errorf("insert specification: %w", err)
	}
	if err := e.Repo.UpsertPhaseMaturityTx(ctx, tx, opts.ProjectID, m); err != nil {
		return domain.Specification{}, domain.PhaseMaturity{}, fmt.Errorf("store maturity snapshot: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.SpecAdded, opts.ProjectID, "specification", s.ID, opts.ActorID, events.EventPayload{
		"phase":    s.Phase,
		"category": s.Category,
	}); err != nil {
		return domain.Specification{}, domain.PhaseMaturity{}, err
	}
	if err := e.Events.Append(ctx, tx, events.MaturityUpdated, opts.ProjectID, "phase", opts.Phase, opts.ActorID, events.EventPayload{
		"overall_percentage": m.OverallPercentage,
		"ready_to_advance":   m.ReadyToAdvance,
	}); err != nil {
		return domain.Specification{}, domain.PhaseMaturity{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Specification{}, domain.PhaseMaturity{}, err
	}
	return s, m, nil
}

// PhaseMaturity recomputes maturity for one phase from stored specifications.
// Snapshots in the database are display caches; this is the source of truth.
func (e Engine) PhaseMaturity(ctx context.Context, projectID, phase string) (domain.PhaseMaturity, error) {
	targets, err := e.phaseTargets(phase)
	if err != nil {
		return domain.PhaseMaturity{}, err
	}
	specs, err := e.Repo.ListSpecifications(ctx, projectID, phase)
	if err != nil {
		return domain.PhaseMaturity{}, err
	}
	return e.calculator().PhaseMaturity(phase, specs, targets), nil
}

// ProjectMaturity recomputes every phase and returns the snapshots in phase
// table order plus the cross-phase overall percentage.
func (e Engine) ProjectMaturity(ctx context.Context, projectID string) ([]domain.PhaseMaturity, float64, error) {
	if e.Config == nil {
		return nil, 0, errors.New("config not loaded")
	}
	phases := e.Config.Phases()
	res := make([]domain.PhaseMaturity, 0, len(phases))
	for _, phase := range phases {
		m, err := e.PhaseMaturity(ctx, projectID, phase)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, m)
	}
	return res, maturity.Overall(res), nil
}

// ImportWorkflow validates and stores an externally supplied plan graph.
func (e Engine) ImportWorkflow(ctx context.Context, def domain.WorkflowDefinition, actorID string) (domain.WorkflowDefinition, error) {
	if def.ProjectID == "" {
		return domain.WorkflowDefinition{}, errors.New("project is required")
	}
	if _, err := e.phaseTargets(def.Phase); err != nil {
		return domain.WorkflowDefinition{}, err
	}
	if _, err := e.Repo.GetProject(ctx, def.ProjectID); err != nil {
		return domain.WorkflowDefinition{}, err
	}
	if def.WorkflowID == "" {
		def.WorkflowID = uuid.NewString()
	}
	if def.Strategy == "" {
		def.Strategy = e.defaultStrategy()
	}
	if err := workflow.Validate(def); err != nil {
		return domain.WorkflowDefinition{}, err
	}
	def.CreatedAt = e.nowRFC3339()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowDefinition{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorkflowDefinitionTx(ctx, tx, def); err != nil {
		return domain.WorkflowDefinition{}, fmt.Errorf("insert workflow: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.WorkflowImported, def.ProjectID, "workflow", def.WorkflowID, actorID, events.EventPayload{
		"phase": def.Phase,
		"nodes": len(def.Nodes),
	}); err != nil {
		return domain.WorkflowDefinition{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowDefinition{}, err
	}
	return def, nil
}

// TemplateWorkflow builds one of the built-in plan shapes for a phase,
// targeting the phase's configured categories. Kind is "simple" or
// "comprehensive".
func (e Engine) TemplateWorkflow(projectID, phase, kind string, strategy domain.Strategy) (domain.WorkflowDefinition, error) {
	targets, err := e.phaseTargets(phase)
	if err != nil {
		return domain.WorkflowDefinition{}, err
	}
	if strategy == "" {
		strategy = e.defaultStrategy()
	}
	id := uuid.NewString()
	var def domain.WorkflowDefinition
	switch kind {
	case "simple":
		def = workflow.SimpleTemplate(id, phase, categoryNames(targets), strategy)
	case "comprehensive":
		def = workflow.ComprehensiveTemplate(id, phase, categoryNames(targets), strategy)
	default:
		return domain.WorkflowDefinition{}, fmt.Errorf("unknown template %q (want simple or comprehensive)", kind)
	}
	def.ProjectID = projectID
	return def, nil
}

// PlanResult is a scored plan: every simple path with cost and risk filled
// in, plus the strategy's recommendation.
type PlanResult struct {
	Definition        domain.WorkflowDefinition `json:"definition"`
	Paths             []domain.WorkflowPath     `json:"paths"`
	RecommendedPathID string                    `json:"recommended_path_id,omitempty"`
}

// Plan enumerates and scores every path through a definition without
// persisting anything. Risk scoring reads the phase's current maturity.
func (e Engine) Plan(ctx context.Context, def domain.WorkflowDefinition) (PlanResult, error) {
	targets, err := e.phaseTargets(def.Phase)
	if err != nil {
		return PlanResult{}, err
	}
	if def.Strategy == "" {
		def.Strategy = e.defaultStrategy()
	}
	if err := workflow.Validate(def); err != nil {
		return PlanResult{}, err
	}
	current, err := e.PhaseMaturity(ctx, def.ProjectID, def.Phase)
	if err != nil {
		return PlanResult{}, err
	}

	paths := workflow.FindAllPaths(def)
	costs := workflow.NewCostEstimator(e.avgTokenCostUSD())
	risks := workflow.NewRiskEstimator(0)
	for i := range paths {
		costs.Estimate(&paths[i], def)
		risks.Estimate(&paths[i], def, current, categoryNames(targets))
	}
	return PlanResult{
		Definition:        def,
		Paths:             paths,
		RecommendedPathID: workflow.Select(paths, def.Strategy),
	}, nil
}

func (e Engine) defaultStrategy() domain.Strategy {
	if e.Config != nil && e.Config.Planning.DefaultStrategy != "" {
		return e.Config.Planning.DefaultStrategy
	}
	return domain.StrategyBalanced
}

func (e Engine) avgTokenCostUSD() float64 {
	if e.Config != nil {
		return e.Config.Pricing.AvgTokenCostUSD
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
