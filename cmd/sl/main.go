package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"specline/internal/app"
	"specline/internal/config"
	"specline/internal/db"
	"specline/internal/domain"
	"specline/internal/engine"
	"specline/internal/migrate"
	"specline/internal/repo"
	"specline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Specline CLI",
	Long: `Specline scores how mature a project specification is and plans the
cheapest safe route to fill the gaps.
- Workspace: your .specline directory with the database; config lives in the
  DB and is imported explicitly.
- Specifications: captured answers per phase and category, each weighted by
  confidence and value.
- Maturity: per-phase completeness out of the category target table; a phase
  is ready to advance at the configured threshold.
- Workflows: directed plan graphs of question sets; every entry-to-exit path
  is enumerated and scored for token cost and risk.
- Approvals: a scored plan waits in a gate until someone approves one path;
  the approved path becomes a tracked execution.
- Event log: diary of changes, view with 'sl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SPECLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(specCmd())
	rootCmd.AddCommand(maturityCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(execCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUseCmd())
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Type, p.Status, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var id, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default(id)
			}
			cfg.Project.ID = id
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), id, desc, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "SPECLINE_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set SPECLINE_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage project config"}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	cfg.AddCommand(projectConfigInitCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			projectID := cfg.Project.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				if err := e.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func projectConfigInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default specline.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "my-project", "project id")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show project status",
		Long:  "The scoreboard: per-phase maturity, any pending approval, any active execution.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID := e.Config.Project.ID
				p, err := e.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				phases, overall, err := e.ProjectMaturity(ctx, projectID)
				if err != nil {
					return err
				}
				var pending *domain.WorkflowApprovalRequest
				var active *domain.WorkflowExecutionState
				for _, phase := range e.Config.Phases() {
					if req, err := e.Repo.PendingApprovalRequest(ctx, projectID, phase); err == nil {
						pending = &req
					}
					if st, err := e.Repo.ActiveExecution(ctx, projectID, phase); err == nil {
						active = &st
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"project":            p,
						"overall_percentage": overall,
						"phases":             phases,
						"pending_approval":   pending,
						"active_execution":   active,
					})
				}
				fmt.Printf("Project: %s (%s)\n", p.ID, p.Status)
				fmt.Printf("Overall maturity: %.1f%%\n", overall)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Phase", "Maturity", "Ready", "Missing"})
				for _, m := range phases {
					tw.AppendRow(table.Row{m.Phase, fmt.Sprintf("%.1f%%", m.OverallPercentage), m.ReadyToAdvance, len(m.MissingCategories)})
				}
				tw.Render()
				if pending != nil {
					fmt.Printf("Pending approval: %s (phase %s, %d paths, recommended %s)\n",
						pending.RequestID, pending.Phase, len(pending.AllPaths), pending.RecommendedPathID)
				}
				if active != nil {
					fmt.Printf("Active execution: %s (phase %s, at node %s)\n",
						active.ExecutionID, active.Phase, active.CurrentNodeID)
				}
				return nil
			})
		},
	}
}

func specCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "spec", Short: "Capture and list specifications"}
	cmd.AddCommand(specAddCmd())
	cmd.AddCommand(specListCmd())
	return cmd
}

func specAddCmd() *cobra.Command {
	var phase, category, content string
	var confidence, value float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a specification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				spec, m, err := e.AddSpecification(ctx, engine.SpecificationOptions{
					ProjectID:  e.Config.Project.ID,
					Phase:      phase,
					Category:   category,
					Content:    content,
					Confidence: confidence,
					Value:      value,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"specification": spec, "maturity": m})
				}
				fmt.Printf("Added %s to %s/%s\n", spec.ID, phase, category)
				fmt.Printf("Phase maturity now %.1f%%\n", m.OverallPercentage)
				for _, w := range m.Warnings {
					fmt.Println("  warning:", w)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "phase")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&content, "content", "", "captured content")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.9, "confidence in (0,1]")
	cmd.Flags().Float64Var(&value, "value", 1.0, "points contributed")
	_ = cmd.MarkFlagRequired("phase")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func specListCmd() *cobra.Command {
	var phase string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List specifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSpecifications(ctx, e.Config.Project.ID, phase)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Phase", "Category", "Confidence", "Value"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Phase, s.Category, s.Confidence, s.Value})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "phase filter")
	return cmd
}

func maturityCmd() *cobra.Command {
	var phase string
	cmd := &cobra.Command{
		Use:   "maturity",
		Short: "Show maturity scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID := e.Config.Project.ID
				if phase != "" {
					m, err := e.PhaseMaturity(ctx, projectID, phase)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(m)
					}
					printPhaseMaturity(e, m)
					return nil
				}
				phases, overall, err := e.ProjectMaturity(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"phases": phases, "overall_percentage": overall})
				}
				fmt.Printf("Overall maturity: %.1f%%\n", overall)
				for _, m := range phases {
					printPhaseMaturity(e, m)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "show one phase")
	return cmd
}

func printPhaseMaturity(e engine.Engine, m domain.PhaseMaturity) {
	ready := ""
	if m.ReadyToAdvance {
		ready = " (ready to advance)"
	}
	fmt.Printf("\nPhase %s: %.1f%%%s\n", m.Phase, m.OverallPercentage, ready)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Category", "Score", "Target", "%", "Specs"})
	for _, t := range e.Config.PhaseTargets(m.Phase) {
		s := m.CategoryScores[t.Name]
		tw.AppendRow(table.Row{s.Category, fmt.Sprintf("%.1f", s.CurrentScore), s.TargetScore, fmt.Sprintf("%.0f%%", s.Percentage), s.SpecCount})
	}
	tw.Render()
	for _, w := range m.Warnings {
		fmt.Println("  warning:", w)
	}
}

func workflowCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "workflow", Short: "Import and plan workflow graphs"}
	cmd.AddCommand(workflowImportCmd())
	cmd.AddCommand(workflowTemplateCmd())
	cmd.AddCommand(workflowPlanCmd())
	cmd.AddCommand(workflowListCmd())
	cmd.AddCommand(workflowShowCmd())
	return cmd
}

func workflowImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a workflow definition from file",
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := definitionFromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				def.ProjectID = e.Config.Project.ID
				def, err := e.ImportWorkflow(ctx, def, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(def)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "definition file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func workflowTemplateCmd() *cobra.Command {
	var phase, kind, strategy string
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Build a definition from a built-in template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				def, err := e.TemplateWorkflow(e.Config.Project.ID, phase, kind, domain.Strategy(strategy))
				if err != nil {
					return err
				}
				return printJSONOrTable(def)
			})
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "phase")
	cmd.Flags().StringVar(&kind, "kind", "comprehensive", "simple or comprehensive")
	cmd.Flags().StringVar(&strategy, "strategy", "", "selection strategy")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func workflowPlanCmd() *cobra.Command {
	var filePath, phase, kind string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Enumerate and score every path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				def, err := resolveDefinition(e, filePath, phase, kind)
				if err != nil {
					return err
				}
				plan, err := e.Plan(ctx, def)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plan)
				}
				printPaths(plan.Paths, plan.RecommendedPathID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "definition file (YAML or JSON)")
	cmd.Flags().StringVar(&phase, "phase", "", "phase (for --template planning)")
	cmd.Flags().StringVar(&kind, "template", "comprehensive", "template when no --file given")
	return cmd
}

func workflowListCmd() *cobra.Command {
	var phase string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored workflow definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListWorkflowDefinitions(ctx, e.Config.Project.ID, phase)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Phase", "Nodes", "Strategy", "Created"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.WorkflowID, d.Phase, len(d.Nodes), d.Strategy, d.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "phase filter")
	return cmd
}

func workflowShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show a stored workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				def, err := e.Repo.GetWorkflowDefinition(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(def)
			})
		},
	}
}

func approvalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "approval", Short: "Approval gate for scored plans"}
	cmd.AddCommand(approvalRequestCmd())
	cmd.AddCommand(approvalListCmd())
	cmd.AddCommand(approvalShowCmd())
	cmd.AddCommand(approvalApproveCmd())
	cmd.AddCommand(approvalRejectCmd())
	return cmd
}

func approvalRequestCmd() *cobra.Command {
	var filePath, phase, kind string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Score a plan and request approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				def, err := resolveDefinition(e, filePath, phase, kind)
				if err != nil {
					return err
				}
				req, err := e.RequestApproval(ctx, def, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(req)
				}
				fmt.Printf("Approval request %s (phase %s)\n", req.RequestID, req.Phase)
				printPaths(req.AllPaths, req.RecommendedPathID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "definition file (YAML or JSON)")
	cmd.Flags().StringVar(&phase, "phase", "", "phase (for --template planning)")
	cmd.Flags().StringVar(&kind, "template", "comprehensive", "template when no --file given")
	return cmd
}

func approvalListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListApprovalRequests(ctx, e.Config.Project.ID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Phase", "Status", "Paths", "Recommended", "Created"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.RequestID, r.Phase, r.Status, len(r.AllPaths), r.RecommendedPathID, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, approved, rejected)")
	return cmd
}

func approvalShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show an approval request with its scored paths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.Repo.GetApprovalRequest(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(req)
				}
				fmt.Printf("Request %s: %s (phase %s)\n", req.RequestID, req.Status, req.Phase)
				printPaths(req.AllPaths, req.RecommendedPathID)
				return nil
			})
		},
	}
}

func approvalApproveCmd() *cobra.Command {
	var pathID string
	cmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a path and start execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, st, err := e.Approve(ctx, args[0], pathID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"request": req, "execution": st})
				}
				fmt.Printf("Approved %s on %s; execution %s at node %s\n",
					req.RequestID, st.ApprovedPathID, st.ExecutionID, st.CurrentNodeID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&pathID, "path", "", "path id (defaults to recommendation)")
	return cmd
}

func approvalRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a pending plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.Reject(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
}

func execCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "exec", Short: "Track approved path executions"}
	cmd.AddCommand(execShowCmd())
	cmd.AddCommand(execCategoriesCmd())
	cmd.AddCommand(execAdvanceCmd())
	cmd.AddCommand(execCompleteCmd())
	return cmd
}

func execShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show execution state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.Repo.GetExecutionState(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
}

func execCategoriesCmd() *cobra.Command {
	var covered []string
	cmd := &cobra.Command{
		Use:   "categories <execution-id>",
		Short: "Categories the current node still owes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cats, err := e.RequiredCategories(ctx, args[0], covered)
				if err != nil {
					return err
				}
				return printJSONOrTable(cats)
			})
		},
	}
	cmd.Flags().StringSliceVar(&covered, "covered", nil, "categories already covered")
	return cmd
}

func execAdvanceCmd() *cobra.Command {
	var tokens int
	cmd := &cobra.Command{
		Use:   "advance <execution-id>",
		Short: "Advance to the next node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.AdvanceExecution(ctx, args[0], tokens, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Now at node %s (%d tokens estimated remaining)\n", st.CurrentNodeID, st.EstimatedTokensRemaining)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&tokens, "tokens", 0, "tokens spent on the completed node")
	return cmd
}

func execCompleteCmd() *cobra.Command {
	var tokens int
	cmd := &cobra.Command{
		Use:   "complete <execution-id>",
		Short: "Complete the execution and record history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, hist, err := e.CompleteExecution(ctx, args[0], tokens, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"execution": st, "history": hist})
				}
				fmt.Printf("Completed %s: estimated %d, actual %d (%.1f%% variance)\n",
					st.ExecutionID, hist.EstimatedTokens, hist.ActualTokens, hist.VariancePct)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&tokens, "tokens", 0, "tokens spent on the exit node")
	return cmd
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Completed workflow history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListWorkflowHistory(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Phase", "Path", "Estimated", "Actual", "Variance", "Completed"})
				for _, h := range items {
					tw.AppendRow(table.Row{h.Phase, h.PathID, h.EstimatedTokens, h.ActualTokens, fmt.Sprintf("%.1f%%", h.VariancePct), h.CompletedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, n, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Manage API keys"}
	cmd.AddCommand(keysCreateCmd())
	cmd.AddCommand(keysListCmd())
	cmd.AddCommand(keysDeleteCmd())
	return cmd
}

func keysCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (plaintext shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if actorID == "" {
					actorID = viper.GetString("actor-id")
				}
				plaintext := uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(plaintext),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": plaintext})
				}
				fmt.Printf("Created key %s for %s\n", key.ID, key.ActorID)
				fmt.Printf("Key (save it, it is not stored): %s\n", plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func keysListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func keysDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("Deleted", args[0])
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), workspace, viper.GetString("project"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("SPECLINE_JWT_SECRET")}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			if cfg.Approvals.ExpiryMinutes > 0 {
				sweeper := cron.New()
				if _, err := sweeper.AddFunc("@every 1m", func() {
					if n, err := e.ExpireStaleApprovals(context.Background(), "approval-sweeper"); err != nil {
						fmt.Println("approval sweep error:", err)
					} else if n > 0 {
						fmt.Printf("expired %d stale approval request(s)\n", n)
					}
				}); err != nil {
					return err
				}
				sweeper.Start()
				defer sweeper.Stop()
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			if authCfg.JWTSecret == "" {
				fmt.Println("SPECLINE_JWT_SECRET not set; serving in dev mode without auth")
			}
			fmt.Printf("Serving Specline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// resolveDefinition reads a definition file when given, otherwise builds a
// template for the phase.
func resolveDefinition(e engine.Engine, filePath, phase, kind string) (domain.WorkflowDefinition, error) {
	if filePath != "" {
		def, err := definitionFromFile(filePath)
		if err != nil {
			return domain.WorkflowDefinition{}, err
		}
		def.ProjectID = e.Config.Project.ID
		return def, nil
	}
	if phase == "" {
		return domain.WorkflowDefinition{}, fmt.Errorf("--file or --phase required")
	}
	return e.TemplateWorkflow(e.Config.Project.ID, phase, kind, "")
}

// definitionFromFile accepts JSON directly and YAML by round-tripping
// through JSON, so one set of struct tags serves both.
func definitionFromFile(path string) (domain.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.WorkflowDefinition{}, err
	}
	var def domain.WorkflowDefinition
	if json.Valid(data) {
		if err := json.Unmarshal(data, &def); err != nil {
			return domain.WorkflowDefinition{}, err
		}
		return def, nil
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return domain.WorkflowDefinition{}, fmt.Errorf("invalid definition file: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return domain.WorkflowDefinition{}, err
	}
	if err := json.Unmarshal(jsonData, &def); err != nil {
		return domain.WorkflowDefinition{}, err
	}
	return def, nil
}

func printPaths(paths []domain.WorkflowPath, recommended string) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Path", "Nodes", "Tokens", "USD", "Risk", "Quality", "ROI"})
	for _, p := range paths {
		id := p.PathID
		if p.PathID == recommended {
			id += " *"
		}
		tw.AppendRow(table.Row{
			id,
			strings.Join(p.NodeIDs, " > "),
			p.TotalCostTokens,
			fmt.Sprintf("%.4f", p.TotalCostUSD),
			fmt.Sprintf("%.1f", p.RiskScore),
			fmt.Sprintf("%.1f", p.QualityScore),
			fmt.Sprintf("%.1f", p.ROIScore),
		})
	}
	tw.Render()
	if recommended != "" {
		fmt.Printf("Recommended: %s\n", recommended)
	}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
