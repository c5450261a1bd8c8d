package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"specline/internal/domain"
	"specline/internal/engine"
	"specline/internal/repo"
	"specline/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"cannot approve approval_request r1 in state approved"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Specline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Specline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerStatus(group, cfg.Engine)
	registerSpecifications(group, cfg.Engine)
	registerMaturity(group, cfg.Engine)
	registerWorkflows(group, cfg.Engine)
	registerApprovals(group, cfg.Engine)
	registerExecutions(group, cfg.Engine)
	registerHistory(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *workflow.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{
			"workflow_id": ve.WorkflowID,
		})
	}
	var se *engine.StateError
	if errors.As(err, &se) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{
			"entity": se.Entity,
			"id":     se.ID,
			"state":  se.State,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") ||
		strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "out of range") ||
		strings.Contains(lowered, "not defined") ||
		strings.Contains(lowered, "unknown") ||
		strings.Contains(lowered, "must not"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Specline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		p, err := e.InitProject(ctx, input.Body.ID, desc, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "project-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Project status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		phases, overall, err := e.ProjectMaturity(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := StatusResponse{Project: p, Overall: overall, Phases: phases}
		for _, phase := range e.Config.Phases() {
			if pending, err := e.Repo.PendingApprovalRequest(ctx, p.ID, phase); err == nil {
				res.PendingApproval = &pending
			}
			if active, err := e.Repo.ActiveExecution(ctx, p.ID, phase); err == nil {
				res.ActiveExecution = &active
			}
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerSpecifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-specification",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/specs",
		Summary:       "Add specification",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		Body      AddSpecificationRequest `json:"body"`
	}) (*struct {
		Body SpecificationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		spec, m, err := e.AddSpecification(ctx, engine.SpecificationOptions{
			ProjectID:  input.ProjectID,
			Phase:      input.Body.Phase,
			Category:   input.Body.Category,
			Content:    input.Body.Content,
			Confidence: input.Body.Confidence,
			Value:      input.Body.Value,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SpecificationResponse `json:"body"`
		}{Body: SpecificationResponse{Specification: spec, Maturity: m}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-specifications",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/specs",
		Summary:     "List specifications",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Phase     string `query:"phase"`
	}) (*struct {
		Body []domain.Specification `json:"body"`
	}, error) {
		items, err := e.Repo.ListSpecifications(ctx, input.ProjectID, input.Phase)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Specification `json:"body"`
		}{Body: items}, nil
	})
}

func registerMaturity(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "project-maturity",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/maturity",
		Summary:     "Project maturity across phases",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectMaturityResponse `json:"body"`
	}, error) {
		phases, overall, err := e.ProjectMaturity(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectMaturityResponse `json:"body"`
		}{Body: ProjectMaturityResponse{Phases: phases, Overall: overall}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "phase-maturity",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/maturity/{phase}",
		Summary:     "Phase maturity",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Phase     string `path:"phase"`
	}) (*struct {
		Body domain.PhaseMaturity `json:"body"`
	}, error) {
		m, err := e.PhaseMaturity(ctx, input.ProjectID, input.Phase)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PhaseMaturity `json:"body"`
		}{Body: m}, nil
	})
}

func registerWorkflows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "import-workflow",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/workflows",
		Summary:       "Import workflow definition",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string                    `path:"project_id"`
		Body      domain.WorkflowDefinition `json:"body"`
	}) (*struct {
		Body domain.WorkflowDefinition `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		def := input.Body
		def.ProjectID = input.ProjectID
		def, err := e.ImportWorkflow(ctx, def, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowDefinition `json:"body"`
		}{Body: def}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/workflows",
		Summary:     "List workflow definitions",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Phase     string `query:"phase"`
	}) (*struct {
		Body []domain.WorkflowDefinition `json:"body"`
	}, error) {
		items, err := e.Repo.ListWorkflowDefinitions(ctx, input.ProjectID, input.Phase)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkflowDefinition `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/workflows/{workflow_id}",
		Summary:     "Get workflow definition",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		WorkflowID string `path:"workflow_id"`
	}) (*struct {
		Body domain.WorkflowDefinition `json:"body"`
	}, error) {
		def, err := e.Repo.GetWorkflowDefinition(ctx, input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		if def.ProjectID != input.ProjectID {
			return nil, handleError(fmt.Errorf("workflow %s: %w", input.WorkflowID, repo.ErrNotFound))
		}
		return &struct {
			Body domain.WorkflowDefinition `json:"body"`
		}{Body: def}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "template-workflow",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/workflows/template",
		Summary:     "Build workflow from a template",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		Body      TemplateWorkflowRequest `json:"body"`
	}) (*struct {
		Body domain.WorkflowDefinition `json:"body"`
	}, error) {
		def, err := e.TemplateWorkflow(input.ProjectID, input.Body.Phase, input.Body.Kind, input.Body.Strategy)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowDefinition `json:"body"`
		}{Body: def}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "plan-workflow",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/workflows/plan",
		Summary:     "Enumerate and score workflow paths",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string                    `path:"project_id"`
		Body      domain.WorkflowDefinition `json:"body"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		def := input.Body
		def.ProjectID = input.ProjectID
		if def.WorkflowID == "" {
			def.WorkflowID = uuid.NewString()
		}
		plan, err := e.Plan(ctx, def)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: plan}, nil
	})
}

func registerApprovals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-approval",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/approvals",
		Summary:       "Request workflow approval",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string                    `path:"project_id"`
		Body      domain.WorkflowDefinition `json:"body"`
	}) (*struct {
		Body domain.WorkflowApprovalRequest `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		def := input.Body
		def.ProjectID = input.ProjectID
		req, err := e.RequestApproval(ctx, def, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowApprovalRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/approvals",
		Summary:     "List approval requests",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status" enum:"pending,approved,rejected"`
	}) (*struct {
		Body []domain.WorkflowApprovalRequest `json:"body"`
	}, error) {
		items, err := e.Repo.ListApprovalRequests(ctx, input.ProjectID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkflowApprovalRequest `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-approval",
		Method:      http.MethodGet,
		Path:        "/approvals/{request_id}",
		Summary:     "Get approval request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"request_id"`
	}) (*struct {
		Body domain.WorkflowApprovalRequest `json:"body"`
	}, error) {
		req, err := e.Repo.GetApprovalRequest(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowApprovalRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-workflow",
		Method:      http.MethodPost,
		Path:        "/approvals/{request_id}/approve",
		Summary:     "Approve a path",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		RequestID string         `path:"request_id"`
		Body      ApproveRequest `json:"body"`
	}) (*struct {
		Body ApprovalDecisionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, st, err := e.Approve(ctx, input.RequestID, input.Body.PathID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApprovalDecisionResponse `json:"body"`
		}{Body: ApprovalDecisionResponse{Request: req, Execution: st}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-workflow",
		Method:      http.MethodPost,
		Path:        "/approvals/{request_id}/reject",
		Summary:     "Reject a plan",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"request_id"`
	}) (*struct {
		Body domain.WorkflowApprovalRequest `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.Reject(ctx, input.RequestID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowApprovalRequest `json:"body"`
		}{Body: req}, nil
	})
}

func registerExecutions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-execution",
		Method:      http.MethodGet,
		Path:        "/executions/{execution_id}",
		Summary:     "Get execution state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ExecutionID string `path:"execution_id"`
	}) (*struct {
		Body domain.WorkflowExecutionState `json:"body"`
	}, error) {
		st, err := e.Repo.GetExecutionState(ctx, input.ExecutionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowExecutionState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execution-categories",
		Method:      http.MethodGet,
		Path:        "/executions/{execution_id}/categories",
		Summary:     "Categories the current node still owes",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ExecutionID string `path:"execution_id"`
		Covered     string `query:"covered" doc:"Comma-separated categories already covered"`
	}) (*struct {
		Body CategoriesResponse `json:"body"`
	}, error) {
		var covered []string
		if input.Covered != "" {
			for _, c := range strings.Split(input.Covered, ",") {
				if c = strings.TrimSpace(c); c != "" {
					covered = append(covered, c)
				}
			}
		}
		cats, err := e.RequiredCategories(ctx, input.ExecutionID, covered)
		if err != nil {
			return nil, handleError(err)
		}
		st, err := e.Repo.GetExecutionState(ctx, input.ExecutionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CategoriesResponse `json:"body"`
		}{Body: CategoriesResponse{NodeID: st.CurrentNodeID, Categories: cats}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-execution",
		Method:      http.MethodPost,
		Path:        "/executions/{execution_id}/advance",
		Summary:     "Advance to the next node",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ExecutionID string         `path:"execution_id"`
		Body        AdvanceRequest `json:"body"`
	}) (*struct {
		Body domain.WorkflowExecutionState `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.AdvanceExecution(ctx, input.ExecutionID, input.Body.TokensUsed, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowExecutionState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-execution",
		Method:      http.MethodPost,
		Path:        "/executions/{execution_id}/complete",
		Summary:     "Complete the execution",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ExecutionID string         `path:"execution_id"`
		Body        AdvanceRequest `json:"body"`
	}) (*struct {
		Body CompletionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, hist, err := e.CompleteExecution(ctx, input.ExecutionID, input.Body.TokensUsed, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompletionResponse `json:"body"`
		}{Body: CompletionResponse{Execution: st, History: hist}}, nil
	})
}

func registerHistory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-history",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/history",
		Summary:     "Completed workflow history",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.WorkflowHistoryEntry `json:"body"`
	}, error) {
		items, err := e.Repo.ListWorkflowHistory(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkflowHistoryEntry `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "Project event log",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit" minimum:"0" maximum:"1000"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit == 0 {
			limit = 50
		}
		items, err := e.Repo.ListEvents(ctx, limit, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		plaintext := uuid.NewString()
		key := domain.APIKey{
			ID:      uuid.NewString(),
			ActorID: input.Body.ActorID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(plaintext),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Repo.GetAPIKeyByHash(ctx, key.KeyHash)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: apiKeyResponse(stored, plaintext)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: mapAPIKeys(keys)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/keys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
