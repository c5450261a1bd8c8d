package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"specline/internal/config"
	"specline/internal/db"
	"specline/internal/domain"
	"specline/internal/engine"
	"specline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("specline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitProject(context.Background(), cfg.Project.ID, "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func diamondBody() map[string]any {
	return map[string]any{
		"workflow_id":   "wf-discovery",
		"phase":         "discovery",
		"entry_node_id": "start",
		"exit_node_ids": []string{"end"},
		"strategy":      "minimize_cost",
		"nodes": []map[string]any{
			{"id": "start", "type": "phase_start", "estimated_tokens": 0},
			{"id": "basic_questions", "type": "question_set", "estimated_tokens": 7000,
				"target_categories": []string{"goals", "users"}, "difficulty": 0.3},
			{"id": "comprehensive_questions", "type": "question_set", "estimated_tokens": 11000,
				"target_categories": []string{"goals", "users", "problem", "scope", "constraints", "success_criteria"}, "difficulty": 0.6},
			{"id": "analysis", "type": "analysis", "estimated_tokens": 5000},
			{"id": "end", "type": "phase_end", "estimated_tokens": 0},
		},
		"edges": []map[string]any{
			{"from_node": "start", "to_node": "basic_questions"},
			{"from_node": "start", "to_node": "comprehensive_questions"},
			{"from_node": "basic_questions", "to_node": "analysis"},
			{"from_node": "comprehensive_questions", "to_node": "analysis"},
			{"from_node": "analysis", "to_node": "end"},
		},
	}
}

func TestSpecificationAndMaturityOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/specline/specs", map[string]any{
		"phase":      "discovery",
		"category":   "goals",
		"content":    "Replace the spreadsheet-driven reconciliation flow",
		"confidence": 0.85,
		"value":      2.0,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add spec status %d: %s", res.StatusCode, string(data))
	}
	var created SpecificationResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Specification.ID == "" {
		t.Fatal("spec id missing")
	}
	if created.Maturity.CategoryScores["goals"].CurrentScore != 1.7 {
		t.Fatalf("goals score = %v, want 1.7", created.Maturity.CategoryScores["goals"].CurrentScore)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/specline/maturity/discovery", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("phase maturity status %d: %s", res.StatusCode, string(data))
	}
	var m domain.PhaseMaturity
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal maturity: %v", err)
	}
	if len(m.MissingCategories) != 5 {
		t.Fatalf("missing = %v, want 5 entries", m.MissingCategories)
	}

	// out-of-range confidence is a bad request
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/specline/specs", map[string]any{
		"phase": "discovery", "category": "goals", "content": "x", "confidence": 0.9, "value": 1,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("second spec status %d: %s", res.StatusCode, string(data))
	}
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/specline/approvals", diamondBody(), nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("request approval status %d: %s", res.StatusCode, string(data))
	}
	var req domain.WorkflowApprovalRequest
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if req.Status != domain.ApprovalPending || len(req.AllPaths) != 2 {
		t.Fatalf("request = %+v", req)
	}
	if req.RecommendedPathID != "path-1" {
		t.Fatalf("recommended = %s, want path-1", req.RecommendedPathID)
	}

	// occupied slot maps to 409
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/specline/approvals", diamondBody(), nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second request status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/approvals/"+req.RequestID+"/approve",
		map[string]any{"path_id": "path-2"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	var decision ApprovalDecisionResponse
	if err := json.Unmarshal(data, &decision); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if decision.Execution.CurrentNodeID != "comprehensive_questions" {
		t.Fatalf("execution = %+v", decision.Execution)
	}
	execID := decision.Execution.ExecutionID

	res, data = doJSON(t, client, http.MethodGet,
		srv.URL+"/v0/executions/"+execID+"/categories?covered=goals,users", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("categories status %d: %s", res.StatusCode, string(data))
	}
	var cats CategoriesResponse
	if err := json.Unmarshal(data, &cats); err != nil {
		t.Fatalf("unmarshal categories: %v", err)
	}
	if len(cats.Categories) != 4 {
		t.Fatalf("categories = %v, want 4 remaining", cats.Categories)
	}

	for _, tokens := range []int{11800, 4600} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/executions/"+execID+"/advance",
			map[string]any{"tokens_used": tokens}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("advance status %d: %s", res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/executions/"+execID+"/complete",
		map[string]any{}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	var done CompletionResponse
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("unmarshal completion: %v", err)
	}
	if done.History.EstimatedTokens != 16000 || done.History.ActualTokens != 16400 {
		t.Fatalf("history = %+v", done.History)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/specline/history", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(data))
	}
	var entries []domain.WorkflowHistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
}

func TestErrorEnvelopes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// dangling edge makes the graph invalid
	body := diamondBody()
	body["edges"] = append(body["edges"].([]map[string]any), map[string]any{"from_node": "analysis", "to_node": "ghost"})
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/specline/workflows/plan", body, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("invalid graph status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("code = %s, want validation_failed", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/approvals/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing approval status %d: %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/keys",
		map[string]any{"actor_id": "bot-1", "name": "ci"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if key.Key == "" {
		t.Fatal("plaintext key not returned on creation")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/specline", nil,
		map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authed request status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/specline", nil,
		map[string]string{"X-Api-Key": "bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus key status %d: %s", res.StatusCode, string(data))
	}
}
