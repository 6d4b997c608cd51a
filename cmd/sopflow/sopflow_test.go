package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/incidentops/sopflow/pkg/config"
	"github.com/incidentops/sopflow/pkg/workflow"
)

// captureStdout redirects command output into a buffer for the test.
func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func withServer(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	prev := serverURL
	serverURL = srv.URL
	t.Cleanup(func() { serverURL = prev })
}

func withOutput(t *testing.T, format string) {
	t.Helper()
	prev := outputFmt
	outputFmt = format
	t.Cleanup(func() { outputFmt = prev })
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		max   int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long string", 10, "this is..."},
		{"abc", 3, "abc"},
		{"abcd", 3, "abc"},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
		}
	}
}

func TestQueryPath(t *testing.T) {
	if got := queryPath("/api/workflows/3", map[string]string{"mode": ""}); got != "/api/workflows/3" {
		t.Errorf("empty params: got %q", got)
	}
	if got := queryPath("/api/workflows/3", map[string]string{"mode": "replace"}); got != "/api/workflows/3?mode=replace" {
		t.Errorf("got %q", got)
	}
}

func TestClientErrorHandling(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"Workflow name already exists"}`)
	})

	err := newClient().postJSON("/api/workflows", map[string]string{}, nil)
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected apiError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", apiErr.Status)
	}
	if apiErr.Message != "Workflow name already exists" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestClientPlainTextError(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	})

	err := newClient().getJSON("/healthz", nil)
	if err == nil || !strings.Contains(err.Error(), "502: gateway down") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWorkflowsListHTTP(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/workflows/details" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"workflow_id":7,"workflow_name":"Fire Drill","incident_type":"Fire","created_at":"2026-01-02T03:04:05Z"}]`)
	})
	withOutput(t, "table")
	out := captureStdout(t)

	if err := runWorkflowsList(workflowsCmd, nil); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out.String(), "INCIDENT TYPE") {
		t.Errorf("missing header in %q", out.String())
	}
	if !strings.Contains(out.String(), "Fire Drill") {
		t.Errorf("missing row in %q", out.String())
	}
}

func TestWorkflowsLookupJSON(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if r.Method != http.MethodPost || body["workflow_name"] != "Fire Drill" {
			t.Errorf("unexpected request %s %v", r.Method, body)
		}
		io.WriteString(w, `{"workflow_id":7}`)
	})
	withOutput(t, "json")
	out := captureStdout(t)

	if err := runWorkflowsLookup(workflowsCmd, []string{"Fire Drill"}); err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !strings.Contains(out.String(), `"workflow_id": 7`) {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestHealthHTTP(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			io.WriteString(w, `{"status":"alive","uptime":"5s"}`)
		case "/readyz":
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"status":"not_ready","database":{"status":"up"},"incident_log":{"status":"down"}}`)
		}
	})
	withOutput(t, "table")
	out := captureStdout(t)

	if err := runHealth(healthCmd, nil); err != nil {
		t.Fatalf("health failed: %v", err)
	}
	if !strings.Contains(out.String(), "alive") || !strings.Contains(out.String(), "not_ready") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestReadWorkflowSpecYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fire.yaml")
	doc := `workflow_name: Fire Drill
incident_type: Fire
questions:
  - question_text: Is the alarm sounding?
    question_type: MultipleChoice
    options:
      - option_text: "Yes"
        next_question_id: 2
      - option_text: "No"
        next_question_id: 3
  - question_text: Evacuate the floor
    question_type: Instruction
  - question_text: Describe what you see
    question_type: Subjective
    is_required: false
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	spec, err := readWorkflowSpec(path)
	if err != nil {
		t.Fatalf("readWorkflowSpec: %v", err)
	}
	if spec.Name != "Fire Drill" || len(spec.Questions) != 3 {
		t.Fatalf("unexpected spec %+v", spec)
	}
	q := spec.Questions[0]
	if q.Type != workflow.MultipleChoice || len(q.Options) != 2 {
		t.Fatalf("unexpected first question %+v", q)
	}
	if q.Options[1].Next == nil || *q.Options[1].Next != 3 {
		t.Errorf("option branch not decoded: %+v", q.Options[1])
	}
	if spec.Questions[2].IsRequired() {
		t.Errorf("is_required: false was not honored")
	}
}

func TestAppServesWorkflows(t *testing.T) {
	vp := config.New()
	vp.Set("database.dsn", "file:app_wf?mode=memory&cache=shared")
	vp.Set("incident_log.database.dsn", "file:app_inc?mode=memory&cache=shared")
	vp.Set("incident_log.database.auto_migrate", true)
	vp.Set("log.level", "error")
	cfg, err := config.Decode(vp)
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}

	level := new(slog.LevelVar)
	a, err := newApp(context.Background(), cfg, newLogger(cfg.Log, level))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/readyz = %d", resp.StatusCode)
	}

	prev := serverURL
	serverURL = srv.URL
	t.Cleanup(func() { serverURL = prev })

	var created struct {
		WorkflowID int64 `json:"workflow_id"`
	}
	body := map[string]any{
		"workflow_name": "Fire Drill",
		"incident_type": "Fire",
		"questions": []map[string]any{
			{"question_text": "Describe the scene", "question_type": "Subjective"},
		},
	}
	if err := newClient().postJSON("/api/workflows", body, &created); err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.WorkflowID == 0 {
		t.Fatal("no workflow id returned")
	}

	var summaries []workflow.Summary
	if err := newClient().getJSON("/api/workflows/details", &summaries); err != nil {
		t.Fatalf("details: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Name != "Fire Drill" {
		t.Fatalf("unexpected summaries %+v", summaries)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(raw), "open_sessions") {
		t.Errorf("metrics missing open_sessions gauge")
	}
}
