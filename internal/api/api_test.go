package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/synapse-grid/synapse/internal/domain"
	"github.com/synapse-grid/synapse/internal/orchestrator"
)

// newTestServer starts an orchestrator with a fast tick loop so buffered
// submissions and outcome reports resolve promptly.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := orchestrator.DefaultConfig()
	cfg.TickInterval = 2 * time.Millisecond
	orch := orchestrator.New(cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go orch.Run(ctx)

	srv := NewServer(orch)
	srv.SetVersion("test")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return ts
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestAPI_RegisterAndGetModule(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, "POST", ts.URL+"/api/modules", registerRequest{
		ID:           "m1",
		Capabilities: []string{"research", "summarize"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	var m domain.Module
	decode(t, resp, &m)
	if m.ID != "m1" || m.Status != domain.ModuleRegistered {
		t.Errorf("module = %+v", m)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/modules/m1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get module status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "GET", ts.URL+"/api/modules/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get unknown module status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPI_RegisterValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, "POST", ts.URL+"/api/modules", registerRequest{Capabilities: []string{"x"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("register without id status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	// Same id with different capabilities conflicts.
	doJSON(t, "POST", ts.URL+"/api/modules", registerRequest{ID: "m1", Capabilities: []string{"a"}}).Body.Close()
	resp = doJSON(t, "POST", ts.URL+"/api/modules", registerRequest{ID: "m1", Capabilities: []string{"b"}})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPI_TaskLifecycle(t *testing.T) {
	ts := newTestServer(t)
	doJSON(t, "POST", ts.URL+"/api/modules", registerRequest{ID: "m1", Capabilities: []string{"research"}}).Body.Close()

	resp := doJSON(t, "POST", ts.URL+"/api/tasks", submitRequest{
		ID:           "t1",
		RequiredCaps: []string{"research"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d, want 201", resp.StatusCode)
	}
	var task domain.Task
	decode(t, resp, &task)
	if task.Priority != domain.PMedium {
		t.Errorf("default priority = %d, want medium", task.Priority)
	}

	// The tick loop assigns it shortly after.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp = doJSON(t, "GET", ts.URL+"/api/tasks/t1", nil)
		decode(t, resp, &task)
		if task.Status == domain.TaskAssigned {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never assigned: %+v", task)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if task.AssignedTo != "m1" {
		t.Fatalf("assigned to %q, want m1", task.AssignedTo)
	}

	// The module polls its assignments.
	resp = doJSON(t, "GET", ts.URL+"/api/modules/m1/assignments", nil)
	var polled struct {
		Assignments []domain.Task `json:"assignments"`
	}
	decode(t, resp, &polled)
	if len(polled.Assignments) != 1 || polled.Assignments[0].ID != "t1" {
		t.Errorf("assignments = %v, want [t1]", polled.Assignments)
	}

	// Report a successful outcome.
	resp = doJSON(t, "POST", ts.URL+"/api/tasks/t1/outcome", outcomeRequest{
		ModuleID:          "m1",
		Success:           true,
		CompletionSeconds: 3,
		Confidence:        0.9,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("outcome status = %d, want 200", resp.StatusCode)
	}
	decode(t, resp, &task)
	if task.Status != domain.TaskCompleted {
		t.Errorf("task status = %s, want COMPLETED", task.Status)
	}

	// Duplicate report is rejected.
	resp = doJSON(t, "POST", ts.URL+"/api/tasks/t1/outcome", outcomeRequest{ModuleID: "m1", Success: true})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("duplicate outcome status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	// Performance is now queryable.
	resp = doJSON(t, "GET", ts.URL+"/api/modules/m1/performance", nil)
	var rec domain.PerformanceRecord
	decode(t, resp, &rec)
	if rec.Observations != 1 || rec.SuccessRate <= domain.NeutralScore {
		t.Errorf("record = %+v", rec)
	}
}

func TestAPI_SubmitValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, "POST", ts.URL+"/api/tasks", submitRequest{ID: "t1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("submit without caps status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPI_CancelTask(t *testing.T) {
	ts := newTestServer(t)

	// No module provides the capability, so the task stays Pending.
	resp := doJSON(t, "POST", ts.URL+"/api/tasks", submitRequest{ID: "t1", RequiredCaps: []string{"quantum"}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "DELETE", ts.URL+"/api/tasks/t1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", resp.StatusCode)
	}
	var task domain.Task
	decode(t, resp, &task)
	if task.Status != domain.TaskCancelled {
		t.Errorf("task status = %s, want CANCELLED", task.Status)
	}

	resp = doJSON(t, "DELETE", ts.URL+"/api/tasks/t1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cancel cancelled task status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPI_HeartbeatAndReset(t *testing.T) {
	ts := newTestServer(t)
	doJSON(t, "POST", ts.URL+"/api/modules", registerRequest{ID: "m1", Capabilities: []string{"research"}}).Body.Close()

	// Heartbeat without a body.
	req, _ := http.NewRequest("POST", ts.URL+"/api/modules/m1/heartbeat", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("heartbeat status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	// Heartbeat with the evolving flag.
	resp = doJSON(t, "POST", ts.URL+"/api/modules/m1/heartbeat", heartbeatRequest{Evolving: true})
	var m domain.Module
	decode(t, resp, &m)
	if m.Status != domain.ModuleEvolving {
		t.Errorf("module status = %s, want EVOLVING", m.Status)
	}

	resp = doJSON(t, "POST", ts.URL+"/api/modules/ghost/heartbeat", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("heartbeat unknown module status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "POST", ts.URL+"/api/modules/m1/reset", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("reset status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPI_StatusAndVersion(t *testing.T) {
	ts := newTestServer(t)
	doJSON(t, "POST", ts.URL+"/api/modules", registerRequest{ID: "m1", Capabilities: []string{"research"}}).Body.Close()

	resp := doJSON(t, "GET", ts.URL+"/api/status", nil)
	var stats orchestrator.Stats
	decode(t, resp, &stats)
	total := 0
	for _, n := range stats.Modules {
		total += n
	}
	if total != 1 {
		t.Errorf("status modules = %v, want 1 total", stats.Modules)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/version", nil)
	var ver map[string]string
	decode(t, resp, &ver)
	if ver["version"] != "test" {
		t.Errorf("version = %q, want test", ver["version"])
	}
}

func TestAPI_HealthWithoutChecker(t *testing.T) {
	ts := newTestServer(t)
	resp := doJSON(t, "GET", ts.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	// Metrics endpoint is not mounted unless enabled.
	resp = doJSON(t, "GET", ts.URL+"/metrics", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("metrics status = %d, want 404 when disabled", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPI_ListTasksFilter(t *testing.T) {
	ts := newTestServer(t)
	doJSON(t, "POST", ts.URL+"/api/tasks", submitRequest{ID: "t1", RequiredCaps: []string{"a"}}).Body.Close()
	doJSON(t, "POST", ts.URL+"/api/tasks", submitRequest{ID: "t2", RequiredCaps: []string{"b"}}).Body.Close()

	resp := doJSON(t, "GET", ts.URL+"/api/tasks?status=PENDING", nil)
	var listed struct {
		Tasks []domain.Task `json:"tasks"`
	}
	decode(t, resp, &listed)
	if len(listed.Tasks) != 2 {
		t.Errorf("pending tasks = %d, want 2", len(listed.Tasks))
	}

	resp = doJSON(t, "GET", ts.URL+"/api/tasks?status=COMPLETED", nil)
	listed.Tasks = nil
	decode(t, resp, &listed)
	if len(listed.Tasks) != 0 {
		t.Errorf("completed tasks = %v, want none", listed.Tasks)
	}
}
