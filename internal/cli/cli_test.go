package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeAPI — минимальный сервер, записывающий запросы.
type fakeAPI struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []map[string]any
	respond  func(w http.ResponseWriter, r *http.Request)
}

func newFakeAPI(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) (*fakeAPI, *httptest.Server) {
	api := &fakeAPI{respond: respond}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			if err := json.Unmarshal(data, &body); err != nil {
				t.Errorf("request body: %v", err)
			}
		}
		api.mu.Lock()
		api.requests = append(api.requests, r)
		api.bodies = append(api.bodies, body)
		api.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		api.respond(w, r)
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func (a *fakeAPI) request(i int) (*http.Request, map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[i], a.bodies[i]
}

func (a *fakeAPI) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

func execute(t *testing.T, apiURL string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCmd("test")
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--api-url", apiURL}, args...))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// --- Run Command Tests ---

func TestRunDispatch_WithMatrix(t *testing.T) {
	matrix := filepath.Join(t.TempDir(), "matrix.yaml")
	if err := os.WriteFile(matrix, []byte(`
- python: "3.11.4"
  runner: ubuntu-22.04
  timeout: 30
  coverage: true
`), 0o644); err != nil {
		t.Fatal(err)
	}

	api, srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"data":{"id":"r-1","name":"release-v1.0.0-r1","category":"RELEASE","git_ref":"v1.0.0","push_to_index":true,"status":"PENDING"}}`)
	})

	stdout, stderr, err := execute(t, srv.URL, "run", "dispatch",
		"--category", "RELEASE", "--git-ref", "v1.0.0", "--push", "--matrix", matrix)
	if err != nil {
		t.Fatal(err)
	}

	req, body := api.request(0)
	if req.Method != http.MethodPost || req.URL.Path != "/api/v1/runs" {
		t.Errorf("request = %s %s", req.Method, req.URL.Path)
	}
	if body["category"] != "RELEASE" || body["git_ref"] != "v1.0.0" || body["push_to_index"] != true {
		t.Errorf("body = %v", body)
	}
	configs, _ := body["test_configs"].([]any)
	if len(configs) != 1 {
		t.Fatalf("test_configs = %v", body["test_configs"])
	}
	if cfg := configs[0].(map[string]any); cfg["python"] != "3.11.4" || cfg["coverage"] != true {
		t.Errorf("config = %v", cfg)
	}

	if !strings.Contains(stderr, "Run dispatched: r-1") {
		t.Errorf("stderr = %q", stderr)
	}
	if !strings.Contains(stdout, "release-v1.0.0-r1") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRunDispatch_BadMatrix(t *testing.T) {
	matrix := filepath.Join(t.TempDir(), "matrix.yaml")
	os.WriteFile(matrix, []byte("[]"), 0o644)

	api, srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {})

	if _, _, err := execute(t, srv.URL, "run", "dispatch", "--matrix", matrix); err == nil {
		t.Fatal("expected error for empty matrix")
	}
	if api.count() != 0 {
		t.Error("no request should be sent for an invalid matrix")
	}
}

func TestRunList_JSON(t *testing.T) {
	api, srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[{"id":"r-1","status":"FAILED"},{"id":"r-2","status":"FAILED"}],"total":2}`)
	})

	stdout, _, err := execute(t, srv.URL, "--json", "run", "list", "--status", "FAILED", "--limit", "5")
	if err != nil {
		t.Fatal(err)
	}

	req, _ := api.request(0)
	q := req.URL.Query()
	if q.Get("status") != "FAILED" || q.Get("limit") != "5" {
		t.Errorf("query = %v", q)
	}

	var runs []RunResponse
	if err := json.Unmarshal([]byte(stdout), &runs); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, stdout)
	}
	if len(runs) != 2 {
		t.Errorf("runs = %d", len(runs))
	}
}

func TestRunStages(t *testing.T) {
	_, srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[
			{"node_id":"build","kind":"build","status":"SUCCEEDED"},
			{"node_id":"test.0","kind":"test","status":"FAILED","test":{"python":"3.12.6"},"error":"exit 1"}
		],"total":2}`)
	})

	stdout, _, err := execute(t, srv.URL, "run", "stages", "r-1")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"NODE", "test.0", "3.12.6", "exit 1"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestRunShow_APIError(t *testing.T) {
	_, srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"code":"NOT_FOUND","message":"run not found"}}`)
	})

	_, _, err := execute(t, srv.URL, "run", "show", "missing")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "NOT_FOUND" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

// --- Schedule Command Tests ---

func TestScheduleCreate(t *testing.T) {
	api, srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"data":{"id":"s-1","name":"nightly","cron_expr":"0 2 * * *","timezone":"Europe/Moscow","enabled":true}}`)
	})

	stdout, _, err := execute(t, srv.URL, "schedule", "create",
		"--name", "nightly", "--cron", "0 2 * * *", "--timezone", "Europe/Moscow")
	if err != nil {
		t.Fatal(err)
	}

	_, body := api.request(0)
	if body["name"] != "nightly" || body["cron_expr"] != "0 2 * * *" || body["enabled"] != true {
		t.Errorf("body = %v", body)
	}
	if !strings.Contains(stdout, "0 2 * * *") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestScheduleCreate_ExclusiveCadence(t *testing.T) {
	api, srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {})

	_, _, err := execute(t, srv.URL, "schedule", "create", "--name", "x", "--cron", "@daily", "--interval", "60")
	if err == nil {
		t.Fatal("expected error for --cron with --interval")
	}
	if api.count() != 0 {
		t.Error("no request should be sent")
	}
}

func TestScheduleUpdate_IntervalClearsCron(t *testing.T) {
	api, srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{"id":"s-1","interval_sec":3600}}`)
	})

	if _, _, err := execute(t, srv.URL, "schedule", "update", "s-1", "--interval", "3600"); err != nil {
		t.Fatal(err)
	}

	_, body := api.request(0)
	if body["interval_sec"] != float64(3600) || body["cron_expr"] != "" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["name"]; ok {
		t.Error("unchanged fields must not be sent")
	}
}

func TestScheduleToggleAndDelete(t *testing.T) {
	api, srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		io.WriteString(w, `{"data":{"id":"s-1","enabled":false}}`)
	})

	if _, stderr, err := execute(t, srv.URL, "schedule", "disable", "s-1"); err != nil || !strings.Contains(stderr, "disabled") {
		t.Fatalf("disable: err=%v stderr=%q", err, stderr)
	}
	req, body := api.request(0)
	if req.URL.Path != "/api/v1/schedules/s-1/enabled" || body["enabled"] != false {
		t.Errorf("disable request = %s %v", req.URL.Path, body)
	}

	if _, _, err := execute(t, srv.URL, "schedule", "delete", "s-1"); err != nil {
		t.Fatal(err)
	}
	if req, _ := api.request(1); req.Method != http.MethodDelete {
		t.Errorf("method = %s", req.Method)
	}
}
