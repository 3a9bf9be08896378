package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/dispatch"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// --- Fakes ---

type fakeRuns struct {
	runs map[uuid.UUID]*domain.Run
	err  error
}

func (f *fakeRuns) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	run, ok := f.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return run, nil
}

func (f *fakeRuns) List(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Run
	for _, r := range f.runs {
		if filter.Category != nil && r.Category != *filter.Category {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

type fakeStages struct {
	stages []domain.Stage
}

func (f *fakeStages) ListByRunID(_ context.Context, runID uuid.UUID) ([]domain.Stage, error) {
	var out []domain.Stage
	for _, s := range f.stages {
		if s.RunID == runID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeSchedules struct {
	mu    sync.Mutex
	items map[uuid.UUID]domain.Schedule
}

func newFakeSchedules() *fakeSchedules {
	return &fakeSchedules{items: make(map[uuid.UUID]domain.Schedule)}
}

func (f *fakeSchedules) Create(_ context.Context, s *domain.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[s.ID] = *s
	return nil
}

func (f *fakeSchedules) GetByID(_ context.Context, id uuid.UUID) (*domain.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &s, nil
}

func (f *fakeSchedules) List(_ context.Context, _ repo.ScheduleFilter) ([]domain.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Schedule
	for _, s := range f.items {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSchedules) Update(_ context.Context, s *domain.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[s.ID]; !ok {
		return repo.ErrNotFound
	}
	f.items[s.ID] = *s
	return nil
}

func (f *fakeSchedules) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return repo.ErrNotFound
	}
	delete(f.items, id)
	return nil
}

type fakeDispatcher struct {
	triggers []dispatch.Trigger
	byKey    map[string]*domain.Run
}

func (f *fakeDispatcher) Dispatch(_ context.Context, t dispatch.Trigger) (*domain.Run, bool, error) {
	t, err := dispatch.Normalize(t)
	if err != nil {
		return nil, false, err
	}
	f.triggers = append(f.triggers, t)
	if len(t.TestConfigs) == 0 {
		return nil, false, fmt.Errorf("%w: test matrix is empty", dispatch.ErrInvalidTrigger)
	}
	if run, ok := f.byKey[t.IdempotencyKey]; ok && t.IdempotencyKey != "" {
		return run, false, nil
	}
	run := domain.NewRun(t.Category, t.Kind, t.GitRef, t.PushToIndex, t.TestConfigs)
	run.IdempotencyKey = t.IdempotencyKey
	if f.byKey == nil {
		f.byKey = make(map[string]*domain.Run)
	}
	f.byKey[t.IdempotencyKey] = run
	return run, true, nil
}

type testServer struct {
	mux        *http.ServeMux
	runs       *fakeRuns
	stages     *fakeStages
	schedules  *fakeSchedules
	dispatcher *fakeDispatcher
}

func newTestServer() *testServer {
	ts := &testServer{
		mux:        http.NewServeMux(),
		runs:       &fakeRuns{runs: make(map[uuid.UUID]*domain.Run)},
		stages:     &fakeStages{},
		schedules:  newFakeSchedules(),
		dispatcher: &fakeDispatcher{},
	}
	NewHandler(Config{
		Runs:       ts.runs,
		Stages:     ts.stages,
		Schedules:  ts.schedules,
		Dispatcher: ts.dispatcher,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}).RegisterRoutes(ts.mux)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Data
}

// --- Run Tests ---

func TestCreateRun_NightlyDefaults(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPost, "/api/v1/runs", map[string]any{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	run := decodeData[RunResponse](t, rec)
	if run.Category != "NIGHTLY" || run.GitRef != "main" || run.Trigger != "MANUAL" {
		t.Errorf("run = %+v", run)
	}
	if len(run.TestConfigs) != len(dispatch.NightlyTestConfigs()) {
		t.Errorf("test configs = %d", len(run.TestConfigs))
	}
}

func TestCreateRun_ReleaseWithMatrix(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{
		Category:    "release",
		GitRef:      "v1.4.0",
		PushToIndex: true,
		TestConfigs: []domain.TestConfig{{Python: "3.11", Runner: "ubuntu-22.04", TimeoutMin: 30}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	run := decodeData[RunResponse](t, rec)
	if run.Category != "RELEASE" || !run.PushToIndex || len(run.TestConfigs) != 1 {
		t.Errorf("run = %+v", run)
	}
}

func TestCreateRun_Idempotent(t *testing.T) {
	ts := newTestServer()
	body := CreateRunRequest{IdempotencyKey: "nightly-2026-03-10"}

	first := ts.do(t, http.MethodPost, "/api/v1/runs", body)
	second := ts.do(t, http.MethodPost, "/api/v1/runs", body)

	if first.Code != http.StatusCreated || second.Code != http.StatusOK {
		t.Fatalf("codes = %d, %d", first.Code, second.Code)
	}
	if decodeData[RunResponse](t, first).ID != decodeData[RunResponse](t, second).ID {
		t.Error("repeated key should return the same run")
	}
}

func TestCreateRun_Invalid(t *testing.T) {
	ts := newTestServer()

	tests := []struct {
		name string
		body any
	}{
		{"unknown category", map[string]any{"category": "WEEKLY"}},
		{"release without matrix", map[string]any{"category": "RELEASE"}},
		{"unknown field", map[string]any{"flow_id": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/runs", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestGetRun(t *testing.T) {
	ts := newTestServer()
	run := domain.NewRun(domain.CategoryNightly, domain.TriggerSchedule, "main", false, dispatch.NightlyTestConfigs())
	ts.runs.runs[run.ID] = run

	rec := ts.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeData[RunResponse](t, rec); got.Name != run.Name() {
		t.Errorf("name = %q, want %q", got.Name, run.Name())
	}

	if rec := ts.do(t, http.MethodGet, "/api/v1/runs/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing run: status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/v1/runs/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d", rec.Code)
	}
}

func TestListRuns_Filters(t *testing.T) {
	ts := newTestServer()
	nightly := domain.NewRun(domain.CategoryNightly, domain.TriggerSchedule, "main", false, dispatch.NightlyTestConfigs())
	release := domain.NewRun(domain.CategoryRelease, domain.TriggerManual, "v1.0.0", true, dispatch.NightlyTestConfigs())
	ts.runs.runs[nightly.ID] = nightly
	ts.runs.runs[release.ID] = release

	rec := ts.do(t, http.MethodGet, "/api/v1/runs?category=release", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	runs := decodeData[[]RunResponse](t, rec)
	if len(runs) != 1 || runs[0].ID != release.ID {
		t.Errorf("runs = %+v", runs)
	}

	if rec := ts.do(t, http.MethodGet, "/api/v1/runs?limit=-1", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit: status = %d", rec.Code)
	}
}

func TestListRuns_StoreError(t *testing.T) {
	ts := newTestServer()
	ts.runs.err = errors.New("connection refused")

	if rec := ts.do(t, http.MethodGet, "/api/v1/runs", nil); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestListRunStages(t *testing.T) {
	ts := newTestServer()
	run := domain.NewRun(domain.CategoryNightly, domain.TriggerManual, "main", false, dispatch.NightlyTestConfigs())
	ts.runs.runs[run.ID] = run

	build := domain.NewStage(run.ID, "build", domain.StageBuild, domain.StageInput{RunID: run.ID})
	build.MarkRunning()
	build.MarkSucceeded(&domain.StageOutput{ArtifactID: "runs/x/dist/pkg.whl"})
	ts.stages.stages = []domain.Stage{*build}

	rec := ts.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String()+"/stages", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	stages := decodeData[[]StageResponse](t, rec)
	if len(stages) != 1 || stages[0].Status != "SUCCEEDED" || stages[0].Output.ArtifactID == "" {
		t.Errorf("stages = %+v", stages)
	}
}

// --- Schedule Tests ---

func TestScheduleLifecycle(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPost, "/api/v1/schedules", CreateScheduleRequest{
		Name:     "nightly",
		CronExpr: "0 2 * * *",
		Timezone: "Europe/Moscow",
		Enabled:  true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body)
	}
	created := decodeData[ScheduleResponse](t, rec)
	if created.Category != "NIGHTLY" || created.GitRef != "main" || created.NextDueAt == nil {
		t.Errorf("created = %+v", created)
	}

	path := "/api/v1/schedules/" + created.ID.String()

	interval := 3600
	empty := ""
	rec = ts.do(t, http.MethodPut, path, UpdateScheduleRequest{CronExpr: &empty, IntervalSec: &interval})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := decodeData[ScheduleResponse](t, rec); got.IntervalSec != 3600 || got.CronExpr != "" {
		t.Errorf("updated = %+v", got)
	}

	rec = ts.do(t, http.MethodPut, path+"/enabled", SetEnabledRequest{Enabled: false})
	if rec.Code != http.StatusOK {
		t.Fatalf("disable: status = %d", rec.Code)
	}
	if decodeData[ScheduleResponse](t, rec).Enabled {
		t.Error("schedule should be disabled")
	}

	if rec := ts.do(t, http.MethodDelete, path, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, path, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d", rec.Code)
	}
}

func TestCreateSchedule_Invalid(t *testing.T) {
	ts := newTestServer()

	tests := []struct {
		name string
		req  CreateScheduleRequest
	}{
		{"missing name", CreateScheduleRequest{CronExpr: "@daily"}},
		{"no cadence", CreateScheduleRequest{Name: "x"}},
		{"bad cron", CreateScheduleRequest{Name: "x", CronExpr: "every night"}},
		{"short interval", CreateScheduleRequest{Name: "x", IntervalSec: 5}},
		{"bad timezone", CreateScheduleRequest{Name: "x", CronExpr: "@daily", Timezone: "Moon/Base"}},
		{"bad git ref", CreateScheduleRequest{Name: "x", CronExpr: "@daily", GitRef: "--upload-pack=evil"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/schedules", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
			}
		})
	}
	if len(ts.schedules.items) != 0 {
		t.Error("invalid schedules must not be stored")
	}
}

// --- Middleware Tests ---

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Chain(Recovery(logger), Logging(logger))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("request id header should be set")
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer()
	if rec := ts.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
