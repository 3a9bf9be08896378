package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// --- Fakes ---

type fakeRuns struct {
	mu   sync.Mutex
	runs map[uuid.UUID]domain.Run
}

func newFakeRuns(runs ...*domain.Run) *fakeRuns {
	f := &fakeRuns{runs: make(map[uuid.UUID]domain.Run)}
	for _, r := range runs {
		f.runs[r.ID] = *r
	}
	return f
}

func (f *fakeRuns) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &r, nil
}

func (f *fakeRuns) Update(_ context.Context, run *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[run.ID]; !ok {
		return repo.ErrNotFound
	}
	f.runs[run.ID] = *run
	return nil
}

func (f *fakeRuns) list(status domain.RunStatus) []domain.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Run
	for _, r := range f.runs {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeRuns) ListPending(_ context.Context, _ int) ([]domain.Run, error) {
	return f.list(domain.RunStatusPending), nil
}

func (f *fakeRuns) ListRunning(_ context.Context, _ int) ([]domain.Run, error) {
	return f.list(domain.RunStatusRunning), nil
}

type fakeStages struct {
	mu        sync.Mutex
	stages    map[uuid.UUID]domain.Stage
	createErr error
}

func newFakeStages() *fakeStages {
	return &fakeStages{stages: make(map[uuid.UUID]domain.Stage)}
}

func (f *fakeStages) Create(_ context.Context, stage *domain.Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, s := range f.stages {
		if s.RunID == stage.RunID && s.NodeID == stage.NodeID {
			return repo.ErrAlreadyExists
		}
	}
	f.stages[stage.ID] = *stage
	return nil
}

func (f *fakeStages) GetByID(_ context.Context, id uuid.UUID) (*domain.Stage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stages[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &s, nil
}

func (f *fakeStages) ListByRunID(_ context.Context, runID uuid.UUID) ([]domain.Stage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Stage
	for _, s := range f.stages {
		if s.RunID == runID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStages) GetByNode(_ context.Context, runID uuid.UUID, nodeID string) (*domain.Stage, error) {
	s, ok := f.byNode(runID, nodeID)
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &s, nil
}

func (f *fakeStages) byNode(runID uuid.UUID, nodeID string) (domain.Stage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.stages {
		if s.RunID == runID && s.NodeID == nodeID {
			return s, true
		}
	}
	return domain.Stage{}, false
}

func (f *fakeStages) save(s domain.Stage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages[s.ID] = s
}

type fakePublisher struct {
	mu    sync.Mutex
	ready []mq.StageReadyPayload
	err   error
}

func (f *fakePublisher) PublishStageReady(_ context.Context, p mq.StageReadyPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = append(f.ready, p)
	return f.err
}

func (f *fakePublisher) nodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.ready))
	for i, p := range f.ready {
		ids[i] = p.NodeID
	}
	return ids
}

type harness struct {
	orch   *Orchestrator
	runs   *fakeRuns
	stages *fakeStages
	pub    *fakePublisher
	run    *domain.Run
}

func newHarness(t *testing.T, run *domain.Run) *harness {
	t.Helper()
	h := &harness{
		runs:   newFakeRuns(run),
		stages: newFakeStages(),
		pub:    &fakePublisher{},
		run:    run,
	}
	h.orch = New(Config{
		Runs:      h.runs,
		Stages:    h.stages,
		Publisher: h.pub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

// complete имитирует worker: переводит stage в терминальный статус и шлёт stage.completed.
func (h *harness) complete(t *testing.T, nodeID string, status domain.StageStatus, out *domain.StageOutput) error {
	t.Helper()
	stage, ok := h.stages.byNode(h.run.ID, nodeID)
	if !ok {
		t.Fatalf("stage %s was not created", nodeID)
	}
	stage.MarkRunning()
	if status == domain.StageStatusSucceeded {
		stage.MarkSucceeded(out)
	} else {
		stage.MarkFailed(fmt.Sprintf("%s failed", nodeID), out)
	}
	h.stages.save(stage)

	return h.orch.processStageCompleted(context.Background(), mq.StageCompletedPayload{
		StageID: stage.ID,
		RunID:   stage.RunID,
		NodeID:  stage.NodeID,
		Status:  string(stage.Status),
	})
}

func (h *harness) mustComplete(t *testing.T, nodeID string, status domain.StageStatus, out *domain.StageOutput) {
	t.Helper()
	if err := h.complete(t, nodeID, status, out); err != nil {
		t.Fatalf("complete %s: %v", nodeID, err)
	}
}

func (h *harness) runStatus(t *testing.T) *domain.Run {
	t.Helper()
	run, err := h.runs.GetByID(context.Background(), h.run.ID)
	if err != nil {
		t.Fatal(err)
	}
	return run
}

// --- Orchestrator Tests ---

func TestNew(t *testing.T) {
	o := New(Config{})

	if o.pollInterval != defaultPollInterval {
		t.Errorf("pollInterval = %v", o.pollInterval)
	}
	if o.batchSize != defaultBatchSize {
		t.Errorf("batchSize = %d", o.batchSize)
	}
	if o.logger == nil {
		t.Error("logger should default")
	}
}

func TestNew_CustomConfig(t *testing.T) {
	o := New(Config{PollInterval: time.Second, BatchSize: 5})

	if o.pollInterval != time.Second || o.batchSize != 5 {
		t.Errorf("config not applied: %v %d", o.pollInterval, o.batchSize)
	}
}

func TestOrchestrator_NightlyOneFailingTest(t *testing.T) {
	h := newHarness(t, newTestRun(4))
	ctx := context.Background()

	if err := h.orch.processRun(ctx, h.run.ID); err != nil {
		t.Fatalf("processRun: %v", err)
	}
	if got := h.runStatus(t).Status; got != domain.RunStatusRunning {
		t.Fatalf("run status = %s", got)
	}
	if got := h.pub.nodes(); len(got) != 1 || got[0] != "build" {
		t.Fatalf("published = %v, want [build]", got)
	}

	h.mustComplete(t, "build", domain.StageStatusSucceeded, &domain.StageOutput{ArtifactID: "runs/x/dist/pkg.whl"})
	if got := len(h.pub.nodes()); got != 5 {
		t.Fatalf("expected build + 4 tests published, got %v", h.pub.nodes())
	}

	h.mustComplete(t, "test.0", domain.StageStatusSucceeded, nil)
	h.mustComplete(t, "test.1", domain.StageStatusFailed, &domain.StageOutput{ExitCode: 1})
	h.mustComplete(t, "test.2", domain.StageStatusSucceeded, nil)
	if _, ok := h.stages.byNode(h.run.ID, "upload"); ok {
		t.Fatal("upload created before all tests were terminal")
	}
	h.mustComplete(t, "test.3", domain.StageStatusSucceeded, nil)

	for _, node := range []string{"upload", "report"} {
		stage, ok := h.stages.byNode(h.run.ID, node)
		if !ok || stage.Status != domain.StageStatusQueued {
			t.Fatalf("%s should be queued after a failing test, got %+v", node, stage)
		}
	}
	report, _ := h.stages.byNode(h.run.ID, "report")
	if len(report.Input.Results) != 4 || report.Input.Results[1].Status != domain.StageStatusFailed {
		t.Errorf("report results = %+v", report.Input.Results)
	}

	h.mustComplete(t, "upload", domain.StageStatusSucceeded, &domain.StageOutput{Published: false})
	if h.runStatus(t).IsFinished() {
		t.Fatal("run must wait for report")
	}
	h.mustComplete(t, "report", domain.StageStatusSucceeded, nil)

	run := h.runStatus(t)
	if run.Status != domain.RunStatusFailed {
		t.Errorf("run status = %s, want FAILED", run.Status)
	}
	if !strings.Contains(run.Error, "test.1") {
		t.Errorf("run error = %q", run.Error)
	}
	if run.ArtifactID != "runs/x/dist/pkg.whl" {
		t.Errorf("artifact = %q", run.ArtifactID)
	}
	if h.orch.ActiveRunsCount() != 0 {
		t.Error("run should leave active set")
	}
}

func TestOrchestrator_AllPassed(t *testing.T) {
	h := newHarness(t, newTestRun(2))
	if err := h.orch.processRun(context.Background(), h.run.ID); err != nil {
		t.Fatal(err)
	}

	h.mustComplete(t, "build", domain.StageStatusSucceeded, &domain.StageOutput{ArtifactID: "a"})
	h.mustComplete(t, "test.0", domain.StageStatusSucceeded, nil)
	h.mustComplete(t, "test.1", domain.StageStatusSucceeded, nil)
	// Провал публикации не влияет на итог run.
	h.mustComplete(t, "upload", domain.StageStatusFailed, nil)
	h.mustComplete(t, "report", domain.StageStatusSucceeded, nil)

	if got := h.runStatus(t).Status; got != domain.RunStatusSucceeded {
		t.Errorf("run status = %s, want SUCCEEDED", got)
	}
}

func TestOrchestrator_BuildFailure(t *testing.T) {
	h := newHarness(t, newTestRun(4))
	if err := h.orch.processRun(context.Background(), h.run.ID); err != nil {
		t.Fatal(err)
	}

	h.mustComplete(t, "build", domain.StageStatusFailed, nil)

	for _, node := range []string{"test.0", "test.1", "test.2", "test.3", "upload"} {
		stage, ok := h.stages.byNode(h.run.ID, node)
		if !ok || stage.Status != domain.StageStatusSkipped {
			t.Errorf("%s should be persisted as SKIPPED, got %+v", node, stage)
		}
	}
	if got := h.pub.nodes(); strings.Join(got, ",") != "build,report" {
		t.Fatalf("published = %v, want build,report", got)
	}

	report, _ := h.stages.byNode(h.run.ID, "report")
	if report.Input.BuildStatus != domain.StageStatusFailed || report.Input.ArtifactID != "" {
		t.Errorf("report input = %+v", report.Input)
	}

	h.mustComplete(t, "report", domain.StageStatusSucceeded, nil)
	if got := h.runStatus(t).Status; got != domain.RunStatusFailed {
		t.Errorf("run status = %s", got)
	}
}

func TestOrchestrator_InvalidRun(t *testing.T) {
	run := newTestRun(1)
	run.GitRef = "--upload-pack=evil"
	h := newHarness(t, run)

	err := h.orch.processRun(context.Background(), run.ID)
	if !errors.Is(err, ErrInvalidRun) {
		t.Fatalf("expected ErrInvalidRun, got %v", err)
	}
	if got := h.runStatus(t); got.Status != domain.RunStatusFailed || got.Error == "" {
		t.Errorf("run = %s %q", got.Status, got.Error)
	}
	if len(h.pub.nodes()) != 0 {
		t.Error("nothing should be dispatched")
	}
}

func TestOrchestrator_ProcessRun_Errors(t *testing.T) {
	h := newHarness(t, newTestRun(1))
	ctx := context.Background()

	if err := h.orch.processRun(ctx, uuid.New()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	if err := h.orch.processRun(ctx, h.run.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.orch.processRun(ctx, h.run.ID); !errors.Is(err, ErrRunNotPending) {
		t.Errorf("expected ErrRunNotPending, got %v", err)
	}
}

func TestOrchestrator_PublishFailureKeepsStage(t *testing.T) {
	h := newHarness(t, newTestRun(1))
	h.pub.err = errors.New("broker down")

	if err := h.orch.processRun(context.Background(), h.run.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.stages.byNode(h.run.ID, "build"); !ok {
		t.Error("build stage must be persisted for polling workers")
	}
}

func TestOrchestrator_CreateFailureReleasesNode(t *testing.T) {
	h := newHarness(t, newTestRun(1))
	h.stages.createErr = errors.New("db down")

	if err := h.orch.processRun(context.Background(), h.run.ID); err != nil {
		t.Fatal(err)
	}
	state := h.orch.getActiveRun(h.run.ID)
	if state == nil {
		t.Fatal("run should stay active")
	}

	h.stages.createErr = nil
	if err := h.orch.advance(context.Background(), state); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.stages.byNode(h.run.ID, "build"); !ok {
		t.Error("build should be dispatched on retry")
	}
}

func TestOrchestrator_RestoreAfterRestart(t *testing.T) {
	h := newHarness(t, newTestRun(2))
	if err := h.orch.processRun(context.Background(), h.run.ID); err != nil {
		t.Fatal(err)
	}
	h.mustComplete(t, "build", domain.StageStatusSucceeded, &domain.StageOutput{ArtifactID: "a"})
	h.mustComplete(t, "test.0", domain.StageStatusSucceeded, nil)

	// Новый экземпляр без состояния в памяти.
	h.orch = New(Config{
		Runs:      h.runs,
		Stages:    h.stages,
		Publisher: h.pub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	h.mustComplete(t, "test.1", domain.StageStatusFailed, nil)
	for _, node := range []string{"upload", "report"} {
		if _, ok := h.stages.byNode(h.run.ID, node); !ok {
			t.Errorf("%s should be created after restore", node)
		}
	}
	h.mustComplete(t, "upload", domain.StageStatusSucceeded, nil)
	h.mustComplete(t, "report", domain.StageStatusSucceeded, nil)

	if got := h.runStatus(t).Status; got != domain.RunStatusFailed {
		t.Errorf("run status = %s", got)
	}
}

func TestOrchestrator_RecoverRunning(t *testing.T) {
	h := newHarness(t, newTestRun(1))
	if err := h.orch.processRun(context.Background(), h.run.ID); err != nil {
		t.Fatal(err)
	}
	// Build завершился, но событие потеряно.
	build, _ := h.stages.byNode(h.run.ID, "build")
	build.MarkRunning()
	build.MarkSucceeded(&domain.StageOutput{ArtifactID: "a"})
	h.stages.save(build)

	h.orch = New(Config{
		Runs:      h.runs,
		Stages:    h.stages,
		Publisher: h.pub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h.orch.recoverRunning(context.Background())

	if _, ok := h.stages.byNode(h.run.ID, "test.0"); !ok {
		t.Error("test.0 should be dispatched after recovery")
	}
}

func TestOrchestrator_PollReconcilesLostCompletion(t *testing.T) {
	h := newHarness(t, newTestRun(2))
	if err := h.orch.processRun(context.Background(), h.run.ID); err != nil {
		t.Fatal(err)
	}
	build, _ := h.stages.byNode(h.run.ID, "build")
	build.MarkRunning()
	build.MarkSucceeded(&domain.StageOutput{ArtifactID: "a"})
	h.stages.save(build)

	h.orch.poll(context.Background())

	for _, node := range []string{"test.0", "test.1"} {
		if _, ok := h.stages.byNode(h.run.ID, node); !ok {
			t.Errorf("%s should be dispatched after reconcile", node)
		}
	}

	// Повторный poll ничего не публикует.
	published := len(h.pub.nodes())
	h.orch.poll(context.Background())
	if got := len(h.pub.nodes()); got != published {
		t.Errorf("second poll published %d more stages", got-published)
	}
}

func TestOrchestrator_UnknownStage(t *testing.T) {
	h := newHarness(t, newTestRun(1))
	if err := h.orch.processRun(context.Background(), h.run.ID); err != nil {
		t.Fatal(err)
	}

	err := h.orch.processStageCompleted(context.Background(), mq.StageCompletedPayload{
		StageID: uuid.New(),
		RunID:   h.run.ID,
		NodeID:  "build",
		Status:  "SUCCEEDED",
	})
	if !errors.Is(err, ErrStageNotFound) {
		t.Errorf("expected ErrStageNotFound, got %v", err)
	}
}

func TestOrchestrator_Poll(t *testing.T) {
	h := newHarness(t, newTestRun(1))
	h.orch.poll(context.Background())

	if h.runStatus(t).Status != domain.RunStatusRunning {
		t.Error("poll should start pending run")
	}
	if h.orch.ActiveRunsCount() != 1 {
		t.Errorf("active = %d", h.orch.ActiveRunsCount())
	}
	stats, ok := h.orch.GetActiveRunStats(h.run.ID)
	if !ok || stats.RunningStages != 1 {
		t.Errorf("stats = %+v ok=%v", stats, ok)
	}
}

func TestOrchestrator_IsStopped(t *testing.T) {
	o := New(Config{Runs: newFakeRuns(), Stages: newFakeStages(), Publisher: &fakePublisher{}})
	if o.IsStopped() {
		t.Error("new orchestrator should not be stopped")
	}
	o.Stop()
	if !o.IsStopped() {
		t.Error("should be stopped")
	}
	if err := o.Start(context.Background()); !errors.Is(err, ErrOrchestratorStopped) {
		t.Errorf("Start after Stop: %v", err)
	}
}

func TestOrchestrator_PushWithFailingTest(t *testing.T) {
	run := newTestRun(4)
	run.PushToIndex = true
	h := newHarness(t, run)
	if err := h.orch.processRun(context.Background(), run.ID); err != nil {
		t.Fatal(err)
	}

	h.mustComplete(t, "build", domain.StageStatusSucceeded, &domain.StageOutput{ArtifactID: "runs/x/dist/pkg.whl"})
	h.mustComplete(t, "test.0", domain.StageStatusSucceeded, nil)
	h.mustComplete(t, "test.1", domain.StageStatusSucceeded, nil)
	h.mustComplete(t, "test.2", domain.StageStatusFailed, &domain.StageOutput{ExitCode: 1})
	h.mustComplete(t, "test.3", domain.StageStatusSucceeded, nil)

	upload, ok := h.stages.byNode(run.ID, "upload")
	if !ok || upload.Status != domain.StageStatusQueued {
		t.Fatalf("upload must be queued despite a failing test, got %+v", upload)
	}
	if !upload.Input.PushToIndex || upload.Input.ArtifactID != "runs/x/dist/pkg.whl" {
		t.Errorf("upload input = %+v", upload.Input)
	}

	h.mustComplete(t, "upload", domain.StageStatusSucceeded, &domain.StageOutput{Published: true})
	h.mustComplete(t, "report", domain.StageStatusSucceeded, nil)

	uploads := 0
	for _, node := range h.pub.nodes() {
		if node == "upload" {
			uploads++
		}
	}
	if uploads != 1 {
		t.Errorf("upload dispatched %d times, want 1", uploads)
	}
	if got := h.runStatus(t).Status; got != domain.RunStatusFailed {
		t.Errorf("run status = %s, want FAILED", got)
	}
}

func TestOrchestrator_AdoptsQueuedStage(t *testing.T) {
	h := newHarness(t, newTestRun(2))

	// Build создан прежним экземпляром, но stage.ready до worker'ов не дошёл.
	persisted := domain.NewStage(h.run.ID, "build", domain.StageBuild, domain.StageInput{RunID: h.run.ID})
	h.stages.save(*persisted)

	if err := h.orch.processRun(context.Background(), h.run.ID); err != nil {
		t.Fatal(err)
	}

	state := h.orch.getActiveRun(h.run.ID)
	if got := state.Stage("build"); got == nil || got.ID != persisted.ID {
		t.Fatalf("state should hold the persisted build stage, got %+v", got)
	}
	if len(h.pub.ready) != 1 || h.pub.ready[0].StageID != persisted.ID {
		t.Fatalf("stage.ready should carry the persisted id, got %+v", h.pub.ready)
	}

	h.mustComplete(t, "build", domain.StageStatusSucceeded, &domain.StageOutput{ArtifactID: "a"})
	if got := h.pub.nodes(); strings.Join(got, ",") != "build,test.0,test.1" {
		t.Errorf("published = %v", got)
	}
}

func TestOrchestrator_AdoptsFinishedStage(t *testing.T) {
	h := newHarness(t, newTestRun(2))

	persisted := domain.NewStage(h.run.ID, "build", domain.StageBuild, domain.StageInput{RunID: h.run.ID})
	persisted.MarkRunning()
	persisted.MarkSucceeded(&domain.StageOutput{ArtifactID: "runs/x/dist/pkg.whl"})
	h.stages.save(*persisted)

	if err := h.orch.processRun(context.Background(), h.run.ID); err != nil {
		t.Fatal(err)
	}

	// Build не публикуется повторно, граф сразу идёт к тестам.
	if got := h.pub.nodes(); strings.Join(got, ",") != "test.0,test.1" {
		t.Fatalf("published = %v, want test.0,test.1", got)
	}
	test0, _ := h.stages.byNode(h.run.ID, "test.0")
	if test0.Input.ArtifactID != "runs/x/dist/pkg.whl" {
		t.Errorf("test input artifact = %q", test0.Input.ArtifactID)
	}
}
