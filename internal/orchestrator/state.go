package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// RunState — состояние выполнения одного run в памяти.
//
// RunState создаётся когда Orchestrator (или локальный Runner) начинает обработку run
// и удаляется когда run завершается.
//
// Содержит:
//   - Run и построенный граф stages
//   - Статус каждого узла графа, включая вычисленные join-узлы
//   - Созданные stages с их входами и выходами
type RunState struct {
	// Run — данные run.
	Run *domain.Run

	// Graph — граф stages.
	Graph *engine.Graph

	// statuses — статус каждого начатого узла (nodeID → status).
	statuses map[string]domain.StageStatus

	// stages — созданные stages (nodeID → Stage).
	stages map[string]*domain.Stage

	// mu — мьютекс для потокобезопасного доступа.
	mu sync.RWMutex
}

// Plan — результат Advance: stages, которые нужно выполнить, и stages, которые пропущены.
type Plan struct {
	Ready   []*domain.Stage
	Skipped []*domain.Stage
}

// Empty возвращает true, если в плане нет ни одного stage.
func (p Plan) Empty() bool {
	return len(p.Ready) == 0 && len(p.Skipped) == 0
}

// NewRunState создаёт новый RunState.
func NewRunState(run *domain.Run) *RunState {
	return &RunState{
		Run:      run,
		statuses: make(map[string]domain.StageStatus),
		stages:   make(map[string]*domain.Stage),
	}
}

// Initialize валидирует параметры run и строит граф.
func (s *RunState) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := engine.ValidateRun(s.Run); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRun, err)
	}

	graph, err := engine.BuildGraph(s.Run.TestConfigs)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}
	s.Graph = graph

	return nil
}

// Advance применяет решения графа до неподвижной точки.
//
// Узлы, условие которых выполнено, получают stage в статусе QUEUED и попадают в Ready;
// узлы, условие которых не выполнено, получают stage в статусе SKIPPED;
// join-узлы получают вычисленный статус. Повторный вызов не возвращает те же узлы.
func (s *RunState) Advance() Plan {
	s.mu.Lock()
	defer s.mu.Unlock()

	var plan Plan
	for {
		decisions := s.Graph.Evaluate(s.statuses)
		if len(decisions) == 0 {
			return plan
		}

		for _, d := range decisions {
			switch d.Action {
			case engine.ActionResolve:
				s.statuses[d.Node.ID] = d.Status

			case engine.ActionSkip:
				stage := domain.NewStage(s.Run.ID, d.Node.ID, d.Node.Kind, s.stageInputLocked(d.Node))
				stage.MarkSkipped(d.Reason)
				s.stages[d.Node.ID] = stage
				s.statuses[d.Node.ID] = domain.StageStatusSkipped
				plan.Skipped = append(plan.Skipped, stage)

			case engine.ActionRun:
				stage := domain.NewStage(s.Run.ID, d.Node.ID, d.Node.Kind, s.stageInputLocked(d.Node))
				s.stages[d.Node.ID] = stage
				s.statuses[d.Node.ID] = domain.StageStatusQueued
				plan.Ready = append(plan.Ready, stage)
			}
		}
	}
}

// ForceFinalizers создаёт stages для безусловных узлов (report), которые ещё не начаты,
// независимо от состояния их зависимостей. Используется в finally-обработчике,
// когда выполнение прервано до того, как граф дошёл до этих узлов.
func (s *RunState) ForceFinalizers() []*domain.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var forced []*domain.Stage
	for _, node := range s.Graph.Order {
		if node.IsJoin || node.Condition != engine.ConditionAlways {
			continue
		}
		if _, started := s.statuses[node.ID]; started {
			continue
		}
		stage := domain.NewStage(s.Run.ID, node.ID, node.Kind, s.stageInputLocked(node))
		s.stages[node.ID] = stage
		s.statuses[node.ID] = domain.StageStatusQueued
		forced = append(forced, stage)
	}
	return forced
}

// Release откатывает узел, для которого не удалось создать или отправить stage.
// Следующий Advance вернёт его снова.
func (s *RunState) Release(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.statuses[nodeID] == domain.StageStatusQueued {
		delete(s.statuses, nodeID)
		delete(s.stages, nodeID)
	}
}

// Adopt заменяет stage узла записью из БД, созданной другим экземпляром orchestrator'а.
// Статус узла берётся из записи.
func (s *RunState) Adopt(stage *domain.Stage) error {
	if s.Graph.GetNode(stage.NodeID) == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, stage.NodeID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.statuses[stage.NodeID] = stage.Status
	s.stages[stage.NodeID] = stage
	return nil
}

// MarkStageRunning помечает stage как выполняющийся.
func (s *RunState) MarkStageRunning(stage *domain.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statuses[stage.NodeID] = domain.StageStatusRunning
	s.stages[stage.NodeID] = stage
}

// MarkStageFinished фиксирует терминальный статус stage.
func (s *RunState) MarkStageFinished(stage *domain.Stage) error {
	if !stage.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrStageNotTerminal, stage.NodeID, stage.Status)
	}
	if s.Graph.GetNode(stage.NodeID) == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, stage.NodeID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.statuses[stage.NodeID] = stage.Status
	s.stages[stage.NodeID] = stage
	return nil
}

// StageInput возвращает структурированные параметры для узла.
func (s *RunState) StageInput(nodeID string) (domain.StageInput, error) {
	node := s.Graph.GetNode(nodeID)
	if node == nil {
		return domain.StageInput{}, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stageInputLocked(node), nil
}

// stageInputLocked собирает вход stage из run и результатов предыдущих stages.
// Вызывающий держит mu.
func (s *RunState) stageInputLocked(node *engine.Node) domain.StageInput {
	in := domain.StageInput{
		RunID:       s.Run.ID,
		RunName:     s.Run.Name(),
		Category:    s.Run.Category,
		GitRef:      s.Run.GitRef,
		PushToIndex: s.Run.PushToIndex,
		ArtifactID:  s.artifactIDLocked(),
	}

	switch node.Kind {
	case domain.StageTest:
		cfg := s.Run.TestConfigs[node.TestIndex]
		in.Test = &cfg
		in.Timeout = domain.Duration(cfg.Timeout())

	case domain.StageReport:
		in.BuildStatus = s.statuses[engine.NodeBuild]
		if in.BuildStatus == "" {
			in.BuildStatus = domain.StageStatusSkipped
		}
		if build := s.stages[engine.NodeBuild]; build != nil {
			in.BuildError = build.Error
		}
		in.Results = s.testResultsLocked()
	}

	return in
}

func (s *RunState) artifactIDLocked() string {
	build := s.stages[engine.NodeBuild]
	if build == nil || build.Status != domain.StageStatusSucceeded || build.Output == nil {
		return ""
	}
	return build.Output.ArtifactID
}

// ArtifactID возвращает ID артефакта успешного build или пустую строку.
func (s *RunState) ArtifactID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.artifactIDLocked()
}

// TestResults возвращает результаты всех тестовых конфигураций в порядке матрицы.
// Конфигурации, которые ещё не завершились или не запускались, имеют соответствующий статус.
func (s *RunState) TestResults() []domain.TestResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.testResultsLocked()
}

func (s *RunState) testResultsLocked() []domain.TestResult {
	nodes := s.Graph.TestNodes()
	results := make([]domain.TestResult, 0, len(nodes))

	for _, node := range nodes {
		result := domain.TestResult{
			NodeID: node.ID,
			Config: s.Run.TestConfigs[node.TestIndex],
			Status: s.statuses[node.ID],
		}
		if result.Status == "" {
			result.Status = domain.StageStatusSkipped
		}
		if stage := s.stages[node.ID]; stage != nil {
			result.Error = stage.Error
			result.Duration = domain.Duration(stage.Duration())
			if stage.Output != nil {
				result.ExitCode = stage.Output.ExitCode
				result.ReportRef = stage.Output.ReportRef
				result.CoverageRef = stage.Output.CoverageRef
			}
		}
		results = append(results, result)
	}
	return results
}

// Stage возвращает stage для узла.
func (s *RunState) Stage(nodeID string) *domain.Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stages[nodeID]
}

// Status возвращает статус узла; пустой, если узел не начат.
func (s *RunState) Status(nodeID string) domain.StageStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[nodeID]
}

// IsComplete проверяет, все ли узлы графа в терминальном статусе.
func (s *RunState) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Graph.IsComplete(s.statuses)
}

// Outcome вычисляет итог run: SUCCEEDED, только если build и все тесты SUCCEEDED.
// Upload и report на итог не влияют.
func (s *RunState) Outcome() (domain.RunStatus, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if status := s.statuses[engine.NodeBuild]; status != domain.StageStatusSucceeded {
		msg := "build " + strings.ToLower(string(status))
		if status == "" {
			msg = "build did not run"
		}
		if build := s.stages[engine.NodeBuild]; build != nil && build.Error != "" {
			msg += ": " + build.Error
		}
		return domain.RunStatusFailed, msg
	}

	var failed []string
	for _, node := range s.Graph.TestNodes() {
		if s.statuses[node.ID] != domain.StageStatusSucceeded {
			failed = append(failed, fmt.Sprintf("%s (%s)", node.ID, s.Run.TestConfigs[node.TestIndex].Key()))
		}
	}
	if len(failed) > 0 {
		return domain.RunStatusFailed, "tests failed: " + strings.Join(failed, ", ")
	}

	return domain.RunStatusSucceeded, ""
}

// GetFailedStages возвращает отсортированный список упавших узлов.
func (s *RunState) GetFailedStages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	failed := make([]string, 0)
	for _, node := range s.Graph.GetExecutableNodes() {
		if s.statuses[node.ID] == domain.StageStatusFailed {
			failed = append(failed, node.ID)
		}
	}
	sort.Strings(failed)
	return failed
}

// RunID возвращает ID run.
func (s *RunState) RunID() uuid.UUID {
	return s.Run.ID
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := s.Graph.GetExecutableNodes()
	stats := RunStats{TotalStages: len(nodes)}
	for _, node := range nodes {
		switch s.statuses[node.ID] {
		case domain.StageStatusSucceeded:
			stats.SucceededStages++
		case domain.StageStatusFailed:
			stats.FailedStages++
		case domain.StageStatusSkipped:
			stats.SkippedStages++
		case domain.StageStatusQueued, domain.StageStatusRunning:
			stats.RunningStages++
		default:
			stats.PendingStages++
		}
	}
	return stats
}

// RunStats — статистика выполнения run.
type RunStats struct {
	TotalStages     int
	SucceededStages int
	FailedStages    int
	SkippedStages   int
	RunningStages   int
	PendingStages   int
}

// RestoreFromStages восстанавливает состояние из сохранённых stages (после рестарта).
// Статусы join-узлов вычисляются заново при следующем Advance.
func (s *RunState) RestoreFromStages(stages []domain.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range stages {
		stage := &stages[i]
		if s.Graph.GetNode(stage.NodeID) == nil {
			continue
		}
		s.stages[stage.NodeID] = stage
		s.statuses[stage.NodeID] = stage.Status
	}
}
