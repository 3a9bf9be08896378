package engine

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/shaiso/Conveyor/internal/domain"
)

func testConfigs(n int) []domain.TestConfig {
	versions := []string{"3.9.17", "3.10.12", "3.11.4", "3.12.6", "3.13.0"}
	configs := make([]domain.TestConfig, n)
	for i := range configs {
		configs[i] = domain.TestConfig{
			Python:     versions[i%len(versions)],
			Runner:     "ubuntu-22.04",
			TimeoutMin: 30,
		}
	}
	return configs
}

func nodeIDs(nodes []*Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// applyAll применяет решения Evaluate так, как это делает RunState: запускаемые узлы
// получают статус из outcomes, пропуски и join-узлы — вычисленный статус.
func applyAll(g *Graph, outcomes map[string]domain.StageStatus) (map[string]domain.StageStatus, []string) {
	statuses := make(map[string]domain.StageStatus)
	var ran []string
	for {
		decisions := g.Evaluate(statuses)
		if len(decisions) == 0 {
			return statuses, ran
		}
		for _, d := range decisions {
			switch d.Action {
			case ActionRun:
				ran = append(ran, d.Node.ID)
				status, ok := outcomes[d.Node.ID]
				if !ok {
					status = domain.StageStatusSucceeded
				}
				statuses[d.Node.ID] = status
			case ActionSkip:
				statuses[d.Node.ID] = domain.StageStatusSkipped
			case ActionResolve:
				statuses[d.Node.ID] = d.Status
			}
		}
	}
}

// --- BuildGraph Tests ---

func TestBuildGraph_Shape(t *testing.T) {
	g, err := BuildGraph(testConfigs(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// build, 4 tests, join, upload, report
	if g.Size() != 8 {
		t.Errorf("expected 8 nodes, got %d", g.Size())
	}

	if diff := cmp.Diff([]string{NodeBuild}, nodeIDs(g.RootNodes)); diff != "" {
		t.Errorf("root nodes mismatch (-want +got):\n%s", diff)
	}

	for i := 0; i < 4; i++ {
		node := g.GetNode(TestNodeID(i))
		if node == nil {
			t.Fatalf("node %s missing", TestNodeID(i))
		}
		if node.TestIndex != i {
			t.Errorf("node %s: expected TestIndex %d, got %d", node.ID, i, node.TestIndex)
		}
		if len(node.DependsOn) != 1 || node.DependsOn[0].ID != NodeBuild {
			t.Errorf("node %s should depend only on build", node.ID)
		}
	}

	join := g.GetNode(NodeTestJoin)
	if !join.IsJoin || join.InDegree != 4 {
		t.Errorf("join: expected IsJoin with 4 deps, got IsJoin=%v InDegree=%d", join.IsJoin, join.InDegree)
	}

	if got := nodeIDs(g.GetNode(NodeUpload).DependsOn); !cmp.Equal(got, []string{NodeTestJoin}) {
		t.Errorf("upload deps: %v", got)
	}
	if got := nodeIDs(g.GetNode(NodeReport).DependsOn); !cmp.Equal(got, []string{NodeBuild, NodeTestJoin}) {
		t.Errorf("report deps: %v", got)
	}
	if g.GetNode(NodeReport).Condition != ConditionAlways {
		t.Error("report must run unconditionally")
	}
	if g.GetNode(NodeUpload).Condition != ConditionCompleted {
		t.Error("upload must be gated on completion")
	}
}

func TestBuildGraph_Order(t *testing.T) {
	g, err := BuildGraph(testConfigs(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"build", "test.0", "test.1", "test.2", "test.join", "report", "upload"}
	if diff := cmp.Diff(want, nodeIDs(g.Order)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	if got := nodeIDs(g.TestNodes()); !cmp.Equal(got, []string{"test.0", "test.1", "test.2"}) {
		t.Errorf("TestNodes: %v", got)
	}
	if len(g.GetExecutableNodes()) != 6 {
		t.Errorf("expected 6 executable nodes, got %d", len(g.GetExecutableNodes()))
	}
}

func TestBuildGraph_ManyConfigsOrderedByIndex(t *testing.T) {
	g, err := BuildGraph(testConfigs(12))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tests := g.TestNodes()
	for i, n := range tests {
		if n.TestIndex != i {
			t.Errorf("position %d holds %s", i, n.ID)
		}
	}
}

func TestBuildGraph_Errors(t *testing.T) {
	if _, err := BuildGraph(nil); !errors.Is(err, ErrNoTestConfigs) {
		t.Errorf("expected ErrNoTestConfigs, got %v", err)
	}

	bad := []domain.TestConfig{{Python: "2.7", Runner: "x", TimeoutMin: 10}}
	_, err := BuildGraph(bad)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if vErr.NodeID != "test.0" || !errors.Is(err, ErrInvalidTestConfig) {
		t.Errorf("unexpected validation error: %+v", vErr)
	}
}

// --- Evaluate Tests ---

func TestEvaluate_InitialOnlyBuild(t *testing.T) {
	g, _ := BuildGraph(testConfigs(2))

	decisions := g.Evaluate(map[string]domain.StageStatus{})
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	if decisions[0].Node.ID != NodeBuild || decisions[0].Action != ActionRun {
		t.Errorf("expected run build, got %+v", decisions[0])
	}
}

func TestEvaluate_RunningBuildBlocksTests(t *testing.T) {
	g, _ := BuildGraph(testConfigs(2))

	decisions := g.Evaluate(map[string]domain.StageStatus{NodeBuild: domain.StageStatusRunning})
	if len(decisions) != 0 {
		t.Errorf("expected no decisions while build runs, got %d", len(decisions))
	}
}

func TestEvaluate_FanOutAfterBuild(t *testing.T) {
	g, _ := BuildGraph(testConfigs(3))

	decisions := g.Evaluate(map[string]domain.StageStatus{NodeBuild: domain.StageStatusSucceeded})
	var ids []string
	for _, d := range decisions {
		if d.Action != ActionRun {
			t.Errorf("unexpected action %s for %s", d.Action, d.Node.ID)
		}
		ids = append(ids, d.Node.ID)
	}
	if diff := cmp.Diff([]string{"test.0", "test.1", "test.2"}, ids); diff != "" {
		t.Errorf("fan-out mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluate_JoinWaitsForAllTests(t *testing.T) {
	g, _ := BuildGraph(testConfigs(3))

	statuses := map[string]domain.StageStatus{
		NodeBuild: domain.StageStatusSucceeded,
		"test.0":  domain.StageStatusFailed,
		"test.1":  domain.StageStatusSucceeded,
		"test.2":  domain.StageStatusRunning,
	}
	if decisions := g.Evaluate(statuses); len(decisions) != 0 {
		t.Errorf("join must wait for test.2, got %+v", decisions)
	}

	statuses["test.2"] = domain.StageStatusSucceeded
	decisions := g.Evaluate(statuses)
	if len(decisions) != 1 || decisions[0].Action != ActionResolve {
		t.Fatalf("expected join resolve, got %+v", decisions)
	}
	if decisions[0].Status != domain.StageStatusFailed {
		t.Errorf("join should be FAILED, got %s", decisions[0].Status)
	}
}

func TestEvaluate_AllSucceeded(t *testing.T) {
	g, _ := BuildGraph(testConfigs(4))

	statuses, ran := applyAll(g, nil)

	want := []string{"build", "test.0", "test.1", "test.2", "test.3", "report", "upload"}
	if diff := cmp.Diff(want, ran); diff != "" {
		t.Errorf("executions mismatch (-want +got):\n%s", diff)
	}
	if statuses[NodeTestJoin] != domain.StageStatusSucceeded {
		t.Errorf("join: %s", statuses[NodeTestJoin])
	}
	if !g.IsComplete(statuses) {
		t.Error("graph should be complete")
	}
}

func TestEvaluate_OneTestFails(t *testing.T) {
	g, _ := BuildGraph(testConfigs(4))

	statuses, ran := applyAll(g, map[string]domain.StageStatus{"test.2": domain.StageStatusFailed})

	want := []string{"build", "test.0", "test.1", "test.2", "test.3", "report", "upload"}
	if diff := cmp.Diff(want, ran); diff != "" {
		t.Errorf("executions mismatch (-want +got):\n%s", diff)
	}
	for _, id := range []string{"test.0", "test.1", "test.3"} {
		if statuses[id] != domain.StageStatusSucceeded {
			t.Errorf("%s should be unaffected, got %s", id, statuses[id])
		}
	}
	if statuses[NodeTestJoin] != domain.StageStatusFailed {
		t.Errorf("join: %s", statuses[NodeTestJoin])
	}
}

func TestEvaluate_BuildFails(t *testing.T) {
	g, _ := BuildGraph(testConfigs(4))

	statuses, ran := applyAll(g, map[string]domain.StageStatus{NodeBuild: domain.StageStatusFailed})

	if diff := cmp.Diff([]string{"build", "report"}, ran); diff != "" {
		t.Errorf("executions mismatch (-want +got):\n%s", diff)
	}
	for i := 0; i < 4; i++ {
		if statuses[TestNodeID(i)] != domain.StageStatusSkipped {
			t.Errorf("%s: expected SKIPPED, got %s", TestNodeID(i), statuses[TestNodeID(i)])
		}
	}
	if statuses[NodeTestJoin] != domain.StageStatusSkipped {
		t.Errorf("join: %s", statuses[NodeTestJoin])
	}
	if statuses[NodeUpload] != domain.StageStatusSkipped {
		t.Errorf("upload: %s", statuses[NodeUpload])
	}
	if !g.IsComplete(statuses) {
		t.Error("graph should be complete")
	}
}

func TestEvaluate_SkipReason(t *testing.T) {
	g, _ := BuildGraph(testConfigs(1))

	decisions := g.Evaluate(map[string]domain.StageStatus{NodeBuild: domain.StageStatusFailed})
	var skip *Decision
	for i := range decisions {
		if decisions[i].Node.ID == "test.0" {
			skip = &decisions[i]
		}
	}
	if skip == nil || skip.Action != ActionSkip {
		t.Fatalf("expected skip for test.0, got %+v", decisions)
	}
	if skip.Reason != "dependency build did not succeed" {
		t.Errorf("unexpected reason %q", skip.Reason)
	}
}

func TestJoinStatus(t *testing.T) {
	s, f, k := domain.StageStatusSucceeded, domain.StageStatusFailed, domain.StageStatusSkipped
	tests := []struct {
		name string
		deps []domain.StageStatus
		want domain.StageStatus
	}{
		{"all succeeded", []domain.StageStatus{s, s}, s},
		{"one failed", []domain.StageStatus{s, f, s}, f},
		{"all skipped", []domain.StageStatus{k, k}, k},
		{"partly skipped", []domain.StageStatus{k, s}, s},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinStatus(tt.deps); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
