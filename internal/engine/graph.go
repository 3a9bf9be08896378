package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Идентификаторы фиксированных узлов графа.
const (
	NodeBuild    = "build"
	NodeTestJoin = "test.join"
	NodeUpload   = "upload"
	NodeReport   = "report"

	testNodePrefix = "test."
)

// TestNodeID возвращает ID узла для i-й тестовой конфигурации.
func TestNodeID(i int) string {
	return testNodePrefix + strconv.Itoa(i)
}

// Condition — условие запуска узла после того, как все его зависимости стали терминальными.
type Condition string

const (
	// ConditionSuccess — все зависимости SUCCEEDED.
	ConditionSuccess Condition = "success"

	// ConditionCompleted — зависимости завершились, успешно или нет, но ни одна не SKIPPED.
	ConditionCompleted Condition = "completed"

	// ConditionAlways — запуск при любом исходе зависимостей.
	ConditionAlways Condition = "always"
)

// Node — узел графа.
type Node struct {
	// ID — идентификатор узла.
	ID string

	// Kind — тип stage. Пустой для join-узла.
	Kind domain.StageKind

	// Condition — условие запуска.
	Condition Condition

	// TestIndex — индекс конфигурации для test-узлов, -1 для остальных.
	TestIndex int

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node

	// IsJoin — true для виртуального fan-in узла; он не выполняется, его статус вычисляется.
	IsJoin bool
}

// Graph — направленный ациклический граф stages одного run.
type Graph struct {
	// Nodes — все узлы графа (nodeID → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей (точки входа).
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node
}

// BuildGraph строит граф pipeline для тестовой матрицы:
//
//	build → test.0..test.N-1 → test.join → upload
//	build, test.join → report
//
// test-узлы требуют успешного build; upload требует завершения всех тестов;
// report запускается всегда.
func BuildGraph(configs []domain.TestConfig) (*Graph, error) {
	if len(configs) == 0 {
		return nil, ErrNoTestConfigs
	}

	g := &Graph{Nodes: make(map[string]*Node)}

	build := g.addNode(NodeBuild, domain.StageBuild, ConditionSuccess)
	join := g.addNode(NodeTestJoin, "", ConditionAlways)
	join.IsJoin = true

	for i := range configs {
		if err := configs[i].Validate(); err != nil {
			return nil, NewValidationError(TestNodeID(i), "test_configs", err.Error(), ErrInvalidTestConfig)
		}
		test := g.addNode(TestNodeID(i), domain.StageTest, ConditionSuccess)
		test.TestIndex = i
		g.addEdge(build, test)
		g.addEdge(test, join)
	}

	upload := g.addNode(NodeUpload, domain.StageUpload, ConditionCompleted)
	g.addEdge(join, upload)

	report := g.addNode(NodeReport, domain.StageReport, ConditionAlways)
	g.addEdge(build, report)
	g.addEdge(join, report)

	g.findRootNodes()

	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.Order = order

	return g, nil
}

func (g *Graph) addNode(id string, kind domain.StageKind, cond Condition) *Node {
	node := &Node{
		ID:         id,
		Kind:       kind,
		Condition:  cond,
		TestIndex:  -1,
		DependsOn:  make([]*Node, 0),
		Dependents: make([]*Node, 0),
	}
	g.Nodes[id] = node
	return node
}

// addEdge добавляет ребро между узлами.
// Дополнительно проверяет на дубликаты, чтобы избежать двойного учета InDegree.
func (g *Graph) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
func (g *Graph) findRootNodes() {
	g.RootNodes = make([]*Node, 0)
	for _, node := range g.Nodes {
		if node.InDegree == 0 {
			g.RootNodes = append(g.RootNodes, node)
		}
	}
	sortNodes(g.RootNodes)
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Порядок детерминирован: среди готовых узлов первым идёт меньший ID.
func (g *Graph) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	for id, node := range g.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*Node, len(g.RootNodes))
	copy(queue, g.RootNodes)

	order := make([]*Node, 0, len(g.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		next := make([]*Node, 0, len(node.Dependents))
		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				next = append(next, dependent)
			}
		}
		sortNodes(next)
		queue = append(queue, next...)
	}

	if len(order) != len(g.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// sortNodes сортирует узлы по ID, test-узлы по индексу.
func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.TestIndex >= 0 && b.TestIndex >= 0 {
			return a.TestIndex < b.TestIndex
		}
		return a.ID < b.ID
	})
}

// Action — что делать с узлом по результату Evaluate.
type Action string

const (
	// ActionRun — узел нужно запустить.
	ActionRun Action = "run"

	// ActionSkip — условие узла не выполнено, узел помечается SKIPPED.
	ActionSkip Action = "skip"

	// ActionResolve — join-узел получает вычисленный статус.
	ActionResolve Action = "resolve"
)

// Decision — решение по одному узлу.
type Decision struct {
	Node   *Node
	Action Action

	// Status — вычисленный статус для ActionResolve.
	Status domain.StageStatus

	// Reason — причина пропуска для ActionSkip.
	Reason string
}

// Evaluate вычисляет решения для узлов, у которых все зависимости терминальны,
// а сам узел ещё не начат. statuses содержит статусы начатых и завершённых узлов.
//
// Решения возвращаются в топологическом порядке. Один вызов не учитывает
// последствия собственных решений: вызывающий применяет их и вызывает Evaluate снова.
func (g *Graph) Evaluate(statuses map[string]domain.StageStatus) []Decision {
	decisions := make([]Decision, 0)

	for _, node := range g.Order {
		if _, started := statuses[node.ID]; started {
			continue
		}

		depStatuses, ready := dependencyStatuses(node, statuses)
		if !ready {
			continue
		}

		if node.IsJoin {
			decisions = append(decisions, Decision{
				Node:   node,
				Action: ActionResolve,
				Status: joinStatus(depStatuses),
			})
			continue
		}

		if ok, reason := conditionMet(node.Condition, node.DependsOn, depStatuses); !ok {
			decisions = append(decisions, Decision{Node: node, Action: ActionSkip, Reason: reason})
			continue
		}

		decisions = append(decisions, Decision{Node: node, Action: ActionRun})
	}

	return decisions
}

// dependencyStatuses возвращает статусы зависимостей, если все они терминальны.
func dependencyStatuses(node *Node, statuses map[string]domain.StageStatus) ([]domain.StageStatus, bool) {
	result := make([]domain.StageStatus, len(node.DependsOn))
	for i, dep := range node.DependsOn {
		status, ok := statuses[dep.ID]
		if !ok || !status.IsTerminal() {
			return nil, false
		}
		result[i] = status
	}
	return result, true
}

// joinStatus агрегирует статусы ветвей fan-out:
// все SKIPPED → SKIPPED, есть FAILED → FAILED, иначе SUCCEEDED.
func joinStatus(deps []domain.StageStatus) domain.StageStatus {
	skipped := 0
	for _, s := range deps {
		switch s {
		case domain.StageStatusFailed:
			return domain.StageStatusFailed
		case domain.StageStatusSkipped:
			skipped++
		}
	}
	if len(deps) > 0 && skipped == len(deps) {
		return domain.StageStatusSkipped
	}
	return domain.StageStatusSucceeded
}

func conditionMet(cond Condition, deps []*Node, statuses []domain.StageStatus) (bool, string) {
	switch cond {
	case ConditionAlways:
		return true, ""
	case ConditionCompleted:
		for i, s := range statuses {
			if s == domain.StageStatusSkipped {
				return false, fmt.Sprintf("dependency %s was skipped", deps[i].ID)
			}
		}
		return true, ""
	default:
		var failed []string
		for i, s := range statuses {
			if s != domain.StageStatusSucceeded {
				failed = append(failed, deps[i].ID)
			}
		}
		if len(failed) > 0 {
			return false, fmt.Sprintf("dependency %s did not succeed", strings.Join(failed, ", "))
		}
		return true, ""
	}
}

// GetNode возвращает узел по ID.
func (g *Graph) GetNode(id string) *Node {
	return g.Nodes[id]
}

// Size возвращает количество узлов в графе.
func (g *Graph) Size() int {
	return len(g.Nodes)
}

// TestNodes возвращает test-узлы в порядке конфигураций.
func (g *Graph) TestNodes() []*Node {
	nodes := make([]*Node, 0)
	for _, node := range g.Nodes {
		if node.Kind == domain.StageTest {
			nodes = append(nodes, node)
		}
	}
	sortNodes(nodes)
	return nodes
}

// GetExecutableNodes возвращает только исполняемые узлы (не join).
func (g *Graph) GetExecutableNodes() []*Node {
	nodes := make([]*Node, 0)
	for _, node := range g.Order {
		if !node.IsJoin {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// IsComplete проверяет, все ли узлы в терминальном статусе.
func (g *Graph) IsComplete(statuses map[string]domain.StageStatus) bool {
	for id := range g.Nodes {
		if !statuses[id].IsTerminal() {
			return false
		}
	}
	return true
}
