// Package engine содержит модель графа pipeline.
//
// Включает:
//   - graph.go    — построение графа build → test fan-out → upload/report и вычисление решений
//   - validate.go — валидация параметров run
//   - matrix.go   — разбор тестовой матрицы из YAML/JSON
//   - template.go — рендеринг командных шаблонов stages ({{ .GitRef }}, {{ .Paths.wheel }})
//
// Engine не выполняет stages: он только отвечает, какие узлы можно запускать,
// какие пропустить и какой статус получает fan-in узел.
package engine
