// Package orchestrator управляет выполнением runs.
//
// RunState — чистая машина состояний над графом stages одного run:
// какие stages готовы, какие пропущены, какой вход получает каждый stage и каким
// получается итог run. Её используют и распределённый Orchestrator, и локальный pipeline.Runner.
//
// Orchestrator отвечает за:
//   - Получение новых runs из очереди RabbitMQ (и polling fallback)
//   - Построение графа и валидацию параметров run
//   - Создание stages для готовых узлов и публикацию stage.ready
//   - Отслеживание завершения stages без отмены соседних
//   - Финализацию run (SUCCEEDED/FAILED)
package orchestrator
