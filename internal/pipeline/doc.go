// Package pipeline выполняет run целиком в одном процессе.
//
// Runner использует тот же граф и ту же машину состояний (orchestrator.RunState),
// что и распределённый Orchestrator, и те же executor'ы (worker.Registry), но без
// очередей и БД. Им пользуются `conveyor-cli run local` и тесты.
//
// Тестовые конфигурации выполняются параллельно (errgroup с лимитом), каждая со
// своим таймаутом; паника или провал одной конфигурации не затрагивает остальные.
// Report выполняется всегда: если run прерван до него, отложенный обработчик
// запускает его на контексте без отмены.
package pipeline
