// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler и интерфейсы хранилищ
//   - routes.go           — регистрация маршрутов и /healthz
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - run_handler.go      — ручной запуск и просмотр runs и stages
//   - schedule_handler.go — CRUD для /schedules
package api
