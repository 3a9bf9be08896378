// Package cli реализует инструмент командной строки Conveyor.
//
// # Обзор
//
// Большинство команд работают через HTTP API (Client) и не трогают базу
// или брокер напрямую. Исключение: `run local`, которая выполняет pipeline
// в текущем процессе через pipeline.Runner, без API и RabbitMQ.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Conveyor API. Инкапсулирует запросы, парсинг ответов
// (DataResponse, ListResponse, ErrorResponse) и превращает ответы с ошибкой в *APIError.
//
//	client := cli.NewClient("http://localhost:8080")
//	runs, err := client.ListRuns(ctx, cli.ListRunsOpts{Category: "NIGHTLY"})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: conveyor run list --json | jq .
//
// ## Commands
//
//   - run: dispatch, list, show, stages, local
//   - schedule: list, create, show, update, delete, enable, disable
//
// Группы создаются фабриками (NewRunCmd, NewScheduleCmd), которые получают
// clientFn и outputFn — замыкания для ленивого создания Client и Output
// после парсинга PersistentFlags.
package cli
