// Package repo содержит Postgres-репозитории runs, stages и schedules на pgxpool.
//
// Входные и выходные параметры stages хранятся в JSONB как есть,
// поэтому структура StageInput/StageOutput не требует миграций при расширении.
package repo
