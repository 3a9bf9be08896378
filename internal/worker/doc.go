// Package worker выполняет отдельные stages pipeline.
//
// # Обзор
//
// Worker — stateless компонент системы Conveyor. Он получает stage из очереди
// stages.ready (или находит его polling'ом), атомарно забирает его (QUEUED → RUNNING),
// выполняет executor'ом по типу stage и сохраняет результат, после чего публикует
// stages.completed. Workers масштабируются горизонтально.
//
// # Executors
//
//   - BuildExecutor — checkout по git ref, сборка пакета, сохранение единственного артефакта
//   - TestExecutor — окружение интерпретатора конфигурации, установка артефакта, тестовый набор,
//     JUnit и coverage отчёты
//   - UploadExecutor — публикация артефакта в индекс пакетов, только если у run включён push
//   - ReportExecutor — отправка документа в сервис отчётов
//
// Внешние инструменты вызываются через CommandRunner по шаблонам Commands;
// executor'ы не знают деталей сборки или тестового инструмента.
//
// # Ошибки
//
// Пакет различает два уровня ошибок:
//   - Инфраструктурные (error от Execute) — хранилище недоступно, команда не запустилась
//   - Логические (ExecutionResult.Error) — ненулевой код выхода, таймаут, отказ сервиса отчётов
//
// Оба уровня заканчиваются статусом FAILED; повторов нет.
package worker
