// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - run.pending      — новый run ожидает выполнения
//   - stage.ready      — stage готов к выполнению
//   - stage.completed  — stage завершён
//
// Exchanges:
//   - conveyor.runs    — события runs
//   - conveyor.stages  — события stages
//   - conveyor.dlq     — dead letter queue
package mq
