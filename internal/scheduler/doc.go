// Package scheduler запускает плановые run.
//
// Scheduler периодически находит schedules с истекшим next_due_at и передаёт
// Dispatcher'у SCHEDULE-триггер. Плановые run всегда получают ночную матрицу тестов.
// Ключ идемпотентности "{schedule_id}_{next_due_at_unix}" не даёт создать два run
// на одно срабатывание.
//
// Структура:
//   - scheduler.go — цикл Run, Tick и обработка одного schedule
//   - cron.go      — валидация schedules и вычисление следующего срабатывания
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Schedules:  scheduleRepo,
//	    Dispatcher: dispatcher,
//	    Leader:     repo.NewLeaderLock(pool, lockKey),
//	    Logger:     logger,
//	})
//	sched.Run(ctx)
//
// Leader Election:
//
// Тик выполняет только экземпляр, который держит pg advisory lock
// (repo.LeaderLock). Остальные экземпляры ждут и пробуют взять lock на каждом тике.
package scheduler
