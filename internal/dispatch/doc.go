// Package dispatch превращает триггер (расписание или ручной запуск) в run.
//
// Категория по умолчанию NIGHTLY, ref по умолчанию main. Плановые и ночные run
// всегда используют NightlyTestConfigs; для остальных матрицу передаёт вызывающий.
// Созданный run больше не меняет параметров запуска.
package dispatch
