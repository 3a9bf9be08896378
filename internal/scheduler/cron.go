package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// ErrInvalidSchedule — schedule не прошёл валидацию.
var ErrInvalidSchedule = errors.New("invalid schedule")

// minInterval — минимальный интервал между запусками.
const minInterval = 60

// cronParser — парсер cron-выражений из пяти полей, плюс дескрипторы (@nightly, @daily).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ApplyDefaults заполняет пустые поля schedule: UTC, NIGHTLY, main.
func ApplyDefaults(sched *domain.Schedule) {
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}
	if sched.Category == "" {
		sched.Category = domain.CategoryNightly
	}
	if sched.GitRef == "" {
		sched.GitRef = domain.DefaultGitRef
	}
	sched.CronExpr = strings.TrimSpace(sched.CronExpr)
}

// Validate проверяет каденцию, timezone и параметры создаваемых run.
func Validate(sched *domain.Schedule) error {
	var errs []error

	switch {
	case sched.IsCron():
		if err := ValidateCronExpr(sched.CronExpr); err != nil {
			errs = append(errs, err)
		}
	case sched.IntervalSec > 0 && sched.IntervalSec < minInterval:
		errs = append(errs, fmt.Errorf("interval_sec must be at least %d", minInterval))
	case !sched.IsInterval():
		errs = append(errs, errors.New("either cron_expr or interval_sec is required"))
	}

	if _, err := time.LoadLocation(sched.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("unknown timezone %q", sched.Timezone))
	}
	if _, err := domain.ParseCategory(string(sched.Category)); err != nil {
		errs = append(errs, err)
	}
	if err := engine.ValidateGitRef(sched.GitRef); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}
	return nil
}

// CalculateNextDue вычисляет первое время срабатывания строго после from
// в timezone schedule. Результат в UTC.
func CalculateNextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: unknown timezone %q", ErrInvalidSchedule, sched.Timezone)
	}
	local := from.In(loc)

	switch {
	case sched.IsCron():
		spec, err := cronParser.Parse(sched.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", sched.CronExpr, err)
		}
		return spec.Next(local).UTC(), nil
	case sched.IsInterval():
		return local.Add(time.Duration(sched.IntervalSec) * time.Second).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("%w: schedule has neither cron_expr nor interval_sec", ErrInvalidSchedule)
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// CalculateInitialNextDue вычисляет первое время выполнения для нового schedule.
// Используется при создании и изменении schedule через API.
func CalculateInitialNextDue(sched *domain.Schedule) (time.Time, error) {
	return CalculateNextDue(sched, time.Now())
}
