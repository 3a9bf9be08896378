package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Executor — интерфейс для выполнения конкретного типа stage.
//
// Реализации: BuildExecutor, TestExecutor, UploadExecutor, ReportExecutor.
//
// ctx уже несёт таймаут stage, если он задан.
type Executor interface {
	Execute(ctx context.Context, stage *domain.Stage) (*ExecutionResult, error)
}

// ExecutionResult — результат выполнения stage.
type ExecutionResult struct {
	// Output — структурированный результат; может быть заполнен и при ошибке.
	Output *domain.StageOutput

	// Error — сообщение об ошибке (логическая ошибка выполнения).
	// Инфраструктурные ошибки возвращаются через error в Execute().
	Error string
}

// Failed возвращает логическую ошибку выполнения.
func Failed(out *domain.StageOutput, format string, args ...any) *ExecutionResult {
	return &ExecutionResult{Output: out, Error: fmt.Sprintf(format, args...)}
}

// Registry — реестр executor'ов по типу stage.
type Registry struct {
	executors map[domain.StageKind]Executor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[domain.StageKind]Executor)}
}

// Register добавляет executor для типа stage.
func (r *Registry) Register(kind domain.StageKind, executor Executor) {
	r.executors[kind] = executor
}

// Get возвращает executor для типа stage.
func (r *Registry) Get(kind domain.StageKind) (Executor, error) {
	executor, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStageKind, kind)
	}
	return executor, nil
}

// Execute выполняет stage подходящим executor'ом.
//
// Таймаут берётся из Input.Timeout, иначе fallback (0 — без таймаута).
// Паника executor'а превращается в ErrExecutorPanic, истёкший таймаут — в логическую
// ошибку "stage timed out after ...".
func (r *Registry) Execute(ctx context.Context, stage *domain.Stage, fallback time.Duration) (res *ExecutionResult, err error) {
	executor, err := r.Get(stage.Kind)
	if err != nil {
		return nil, err
	}

	timeout := stage.Input.Timeout.Std()
	if timeout <= 0 {
		timeout = fallback
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = fmt.Errorf("%w: %v\n%s", ErrExecutorPanic, p, debug.Stack())
		}
	}()

	res, err = executor.Execute(ctx, stage)

	if timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var out *domain.StageOutput
		if res != nil {
			out = res.Output
		}
		return Failed(out, "%v: stage timed out after %s", ErrStageTimeout, timeout), nil
	}
	if err == nil && res == nil {
		res = &ExecutionResult{}
	}
	return res, err
}

// Finish переводит stage в терминальный статус по результату Execute
// и возвращает текст ошибки (пустой при успехе).
func Finish(stage *domain.Stage, res *ExecutionResult, execErr error) string {
	var out *domain.StageOutput
	if res != nil {
		out = res.Output
	}

	switch {
	case execErr != nil:
		stage.MarkFailed(execErr.Error(), out)
		return execErr.Error()
	case res != nil && res.Error != "":
		stage.MarkFailed(res.Error, out)
		return res.Error
	default:
		if out == nil {
			out = &domain.StageOutput{}
		}
		stage.MarkSucceeded(out)
		return ""
	}
}
