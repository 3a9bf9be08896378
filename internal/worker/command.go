package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// maxLogTail — сколько последних байт вывода команды сохраняется в StageOutput.Log.
const maxLogTail = 16 << 10

// Command — вызов внешнего инструмента.
type Command struct {
	Name string
	Args []string

	// Dir — рабочий каталог.
	Dir string

	// Env — дополнительные переменные окружения "KEY=VALUE" поверх окружения процесса.
	Env []string
}

// String возвращает команду в виде строки для логов.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// CommandResult — результат выполнения команды.
type CommandResult struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

// CommandRunner запускает внешние процессы.
//
// Ненулевой код выхода — не ошибка: он возвращается в CommandResult.ExitCode.
// Ошибка означает, что команда не запустилась или была прервана контекстом.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (CommandResult, error)
}

// ExecRunner — CommandRunner на os/exec.
type ExecRunner struct {
	// WaitDelay — сколько ждать процесс после отмены контекста, прежде чем убить его.
	WaitDelay time.Duration
}

// Run запускает команду и собирает объединённый stdout/stderr.
func (r ExecRunner) Run(ctx context.Context, c Command) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 10 * time.Second
	}

	out := &tailBuffer{max: maxLogTail}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	err := cmd.Run()
	res := CommandResult{Output: out.String(), Duration: time.Since(start)}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", c.Name, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("run %s: %w", c.Name, err)
	}
	return res, nil
}

// tailBuffer хранит только последние max байт записанного.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if len(p) > b.max {
		p = p[len(p)-b.max:]
	}
	b.buf.Write(p)
	if over := b.buf.Len() - b.max; over > 0 {
		b.buf.Next(over)
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
