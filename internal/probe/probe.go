// Package probe запускает внешние команды с жестким таймаутом.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

var (
	// ErrTimeout - команда не завершилась за отведенное время
	ErrTimeout = errors.New("probe timed out")
	// ErrProcess - команда не запустилась или завершилась с ненулевым кодом
	ErrProcess = errors.New("probe process failed")
)

const (
	// DefaultTimeout используется для чтения датчиков и df
	DefaultTimeout = 3 * time.Second

	minPingTimeout     = 5 * time.Second
	pingTimeoutPerEcho = 2 * time.Second

	// waitDelay ограничивает ожидание закрытия pipe после kill
	waitDelay = 500 * time.Millisecond
)

// Command описывает один запуск внешней программы
type Command struct {
	Name    string
	Args    []string
	Timeout time.Duration
}

// String возвращает команду в читаемом виде
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return fmt.Sprintf("%s %v", c.Name, c.Args)
}

// Result содержит результат запуска
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
	Err      error
}

// Failed возвращает true, если запуск нельзя считать успешным
func (r Result) Failed() bool {
	return r.Err != nil
}

// Runner запускает команды. Реализация по умолчанию - ExecRunner.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// ExecRunner запускает команды через os/exec
type ExecRunner struct{}

// NewExecRunner создает Runner на базе os/exec
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run выполняет команду. Зависший процесс убивается по таймауту,
// ошибка возвращается в Result.Err, а не паникой.
func (r *ExecRunner) Run(ctx context.Context, c Command) Result {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.Err = fmt.Errorf("%w: %s after %s", ErrTimeout, c.Name, timeout)
	case err != nil:
		res.Err = fmt.Errorf("%w: %s: %w", ErrProcess, c.Name, err)
	}

	return res
}

// PingTimeout возвращает таймаут для ping: max(5s, 2s * count)
func PingTimeout(count int) time.Duration {
	t := time.Duration(count) * pingTimeoutPerEcho
	if t < minPingTimeout {
		return minPingTimeout
	}
	return t
}
