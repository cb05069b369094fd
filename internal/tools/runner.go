package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// tailSize bounds how much stderr is kept in memory for classification.
const tailSize = 16 << 10

// Result is the outcome of one subprocess.
type Result struct {
	ExitCode int
	// Tail is the end of the process's stderr.
	Tail string
}

// Runner executes one external command. A non-zero exit is reported in the
// Result; err is reserved for commands that could not run at all or were
// cancelled.
type Runner interface {
	Run(ctx context.Context, argv []string, logPath string) (Result, error)
}

// ProcessRunner runs commands as subprocesses in their own process group so a
// cancelled run kills shell pipelines completely.
type ProcessRunner struct {
	// Dir is the working directory for commands; empty means the current one.
	Dir string
}

// Run starts argv, appends its stdout and stderr to logPath and waits for it.
func (r ProcessRunner) Run(ctx context.Context, argv []string, logPath string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("empty command")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return Result{}, err
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Result{}, fmt.Errorf("opening task log: %w", err)
	}
	defer logFile.Close()

	fmt.Fprintf(logFile, "# %s %s\n", time.Now().UTC().Format(time.RFC3339), strings.Join(argv, " "))

	tail := &tailBuffer{max: tailSize}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	cmd.Stdout = logFile
	cmd.Stderr = io.MultiWriter(logFile, tail)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1, Tail: err.Error()}, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		// Kill the whole group (negative pid) and wait for it to go away.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return Result{ExitCode: -1, Tail: tail.String()}, fmt.Errorf("execution cancelled: %w", ctx.Err())
	case err = <-done:
	}

	res := Result{Tail: tail.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{ExitCode: -1, Tail: err.Error()}, fmt.Errorf("failed to execute %s: %w", argv[0], err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
