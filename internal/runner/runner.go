package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/opsforge/engine/pkg/logger"
	"go.uber.org/zap"
)

// Cmd describes one child process invocation.
type Cmd struct {
	Path string
	Args []string
	Dir  string
	Env  map[string]string
}

// SpawnError means the executable could not be started at all.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %s: %v", e.Path, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError means the process started but exited non-zero. Callers decide
// whether a given code is terminal; terraform plan -detailed-exitcode uses 2
// for "changes present".
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("process exited with code %d", e.Code) }

// Runner spawns external processes and streams their output line by line.
type Runner struct{}

func New() *Runner { return &Runner{} }

// Run executes the command, appending every stdout/stderr line to buf tagged
// with its stream, and returns the exit code. Stdout and stderr are consumed
// concurrently so neither pipe can stall the child. A non-zero exit returns
// the code alongside an *ExitError.
func (r *Runner) Run(ctx context.Context, c Cmd, buf *LogBuffer) (int, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, &SpawnError{Path: c.Path, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, &SpawnError{Path: c.Path, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return -1, &SpawnError{Path: c.Path, Err: err}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			buf.Append(StreamStdout, sc.Text())
		}
	}()
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			buf.Append(StreamStderr, sc.Text())
		}
	}()

	wg.Wait()
	err = cmd.Wait()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			code := ee.ExitCode()
			return code, &ExitError{Code: code}
		}
		return -1, &SpawnError{Path: c.Path, Err: err}
	}
	return 0, nil
}

// RunCapture executes the command and returns its raw stdout, for commands
// whose output is a document rather than a log (terraform show -json).
// Stderr still goes to the log buffer when one is provided.
func (r *Runner) RunCapture(ctx context.Context, c Cmd, buf *LogBuffer) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var out bytes.Buffer
	cmd.Stdout = &out

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, -1, &SpawnError{Path: c.Path, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, -1, &SpawnError{Path: c.Path, Err: err}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			if buf != nil {
				buf.Append(StreamStderr, sc.Text())
			} else {
				logger.L().Debug("process stderr", zap.String("path", c.Path), zap.String("line", sc.Text()))
			}
		}
	}()

	<-done
	err = cmd.Wait()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			code := ee.ExitCode()
			return out.Bytes(), code, &ExitError{Code: code}
		}
		return nil, -1, &SpawnError{Path: c.Path, Err: err}
	}
	return out.Bytes(), 0, nil
}
