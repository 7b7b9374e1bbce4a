package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
)

const (
	// DefaultShell interprets command lines
	DefaultShell = "/bin/sh"

	// Grace period between context cancellation and forcibly closing pipes
	defaultWaitDelay = 2 * time.Second
)

// Result holds the outcome of one command run
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner runs a shell command line to completion
type Runner interface {
	// Run executes commandLine in workDir (the current directory when empty).
	// A non-zero exit status is reported in Result, not as an error.
	Run(ctx context.Context, commandLine, workDir string) (Result, error)
}

// ShellRunner implements Runner using os/exec and a POSIX shell
type ShellRunner struct {
	Shell string
	// MaxOutput caps each captured stream in bytes. Zero means unlimited.
	MaxOutput int
}

// NewShellRunner creates a runner backed by /bin/sh
func NewShellRunner() *ShellRunner {
	return &ShellRunner{Shell: DefaultShell}
}

// Run implements Runner
func (r *ShellRunner) Run(ctx context.Context, commandLine, workDir string) (Result, error) {
	shell := r.Shell
	if shell == "" {
		shell = DefaultShell
	}

	cmd := exec.CommandContext(ctx, shell, "-c", commandLine)
	cmd.Dir = workDir
	cmd.WaitDelay = defaultWaitDelay

	stdoutBuf := limitedBuffer{limit: r.MaxOutput}
	stderrBuf := limitedBuffer{limit: r.MaxOutput}
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	runErr := cmd.Run()

	result := Result{
		ExitCode: exitCode(runErr),
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}

	if runErr == nil {
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) && result.ExitCode >= 0 {
		return result, nil
	}

	return result, fmt.Errorf("%w: failed to start %q: %v", types.ErrSourceUnavailable, commandLine, runErr)
}

// exitCode extracts the exit code from an exec error
func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}

// limitedBuffer is a buffer that stops accepting writes after reaching a size limit
type limitedBuffer struct {
	bytes.Buffer
	limit int
}

// Write implements io.Writer with a size limit
func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.Buffer.Write(p)
	}

	remaining := b.limit - b.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if remaining < len(p) {
		_, err := b.Buffer.Write(p[:remaining])
		return len(p), err
	}

	return b.Buffer.Write(p)
}
