// services/sandbox.go
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultScriptTimeout  = 30 * time.Second
	DefaultMaxOutputBytes = 64 * 1024
)

// ScriptRunner executes an untrusted generator script and returns its raw
// stdout. Implementations must enforce a hard wall-clock timeout and an
// output-size ceiling; the concrete isolation mechanism is swappable without
// touching the generator's logic.
type ScriptRunner interface {
	Run(ctx context.Context, script string) ([]byte, error)
}

// ProcessRunner runs scripts in a short-lived subprocess with a scrubbed
// environment and a throwaway working directory. The process is killed hard
// when the deadline passes.
type ProcessRunner struct {
	Interpreter    string
	Timeout        time.Duration
	MaxOutputBytes int64

	log *zap.SugaredLogger
}

func NewProcessRunner(interpreter string, timeout time.Duration, maxOutputBytes int64, log *zap.SugaredLogger) *ProcessRunner {
	if interpreter == "" {
		interpreter = "python3"
	}
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	if maxOutputBytes <= 0 {
		maxOutputBytes = DefaultMaxOutputBytes
	}
	return &ProcessRunner{
		Interpreter:    interpreter,
		Timeout:        timeout,
		MaxOutputBytes: maxOutputBytes,
		log:            log,
	}
}

func (r *ProcessRunner) Run(ctx context.Context, script string) ([]byte, error) {
	workDir, err := os.MkdirTemp("", "generator-*")
	if err != nil {
		return nil, &GenerationError{Kind: GenerationExecutionFailed, Detail: "failed to create work dir", Err: err}
	}
	defer os.RemoveAll(workDir)

	scriptPath := filepath.Join(workDir, "generate")
	if err := os.WriteFile(scriptPath, []byte(script), 0o600); err != nil {
		return nil, &GenerationError{Kind: GenerationExecutionFailed, Detail: "failed to write script", Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	// Allow one byte past the ceiling so an over-limit run is detectable
	// without buffering unbounded output.
	stdout := &cappedBuffer{limit: r.MaxOutputBytes + 1}
	stderr := &cappedBuffer{limit: 4 * 1024}

	cmd := exec.CommandContext(runCtx, r.Interpreter, scriptPath)
	cmd.Dir = workDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Scrubbed environment: no inherited secrets or tokens.
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + workDir,
		"LANG=C.UTF-8",
	}

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		r.log.Warnw("generator script killed on timeout",
			"interpreter", r.Interpreter, "timeout", r.Timeout)
		return nil, &GenerationError{
			Kind:   GenerationTimeout,
			Detail: fmt.Sprintf("killed after %s", r.Timeout),
			Err:    runCtx.Err(),
		}
	}
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail = fmt.Sprintf("exit status %d: %s", exitErr.ExitCode(), detail)
		}
		r.log.Warnw("generator script failed",
			"interpreter", r.Interpreter, "elapsed", elapsed, "detail", detail)
		return nil, &GenerationError{Kind: GenerationExecutionFailed, Detail: detail, Err: err}
	}
	if int64(stdout.Len()) > r.MaxOutputBytes {
		return nil, &GenerationError{
			Kind:   GenerationValidationFailed,
			Detail: fmt.Sprintf("output exceeds %d bytes", r.MaxOutputBytes),
		}
	}

	return stdout.Bytes(), nil
}

// cappedBuffer keeps the first limit bytes and silently discards the rest, so
// a runaway script cannot balloon memory while we still learn it went over.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - int64(b.buf.Len())
	if remaining > 0 {
		if int64(len(p)) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) Len() int       { return b.buf.Len() }
func (b *cappedBuffer) Bytes() []byte  { return b.buf.Bytes() }
func (b *cappedBuffer) String() string { return b.buf.String() }
