package sandbox

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

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autodevops/internal/logging"
)

// ErrToolUnavailable is returned when the tool process cannot be launched.
var ErrToolUnavailable = errors.New("tool unavailable")

const (
	// DefaultAnalysisTimeout bounds lint and security scans.
	DefaultAnalysisTimeout = 30 * time.Second
	// DefaultTestTimeout bounds test execution.
	DefaultTestTimeout = 60 * time.Second

	defaultFileName = "artifact"
	waitDelay       = 2 * time.Second
)

// ToolSpec describes one external tool invocation.
//
// In Args, "{file}" is replaced by the artifact path and "{dir}" by the
// invocation directory.
type ToolSpec struct {
	Name     string // short label used in logs and degradation notes
	Command  string
	Args     []string
	FileName string // artifact name inside the invocation directory
	Timeout  time.Duration
	Env      []string // appended to the runner's environment
}

// Result is the outcome of a tool that was started.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// Runner launches tools in per-invocation directories.
type Runner struct {
	baseDir string
	logger  *logging.Logger
}

// NewRunner creates a runner rooted at baseDir. An empty baseDir uses os.TempDir.
func NewRunner(baseDir string, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{baseDir: baseDir, logger: logger.Named("sandbox")}
}

// Run writes content to a fresh artifact, runs the tool against it, and
// removes the artifact. Non-zero exits and timeouts are results, not errors.
func (r *Runner) Run(ctx context.Context, content string, spec ToolSpec) (Result, error) {
	if spec.Command == "" {
		return Result{}, fmt.Errorf("%w: %s: no command configured", ErrToolUnavailable, spec.Name)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultAnalysisTimeout
	}

	dir, err := os.MkdirTemp(r.baseDir, fmt.Sprintf("autodevops-%s-%s-", sanitize(spec.Name), uuid.NewString()))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: creating work dir: %v", ErrToolUnavailable, spec.Name, err)
	}
	defer r.cleanup(ctx, dir)

	fileName := spec.FileName
	if fileName == "" {
		fileName = defaultFileName
	}
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return Result{}, fmt.Errorf("%w: %s: writing artifact: %v", ErrToolUnavailable, spec.Name, err)
	}

	args := make([]string, len(spec.Args))
	for i, a := range spec.Args {
		a = strings.ReplaceAll(a, "{file}", path)
		args[i] = strings.ReplaceAll(a, "{dir}", dir)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, spec.Command, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.WaitDelay = waitDelay
	setupProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		r.logger.Warn(ctx, "tool launch failed", zap.String("tool", spec.Name), zap.Error(err))
		return Result{}, fmt.Errorf("%w: %s: %v", ErrToolUnavailable, spec.Name, err)
	}
	waitErr := cmd.Wait()

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.TimedOut = true
		res.ExitCode = -1
		r.logger.Warn(ctx, "tool timed out",
			zap.String("tool", spec.Name), zap.Duration("timeout", timeout))
		return res, nil
	case ctx.Err() != nil:
		return res, ctx.Err()
	case waitErr == nil:
		res.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("%w: %s: %v", ErrToolUnavailable, spec.Name, waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}

	r.logger.Debug(ctx, "tool finished",
		zap.String("tool", spec.Name),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// cleanup removes the invocation directory. Failures are logged and swallowed.
func (r *Runner) cleanup(ctx context.Context, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		r.logger.Debug(ctx, "work dir cleanup failed", zap.String("dir", dir), zap.Error(err))
	}
}

func sanitize(name string) string {
	if name == "" {
		return "tool"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
