// Package runner spawns external build tools, captures their combined
// output with redaction, and enforces per-invocation timeouts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const toolCheckTimeout = 10 * time.Second

// RunResult is the outcome of one external process invocation.
type RunResult struct {
	Success bool
	Output  string
	Error   string
}

// Runner executes external tools with a configured per-step timeout.
type Runner struct {
	stepTimeout time.Duration
}

// New creates a Runner. Each invocation is killed after stepTimeout.
func New(stepTimeout time.Duration) *Runner {
	if stepTimeout <= 0 {
		stepTimeout = 10 * time.Minute
	}
	return &Runner{stepTimeout: stepTimeout}
}

// Run spawns name with args, merging stdout and stderr into one redacted
// stream. Extra environment variables are appended to the inherited
// environment; this is the only channel through which credentials reach a
// tool. The process is killed if it outlives the step timeout.
func (r *Runner) Run(ctx context.Context, name string, args []string, env map[string]string) RunResult {
	cctx, cancel := context.WithTimeout(ctx, r.stepTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	out, err := cmd.CombinedOutput()
	result := RunResult{Output: Redact(string(out))}
	if err == nil {
		result.Success = true
		return result
	}

	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		result.Error = fmt.Sprintf("timed out after %s", r.stepTimeout)
		return result
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.Error = fmt.Sprintf("Exit code %d", exitErr.ExitCode())
		return result
	}
	result.Error = err.Error()
	return result
}

// CheckTool probes whether a tool is installed by running it with a version
// flag under a short timeout. Spawn failures mean "unavailable", not an
// error; the reported version is the first output line.
func (r *Runner) CheckTool(ctx context.Context, name, versionArg string) (bool, string) {
	cctx, cancel := context.WithTimeout(ctx, toolCheckTimeout)
	defer cancel()

	out, err := exec.CommandContext(cctx, name, versionArg).CombinedOutput()
	if err != nil {
		return false, ""
	}
	version := strings.TrimSpace(string(out))
	if i := strings.IndexByte(version, '\n'); i >= 0 {
		version = strings.TrimSpace(version[:i])
	}
	return true, version
}
