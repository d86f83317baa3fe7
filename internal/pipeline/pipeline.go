// Package pipeline implements the target-specific build/submit pipelines.
// Each pipeline shells out through the runner when its toolchain is
// installed and falls back to a clearly flagged simulated result when it is
// not, so the platform keeps working in sandboxed environments.
package pipeline

import (
	"context"

	"mobile-build-orchestrator/internal/models"
	"mobile-build-orchestrator/internal/runner"
)

// Result is the uniform outcome contract shared by all pipelines.
type Result struct {
	Success   bool
	Error     string
	Artifacts []models.Artifact
}

// Pipeline is the uniform build/submit capability of one target.
type Pipeline interface {
	Build(ctx context.Context, job models.BuildJob, logs *runner.LogBuffer) Result
	Submit(ctx context.Context, job models.BuildJob, logs *runner.LogBuffer) Result
}

// CommandRunner abstracts the process runner so pipelines can be tested
// without spawning real toolchains.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, env map[string]string) runner.RunResult
	CheckTool(ctx context.Context, name, versionArg string) (bool, string)
}

// CredentialSource reads a tenant's stored credentials.
type CredentialSource interface {
	Credential(ctx context.Context, tenant, credType string) (models.Credential, bool, error)
}

func fail(msg string) Result {
	return Result{Success: false, Error: msg}
}
