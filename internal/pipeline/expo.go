package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mobile-build-orchestrator/internal/models"
	"mobile-build-orchestrator/internal/runner"
	"mobile-build-orchestrator/internal/secrets"
	"mobile-build-orchestrator/internal/telemetry"
)

const (
	errExpoTokenMissing = "Expo access token is not configured for this workspace"
	errExpoTokenDecrypt = "Failed to decrypt the stored Expo access token"
)

// ExpoPipeline builds and submits through the EAS CLI. The tenant's Expo
// access token is injected as EXPO_TOKEN; it never appears in argument
// lists or logs.
type ExpoPipeline struct {
	run      CommandRunner
	creds    CredentialSource
	box      *secrets.Box
	recorder *Recorder
}

// NewExpoPipeline wires the EAS-backed pipeline.
func NewExpoPipeline(run CommandRunner, creds CredentialSource, box *secrets.Box, recorder *Recorder) *ExpoPipeline {
	return &ExpoPipeline{run: run, creds: creds, box: box, recorder: recorder}
}

// Build starts an EAS build, or records a simulated build when the CLI is
// not installed.
func (p *ExpoPipeline) Build(ctx context.Context, job models.BuildJob, logs *runner.LogBuffer) Result {
	logs.Append(fmt.Sprintf("Starting Expo build for platform %s", job.Platform))

	token, res := p.accessToken(ctx, job, logs)
	if res != nil {
		return *res
	}

	available, version := p.run.CheckTool(ctx, "eas", "--version")
	if !available {
		return p.simulatedBuild(ctx, job, logs)
	}
	logs.Append("Using EAS CLI " + version)

	args := []string{"build", "--platform", expoPlatform(job.Platform), "--non-interactive", "--no-wait", "--json"}
	out := p.run.Run(ctx, "eas", args, map[string]string{"EXPO_TOKEN": token})
	logs.Append(out.Output)
	if !out.Success {
		return fail("EAS build failed: " + out.Error)
	}

	var artifacts []models.Artifact
	if buildID := parseEASBuildID(out.Output); buildID != "" {
		url := fmt.Sprintf("https://expo.dev/accounts/%s/builds/%s", job.Tenant, buildID)
		art, err := p.recorder.Record(ctx, job.ID, models.ArtifactBuildURL, "", url, map[string]any{
			"platform": job.Platform,
			"buildId":  buildID,
		})
		if err != nil {
			logs.Append("Warning: could not record build artifact: " + err.Error())
		} else {
			logs.Append("Build queued on EAS: " + url)
			artifacts = append(artifacts, art)
		}
	} else {
		// EAS output changes between CLI releases; an unparsable response
		// is logged but does not fail the stage.
		logs.Append("Build started, but the EAS response could not be parsed for a build id")
	}

	return Result{Success: true, Artifacts: artifacts}
}

// Submit pushes the latest build to the stores via eas submit. Like Build,
// it degrades to a simulated receipt when the CLI is absent.
func (p *ExpoPipeline) Submit(ctx context.Context, job models.BuildJob, logs *runner.LogBuffer) Result {
	logs.Append(fmt.Sprintf("Starting Expo store submission for platform %s", job.Platform))

	token, res := p.accessToken(ctx, job, logs)
	if res != nil {
		return *res
	}

	available, version := p.run.CheckTool(ctx, "eas", "--version")
	if !available {
		logs.Append("EAS CLI not installed, recording simulated submission")
		telemetry.SimulatedStages.Inc()
		art, err := p.recorder.Record(ctx, job.ID, models.ArtifactSubmissionReceipt, "", "", map[string]any{
			"simulated": true,
			"platform":  job.Platform,
		})
		if err != nil {
			return fail("could not record submission receipt: " + err.Error())
		}
		return Result{Success: true, Artifacts: []models.Artifact{art}}
	}
	logs.Append("Using EAS CLI " + version)

	args := []string{"submit", "--platform", expoPlatform(job.Platform), "--latest", "--non-interactive"}
	out := p.run.Run(ctx, "eas", args, map[string]string{"EXPO_TOKEN": token})
	logs.Append(out.Output)
	if !out.Success {
		return fail("EAS submit failed: " + out.Error)
	}

	art, err := p.recorder.Record(ctx, job.ID, models.ArtifactSubmissionReceipt, "", "", map[string]any{
		"platform": job.Platform,
	})
	if err != nil {
		logs.Append("Warning: could not record submission receipt: " + err.Error())
		return Result{Success: true}
	}
	return Result{Success: true, Artifacts: []models.Artifact{art}}
}

// accessToken fetches and decrypts the tenant's Expo token. A missing
// credential and a failed decryption are distinct user-facing failures.
func (p *ExpoPipeline) accessToken(ctx context.Context, job models.BuildJob, logs *runner.LogBuffer) (string, *Result) {
	cred, found, err := p.creds.Credential(ctx, job.Tenant, models.CredentialExpoToken)
	if err != nil {
		r := fail("could not read Expo credential: " + err.Error())
		return "", &r
	}
	if !found {
		logs.Append(errExpoTokenMissing)
		r := fail(errExpoTokenMissing)
		return "", &r
	}
	token, err := p.box.Open(cred.EncryptedPayload)
	if err != nil {
		logs.Append(errExpoTokenDecrypt)
		r := fail(errExpoTokenDecrypt)
		return "", &r
	}
	return token, nil
}

func (p *ExpoPipeline) simulatedBuild(ctx context.Context, job models.BuildJob, logs *runner.LogBuffer) Result {
	logs.Append("EAS CLI not installed, recording simulated build")
	telemetry.SimulatedStages.Inc()

	buildID := uuid.New().String()
	url := fmt.Sprintf("https://expo.dev/accounts/%s/builds/%s", job.Tenant, buildID)
	art, err := p.recorder.Record(ctx, job.ID, models.ArtifactBuildURL, "", url, map[string]any{
		"simulated": true,
		"platform":  job.Platform,
		"buildId":   buildID,
	})
	if err != nil {
		return fail("could not record simulated build artifact: " + err.Error())
	}
	logs.Append("Simulated build tracked at " + url)
	return Result{Success: true, Artifacts: []models.Artifact{art}}
}

func expoPlatform(platform string) string {
	if platform == models.PlatformBoth {
		return "all"
	}
	return platform
}

// parseEASBuildID extracts a build id from `eas build --json` output, which
// is a JSON array of build descriptors. Returns "" when the output cannot
// be parsed.
func parseEASBuildID(output string) string {
	start := strings.IndexAny(output, "[{")
	if start < 0 {
		return ""
	}
	raw := []byte(output[start:])

	var list []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0].ID
	}
	var single struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &single); err == nil {
		return single.ID
	}
	return ""
}
