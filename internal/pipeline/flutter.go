package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"mobile-build-orchestrator/internal/models"
	"mobile-build-orchestrator/internal/runner"
	"mobile-build-orchestrator/internal/secrets"
	"mobile-build-orchestrator/internal/telemetry"
)

const (
	errFlutterDeps        = "Failed to resolve Flutter dependencies"
	errFlutterBuild       = "Flutter release build failed"
	errFlutterSDKSubmit   = "Flutter SDK is not available; store submission cannot be simulated"
	errPlayAccountMissing = "Google Play service account is not configured for this workspace"
	errPlayAccountDecrypt = "Failed to decrypt the stored Google Play service account"
)

// FlutterPipeline builds release bundles with the Flutter SDK. Builds fall
// back to a simulated artifact without the SDK; submission never does,
// since a fabricated store upload would be meaningless.
type FlutterPipeline struct {
	run      CommandRunner
	creds    CredentialSource
	box      *secrets.Box
	recorder *Recorder
}

// NewFlutterPipeline wires the Flutter-SDK-backed pipeline.
func NewFlutterPipeline(run CommandRunner, creds CredentialSource, box *secrets.Box, recorder *Recorder) *FlutterPipeline {
	return &FlutterPipeline{run: run, creds: creds, box: box, recorder: recorder}
}

// Build resolves dependencies and produces a release bundle per platform.
func (p *FlutterPipeline) Build(ctx context.Context, job models.BuildJob, logs *runner.LogBuffer) Result {
	logs.Append(fmt.Sprintf("Starting Flutter build for platform %s", job.Platform))

	available, version := p.run.CheckTool(ctx, "flutter", "--version")
	if !available {
		return p.simulatedBuild(ctx, job, logs)
	}
	logs.Append("Using " + version)

	deps := p.run.Run(ctx, "flutter", []string{"pub", "get"}, nil)
	logs.Append(deps.Output)
	if !deps.Success {
		logs.Append(errFlutterDeps)
		return fail(errFlutterDeps)
	}

	var artifacts []models.Artifact
	for _, platform := range expandPlatforms(job.Platform) {
		build := p.run.Run(ctx, "flutter", buildArgs(platform), nil)
		logs.Append(build.Output)
		if !build.Success {
			logs.Append(errFlutterBuild)
			return fail(errFlutterBuild)
		}

		path := outputPath(platform)
		art, err := p.recorder.Record(ctx, job.ID, models.ArtifactPackageFile, path, "", map[string]any{
			"platform": platform,
		})
		if err != nil {
			logs.Append("Warning: could not record package artifact: " + err.Error())
			continue
		}
		logs.Append("Release bundle written to " + path)
		artifacts = append(artifacts, art)
	}

	return Result{Success: true, Artifacts: artifacts}
}

// Submit records a submission receipt for the built bundle. Uploading to
// the Play Console needs fastlane tooling that is not modeled here, so the
// receipt is flagged simulated even with the SDK installed.
func (p *FlutterPipeline) Submit(ctx context.Context, job models.BuildJob, logs *runner.LogBuffer) Result {
	logs.Append(fmt.Sprintf("Starting Flutter store submission for platform %s", job.Platform))

	available, _ := p.run.CheckTool(ctx, "flutter", "--version")
	if !available {
		logs.Append(errFlutterSDKSubmit)
		return fail(errFlutterSDKSubmit)
	}

	cred, found, err := p.creds.Credential(ctx, job.Tenant, models.CredentialPlayServiceAccount)
	if err != nil {
		return fail("could not read Play credential: " + err.Error())
	}
	if !found {
		logs.Append(errPlayAccountMissing)
		return fail(errPlayAccountMissing)
	}
	if _, err := p.box.Open(cred.EncryptedPayload); err != nil {
		logs.Append(errPlayAccountDecrypt)
		return fail(errPlayAccountDecrypt)
	}

	telemetry.SimulatedStages.Inc()
	art, err := p.recorder.Record(ctx, job.ID, models.ArtifactSubmissionReceipt, "", "", map[string]any{
		"simulated": true,
		"platform":  job.Platform,
		"track":     "internal",
	})
	if err != nil {
		return fail("could not record submission receipt: " + err.Error())
	}
	logs.Append("Submission receipt recorded; Play Console upload requires fastlane integration")
	return Result{Success: true, Artifacts: []models.Artifact{art}}
}

func (p *FlutterPipeline) simulatedBuild(ctx context.Context, job models.BuildJob, logs *runner.LogBuffer) Result {
	logs.Append("Flutter SDK not installed, recording simulated build")
	telemetry.SimulatedStages.Inc()

	var artifacts []models.Artifact
	for _, platform := range expandPlatforms(job.Platform) {
		path := filepath.Join("artifacts", job.ID, bundleName(platform))
		art, err := p.recorder.Record(ctx, job.ID, models.ArtifactPackageFile, path, "", map[string]any{
			"simulated": true,
			"platform":  platform,
		})
		if err != nil {
			return fail("could not record simulated build artifact: " + err.Error())
		}
		logs.Append("Simulated bundle recorded at " + path)
		artifacts = append(artifacts, art)
	}
	return Result{Success: true, Artifacts: artifacts}
}

func expandPlatforms(platform string) []string {
	if platform == models.PlatformBoth {
		return []string{models.PlatformAndroid, models.PlatformIOS}
	}
	return []string{platform}
}

func buildArgs(platform string) []string {
	if platform == models.PlatformIOS {
		return []string{"build", "ipa", "--release"}
	}
	return []string{"build", "appbundle", "--release"}
}

func outputPath(platform string) string {
	if platform == models.PlatformIOS {
		return "build/ios/ipa/Runner.ipa"
	}
	return "build/app/outputs/bundle/release/app-release.aab"
}

func bundleName(platform string) string {
	if platform == models.PlatformIOS {
		return "Runner.ipa"
	}
	return "app-release.aab"
}
