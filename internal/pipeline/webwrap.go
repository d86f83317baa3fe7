package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mobile-build-orchestrator/internal/models"
	"mobile-build-orchestrator/internal/runner"
)

const errWebWrapManualSubmit = "webwrap apps must be submitted to the stores manually"

// WebWrapPipeline is the export-only target: it hands users a build
// instructions document instead of automating the toolchain, unless
// auto-build is enabled, in which case the build is delegated to the
// Flutter pipeline that backs the exported project.
type WebWrapPipeline struct {
	flutter   *FlutterPipeline
	recorder  *Recorder
	autoBuild bool
}

// NewWebWrapPipeline wires the export-only pipeline.
func NewWebWrapPipeline(flutter *FlutterPipeline, recorder *Recorder, autoBuild bool) *WebWrapPipeline {
	return &WebWrapPipeline{flutter: flutter, recorder: recorder, autoBuild: autoBuild}
}

// Build either delegates to the Flutter pipeline (auto-build on) or records
// a human-readable instructions document.
func (p *WebWrapPipeline) Build(ctx context.Context, job models.BuildJob, logs *runner.LogBuffer) Result {
	if p.autoBuild {
		logs.Append("Auto-build enabled, delegating webwrap build to the Flutter pipeline")
		return p.flutter.Build(ctx, job, logs)
	}

	logs.Append("Generating manual build instructions")
	doc := instructionsDocument(job)
	name := fmt.Sprintf("build-instructions-%s.md", job.ID)
	art, err := p.recorder.RecordDocument(ctx, job.ID, models.ArtifactInstructions, name, []byte(doc), map[string]any{
		"platform": job.Platform,
	})
	if err != nil {
		return fail("could not record instructions document: " + err.Error())
	}
	logs.Append("Build instructions ready")
	return Result{Success: true, Artifacts: []models.Artifact{art}}
}

// Submit always fails: this target never automates store submission.
func (p *WebWrapPipeline) Submit(_ context.Context, _ models.BuildJob, logs *runner.LogBuffer) Result {
	logs.Append(errWebWrapManualSubmit)
	return fail(errWebWrapManualSubmit)
}

func instructionsDocument(job models.BuildJob) string {
	steps := []string{
		"Download the exported project from your dashboard.",
		"Install the Flutter SDK (https://flutter.dev/docs/get-started/install).",
		"Run `flutter pub get` in the project root.",
	}
	for _, platform := range expandPlatforms(job.Platform) {
		if platform == models.PlatformIOS {
			steps = append(steps,
				"Build the iOS archive with `flutter build ipa --release` (requires Xcode).",
				"Upload the archive from Xcode Organizer to App Store Connect.")
		} else {
			steps = append(steps,
				"Build the Android bundle with `flutter build appbundle --release`.",
				"Upload the bundle at https://play.google.com/console under Production > Create release.")
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Build instructions for job %s\n\n", job.ID)
	fmt.Fprintf(&b, "Generated %s for platform %s.\n\n", time.Now().UTC().Format(time.RFC3339), job.Platform)
	for i, step := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	b.WriteString("\nThis document expires in 24 hours.\n")
	return b.String()
}
