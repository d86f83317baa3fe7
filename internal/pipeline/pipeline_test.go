package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"

	"mobile-build-orchestrator/internal/models"
	"mobile-build-orchestrator/internal/runner"
	"mobile-build-orchestrator/internal/secrets"
)

const testKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"

// fakeRunner scripts tool availability and command results, and captures
// every invocation for assertions.
type fakeRunner struct {
	available bool
	version   string
	results   []runner.RunResult

	calls []capturedCall
}

type capturedCall struct {
	name string
	args []string
	env  map[string]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string, env map[string]string) runner.RunResult {
	f.calls = append(f.calls, capturedCall{name: name, args: args, env: env})
	if len(f.results) == 0 {
		return runner.RunResult{Success: true, Output: "ok"}
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res
}

func (f *fakeRunner) CheckTool(_ context.Context, _, _ string) (bool, string) {
	return f.available, f.version
}

// memArtifacts collects artifact rows in memory.
type memArtifacts struct {
	mu   sync.Mutex
	rows []models.Artifact
}

func (m *memArtifacts) CreateArtifact(_ context.Context, a models.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, a)
	return nil
}

// fakeCreds serves encrypted credentials keyed by type.
type fakeCreds struct {
	byType map[string]string
}

func (f *fakeCreds) Credential(_ context.Context, tenant, credType string) (models.Credential, bool, error) {
	payload, ok := f.byType[credType]
	if !ok {
		return models.Credential{}, false, nil
	}
	return models.Credential{Tenant: tenant, Type: credType, EncryptedPayload: payload}, true, nil
}

func testBox(t *testing.T) *secrets.Box {
	t.Helper()
	box, err := secrets.NewBox(testKeyHex)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	return box
}

func sealed(t *testing.T, box *secrets.Box, plaintext string) string {
	t.Helper()
	payload, err := box.Seal(plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	return payload
}

func testJob(target, stage string) models.BuildJob {
	return models.BuildJob{
		ID:       "job-1",
		Tenant:   "acme",
		Target:   target,
		Platform: models.PlatformAndroid,
		Stage:    stage,
		Status:   models.StatusRunning,
	}
}

func TestExpoBuildSimulatedWhenCLIUnavailable(t *testing.T) {
	box := testBox(t)
	creds := &fakeCreds{byType: map[string]string{
		models.CredentialExpoToken: sealed(t, box, "tok"),
	}}
	arts := &memArtifacts{}
	p := NewExpoPipeline(&fakeRunner{available: false}, creds, box, NewRecorderWithStore(arts))

	logs := runner.NewLogBuffer(100)
	res := p.Build(context.Background(), testJob(models.TargetExpo, models.StageBuild), logs)

	if !res.Success {
		t.Fatalf("expected simulated success, got error %q", res.Error)
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("expected one artifact, got %d", len(res.Artifacts))
	}
	art := res.Artifacts[0]
	if art.Kind != models.ArtifactBuildURL {
		t.Fatalf("unexpected artifact kind %q", art.Kind)
	}
	if sim, _ := art.Metadata["simulated"].(bool); !sim {
		t.Fatalf("artifact not flagged simulated: %+v", art.Metadata)
	}
	if art.URL == nil || !strings.Contains(*art.URL, "expo.dev") {
		t.Fatalf("expected tracking URL, got %+v", art.URL)
	}
}

func TestExpoBuildMissingCredential(t *testing.T) {
	box := testBox(t)
	p := NewExpoPipeline(&fakeRunner{available: true}, &fakeCreds{byType: map[string]string{}}, box, NewRecorderWithStore(&memArtifacts{}))

	res := p.Build(context.Background(), testJob(models.TargetExpo, models.StageBuild), runner.NewLogBuffer(100))
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != errExpoTokenMissing {
		t.Fatalf("unexpected error: %q", res.Error)
	}
}

func TestExpoBuildDecryptFailureIsDistinct(t *testing.T) {
	box := testBox(t)
	creds := &fakeCreds{byType: map[string]string{
		models.CredentialExpoToken: "aa:bb:cc",
	}}
	p := NewExpoPipeline(&fakeRunner{available: true}, creds, box, NewRecorderWithStore(&memArtifacts{}))

	res := p.Build(context.Background(), testJob(models.TargetExpo, models.StageBuild), runner.NewLogBuffer(100))
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != errExpoTokenDecrypt {
		t.Fatalf("unexpected error: %q", res.Error)
	}
	if res.Error == errExpoTokenMissing {
		t.Fatal("decrypt failure must be distinct from missing credential")
	}
}

func TestExpoBuildInjectsTokenViaEnvOnly(t *testing.T) {
	box := testBox(t)
	creds := &fakeCreds{byType: map[string]string{
		models.CredentialExpoToken: sealed(t, box, "secret-token"),
	}}
	run := &fakeRunner{
		available: true,
		version:   "eas-cli/13.1.0",
		results: []runner.RunResult{
			{Success: true, Output: `[{"id": "b1b2c3", "status": "new"}]`},
		},
	}
	arts := &memArtifacts{}
	p := NewExpoPipeline(run, creds, box, NewRecorderWithStore(arts))

	logs := runner.NewLogBuffer(100)
	res := p.Build(context.Background(), testJob(models.TargetExpo, models.StageBuild), logs)
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}

	if len(run.calls) != 1 {
		t.Fatalf("expected one eas invocation, got %d", len(run.calls))
	}
	call := run.calls[0]
	if call.env["EXPO_TOKEN"] != "secret-token" {
		t.Fatal("token missing from process environment")
	}
	for _, arg := range call.args {
		if strings.Contains(arg, "secret-token") {
			t.Fatalf("token leaked into argument vector: %v", call.args)
		}
	}
	if strings.Contains(logs.String(), "secret-token") {
		t.Fatal("token leaked into logs")
	}

	if len(res.Artifacts) != 1 || res.Artifacts[0].URL == nil {
		t.Fatalf("expected one URL artifact, got %+v", res.Artifacts)
	}
	if !strings.Contains(*res.Artifacts[0].URL, "b1b2c3") {
		t.Fatalf("build id not reflected in artifact URL: %s", *res.Artifacts[0].URL)
	}
}

func TestExpoBuildToleratesUnparsableOutput(t *testing.T) {
	box := testBox(t)
	creds := &fakeCreds{byType: map[string]string{
		models.CredentialExpoToken: sealed(t, box, "tok"),
	}}
	run := &fakeRunner{
		available: true,
		results:   []runner.RunResult{{Success: true, Output: "Build started!\nSee dashboard."}},
	}
	p := NewExpoPipeline(run, creds, box, NewRecorderWithStore(&memArtifacts{}))

	res := p.Build(context.Background(), testJob(models.TargetExpo, models.StageBuild), runner.NewLogBuffer(100))
	if !res.Success {
		t.Fatalf("unparsable output must not fail the stage: %q", res.Error)
	}
	if len(res.Artifacts) != 0 {
		t.Fatalf("expected no artifacts without a build id, got %d", len(res.Artifacts))
	}
}

func TestFlutterBuildSimulatedWhenSDKUnavailable(t *testing.T) {
	box := testBox(t)
	arts := &memArtifacts{}
	p := NewFlutterPipeline(&fakeRunner{available: false}, &fakeCreds{}, box, NewRecorderWithStore(arts))

	res := p.Build(context.Background(), testJob(models.TargetFlutter, models.StageBuild), runner.NewLogBuffer(100))
	if !res.Success {
		t.Fatalf("expected simulated success, got %q", res.Error)
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("expected one artifact, got %d", len(res.Artifacts))
	}
	art := res.Artifacts[0]
	if art.Kind != models.ArtifactPackageFile {
		t.Fatalf("unexpected kind %q", art.Kind)
	}
	if sim, _ := art.Metadata["simulated"].(bool); !sim {
		t.Fatal("artifact not flagged simulated")
	}
	if art.Path == nil || !strings.HasSuffix(*art.Path, "app-release.aab") {
		t.Fatalf("unexpected artifact path: %+v", art.Path)
	}
}

func TestFlutterBuildBothPlatformsRunsBothBuilds(t *testing.T) {
	box := testBox(t)
	run := &fakeRunner{available: true, version: "Flutter 3.24.0"}
	p := NewFlutterPipeline(run, &fakeCreds{}, box, NewRecorderWithStore(&memArtifacts{}))

	job := testJob(models.TargetFlutter, models.StageBuild)
	job.Platform = models.PlatformBoth
	res := p.Build(context.Background(), job, runner.NewLogBuffer(100))
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	// pub get + appbundle + ipa
	if len(run.calls) != 3 {
		t.Fatalf("expected 3 invocations, got %d", len(run.calls))
	}
	if len(res.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(res.Artifacts))
	}
}

func TestFlutterBuildDependencyFailure(t *testing.T) {
	box := testBox(t)
	run := &fakeRunner{
		available: true,
		results:   []runner.RunResult{{Success: false, Output: "pub get failed", Error: "Exit code 1"}},
	}
	p := NewFlutterPipeline(run, &fakeCreds{}, box, NewRecorderWithStore(&memArtifacts{}))

	res := p.Build(context.Background(), testJob(models.TargetFlutter, models.StageBuild), runner.NewLogBuffer(100))
	if res.Success || res.Error != errFlutterDeps {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFlutterSubmitHardFailsWithoutSDK(t *testing.T) {
	box := testBox(t)
	p := NewFlutterPipeline(&fakeRunner{available: false}, &fakeCreds{}, box, NewRecorderWithStore(&memArtifacts{}))

	res := p.Submit(context.Background(), testJob(models.TargetFlutter, models.StageSubmit), runner.NewLogBuffer(100))
	if res.Success {
		t.Fatal("submission must not be simulated without the SDK")
	}
	if res.Error != errFlutterSDKSubmit {
		t.Fatalf("unexpected error: %q", res.Error)
	}
}

func TestFlutterSubmitRequiresPlayCredential(t *testing.T) {
	box := testBox(t)
	p := NewFlutterPipeline(&fakeRunner{available: true}, &fakeCreds{byType: map[string]string{}}, box, NewRecorderWithStore(&memArtifacts{}))

	res := p.Submit(context.Background(), testJob(models.TargetFlutter, models.StageSubmit), runner.NewLogBuffer(100))
	if res.Success || res.Error != errPlayAccountMissing {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFlutterSubmitRecordsSimulatedReceipt(t *testing.T) {
	box := testBox(t)
	creds := &fakeCreds{byType: map[string]string{
		models.CredentialPlayServiceAccount: sealed(t, box, `{"type":"service_account"}`),
	}}
	p := NewFlutterPipeline(&fakeRunner{available: true}, creds, box, NewRecorderWithStore(&memArtifacts{}))

	res := p.Submit(context.Background(), testJob(models.TargetFlutter, models.StageSubmit), runner.NewLogBuffer(100))
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].Kind != models.ArtifactSubmissionReceipt {
		t.Fatalf("expected a submission receipt, got %+v", res.Artifacts)
	}
	if sim, _ := res.Artifacts[0].Metadata["simulated"].(bool); !sim {
		t.Fatal("receipt not flagged simulated")
	}
}

func TestWebWrapBuildRecordsInstructions(t *testing.T) {
	box := testBox(t)
	arts := &memArtifacts{}
	rec := &Recorder{store: arts, local: &localUploader{baseDir: t.TempDir()}}
	flutter := NewFlutterPipeline(&fakeRunner{available: false}, &fakeCreds{}, box, rec)
	p := NewWebWrapPipeline(flutter, rec, false)

	res := p.Build(context.Background(), testJob(models.TargetWebWrap, models.StageBuild), runner.NewLogBuffer(100))
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].Kind != models.ArtifactInstructions {
		t.Fatalf("expected an instructions document, got %+v", res.Artifacts)
	}
	if res.Artifacts[0].Path == nil {
		t.Fatal("expected a local document path")
	}
}

func TestWebWrapAutoBuildDelegatesToFlutter(t *testing.T) {
	box := testBox(t)
	arts := &memArtifacts{}
	rec := NewRecorderWithStore(arts)
	flutter := NewFlutterPipeline(&fakeRunner{available: false}, &fakeCreds{}, box, rec)
	p := NewWebWrapPipeline(flutter, rec, true)

	res := p.Build(context.Background(), testJob(models.TargetWebWrap, models.StageBuild), runner.NewLogBuffer(100))
	if !res.Success {
		t.Fatalf("expected delegated simulated build to succeed, got %q", res.Error)
	}
	// Delegation reaches the Flutter pipeline, which records a package file.
	if len(res.Artifacts) != 1 || res.Artifacts[0].Kind != models.ArtifactPackageFile {
		t.Fatalf("expected a package artifact from delegation, got %+v", res.Artifacts)
	}
}

func TestWebWrapSubmitAlwaysManual(t *testing.T) {
	box := testBox(t)
	rec := NewRecorderWithStore(&memArtifacts{})
	flutter := NewFlutterPipeline(&fakeRunner{available: true}, &fakeCreds{}, box, rec)
	p := NewWebWrapPipeline(flutter, rec, true)

	res := p.Submit(context.Background(), testJob(models.TargetWebWrap, models.StageSubmit), runner.NewLogBuffer(100))
	if res.Success || res.Error != errWebWrapManualSubmit {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestArtifactExpiryIs24Hours(t *testing.T) {
	arts := &memArtifacts{}
	rec := NewRecorderWithStore(arts)
	art, err := rec.Record(context.Background(), "job-1", models.ArtifactBuildURL, "", "https://example.com", nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	ttl := art.ExpiresAt.Sub(art.CreatedAt)
	if ttl != artifactTTL {
		t.Fatalf("expected 24h expiry, got %s", ttl)
	}
}
