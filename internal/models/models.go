package models

import (
	"time"
)

// Job lifecycle states persisted in Postgres. A job only moves forward:
// queued -> running -> one of the terminal states.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Build targets. Each target maps to one pipeline implementation.
const (
	TargetExpo    = "expo"
	TargetFlutter = "flutter"
	TargetWebWrap = "webwrap"
)

// Pipeline stages.
const (
	StageBuild  = "build"
	StageSubmit = "submit"
)

// Platforms a job can build for.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
	PlatformBoth    = "both"
)

// Credential kinds stored per tenant.
const (
	CredentialExpoToken          = "expo_token"
	CredentialPlayServiceAccount = "play_service_account"
	CredentialAppleAPIKey        = "apple_api_key"
)

// Artifact kinds produced by pipeline stages.
const (
	ArtifactBuildURL          = "build_url"
	ArtifactPackageFile       = "package_file"
	ArtifactSubmissionReceipt = "submission_receipt"
	ArtifactInstructions      = "instructions_document"
)

// BuildJob represents a build/submit job persisted in Postgres.
type BuildJob struct {
	ID          string     `json:"id"`
	Tenant      string     `json:"tenant"`
	Target      string     `json:"target"`
	Platform    string     `json:"platform"`
	Stage       string     `json:"stage"`
	Status      string     `json:"status"`
	Logs        string     `json:"logs"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Terminal reports whether the job has reached a final state.
func (j BuildJob) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// ValidTarget reports whether t names a known build target.
func ValidTarget(t string) bool {
	switch t {
	case TargetExpo, TargetFlutter, TargetWebWrap:
		return true
	}
	return false
}

// ValidStage reports whether s names a known pipeline stage.
func ValidStage(s string) bool {
	return s == StageBuild || s == StageSubmit
}

// ValidPlatform reports whether p names a known platform.
func ValidPlatform(p string) bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformBoth:
		return true
	}
	return false
}

// Credential is an encrypted tenant credential. The payload is AES-256-GCM,
// formatted iv_hex:authTag_hex:ciphertext_hex. Credentials are written by
// the dashboard and only decrypted transiently inside a pipeline.
type Credential struct {
	ID               string    `json:"id"`
	Tenant           string    `json:"tenant"`
	Type             string    `json:"type"`
	EncryptedPayload string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

// Artifact is a file or URL reference produced by a job stage.
// Rows expire 24 hours after creation; a separate cleanup task deletes them.
type Artifact struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	Kind      string         `json:"kind"`
	Path      *string        `json:"path,omitempty"`
	URL       *string        `json:"url,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// AuditEvent records a job lifecycle transition for the audit trail.
// Metadata never contains secret material.
type AuditEvent struct {
	ID       string         `json:"id"`
	Tenant   string         `json:"tenant"`
	JobID    string         `json:"job_id"`
	Event    string         `json:"event"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Recorded time.Time      `json:"recorded_at"`
}
