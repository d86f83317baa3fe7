package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"mobile-build-orchestrator/internal/config"
	"mobile-build-orchestrator/internal/models"
)

// Artifacts expire 24 hours after creation; a separate cleanup task
// removes the rows and any backing objects.
const artifactTTL = 24 * time.Hour

// ArtifactStore persists artifact rows.
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, a models.Artifact) error
}

type documentUploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Recorder persists artifact references produced by pipeline stages and,
// for document artifacts, stores the content locally or in S3.
type Recorder struct {
	store ArtifactStore
	local documentUploader
	s3    documentUploader
}

// NewRecorder constructs the recorder, wiring an S3 uploader when a bucket
// is configured and a local-directory uploader otherwise.
func NewRecorder(ctx context.Context, cfg config.Config, store ArtifactStore) (*Recorder, error) {
	rec := &Recorder{
		store: store,
		local: &localUploader{baseDir: cfg.ArtifactDir},
	}
	if cfg.ArtifactS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rec.s3 = &s3Uploader{client: client, bucket: cfg.ArtifactS3Bucket}
	}
	return rec, nil
}

// NewRecorderWithStore builds a recorder without any uploader, for tests
// and for callers that only record path/URL references.
func NewRecorderWithStore(store ArtifactStore) *Recorder {
	return &Recorder{store: store}
}

// Record persists a file/URL artifact reference with the standard expiry.
func (r *Recorder) Record(ctx context.Context, jobID, kind, path, url string, metadata map[string]any) (models.Artifact, error) {
	now := time.Now().UTC()
	a := models.Artifact{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Kind:      kind,
		Metadata:  metadata,
		CreatedAt: now,
		ExpiresAt: now.Add(artifactTTL),
	}
	if path != "" {
		a.Path = &path
	}
	if url != "" {
		a.URL = &url
	}
	if err := r.store.CreateArtifact(ctx, a); err != nil {
		return models.Artifact{}, err
	}
	return a, nil
}

// RecordDocument stores document content (S3 when configured, local
// directory otherwise) and persists the resulting reference.
func (r *Recorder) RecordDocument(ctx context.Context, jobID, kind, name string, content []byte, metadata map[string]any) (models.Artifact, error) {
	key := filepath.Join(jobID, name)
	var path, url string
	if r.s3 != nil {
		loc, err := r.s3.Upload(ctx, key, content, "text/markdown")
		if err != nil {
			return models.Artifact{}, fmt.Errorf("upload document: %w", err)
		}
		url = loc
	} else if r.local != nil {
		loc, err := r.local.Upload(ctx, key, content, "text/markdown")
		if err != nil {
			return models.Artifact{}, fmt.Errorf("write document: %w", err)
		}
		path = loc
	}
	return r.Record(ctx, jobID, kind, path, url, metadata)
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArtifactS3Region),
	}
	if cfg.ArtifactS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArtifactS3Endpoint,
					HostnameImmutable: cfg.ArtifactS3PathStyle,
					SigningRegion:     cfg.ArtifactS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArtifactS3PathStyle
	}), nil
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
