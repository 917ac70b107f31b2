package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autumn-ma/django-culture/internal/domain"
	"github.com/autumn-ma/django-culture/internal/repository"
)

const (
	archiveObjectPrefix    = "flag-snapshots"
	archiveAuditWindow     = 30 * 24 * time.Hour
	archiveAuditPageSize   = repository.MaxPageSize
	archiveDownloadURLTTL  = 15 * time.Minute
	archiveSnapshotVersion = 1
)

var (
	ErrArchiveBucket = errors.New("failed to prepare archive bucket")
	ErrArchiveUpload = errors.New("failed to upload flag snapshot")
)

// ArchivedFlag is one flag definition plus its per-user forced values as
// captured at archive time.
type ArchivedFlag struct {
	Flag      domain.FeatureFlag               `json:"flag"`
	Overrides []domain.FeatureFlagUserOverride `json:"overrides"`
}

// FlagSnapshot is the JSON document written to object storage. It carries
// every flag, every override, and the audit trail from the trailing window.
type FlagSnapshot struct {
	Version    int                          `json:"version"`
	TakenAt    time.Time                    `json:"taken_at"`
	Flags      []ArchivedFlag               `json:"flags"`
	AuditTrail []domain.FeatureFlagAuditLog `json:"audit_trail"`
}

// ArchiveResult reports where a snapshot landed.
type ArchiveResult struct {
	ObjectKey   string    `json:"object_key"`
	SizeBytes   int64     `json:"size_bytes"`
	TakenAt     time.Time `json:"taken_at"`
	FlagCount   int       `json:"flag_count"`
	DownloadURL string    `json:"download_url,omitempty"`
}

// FlagArchiver exports point-in-time snapshots of the flag configuration
// for compliance review and disaster recovery.
type FlagArchiver interface {
	ArchiveSnapshot(ctx context.Context) (*ArchiveResult, error)
}

// MinIOFlagArchiver stores snapshots in an S3-compatible bucket.
type MinIOFlagArchiver struct {
	client    *minio.Client
	bucket    string
	flags     repository.FeatureFlagRepository
	overrides repository.OverrideRepository
	audit     repository.AuditLogRepository
	now       func() time.Time
}

func NewMinIOFlagArchiver(
	endpoint, accessKey, secretKey, bucket string,
	useSSL bool,
	flags repository.FeatureFlagRepository,
	overrides repository.OverrideRepository,
	audit repository.AuditLogRepository,
) (*MinIOFlagArchiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	a := &MinIOFlagArchiver{
		client:    client,
		bucket:    bucket,
		flags:     flags,
		overrides: overrides,
		audit:     audit,
		now:       time.Now,
	}
	if err := a.ensureBucket(context.Background()); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *MinIOFlagArchiver) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket: %v", ErrArchiveBucket, err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("%w: create bucket: %v", ErrArchiveBucket, err)
		}
	}
	return nil
}

func (a *MinIOFlagArchiver) ArchiveSnapshot(ctx context.Context) (*ArchiveResult, error) {
	snapshot, err := a.buildSnapshot()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode flag snapshot: %w", err)
	}

	objectKey := fmt.Sprintf("%s/%s/%s.json",
		archiveObjectPrefix,
		snapshot.TakenAt.UTC().Format("2006/01/02"),
		uuid.New().String(),
	)

	_, err = a.client.PutObject(ctx, a.bucket, objectKey, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"Taken-At":   snapshot.TakenAt.UTC().Format(time.RFC3339),
			"Flag-Count": fmt.Sprintf("%d", len(snapshot.Flags)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveUpload, err)
	}

	result := &ArchiveResult{
		ObjectKey: objectKey,
		SizeBytes: int64(len(payload)),
		TakenAt:   snapshot.TakenAt,
		FlagCount: len(snapshot.Flags),
	}
	if presigned, urlErr := a.client.PresignedGetObject(ctx, a.bucket, objectKey, archiveDownloadURLTTL, url.Values{}); urlErr == nil {
		result.DownloadURL = presigned.String()
	}
	return result, nil
}

func (a *MinIOFlagArchiver) buildSnapshot() (*FlagSnapshot, error) {
	takenAt := a.now().UTC()

	flags, err := a.flags.ListFlags()
	if err != nil {
		return nil, fmt.Errorf("list flags for snapshot: %w", err)
	}

	archived := make([]ArchivedFlag, 0, len(flags))
	for _, flag := range flags {
		overrides, err := a.overrides.ListOverrides(flag.ID)
		if err != nil {
			return nil, fmt.Errorf("list overrides for flag %q: %w", flag.Name, err)
		}
		archived = append(archived, ArchivedFlag{Flag: flag, Overrides: overrides})
	}

	trail, err := a.collectAuditTrail(takenAt.Add(-archiveAuditWindow))
	if err != nil {
		return nil, err
	}

	return &FlagSnapshot{
		Version:    archiveSnapshotVersion,
		TakenAt:    takenAt,
		Flags:      archived,
		AuditTrail: trail,
	}, nil
}

func (a *MinIOFlagArchiver) collectAuditTrail(since time.Time) ([]domain.FeatureFlagAuditLog, error) {
	var trail []domain.FeatureFlagAuditLog
	for page := 1; ; page++ {
		result, err := a.audit.ListPaged(repository.AuditLogQuery{
			Since: since,
			Page:  repository.PageRequest{Page: page, PageSize: archiveAuditPageSize},
		})
		if err != nil {
			return nil, fmt.Errorf("list audit trail for snapshot: %w", err)
		}
		trail = append(trail, result.Items...)
		if page >= result.TotalPages || len(result.Items) == 0 {
			return trail, nil
		}
	}
}
