package ports

import (
	"context"
	"image"
	"io"
	"time"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

// ImageNormalizer decodes a screenshot and rescales it to its resolution class.
type ImageNormalizer interface {
	Normalize(raw []byte, hint *domain.Resolution) (*domain.NormalizedImage, error)
}

// LayoutResolver maps a resolution class to its field layout.
type LayoutResolver interface {
	Resolve(res domain.Resolution) (*domain.LayoutTemplate, error)
	ResolveVersion(res domain.Resolution, version int) (*domain.LayoutTemplate, error)
}

// OCREngine recognizes the text of one cropped field region.
type OCREngine interface {
	Recognize(ctx context.Context, img image.Image, hints domain.OCRHints) (domain.OCRResult, error)
}

// FieldExtractor returns one reading per template field.
type FieldExtractor interface {
	Extract(ctx context.Context, img *domain.NormalizedImage, tmpl *domain.LayoutTemplate) ([]domain.FieldReading, error)
}

// RecordParser turns raw readings into typed values and an overall confidence.
type RecordParser interface {
	Parse(tmpl *domain.LayoutTemplate, readings []domain.FieldReading) domain.ParsedRecord
	ParseValue(spec domain.FieldSpec, raw string) (*domain.Value, error)
}

// RecordStore persists mission records under the retention policy.
type RecordStore interface {
	Put(ctx context.Context, record *domain.MissionRecord) error
	Get(ctx context.Context, id string) (*domain.MissionRecord, error)
	QueryByServerAndWindow(ctx context.Context, serverID string, window domain.TimeRange) ([]domain.MissionRecord, error)
	DeleteByID(ctx context.Context, id string) ([]string, error)
	DeleteByUser(ctx context.Context, userID string) ([]string, error)
	DeleteByServer(ctx context.Context, serverID string) ([]string, error)
	PurgeExpired(ctx context.Context, now time.Time) ([]string, error)
	ListForAudit(ctx context.Context, window domain.TimeRange, statuses []domain.RecordStatus) ([]domain.MissionRecord, error)
	ApplyAudit(ctx context.Context, id string, patch domain.AuditPatch) error
}

// ReviewStore holds reviewer verdicts until an audit run applies them.
type ReviewStore interface {
	SaveReview(ctx context.Context, review *domain.Review) error
	PendingReviews(ctx context.Context, recordIDs []string) (map[string]domain.Review, error)
	MarkApplied(ctx context.Context, reviewIDs []string, at time.Time) error
}

// EvidenceStorage keeps screenshots of flagged submissions for reviewers.
type EvidenceStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// AuditQueue publishes/consumes audit requests.
type AuditQueue interface {
	PublishAuditRequested(ctx context.Context, asOf time.Time) error
	SubscribeAuditRequested(ctx context.Context, handler func(context.Context, time.Time) error) error
}

// Retrier runs fn with bounded retries on transient failures.
type Retrier interface {
	Do(ctx context.Context, operation string, fn func(context.Context) error) error
}
