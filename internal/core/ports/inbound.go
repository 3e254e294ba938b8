package ports

import (
	"context"
	"time"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

// SubmissionGate is the inbound contract for the submission trigger.
type SubmissionGate interface {
	Submit(ctx context.Context, sub domain.Submission) (*domain.SubmissionResult, error)
}

// RecordReader is the leaderboard read model.
type RecordReader interface {
	GetByID(ctx context.Context, id string) (*domain.MissionRecord, error)
	QueryByServer(ctx context.Context, serverID string, window domain.TimeRange) ([]domain.MissionRecord, error)
}

// RecordEraser serves the deletion workflow. Deletes are idempotent and return the removed count.
type RecordEraser interface {
	DeleteRecord(ctx context.Context, id string) (int, error)
	DeleteByUser(ctx context.Context, userID string) (int, error)
	DeleteByServer(ctx context.Context, serverID string) (int, error)
}

// RetentionPurger removes expired records.
type RetentionPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// AuditRunner is the weekly reconciliation entry point.
type AuditRunner interface {
	Run(ctx context.Context, asOf time.Time) (*domain.AuditReport, error)
}

// ReviewIntake queues reviewer verdicts for the next audit run.
type ReviewIntake interface {
	SubmitReview(ctx context.Context, review domain.Review) (*domain.Review, error)
}

// AuditRequester asks the worker fleet to run an audit.
type AuditRequester interface {
	PublishAuditRequested(ctx context.Context, asOf time.Time) error
}
