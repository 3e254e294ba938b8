package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

// ReviewRepository stores reviewer verdicts. Its table is created by RecordRepository.EnsureSchema.
type ReviewRepository struct {
	db *sql.DB
}

func NewReviewRepository(db *sql.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

func (r *ReviewRepository) SaveReview(ctx context.Context, review *domain.Review) error {
	corrections := review.Corrections
	if corrections == nil {
		corrections = map[string]string{}
	}
	correctionsJSON, err := json.Marshal(corrections)
	if err != nil {
		return fmt.Errorf("marshal corrections: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO audit_reviews (id, record_id, reviewer, confirmed, corrections, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, review.ID, review.RecordID, review.Reviewer, review.Confirmed, correctionsJSON, review.CreatedAt)
	if err != nil {
		return classifyDBError("insert audit review", err)
	}
	return nil
}

// PendingReviews returns the newest unapplied review per requested record.
func (r *ReviewRepository) PendingReviews(ctx context.Context, recordIDs []string) (map[string]domain.Review, error) {
	out := make(map[string]domain.Review)
	if len(recordIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT ON (record_id) id, record_id, reviewer, confirmed, corrections, created_at
FROM audit_reviews
WHERE applied_at IS NULL AND record_id IN (`+placeholders(1, len(recordIDs))+`)
ORDER BY record_id, created_at DESC
`, stringArgs(recordIDs)...)
	if err != nil {
		return nil, classifyDBError("query pending reviews", err)
	}
	defer rows.Close()

	for rows.Next() {
		var review domain.Review
		var correctionsRaw []byte
		if err := rows.Scan(&review.ID, &review.RecordID, &review.Reviewer, &review.Confirmed, &correctionsRaw, &review.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit review: %w", err)
		}
		if err := json.Unmarshal(correctionsRaw, &review.Corrections); err != nil {
			return nil, fmt.Errorf("unmarshal corrections: %w", err)
		}
		out[review.RecordID] = review
	}
	if err := rows.Err(); err != nil {
		return nil, classifyDBError("iterate pending reviews", err)
	}
	return out, nil
}

// MarkApplied retires the given reviews together with any older pending review of the same record.
func (r *ReviewRepository) MarkApplied(ctx context.Context, reviewIDs []string, at time.Time) error {
	if len(reviewIDs) == 0 {
		return nil
	}
	args := append([]any{at}, stringArgs(reviewIDs)...)
	_, err := r.db.ExecContext(ctx, `
UPDATE audit_reviews AS pending
SET applied_at = $1
FROM audit_reviews AS applied
WHERE applied.id IN (`+placeholders(2, len(reviewIDs))+`)
	AND pending.record_id = applied.record_id
	AND pending.created_at <= applied.created_at
	AND pending.applied_at IS NULL
`, args...)
	if err != nil {
		return classifyDBError("mark reviews applied", err)
	}
	return nil
}

func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ",")
}

func stringArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
