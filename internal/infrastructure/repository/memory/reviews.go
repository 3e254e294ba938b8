package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

type storedReview struct {
	review    domain.Review
	appliedAt *time.Time
}

type ReviewStore struct {
	mu      sync.Mutex
	reviews []storedReview
}

func NewReviewStore() *ReviewStore {
	return &ReviewStore{}
}

func (s *ReviewStore) SaveReview(_ context.Context, review *domain.Review) error {
	if review == nil || review.ID == "" || review.RecordID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "save review", errors.New("review id and record id are required"))
	}
	copied := *review
	copied.Corrections = make(map[string]string, len(review.Corrections))
	for k, v := range review.Corrections {
		copied.Corrections[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews = append(s.reviews, storedReview{review: copied})
	return nil
}

// PendingReviews returns the newest unapplied review per requested record.
func (s *ReviewStore) PendingReviews(_ context.Context, recordIDs []string) (map[string]domain.Review, error) {
	wanted := make(map[string]struct{}, len(recordIDs))
	for _, id := range recordIDs {
		wanted[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Review)
	for _, sr := range s.reviews {
		if sr.appliedAt != nil {
			continue
		}
		if _, ok := wanted[sr.review.RecordID]; !ok {
			continue
		}
		if prev, ok := out[sr.review.RecordID]; ok && prev.CreatedAt.After(sr.review.CreatedAt) {
			continue
		}
		out[sr.review.RecordID] = sr.review
	}
	return out, nil
}

// MarkApplied retires the given reviews together with any older pending review of the same record.
func (s *ReviewStore) MarkApplied(_ context.Context, reviewIDs []string, at time.Time) error {
	ids := make(map[string]struct{}, len(reviewIDs))
	for _, id := range reviewIDs {
		ids[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := make(map[string]time.Time)
	for _, sr := range s.reviews {
		if _, ok := ids[sr.review.ID]; !ok {
			continue
		}
		if prev, ok := cutoff[sr.review.RecordID]; !ok || sr.review.CreatedAt.After(prev) {
			cutoff[sr.review.RecordID] = sr.review.CreatedAt
		}
	}
	for i := range s.reviews {
		sr := &s.reviews[i]
		limit, ok := cutoff[sr.review.RecordID]
		if sr.appliedAt != nil || !ok || sr.review.CreatedAt.After(limit) {
			continue
		}
		applied := at
		sr.appliedAt = &applied
	}
	return nil
}
