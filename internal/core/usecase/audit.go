package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/kirillkom/mission-stats/internal/core/domain"
	"github.com/kirillkom/mission-stats/internal/core/ports"
)

const (
	DefaultAuditWindow     = 7 * 24 * time.Hour
	DefaultAuditSampleRate = 0.05
)

type AuditConfig struct {
	Window time.Duration
	// SampleRate is the share of clean records drawn for spot checks.
	SampleRate float64
}

type AuditReconcilerUseCase struct {
	store    ports.RecordStore
	reviews  ports.ReviewStore
	resolver ports.LayoutResolver
	parser   ports.RecordParser
	cfg      AuditConfig
}

func NewAuditReconcilerUseCase(
	store ports.RecordStore,
	reviews ports.ReviewStore,
	resolver ports.LayoutResolver,
	parser ports.RecordParser,
	cfg AuditConfig,
) *AuditReconcilerUseCase {
	if cfg.Window <= 0 {
		cfg.Window = DefaultAuditWindow
	}
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		cfg.SampleRate = DefaultAuditSampleRate
	}
	return &AuditReconcilerUseCase{
		store:    store,
		reviews:  reviews,
		resolver: resolver,
		parser:   parser,
		cfg:      cfg,
	}
}

// Run reconciles records created in [asOf-window, asOf) against pending reviews.
// The result depends only on asOf and stored state, so a run can be replayed.
func (uc *AuditReconcilerUseCase) Run(ctx context.Context, asOf time.Time) (*domain.AuditReport, error) {
	asOf = asOf.UTC()
	window := domain.TimeRange{From: asOf.Add(-uc.cfg.Window), To: asOf}
	report := &domain.AuditReport{AsOf: asOf, Window: window, Flags: []domain.AuditFlag{}}

	records, err := uc.store.ListForAudit(ctx, window, []domain.RecordStatus{
		domain.StatusAccepted,
		domain.StatusAcceptedWithWarning,
	})
	if err != nil {
		return nil, fmt.Errorf("list audit candidates: %w", err)
	}

	candidates := make([]domain.MissionRecord, 0, len(records))
	for _, rec := range records {
		if uc.isCandidate(rec, asOf) {
			candidates = append(candidates, rec)
		}
	}
	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		return report, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, rec := range candidates {
		ids = append(ids, rec.ID)
	}
	reviews, err := uc.reviews.PendingReviews(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load pending reviews: %w", err)
	}

	applied := make([]string, 0, len(reviews))
	for _, rec := range candidates {
		review, ok := reviews[rec.ID]
		if !ok {
			report.Pending++
			continue
		}

		patch, flags, err := uc.reconcile(rec, review, asOf)
		if err != nil {
			slog.Warn("audit_review_invalid", "record_id", rec.ID, "review_id", review.ID, "error", err)
			report.Pending++
			continue
		}

		if err := uc.store.ApplyAudit(ctx, rec.ID, patch); err != nil {
			if domain.IsKind(err, domain.ErrRecordNotFound) {
				report.Skipped++
				applied = append(applied, review.ID)
				continue
			}
			return nil, fmt.Errorf("apply audit to %s: %w", rec.ID, err)
		}

		applied = append(applied, review.ID)
		report.Reviewed++
		if patch.AuditState == domain.AuditCorrected {
			report.Corrected++
		} else {
			report.Confirmed++
		}
		report.Flags = append(report.Flags, flags...)
	}

	if len(applied) > 0 {
		if err := uc.reviews.MarkApplied(ctx, applied, asOf); err != nil {
			return nil, fmt.Errorf("mark reviews applied: %w", err)
		}
	}

	slog.Info("audit_run_completed",
		"as_of", asOf,
		"candidates", report.Candidates,
		"reviewed", report.Reviewed,
		"corrected", report.Corrected,
		"confirmed", report.Confirmed,
		"pending", report.Pending,
		"skipped", report.Skipped,
	)
	return report, nil
}

func (uc *AuditReconcilerUseCase) isCandidate(rec domain.MissionRecord, asOf time.Time) bool {
	switch rec.Status {
	case domain.StatusAcceptedWithWarning:
		return rec.AuditState == domain.AuditPending
	case domain.StatusAccepted:
		return rec.AuditState == domain.AuditNone && sampled(rec.ID, asOf, uc.cfg.SampleRate)
	default:
		return false
	}
}

// sampled draws a stable pseudo-random subset keyed by record and run.
func sampled(recordID string, asOf time.Time, rate float64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	h := xxhash.Sum64String(recordID + "|" + asOf.UTC().Format(time.RFC3339))
	return float64(h)/float64(math.MaxUint64) < rate
}

// reconcile computes the patch for one reviewed record. Only fields named in the
// review change; everything else is carried over as stored.
func (uc *AuditReconcilerUseCase) reconcile(rec domain.MissionRecord, review domain.Review, asOf time.Time) (domain.AuditPatch, []domain.AuditFlag, error) {
	patch := domain.AuditPatch{
		Fields:    rec.Clone().Fields,
		Flagged:   append([]string(nil), rec.Flagged...),
		AuditedAt: asOf,
	}

	if len(review.Corrections) == 0 {
		patch.Flagged = nil
		patch.AuditState = domain.AuditConfirmed
		return patch, []domain.AuditFlag{{
			RecordID: rec.ID,
			Reason:   domain.ReasonConfirmed,
			Reviewer: review.Reviewer,
		}}, nil
	}

	tmpl, err := resolveRecordLayout(uc.resolver, rec.Layout)
	if err != nil {
		return domain.AuditPatch{}, nil, err
	}

	names := make([]string, 0, len(review.Corrections))
	for name := range review.Corrections {
		names = append(names, name)
	}
	sort.Strings(names)

	flags := make([]domain.AuditFlag, 0, len(names))
	for _, name := range names {
		spec, ok := tmpl.Field(name)
		if !ok {
			return domain.AuditPatch{}, nil, domain.WrapError(domain.ErrInvalidInput, "reconcile",
				fmt.Errorf("field %q not in layout %s/v%d", name, rec.Layout.Resolution, rec.Layout.Version))
		}
		raw := review.Corrections[name]
		value, err := uc.parser.ParseValue(spec, raw)
		if err != nil {
			return domain.AuditPatch{}, nil, err
		}

		idx := slices.IndexFunc(patch.Fields, func(f domain.RecordField) bool { return f.Name == name })
		if idx < 0 {
			patch.Fields = append(patch.Fields, domain.RecordField{Name: name, Kind: spec.Kind})
			idx = len(patch.Fields) - 1
		}
		previous := patch.Fields[idx].Value
		patch.Fields[idx].Raw = strings.TrimSpace(raw)
		patch.Fields[idx].Value = value
		patch.Fields[idx].Confidence = 1
		patch.Fields[idx].Derived = false

		patch.Flagged = slices.DeleteFunc(patch.Flagged, func(f string) bool { return f == name })
		flags = append(flags, domain.AuditFlag{
			RecordID:   rec.ID,
			Field:      name,
			Reason:     domain.ReasonCorrected,
			Reviewer:   review.Reviewer,
			Previous:   previous,
			Resolution: value,
		})
	}
	if review.Confirmed {
		patch.Flagged = nil
	}
	patch.AuditState = domain.AuditCorrected
	return patch, flags, nil
}

func resolveRecordLayout(resolver ports.LayoutResolver, ref domain.LayoutRef) (*domain.LayoutTemplate, error) {
	res, err := domain.ParseResolution(ref.Resolution)
	if err != nil {
		return nil, err
	}
	return resolver.ResolveVersion(res, ref.Version)
}

// ReviewUseCase validates reviewer verdicts and queues them for the next audit run.
type ReviewUseCase struct {
	store    ports.RecordStore
	reviews  ports.ReviewStore
	resolver ports.LayoutResolver
	parser   ports.RecordParser
	now      func() time.Time
}

func NewReviewUseCase(
	store ports.RecordStore,
	reviews ports.ReviewStore,
	resolver ports.LayoutResolver,
	parser ports.RecordParser,
) *ReviewUseCase {
	return &ReviewUseCase{
		store:    store,
		reviews:  reviews,
		resolver: resolver,
		parser:   parser,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (uc *ReviewUseCase) SubmitReview(ctx context.Context, review domain.Review) (*domain.Review, error) {
	review.RecordID = strings.TrimSpace(review.RecordID)
	review.Reviewer = strings.TrimSpace(review.Reviewer)
	if review.RecordID == "" || review.Reviewer == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit review", errors.New("record_id and reviewer are required"))
	}
	if !review.Confirmed && len(review.Corrections) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit review", errors.New("review must confirm or correct"))
	}

	rec, err := uc.store.Get(ctx, review.RecordID)
	if err != nil {
		return nil, fmt.Errorf("load reviewed record: %w", err)
	}
	if len(review.Corrections) > 0 {
		tmpl, err := resolveRecordLayout(uc.resolver, rec.Layout)
		if err != nil {
			return nil, fmt.Errorf("resolve record layout: %w", err)
		}
		for name, raw := range review.Corrections {
			spec, ok := tmpl.Field(name)
			if !ok {
				return nil, domain.WrapError(domain.ErrInvalidInput, "submit review", fmt.Errorf("unknown field %q", name))
			}
			if _, err := uc.parser.ParseValue(spec, raw); err != nil {
				return nil, domain.WrapError(domain.ErrInvalidInput, "submit review", err)
			}
		}
	}

	review.ID = uuid.NewString()
	review.CreatedAt = uc.now()
	if err := uc.reviews.SaveReview(ctx, &review); err != nil {
		return nil, fmt.Errorf("save review: %w", err)
	}
	return &review, nil
}
