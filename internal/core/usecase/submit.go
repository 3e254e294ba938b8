package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/mission-stats/internal/core/domain"
	"github.com/kirillkom/mission-stats/internal/core/ports"
)

const (
	DefaultConfidenceLow  = 0.5
	DefaultConfidenceHigh = 0.9
	DefaultRetention      = 30 * 24 * time.Hour
)

type GateConfig struct {
	// Below ConfidenceLow a submission is rejected.
	ConfidenceLow float64
	// Below ConfidenceHigh an accepted record is flagged for audit.
	ConfidenceHigh float64
	// Fields read below FieldThreshold are listed as flagged.
	FieldThreshold float64
	// Fewer occupied player slots than MinPlayers are rejected; zero disables.
	MinPlayers int
	Retention  time.Duration
}

func (c GateConfig) normalize() GateConfig {
	out := c
	if out.ConfidenceLow <= 0 || out.ConfidenceLow > 1 {
		out.ConfidenceLow = DefaultConfidenceLow
	}
	if out.ConfidenceHigh <= 0 || out.ConfidenceHigh > 1 {
		out.ConfidenceHigh = DefaultConfidenceHigh
	}
	if out.ConfidenceHigh < out.ConfidenceLow {
		out.ConfidenceHigh = out.ConfidenceLow
	}
	if out.FieldThreshold <= 0 || out.FieldThreshold > 1 {
		out.FieldThreshold = out.ConfidenceHigh
	}
	if out.Retention <= 0 {
		out.Retention = DefaultRetention
	}
	if out.MinPlayers < 0 {
		out.MinPlayers = 0
	}
	return out
}

// SubmissionObserver receives one callback per finished submission.
type SubmissionObserver interface {
	ObserveSubmission(status domain.RecordStatus, code domain.ErrorCode, confidence float64)
}

type SubmissionGateUseCase struct {
	normalizer ports.ImageNormalizer
	resolver   ports.LayoutResolver
	extractor  ports.FieldExtractor
	parser     ports.RecordParser
	store      ports.RecordStore
	retrier    ports.Retrier
	evidence   ports.EvidenceStorage
	observer   SubmissionObserver
	cfg        GateConfig

	now   func() time.Time
	newID func() string
}

func NewSubmissionGateUseCase(
	normalizer ports.ImageNormalizer,
	resolver ports.LayoutResolver,
	extractor ports.FieldExtractor,
	parser ports.RecordParser,
	store ports.RecordStore,
	retrier ports.Retrier,
	evidence ports.EvidenceStorage,
	cfg GateConfig,
) *SubmissionGateUseCase {
	return &SubmissionGateUseCase{
		normalizer: normalizer,
		resolver:   resolver,
		extractor:  extractor,
		parser:     parser,
		store:      store,
		retrier:    retrier,
		evidence:   evidence,
		cfg:        cfg.normalize(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// WithObserver attaches a metrics sink.
func (uc *SubmissionGateUseCase) WithObserver(observer SubmissionObserver) *SubmissionGateUseCase {
	uc.observer = observer
	return uc
}

// WithClock overrides the time source.
func (uc *SubmissionGateUseCase) WithClock(now func() time.Time) *SubmissionGateUseCase {
	if now != nil {
		uc.now = now
	}
	return uc
}

// Submit runs one screenshot through the pipeline. Pipeline failures come back as a
// rejected result with a nil error; a non-nil error means the submission should be retried.
func (uc *SubmissionGateUseCase) Submit(ctx context.Context, sub domain.Submission) (*domain.SubmissionResult, error) {
	res := &domain.SubmissionResult{Stage: domain.StageReceived}

	img, err := uc.normalizer.Normalize(sub.Image, sub.ResolutionHint)
	if err != nil {
		return uc.reject(sub, res, err), nil
	}
	res.Stage = domain.StageNormalized

	tmpl, err := uc.resolver.Resolve(img.Resolution)
	if err != nil {
		return uc.reject(sub, res, err), nil
	}
	res.Stage = domain.StageLayoutResolved

	readings, err := uc.extractor.Extract(ctx, img, tmpl)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return uc.reject(sub, res, err), nil
	}
	res.Stage = domain.StageExtracted

	parsed := uc.parser.Parse(tmpl, readings)
	res.Stage = domain.StageParsed
	res.Readings = parsed.Readings
	res.Confidence = parsed.Confidence
	res.Flagged = flaggedFields(parsed.Readings, uc.cfg.FieldThreshold)

	status := uc.decide(parsed)
	res.Stage = domain.StageDecided
	if status == domain.StatusRejected {
		err := domain.WrapError(domain.ErrLowConfidence, "decide",
			fmt.Errorf("confidence %.3f below %.3f", parsed.Confidence, uc.cfg.ConfidenceLow))
		return uc.reject(sub, res, err), nil
	}
	if parsed.PlayerSlots > 0 && parsed.Players < uc.cfg.MinPlayers {
		err := domain.WrapError(domain.ErrTooFewPlayers, "count players",
			fmt.Errorf("%d of %d player slots occupied, need %d", parsed.Players, parsed.PlayerSlots, uc.cfg.MinPlayers))
		return uc.reject(sub, res, err), nil
	}

	record := uc.buildRecord(sub, tmpl, parsed, status, res.Flagged)
	if err := uc.persist(ctx, record); err != nil {
		res.Status = domain.StatusRejected
		res.Code = domain.CodeStoreUnavailable
		res.Message = domain.UserMessage(res.Code)
		slog.Error("submission_store_failed",
			"submitter_id", sub.SubmitterID,
			"server_id", sub.ServerID,
			"error", err,
		)
		uc.observe(res)
		return res, domain.WrapError(domain.ErrTemporary, "persist record", err)
	}
	if status == domain.StatusAcceptedWithWarning {
		uc.keepEvidence(ctx, record.ID, sub.Image)
	}

	res.Status = status
	res.Record = record
	logAttrs := []any{
		"record_id", record.ID,
		"status", status,
		"confidence", parsed.Confidence,
		"layout", fmt.Sprintf("%s/v%d", record.Layout.Resolution, record.Layout.Version),
	}
	if status == domain.StatusAcceptedWithWarning {
		logAttrs = append(logAttrs, "flagged_fields", res.Flagged, "field_confidence", fieldConfidences(parsed.Readings))
		slog.Warn("submission_accepted_with_warning", logAttrs...)
	} else {
		slog.Info("submission_accepted", logAttrs...)
	}
	uc.observe(res)
	return res, nil
}

func (uc *SubmissionGateUseCase) decide(parsed domain.ParsedRecord) domain.RecordStatus {
	switch {
	case parsed.Confidence < uc.cfg.ConfidenceLow:
		return domain.StatusRejected
	case parsed.Confidence < uc.cfg.ConfidenceHigh, parsed.HasNull(), hasAdjusted(parsed.Readings):
		return domain.StatusAcceptedWithWarning
	default:
		return domain.StatusAccepted
	}
}

func (uc *SubmissionGateUseCase) reject(sub domain.Submission, res *domain.SubmissionResult, err error) *domain.SubmissionResult {
	res.Status = domain.StatusRejected
	res.Code = domain.CodeOf(err)
	res.Message = domain.UserMessage(res.Code)

	attrs := []any{
		"submitter_id", sub.SubmitterID,
		"server_id", sub.ServerID,
		"stage", res.Stage,
		"error_code", res.Code,
		"error", err,
	}
	if len(res.Readings) > 0 {
		attrs = append(attrs, "confidence", res.Confidence, "field_confidence", fieldConfidences(res.Readings))
	}
	slog.Warn("submission_rejected", attrs...)
	uc.observe(res)
	return res
}

func (uc *SubmissionGateUseCase) buildRecord(
	sub domain.Submission,
	tmpl *domain.LayoutTemplate,
	parsed domain.ParsedRecord,
	status domain.RecordStatus,
	flagged []string,
) *domain.MissionRecord {
	now := uc.now()
	missionAt := sub.SubmittedAt.UTC()
	if sub.SubmittedAt.IsZero() {
		missionAt = now
	}

	fields := make([]domain.RecordField, 0, len(parsed.Readings))
	for _, r := range parsed.Readings {
		f := domain.RecordField{
			Name:       r.Field,
			Kind:       r.Kind,
			Value:      r.Value,
			Confidence: r.Confidence,
			Derived:    r.Derived,
		}
		if r.Raw != nil {
			f.Raw = *r.Raw
		}
		fields = append(fields, f)
	}

	auditState := domain.AuditNone
	if status == domain.StatusAcceptedWithWarning {
		auditState = domain.AuditPending
	}

	return &domain.MissionRecord{
		ID:          uc.newID(),
		SubmitterID: sub.SubmitterID,
		ServerID:    sub.ServerID,
		MissionAt:   missionAt,
		CreatedAt:   now,
		ExpiresAt:   now.Add(uc.cfg.Retention),
		Layout:      tmpl.Ref(),
		Fields:      fields,
		Confidence:  parsed.Confidence,
		Status:      status,
		Flagged:     append([]string{}, flagged...),
		AuditState:  auditState,
	}
}

func (uc *SubmissionGateUseCase) persist(ctx context.Context, record *domain.MissionRecord) error {
	put := func(ctx context.Context) error {
		return uc.store.Put(ctx, record)
	}
	if uc.retrier == nil {
		return put(ctx)
	}
	return uc.retrier.Do(ctx, "record_store.put", put)
}

func (uc *SubmissionGateUseCase) keepEvidence(ctx context.Context, recordID string, image []byte) {
	if uc.evidence == nil {
		return
	}
	if err := uc.evidence.Save(ctx, EvidenceKey(recordID), bytes.NewReader(image)); err != nil {
		slog.Warn("evidence_save_failed", "record_id", recordID, "error", err)
	}
}

func (uc *SubmissionGateUseCase) observe(res *domain.SubmissionResult) {
	if uc.observer != nil {
		uc.observer.ObserveSubmission(res.Status, res.Code, res.Confidence)
	}
}

// EvidenceKey is where the screenshot of a flagged record is kept.
func EvidenceKey(recordID string) string {
	return recordID + ".screenshot"
}

func flaggedFields(readings []domain.FieldReading, threshold float64) []string {
	var out []string
	for _, r := range readings {
		if r.Value == nil || r.Derived || r.Clamped || r.Confidence < threshold {
			out = append(out, r.Field)
		}
	}
	return out
}

func hasAdjusted(readings []domain.FieldReading) bool {
	for _, r := range readings {
		if r.Derived || r.Clamped {
			return true
		}
	}
	return false
}

func fieldConfidences(readings []domain.FieldReading) map[string]float64 {
	out := make(map[string]float64, len(readings))
	for _, r := range readings {
		out[r.Field] = r.Confidence
	}
	return out
}
