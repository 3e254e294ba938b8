package usecase

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/mission-stats/internal/core/domain"
	"github.com/kirillkom/mission-stats/internal/core/ports"
)

const (
	numericCharset  = "0123456789.%"
	durationCharset = "0123456789:"
	letterCharset   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ "
	nameCharset     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789<>#_ "

	// multiplier for text that survived the charset filter but not the kind's shape
	shapePenalty = 0.05
	// minimum similarity for snapping an outcome to its vocabulary
	vocabularySnap = 0.6

	defaultOCRTimeout     = 5 * time.Second
	defaultOCRConcurrency = 8
)

var (
	counterShape  = regexp.MustCompile(`^\d+$`)
	percentShape  = regexp.MustCompile(`^\d{1,3}(\.\d+)?%?$`)
	durationShape = regexp.MustCompile(`^\d{1,3}:[0-5]\d(:[0-5]\d)?$`)
	spaceRun      = regexp.MustCompile(`\s+`)
)

// CharsetFor is the recognition whitelist for a field kind.
func CharsetFor(kind domain.FieldKind) string {
	switch kind {
	case domain.KindCounter, domain.KindPercent:
		return numericCharset
	case domain.KindDuration:
		return durationCharset
	case domain.KindOutcome:
		return letterCharset
	default:
		return nameCharset
	}
}

type ExtractorOptions struct {
	// Timeout bounds each recognition call.
	Timeout time.Duration
	// PerSubmission caps concurrent field reads of one submission.
	PerSubmission int
	// Limiter is shared by all submissions of the process; nil allocates one of PerSubmission slots.
	Limiter *semaphore.Weighted
}

type FieldExtractorUseCase struct {
	engine        ports.OCREngine
	timeout       time.Duration
	perSubmission int
	limiter       *semaphore.Weighted
}

func NewFieldExtractorUseCase(engine ports.OCREngine, opts ExtractorOptions) *FieldExtractorUseCase {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultOCRTimeout
	}
	if opts.PerSubmission <= 0 {
		opts.PerSubmission = defaultOCRConcurrency
	}
	if opts.Limiter == nil {
		opts.Limiter = semaphore.NewWeighted(int64(opts.PerSubmission))
	}
	return &FieldExtractorUseCase{
		engine:        engine,
		timeout:       opts.Timeout,
		perSubmission: opts.PerSubmission,
		limiter:       opts.Limiter,
	}
}

// Extract reads every template field. Readings come back in template order; an OCR
// timeout on any field fails the whole submission.
func (uc *FieldExtractorUseCase) Extract(ctx context.Context, img *domain.NormalizedImage, tmpl *domain.LayoutTemplate) ([]domain.FieldReading, error) {
	if img == nil || img.Image == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract fields", errors.New("no image"))
	}

	readings := make([]domain.FieldReading, len(tmpl.Fields))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.perSubmission)
	for i, spec := range tmpl.Fields {
		g.Go(func() error {
			reading, err := uc.extractField(gctx, img.Image, spec)
			if err != nil {
				return err
			}
			readings[i] = reading
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return readings, nil
}

func (uc *FieldExtractorUseCase) extractField(ctx context.Context, img *image.Gray, spec domain.FieldSpec) (domain.FieldReading, error) {
	reading := domain.FieldReading{Field: spec.Name, Kind: spec.Kind}

	rect := image.Rect(spec.Region.X0, spec.Region.Y0, spec.Region.X1, spec.Region.Y1).Intersect(img.Bounds())
	if rect.Empty() {
		reading.Note = "region outside image"
		return reading, nil
	}

	if err := uc.limiter.Acquire(ctx, 1); err != nil {
		return reading, ocrContextError(spec.Name, err)
	}
	defer uc.limiter.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	res, err := uc.engine.Recognize(callCtx, img.SubImage(rect), domain.OCRHints{
		Field:      spec.Name,
		Kind:       spec.Kind,
		Charset:    CharsetFor(spec.Kind),
		Vocabulary: spec.Vocabulary,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return reading, domain.WrapError(domain.ErrOCRTimeout, "recognize "+spec.Name, err)
		}
		if ctx.Err() != nil {
			return reading, ctx.Err()
		}
		slog.Warn("ocr_field_failed", "field", spec.Name, "error", err)
		reading.Note = "recognition failed"
		return reading, nil
	}

	if strings.TrimSpace(res.Text) == "" {
		reading.Blank = true
		reading.Note = "blank region"
		return reading, nil
	}
	text, conf := sanitizeReading(spec, res)
	if text == "" {
		reading.Note = "no text recognized"
		return reading, nil
	}
	reading.Raw = &text
	reading.Confidence = conf
	return reading, nil
}

func ocrContextError(field string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrOCRTimeout, "wait for ocr slot "+field, err)
	}
	return err
}

// sanitizeReading applies the kind's whitelist and shape checks to raw OCR output.
// Confidence only ever goes down here.
func sanitizeReading(spec domain.FieldSpec, res domain.OCRResult) (string, float64) {
	raw := strings.ToUpper(strings.TrimSpace(res.Text))
	conf := clamp01(res.Confidence)
	total := utf8.RuneCountInString(raw)
	if total == 0 {
		return "", 0
	}

	charset := CharsetFor(spec.Kind)
	if spec.Kind == domain.KindText {
		raw = strings.ReplaceAll(raw, "_", " ")
	}
	filtered := strings.Map(func(r rune) rune {
		if r == ' ' || strings.ContainsRune(charset, r) {
			return r
		}
		return -1
	}, raw)
	conf *= float64(utf8.RuneCountInString(filtered)) / float64(total)

	filtered = strings.TrimSpace(spaceRun.ReplaceAllString(filtered, " "))
	switch spec.Kind {
	case domain.KindCounter, domain.KindPercent, domain.KindDuration:
		filtered = strings.ReplaceAll(filtered, " ", "")
	}
	if filtered == "" {
		return "", 0
	}

	switch spec.Kind {
	case domain.KindCounter:
		if !counterShape.MatchString(filtered) {
			conf *= shapePenalty
		}
	case domain.KindPercent:
		if !percentShape.MatchString(filtered) {
			conf *= shapePenalty
		}
	case domain.KindDuration:
		if !durationShape.MatchString(filtered) {
			conf *= shapePenalty
		}
	case domain.KindOutcome:
		word, similarity := nearestWord(filtered, spec.Vocabulary)
		if similarity >= vocabularySnap {
			filtered = word
			conf *= similarity
		} else {
			conf *= shapePenalty
		}
	}
	return filtered, conf
}

// nearestWord returns the vocabulary entry with the smallest edit distance.
func nearestWord(s string, vocabulary []string) (string, float64) {
	best, bestSim := "", -1.0
	for _, word := range vocabulary {
		w := strings.ToUpper(word)
		longest := max(utf8.RuneCountInString(s), utf8.RuneCountInString(w))
		if longest == 0 {
			continue
		}
		sim := 1 - float64(levenshtein.ComputeDistance(s, w))/float64(longest)
		if sim > bestSim {
			best, bestSim = w, sim
		}
	}
	if bestSim < 0 {
		return "", 0
	}
	return best, bestSim
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
