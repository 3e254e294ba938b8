package usecase

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

var nameNoise = regexp.MustCompile(`[^A-Z0-9<># ]`)

type RecordParserUseCase struct{}

func NewRecordParserUseCase() *RecordParserUseCase {
	return &RecordParserUseCase{}
}

// Parse converts readings into typed values. Empty player slots are left out
// entirely. Overall confidence is the lower of the parsed fraction and the mean
// field confidence, both taken over the remaining fields, so derived and clamped
// values never raise it.
func (p *RecordParserUseCase) Parse(tmpl *domain.LayoutTemplate, readings []domain.FieldReading) domain.ParsedRecord {
	byName := make(map[string]domain.FieldReading, len(readings))
	for _, r := range readings {
		byName[r.Field] = r
	}
	slots := tmpl.Groups()
	empty := emptySlots(tmpl, slots, byName)

	out := make([]domain.FieldReading, 0, len(tmpl.Fields))
	parsed := 0
	var confSum float64
	for _, spec := range tmpl.Fields {
		if empty[spec.Group] {
			continue
		}
		r, ok := byName[spec.Name]
		if !ok {
			r = domain.FieldReading{Field: spec.Name, Kind: spec.Kind, Note: "not extracted"}
		}
		r.Kind = spec.Kind
		r.Value = nil
		if r.Raw != nil {
			v, err := p.ParseValue(spec, *r.Raw)
			if err != nil {
				r.Note = err.Error()
			} else {
				r.Value = v
				parsed++
				confSum += r.Confidence
			}
		}
		out = append(out, r)
	}

	result := domain.ParsedRecord{
		Readings:    out,
		Players:     len(slots) - len(empty),
		PlayerSlots: len(slots),
	}
	if n := len(out); n > 0 {
		result.ParsedFraction = float64(parsed) / float64(n)
		result.MeanConfidence = confSum / float64(n)
		result.Confidence = math.Min(result.ParsedFraction, result.MeanConfidence)
	}

	applyClamps(tmpl, out)
	applyDerivations(tmpl, out)
	return result
}

// emptySlots returns the player slots whose key region read blank and where no
// other field of the slot produced any text.
func emptySlots(tmpl *domain.LayoutTemplate, slots []string, byName map[string]domain.FieldReading) map[string]bool {
	empty := make(map[string]bool)
	for _, slot := range slots {
		key, ok := byName[tmpl.GroupKey(slot)]
		if !ok || !key.Blank {
			continue
		}
		inked := false
		for _, spec := range tmpl.Fields {
			if spec.Group == slot && byName[spec.Name].Raw != nil {
				inked = true
				break
			}
		}
		if !inked {
			empty[slot] = true
		}
	}
	return empty
}

// ParseValue parses one raw string under the grammar of the field's kind.
func (p *RecordParserUseCase) ParseValue(spec domain.FieldSpec, raw string) (*domain.Value, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	op := "parse " + spec.Name

	switch spec.Kind {
	case domain.KindCounter:
		if !counterShape.MatchString(s) {
			return nil, domain.WrapError(domain.ErrFieldParse, op, fmt.Errorf("not a counter: %q", raw))
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, domain.WrapError(domain.ErrFieldParse, op, err)
		}
		return &domain.Value{Kind: domain.KindCounter, Int: n}, nil

	case domain.KindPercent:
		if !percentShape.MatchString(s) {
			return nil, domain.WrapError(domain.ErrFieldParse, op, fmt.Errorf("not a percentage: %q", raw))
		}
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return nil, domain.WrapError(domain.ErrFieldParse, op, err)
		}
		if f > 100 {
			return nil, domain.WrapError(domain.ErrFieldParse, op, fmt.Errorf("percentage above 100: %q", raw))
		}
		return &domain.Value{Kind: domain.KindPercent, Ratio: roundRatio(f / 100)}, nil

	case domain.KindDuration:
		secs, err := parseDuration(s)
		if err != nil {
			return nil, domain.WrapError(domain.ErrFieldParse, op, err)
		}
		return &domain.Value{Kind: domain.KindDuration, Seconds: secs}, nil

	case domain.KindOutcome:
		for _, word := range spec.Vocabulary {
			if strings.EqualFold(word, s) {
				return &domain.Value{Kind: domain.KindOutcome, Text: strings.ToUpper(word)}, nil
			}
		}
		return nil, domain.WrapError(domain.ErrFieldParse, op, fmt.Errorf("outcome %q not in %v", raw, spec.Vocabulary))

	case domain.KindText:
		name := strings.ReplaceAll(s, "_", " ")
		name = nameNoise.ReplaceAllString(name, "")
		name = strings.TrimSpace(spaceRun.ReplaceAllString(name, " "))
		if name == "" {
			return nil, domain.WrapError(domain.ErrFieldParse, op, fmt.Errorf("empty text after cleanup: %q", raw))
		}
		return &domain.Value{Kind: domain.KindText, Text: name}, nil

	default:
		return nil, domain.WrapError(domain.ErrFieldParse, op, fmt.Errorf("unknown kind %q", spec.Kind))
	}
}

func parseDuration(s string) (int64, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("not a duration: %q", s)
	}
	nums := make([]int64, len(parts))
	for i, part := range parts {
		if !counterShape.MatchString(part) {
			return 0, fmt.Errorf("not a duration: %q", s)
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return 0, err
		}
		if i > 0 && n >= 60 {
			return 0, fmt.Errorf("duration component out of range: %q", s)
		}
		nums[i] = n
	}
	if len(nums) == 2 {
		return nums[0]*60 + nums[1], nil
	}
	return nums[0]*3600 + nums[1]*60 + nums[2], nil
}

// applyClamps caps counters by their declared ceiling, e.g. hits by shots fired.
func applyClamps(tmpl *domain.LayoutTemplate, readings []domain.FieldReading) {
	index := readingIndex(readings)
	for _, spec := range tmpl.Fields {
		if spec.ClampTo == "" {
			continue
		}
		i, ok := index[spec.Name]
		j, okCeiling := index[spec.ClampTo]
		if !ok || !okCeiling {
			continue
		}
		v, ceiling := readings[i].Value, readings[j].Value
		if v == nil || ceiling == nil || v.Int <= ceiling.Int {
			continue
		}
		readings[i].Value = &domain.Value{Kind: domain.KindCounter, Int: ceiling.Int}
		readings[i].Clamped = true
		readings[i].Note = fmt.Sprintf("clamped from %d to %s", v.Int, spec.ClampTo)
	}
}

// applyDerivations fills unreadable percentages from their counters.
func applyDerivations(tmpl *domain.LayoutTemplate, readings []domain.FieldReading) {
	index := readingIndex(readings)
	for _, spec := range tmpl.Fields {
		if len(spec.DeriveFrom) != 2 {
			continue
		}
		i, ok := index[spec.Name]
		if !ok || readings[i].Value != nil {
			continue
		}
		n, okNum := index[spec.DeriveFrom[0]]
		d, okDen := index[spec.DeriveFrom[1]]
		if !okNum || !okDen {
			continue
		}
		num, den := readings[n].Value, readings[d].Value
		if num == nil || den == nil {
			continue
		}
		ratio := 0.0
		if den.Int > 0 {
			ratio = math.Min(1, float64(num.Int)/float64(den.Int))
		}
		readings[i].Value = &domain.Value{Kind: domain.KindPercent, Ratio: roundRatio(ratio)}
		readings[i].Derived = true
		readings[i].Note = fmt.Sprintf("derived from %s/%s", spec.DeriveFrom[0], spec.DeriveFrom[1])
	}
}

func readingIndex(readings []domain.FieldReading) map[string]int {
	index := make(map[string]int, len(readings))
	for i, r := range readings {
		index[r.Field] = i
	}
	return index
}

func roundRatio(v float64) float64 {
	return math.Round(v*10000) / 10000
}
