package domain

import (
	"fmt"
	"image"
	"strconv"
	"time"
)

// Submission is one screenshot handed over by the chat collaborator.
type Submission struct {
	Image          []byte
	Filename       string
	ResolutionHint *Resolution
	SubmitterID    string
	ServerID       string
	SubmittedAt    time.Time
}

// NormalizedImage is a grayscale screenshot rescaled to its resolution class.
type NormalizedImage struct {
	Image      *image.Gray
	Resolution Resolution
	Source     Resolution
	Scale      float64
}

// OCRHints constrain recognition for one field.
type OCRHints struct {
	Field      string
	Kind       FieldKind
	Charset    string
	Vocabulary []string
}

type OCRResult struct {
	Text       string
	Confidence float64
}

// Value is a typed field value; exactly one payload member is meaningful for Kind.
type Value struct {
	Kind    FieldKind `json:"kind"`
	Int     int64     `json:"int,omitempty"`
	Ratio   float64   `json:"ratio,omitempty"`
	Seconds int64     `json:"seconds,omitempty"`
	Text    string    `json:"text,omitempty"`
}

func (v Value) Native() any {
	switch v.Kind {
	case KindCounter:
		return v.Int
	case KindPercent:
		return v.Ratio
	case KindDuration:
		return v.Seconds
	default:
		return v.Text
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindCounter:
		return strconv.FormatInt(v.Int, 10)
	case KindPercent:
		return strconv.FormatFloat(v.Ratio*100, 'f', 1, 64) + "%"
	case KindDuration:
		h, m, s := v.Seconds/3600, (v.Seconds%3600)/60, v.Seconds%60
		if h > 0 {
			return fmt.Sprintf("%d:%02d:%02d", h, m, s)
		}
		return fmt.Sprintf("%d:%02d", m, s)
	default:
		return v.Text
	}
}

// FieldReading is the per-field outcome of extraction and parsing.
type FieldReading struct {
	Field      string    `json:"field"`
	Kind       FieldKind `json:"kind"`
	Raw        *string   `json:"raw"`
	Value      *Value    `json:"value"`
	Confidence float64   `json:"confidence"`
	Derived    bool      `json:"derived,omitempty"`
	Clamped    bool      `json:"clamped,omitempty"`
	// Blank means recognition succeeded and the region held no text at all.
	Blank bool   `json:"blank,omitempty"`
	Note  string `json:"note,omitempty"`
}

type RecordStatus string

const (
	StatusAccepted            RecordStatus = "accepted"
	StatusAcceptedWithWarning RecordStatus = "accepted_with_warning"
	StatusRejected            RecordStatus = "rejected"
)

type AuditState string

const (
	AuditNone      AuditState = "none"
	AuditPending   AuditState = "pending"
	AuditConfirmed AuditState = "confirmed"
	AuditCorrected AuditState = "corrected"
)

type RecordField struct {
	Name       string    `json:"name"`
	Kind       FieldKind `json:"kind"`
	Raw        string    `json:"raw,omitempty"`
	Value      *Value    `json:"value"`
	Confidence float64   `json:"confidence"`
	Derived    bool      `json:"derived,omitempty"`
}

// MissionRecord is the persisted result of one accepted submission.
type MissionRecord struct {
	ID          string        `json:"id"`
	SubmitterID string        `json:"submitter_id"`
	ServerID    string        `json:"server_id"`
	MissionAt   time.Time     `json:"mission_at"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Layout      LayoutRef     `json:"layout"`
	Fields      []RecordField `json:"fields"`
	Confidence  float64       `json:"confidence"`
	Status      RecordStatus  `json:"status"`
	Flagged     []string      `json:"flagged_fields"`
	AuditState  AuditState    `json:"audit_state"`
	AuditedAt   *time.Time    `json:"audited_at,omitempty"`
}

func (r *MissionRecord) Field(name string) (RecordField, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return RecordField{}, false
}

// Values returns field name -> native value for every parsed field.
func (r *MissionRecord) Values() map[string]any {
	out := make(map[string]any, len(r.Fields))
	for _, f := range r.Fields {
		if f.Value != nil {
			out[f.Name] = f.Value.Native()
		}
	}
	return out
}

// Clone returns a deep copy so stores never share slices with callers.
func (r *MissionRecord) Clone() *MissionRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Fields = make([]RecordField, len(r.Fields))
	for i, f := range r.Fields {
		if f.Value != nil {
			v := *f.Value
			f.Value = &v
		}
		out.Fields[i] = f
	}
	out.Flagged = append([]string(nil), r.Flagged...)
	if r.AuditedAt != nil {
		t := *r.AuditedAt
		out.AuditedAt = &t
	}
	return &out
}

// TimeRange is the half-open interval [From, To).
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.From) && t.Before(tr.To)
}

type Stage string

const (
	StageReceived       Stage = "received"
	StageNormalized     Stage = "normalized"
	StageLayoutResolved Stage = "layout_resolved"
	StageExtracted      Stage = "extracted"
	StageParsed         Stage = "parsed"
	StageDecided        Stage = "decided"
)

// SubmissionResult is everything the reply formatter needs.
type SubmissionResult struct {
	Status     RecordStatus   `json:"status"`
	Stage      Stage          `json:"stage"`
	Code       ErrorCode      `json:"error_code,omitempty"`
	Message    string         `json:"message,omitempty"`
	Confidence float64        `json:"confidence"`
	Flagged    []string       `json:"flagged_fields,omitempty"`
	Readings   []FieldReading `json:"readings,omitempty"`
	Record     *MissionRecord `json:"record,omitempty"`
}

// ParsedRecord is the parser's output for one submission.
// Readings cover the screen-wide fields and the occupied player slots only.
type ParsedRecord struct {
	Readings       []FieldReading
	ParsedFraction float64
	MeanConfidence float64
	Confidence     float64
	// Players counts occupied player slots; PlayerSlots is how many the template has.
	Players     int
	PlayerSlots int
}

// HasNull reports whether any field failed to parse.
func (p ParsedRecord) HasNull() bool {
	for _, r := range p.Readings {
		if r.Value == nil {
			return true
		}
	}
	return false
}
