package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Resolution is a screen resolution class such as 1920x1080.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

func (r Resolution) IsZero() bool {
	return r.Width == 0 && r.Height == 0
}

// ParseResolution accepts "1920x1080" (case-insensitive separator).
func ParseResolution(s string) (Resolution, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return Resolution{}, WrapError(ErrInvalidInput, "parse resolution", fmt.Errorf("malformed %q", s))
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return Resolution{}, WrapError(ErrInvalidInput, "parse resolution", fmt.Errorf("malformed %q", s))
	}
	return Resolution{Width: w, Height: h}, nil
}

// Rect is a half-open pixel rectangle [X0,X1) x [Y0,Y1) in normalized image space.
type Rect struct {
	X0 int `json:"x0" yaml:"x0"`
	Y0 int `json:"y0" yaml:"y0"`
	X1 int `json:"x1" yaml:"x1"`
	Y1 int `json:"y1" yaml:"y1"`
}

func (r Rect) Dx() int { return r.X1 - r.X0 }
func (r Rect) Dy() int { return r.Y1 - r.Y0 }

func (r Rect) Empty() bool { return r.Dx() <= 0 || r.Dy() <= 0 }

func (r Rect) Translate(dx, dy int) Rect {
	return Rect{X0: r.X0 + dx, Y0: r.Y0 + dy, X1: r.X1 + dx, Y1: r.Y1 + dy}
}

type FieldKind string

const (
	KindCounter  FieldKind = "counter"
	KindPercent  FieldKind = "percent"
	KindDuration FieldKind = "duration"
	KindOutcome  FieldKind = "outcome"
	KindText     FieldKind = "text"
)

func (k FieldKind) Valid() bool {
	switch k {
	case KindCounter, KindPercent, KindDuration, KindOutcome, KindText:
		return true
	default:
		return false
	}
}

// FieldSpec declares one stat field of a layout template.
type FieldSpec struct {
	Name       string    `json:"name"`
	Kind       FieldKind `json:"kind"`
	Region     Rect      `json:"region"`
	Vocabulary []string  `json:"vocabulary,omitempty"`

	// DeriveFrom names [numerator, denominator] counters used when a percent field is unreadable.
	DeriveFrom []string `json:"derive_from,omitempty"`
	// ClampTo names a counter this counter may never exceed.
	ClampTo string `json:"clamp_to,omitempty"`
	// Group is the player slot ("p1", "p2", ...) the field belongs to; empty for screen-wide fields.
	Group string `json:"group,omitempty"`
}

// LayoutTemplate is the immutable field layout for one resolution class and version.
type LayoutTemplate struct {
	Resolution Resolution  `json:"resolution"`
	Version    int         `json:"version"`
	Fields     []FieldSpec `json:"fields"`
	// PlayerKey is the per-player field, without its slot prefix, whose blank region
	// marks an empty player slot.
	PlayerKey string `json:"player_key,omitempty"`
}

func (t *LayoutTemplate) Ref() LayoutRef {
	return LayoutRef{Resolution: t.Resolution.String(), Version: t.Version}
}

func (t *LayoutTemplate) Field(name string) (FieldSpec, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Groups lists the player slots in template order.
func (t *LayoutTemplate) Groups() []string {
	var out []string
	seen := make(map[string]bool)
	for _, f := range t.Fields {
		if f.Group != "" && !seen[f.Group] {
			seen[f.Group] = true
			out = append(out, f.Group)
		}
	}
	return out
}

// GroupKey returns the name of the field that decides whether group is occupied.
func (t *LayoutTemplate) GroupKey(group string) string {
	if group == "" || t.PlayerKey == "" {
		return ""
	}
	return group + "_" + t.PlayerKey
}

// LayoutRef records which template version produced a record.
type LayoutRef struct {
	Resolution string `json:"resolution"`
	Version    int    `json:"version"`
}
