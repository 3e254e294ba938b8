package layout

import (
	"fmt"
	"sort"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

// Catalog maps resolution classes to their template versions. It is read-only after construction.
type Catalog struct {
	templates map[domain.Resolution][]*domain.LayoutTemplate
	known     []domain.Resolution
}

// NewCatalog validates templates and indexes them. extraKnown lists resolution
// classes that are recognized but have no template yet.
func NewCatalog(extraKnown []domain.Resolution, templates []domain.LayoutTemplate) (*Catalog, error) {
	c := &Catalog{templates: make(map[domain.Resolution][]*domain.LayoutTemplate)}
	for i := range templates {
		tmpl := templates[i]
		if err := Validate(&tmpl); err != nil {
			return nil, err
		}
		for _, existing := range c.templates[tmpl.Resolution] {
			if existing.Version == tmpl.Version {
				return nil, fmt.Errorf("layout %s v%d declared twice", tmpl.Resolution, tmpl.Version)
			}
		}
		c.templates[tmpl.Resolution] = append(c.templates[tmpl.Resolution], &tmpl)
	}

	seen := make(map[domain.Resolution]struct{})
	for res, list := range c.templates {
		sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
		seen[res] = struct{}{}
		c.known = append(c.known, res)
	}
	for _, res := range extraKnown {
		if _, ok := seen[res]; ok {
			continue
		}
		seen[res] = struct{}{}
		c.known = append(c.known, res)
	}
	sort.Slice(c.known, func(i, j int) bool {
		if c.known[i].Width != c.known[j].Width {
			return c.known[i].Width < c.known[j].Width
		}
		return c.known[i].Height < c.known[j].Height
	})
	return c, nil
}

// Resolve returns the current template for a resolution class.
func (c *Catalog) Resolve(res domain.Resolution) (*domain.LayoutTemplate, error) {
	list := c.templates[res]
	if len(list) == 0 {
		return nil, domain.WrapError(domain.ErrNoTemplateForResolution, "resolve layout", fmt.Errorf("no template for %s", res))
	}
	return list[len(list)-1], nil
}

// ResolveVersion returns a specific template version, used when re-reading stored records.
func (c *Catalog) ResolveVersion(res domain.Resolution, version int) (*domain.LayoutTemplate, error) {
	for _, tmpl := range c.templates[res] {
		if tmpl.Version == version {
			return tmpl, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNoTemplateForResolution, "resolve layout version", fmt.Errorf("no template %s v%d", res, version))
}

// Known lists every resolution class the normalizer should accept.
func (c *Catalog) Known() []domain.Resolution {
	return append([]domain.Resolution(nil), c.known...)
}

// Validate checks the invariants every template must hold.
func Validate(t *domain.LayoutTemplate) error {
	if t.Resolution.IsZero() {
		return fmt.Errorf("layout: resolution is required")
	}
	if t.Version <= 0 {
		return fmt.Errorf("layout %s: version must be positive", t.Resolution)
	}
	if len(t.Fields) == 0 {
		return fmt.Errorf("layout %s v%d: no fields", t.Resolution, t.Version)
	}

	bounds := domain.Rect{X1: t.Resolution.Width, Y1: t.Resolution.Height}
	byName := make(map[string]domain.FieldSpec, len(t.Fields))
	for _, f := range t.Fields {
		prefix := fmt.Sprintf("layout %s v%d field %q", t.Resolution, t.Version, f.Name)
		if f.Name == "" {
			return fmt.Errorf("layout %s v%d: field without name", t.Resolution, t.Version)
		}
		if _, dup := byName[f.Name]; dup {
			return fmt.Errorf("%s: duplicate", prefix)
		}
		if !f.Kind.Valid() {
			return fmt.Errorf("%s: unknown kind %q", prefix, f.Kind)
		}
		r := f.Region
		if r.Empty() || r.X0 < bounds.X0 || r.Y0 < bounds.Y0 || r.X1 > bounds.X1 || r.Y1 > bounds.Y1 {
			return fmt.Errorf("%s: region %+v outside %s", prefix, r, t.Resolution)
		}
		if f.Kind == domain.KindOutcome && len(f.Vocabulary) == 0 {
			return fmt.Errorf("%s: outcome field needs a vocabulary", prefix)
		}
		byName[f.Name] = f
	}

	for _, f := range t.Fields {
		prefix := fmt.Sprintf("layout %s v%d field %q", t.Resolution, t.Version, f.Name)
		if len(f.DeriveFrom) > 0 {
			if f.Kind != domain.KindPercent || len(f.DeriveFrom) != 2 {
				return fmt.Errorf("%s: derive_from needs a percent field and two counters", prefix)
			}
			for _, src := range f.DeriveFrom {
				if s, ok := byName[src]; !ok || s.Kind != domain.KindCounter {
					return fmt.Errorf("%s: derive_from %q is not a counter field", prefix, src)
				}
			}
		}
		if f.ClampTo != "" {
			s, ok := byName[f.ClampTo]
			if f.Kind != domain.KindCounter || !ok || s.Kind != domain.KindCounter || f.ClampTo == f.Name {
				return fmt.Errorf("%s: clamp_to %q must name another counter", prefix, f.ClampTo)
			}
		}
		// an empty slot drops its whole group, so references may not cross groups
		for _, ref := range append(append([]string(nil), f.DeriveFrom...), f.ClampTo) {
			if ref != "" && byName[ref].Group != f.Group {
				return fmt.Errorf("%s: %q belongs to another player slot", prefix, ref)
			}
		}
	}

	for _, group := range t.Groups() {
		key := t.GroupKey(group)
		if key == "" {
			return fmt.Errorf("layout %s v%d: player slots need a player_key", t.Resolution, t.Version)
		}
		if f, ok := byName[key]; !ok || f.Group != group {
			return fmt.Errorf("layout %s v%d: slot %s has no %q field", t.Resolution, t.Version, group, key)
		}
	}
	return nil
}
