package layout

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

//go:embed default.yaml
var defaultCatalog []byte

type catalogFile struct {
	KnownResolutions []string       `yaml:"known_resolutions"`
	Templates        []templateFile `yaml:"templates"`
}

type templateFile struct {
	Resolution   string      `yaml:"resolution"`
	Version      int         `yaml:"version"`
	Fields       []fieldFile `yaml:"fields"`
	Players      int         `yaml:"players"`
	PlayerOffset int         `yaml:"player_offset"`
	PlayerKey    string      `yaml:"player_key"`
	PlayerFields []fieldFile `yaml:"player_fields"`
}

type fieldFile struct {
	Name       string   `yaml:"name"`
	Kind       string   `yaml:"kind"`
	Rect       [4]int   `yaml:"rect"`
	Vocabulary []string `yaml:"vocabulary"`
	DeriveFrom []string `yaml:"derive_from"`
	ClampTo    string   `yaml:"clamp_to"`
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file, falling back to the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode layout catalog: %w", err)
	}

	known := make([]domain.Resolution, 0, len(file.KnownResolutions))
	for _, s := range file.KnownResolutions {
		res, err := domain.ParseResolution(s)
		if err != nil {
			return nil, fmt.Errorf("known resolution: %w", err)
		}
		known = append(known, res)
	}

	templates := make([]domain.LayoutTemplate, 0, len(file.Templates))
	for _, tf := range file.Templates {
		tmpl, err := tf.toDomain()
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}
	return NewCatalog(known, templates)
}

func (tf templateFile) toDomain() (domain.LayoutTemplate, error) {
	res, err := domain.ParseResolution(tf.Resolution)
	if err != nil {
		return domain.LayoutTemplate{}, fmt.Errorf("template resolution: %w", err)
	}
	tmpl := domain.LayoutTemplate{Resolution: res, Version: tf.Version}
	for _, ff := range tf.Fields {
		tmpl.Fields = append(tmpl.Fields, ff.toDomain("", 0))
	}

	players := tf.Players
	if players == 0 && len(tf.PlayerFields) > 0 {
		players = 1
	}
	for p := 1; p <= players; p++ {
		group := fmt.Sprintf("p%d", p)
		for _, ff := range tf.PlayerFields {
			spec := ff.toDomain(group+"_", (p-1)*tf.PlayerOffset)
			spec.Group = group
			tmpl.Fields = append(tmpl.Fields, spec)
		}
	}
	if players > 0 {
		tmpl.PlayerKey = tf.playerKey()
	}
	return tmpl, nil
}

// playerKey defaults to the "name" player field, then to the first one.
func (tf templateFile) playerKey() string {
	if tf.PlayerKey != "" {
		return tf.PlayerKey
	}
	for _, ff := range tf.PlayerFields {
		if ff.Name == "name" {
			return ff.Name
		}
	}
	if len(tf.PlayerFields) == 0 {
		return ""
	}
	return tf.PlayerFields[0].Name
}

// toDomain prefixes the field and its references and shifts it right by dx.
func (ff fieldFile) toDomain(prefix string, dx int) domain.FieldSpec {
	spec := domain.FieldSpec{
		Name:       prefix + ff.Name,
		Kind:       domain.FieldKind(ff.Kind),
		Region:     domain.Rect{X0: ff.Rect[0], Y0: ff.Rect[1], X1: ff.Rect[2], Y1: ff.Rect[3]}.Translate(dx, 0),
		Vocabulary: append([]string(nil), ff.Vocabulary...),
	}
	for _, src := range ff.DeriveFrom {
		spec.DeriveFrom = append(spec.DeriveFrom, prefix+src)
	}
	if ff.ClampTo != "" {
		spec.ClampTo = prefix + ff.ClampTo
	}
	return spec
}
