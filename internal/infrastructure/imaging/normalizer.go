package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

const (
	DefaultTolerancePX = 5

	minScale = 0.5
	maxScale = 4.0
)

type Normalizer struct {
	known     []domain.Resolution
	tolerance int
}

func NewNormalizer(known []domain.Resolution, tolerancePX int) *Normalizer {
	if tolerancePX < 0 {
		tolerancePX = DefaultTolerancePX
	}
	return &Normalizer{
		known:     append([]domain.Resolution(nil), known...),
		tolerance: tolerancePX,
	}
}

func (n *Normalizer) Normalize(raw []byte, hint *domain.Resolution) (*domain.NormalizedImage, error) {
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrImageDecode, "decode image", errors.New("empty payload"))
	}
	// the header alone decides the class; pixels are only decoded for a match
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, domain.WrapError(domain.ErrImageDecode, "decode image header", err)
	}
	size := domain.Resolution{Width: cfg.Width, Height: cfg.Height}
	class, err := n.Detect(size, hint)
	if err != nil {
		return nil, err
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, domain.WrapError(domain.ErrImageDecode, "decode image", err)
	}
	if b := src.Bounds(); b.Dx() != size.Width || b.Dy() != size.Height {
		return nil, domain.WrapError(domain.ErrImageDecode, "decode image",
			fmt.Errorf("decoded %dx%d, header says %s", b.Dx(), b.Dy(), size))
	}

	gray := resizeGray(src, class)
	StretchContrast(gray)

	return &domain.NormalizedImage{
		Image:      gray,
		Resolution: class,
		Source:     size,
		Scale:      float64(size.Width) / float64(class.Width),
	}, nil
}

// Detect picks the known resolution class the image size belongs to.
func (n *Normalizer) Detect(size domain.Resolution, hint *domain.Resolution) (domain.Resolution, error) {
	if hint != nil && !hint.IsZero() {
		if n.isKnown(*hint) {
			if _, ok := n.fit(size, *hint); ok {
				return *hint, nil
			}
		}
		slog.Warn("resolution_hint_ignored", "hint", hint.String(), "image", size.String())
	}

	var best domain.Resolution
	bestDev := math.MaxFloat64
	for _, k := range n.known {
		dev, ok := n.fit(size, k)
		if ok && dev < bestDev {
			best, bestDev = k, dev
		}
	}
	if best.IsZero() {
		return domain.Resolution{}, domain.WrapError(
			domain.ErrUnsupportedResolution,
			"detect resolution",
			fmt.Errorf("%s matches no known resolution within %dpx", size, n.tolerance),
		)
	}
	return best, nil
}

// fit returns the deviation, in class pixels, between size and class k.
func (n *Normalizer) fit(size, k domain.Resolution) (float64, bool) {
	dw, dh := absInt(size.Width-k.Width), absInt(size.Height-k.Height)
	if dw <= n.tolerance && dh <= n.tolerance {
		return float64(max(dw, dh)), true
	}

	scale := float64(size.Width) / float64(k.Width)
	if scale < minScale || scale > maxScale {
		return 0, false
	}
	dev := math.Abs(float64(size.Height)/scale - float64(k.Height))
	if dev <= float64(n.tolerance) {
		return dev, true
	}
	return 0, false
}

func (n *Normalizer) isKnown(r domain.Resolution) bool {
	for _, k := range n.known {
		if k == r {
			return true
		}
	}
	return false
}

func resizeGray(src image.Image, class domain.Resolution) *image.Gray {
	dstRect := image.Rect(0, 0, class.Width, class.Height)
	sb := src.Bounds()
	if sb.Dx() == class.Width && sb.Dy() == class.Height {
		out := image.NewGray(dstRect)
		draw.Draw(out, dstRect, src, sb.Min, draw.Src)
		return out
	}

	scaled := image.NewRGBA(dstRect)
	draw.BiLinear.Scale(scaled, dstRect, src, sb, draw.Src, nil)
	out := image.NewGray(dstRect)
	draw.Draw(out, dstRect, scaled, image.Point{}, draw.Src)
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
