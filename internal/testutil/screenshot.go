// Package testutil renders synthetic stats screens for pipeline tests.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/kirillkom/mission-stats/internal/core/domain"
	"github.com/kirillkom/mission-stats/internal/infrastructure/ocr/glyph"
)

const (
	Background uint8 = 24
	Ink        uint8 = 230
)

// RenderScreenshot draws every value into its template region, left-aligned and
// vertically centered, at the largest scale that fits.
func RenderScreenshot(t testing.TB, tmpl *domain.LayoutTemplate, values map[string]string) *image.Gray {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, tmpl.Resolution.Width, tmpl.Resolution.Height))
	for i := range img.Pix {
		img.Pix[i] = Background
	}
	for _, spec := range tmpl.Fields {
		text, ok := values[spec.Name]
		if !ok || text == "" {
			continue
		}
		r := spec.Region
		scale := glyph.FitScale(text, r.Dx()-2, r.Dy())
		if scale < 1 {
			t.Fatalf("value %q does not fit region %s %+v", text, spec.Name, r)
		}
		_, h := glyph.Measure(text, scale)
		glyph.Draw(img, r.X0+1, r.Y0+(r.Dy()-h)/2, text, scale, color.Gray{Y: Ink})
	}
	return img
}

func EncodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

// FadeRegion pulls every pixel of r toward the background; factor 1 keeps it, 0 erases it.
func FadeRegion(img *image.Gray, r domain.Rect, factor float64) {
	for y := r.Y0; y < r.Y1; y++ {
		for x := r.X0; x < r.X1; x++ {
			v := float64(img.GrayAt(x, y).Y)
			faded := float64(Background) + (v-float64(Background))*factor
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(faded))})
		}
	}
}

// Upscale enlarges img by an integer factor with nearest-neighbour sampling.
func Upscale(img *image.Gray, factor int) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	for y := 0; y < out.Rect.Dy(); y++ {
		for x := 0; x < out.Rect.Dx(); x++ {
			out.Pix[y*out.Stride+x] = img.GrayAt(b.Min.X+x/factor, b.Min.Y+y/factor).Y
		}
	}
	return out
}

// PhonePhoto imitates a photo of a monitor: a dark bezel around a dim, glare-lit screen
// with no legible text.
func PhonePhoto(res domain.Resolution) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, res.Width, res.Height))
	bezel := res.Height / 12
	for y := 0; y < res.Height; y++ {
		for x := 0; x < res.Width; x++ {
			if x < bezel || y < bezel || x >= res.Width-bezel || y >= res.Height-bezel {
				img.SetRGBA(x, y, color.RGBA{R: 12, G: 12, B: 14, A: 255})
				continue
			}
			glare := 60 + 80*float64(x+y)/float64(res.Width+res.Height)
			v := uint8(glare)
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v + 6, A: 255})
		}
	}
	return img
}
