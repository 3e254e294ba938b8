package imaging

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

var testKnown = []domain.Resolution{
	{Width: 1280, Height: 800},
	{Width: 1920, Height: 1080},
	{Width: 3440, Height: 1440},
}

func TestDetectResolution(t *testing.T) {
	n := NewNormalizer(testKnown, DefaultTolerancePX)

	tests := []struct {
		name    string
		size    domain.Resolution
		want    domain.Resolution
		wantErr bool
	}{
		{name: "exact", size: domain.Resolution{Width: 1920, Height: 1080}, want: domain.Resolution{Width: 1920, Height: 1080}},
		{name: "within tolerance", size: domain.Resolution{Width: 1917, Height: 1084}, want: domain.Resolution{Width: 1920, Height: 1080}},
		{name: "scaled 2x", size: domain.Resolution{Width: 3840, Height: 2160}, want: domain.Resolution{Width: 1920, Height: 1080}},
		{name: "scaled 1440p", size: domain.Resolution{Width: 2560, Height: 1440}, want: domain.Resolution{Width: 1920, Height: 1080}},
		{name: "scaled 16:10", size: domain.Resolution{Width: 2560, Height: 1600}, want: domain.Resolution{Width: 1280, Height: 800}},
		{name: "ultrawide", size: domain.Resolution{Width: 3440, Height: 1440}, want: domain.Resolution{Width: 3440, Height: 1440}},
		{name: "wrong aspect", size: domain.Resolution{Width: 2560, Height: 1080}, wantErr: true},
		{name: "tiny", size: domain.Resolution{Width: 800, Height: 600}, wantErr: true},
		{name: "just outside tolerance", size: domain.Resolution{Width: 1920, Height: 1090}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Detect(tt.size, nil)
			if tt.wantErr {
				if !domain.IsKind(err, domain.ErrUnsupportedResolution) {
					t.Fatalf("Detect() error = %v, want unsupported resolution", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Detect() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDetectResolutionHint(t *testing.T) {
	n := NewNormalizer(testKnown, DefaultTolerancePX)
	size := domain.Resolution{Width: 1921, Height: 1080}

	hint := domain.Resolution{Width: 1920, Height: 1080}
	got, err := n.Detect(size, &hint)
	if err != nil || got != hint {
		t.Fatalf("Detect(matching hint) = %s, %v", got, err)
	}

	wrong := domain.Resolution{Width: 1280, Height: 800}
	got, err = n.Detect(size, &wrong)
	if err != nil {
		t.Fatalf("Detect(wrong hint) error = %v", err)
	}
	if got != hint {
		t.Fatalf("Detect(wrong hint) = %s, want detected %s", got, hint)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	n := NewNormalizer(testKnown, DefaultTolerancePX)
	for _, raw := range [][]byte{nil, []byte("definitely not an image")} {
		if _, err := n.Normalize(raw, nil); !domain.IsKind(err, domain.ErrImageDecode) {
			t.Fatalf("Normalize(%q) error = %v, want decode error", raw, err)
		}
	}
}

func TestNormalizeRescalesToClass(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 3840, 2160))
	for i := range src.Pix {
		src.Pix[i] = 40
	}
	for y := 400; y < 600; y++ {
		for x := 400; x < 800; x++ {
			src.SetGray(x, y, color.Gray{Y: 220})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}

	got, err := NewNormalizer(testKnown, DefaultTolerancePX).Normalize(buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.Resolution != (domain.Resolution{Width: 1920, Height: 1080}) {
		t.Fatalf("Resolution = %s", got.Resolution)
	}
	if got.Image.Bounds() != image.Rect(0, 0, 1920, 1080) {
		t.Fatalf("Bounds = %v", got.Image.Bounds())
	}
	if got.Scale != 2 {
		t.Fatalf("Scale = %v, want 2", got.Scale)
	}
	if v := got.Image.GrayAt(300, 250).Y; v != 255 {
		t.Fatalf("bright block = %d, want 255 after stretch", v)
	}
	if v := got.Image.GrayAt(10, 10).Y; v != 0 {
		t.Fatalf("background = %d, want 0 after stretch", v)
	}
}

func TestNormalizeUnsupported(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2560, 1080))); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	_, err := NewNormalizer(testKnown, DefaultTolerancePX).Normalize(buf.Bytes(), nil)
	if !domain.IsKind(err, domain.ErrUnsupportedResolution) {
		t.Fatalf("Normalize() error = %v, want unsupported resolution", err)
	}
}

// pngHeader returns a grayscale PNG that declares w x h pixels but carries no image data.
func pngHeader(w, h int) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := func(typ string, data []byte) {
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(data)))
		crc := crc32.NewIEEE()
		crc.Write([]byte(typ))
		crc.Write(data)
		buf.WriteString(typ)
		buf.Write(data)
		_ = binary.Write(&buf, binary.BigEndian, crc.Sum32())
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(w))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(h))
	ihdr[8] = 8 // bit depth; color type 0 is grayscale
	chunk("IHDR", ihdr)
	chunk("IEND", nil)
	return buf.Bytes()
}

func TestNormalizeChecksSizeBeforeDecodingPixels(t *testing.T) {
	n := NewNormalizer(testKnown, DefaultTolerancePX)

	// rejected from the header, without allocating 16000x16000 pixels
	_, err := n.Normalize(pngHeader(16000, 16000), nil)
	if !domain.IsKind(err, domain.ErrUnsupportedResolution) {
		t.Fatalf("Normalize(huge header) error = %v, want unsupported resolution", err)
	}

	// a supported header still needs decodable pixels
	_, err = n.Normalize(pngHeader(1920, 1080), nil)
	if !domain.IsKind(err, domain.ErrImageDecode) {
		t.Fatalf("Normalize(header only) error = %v, want decode error", err)
	}
}

func TestOtsuSplitsTwoLevels(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range g.Pix {
		g.Pix[i] = 30
		if i%4 == 0 {
			g.Pix[i] = 200
		}
	}
	th := OtsuThreshold(g)
	if th < 30 || th >= 200 {
		t.Fatalf("OtsuThreshold() = %d, want in [30,200)", th)
	}

	bin := Binarize(g, th)
	if bin.Pix[0] != 255 || bin.Pix[1] != 0 {
		t.Fatalf("Binarize() = %d,%d, want 255,0", bin.Pix[0], bin.Pix[1])
	}
}

func TestStretchContrastKeepsUniform(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range g.Pix {
		g.Pix[i] = 77
	}
	StretchContrast(g)
	if g.Pix[5] != 77 {
		t.Fatalf("uniform pixel = %d, want unchanged", g.Pix[5])
	}
}
