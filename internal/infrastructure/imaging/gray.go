package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// ToGray returns img as 8-bit grayscale, keeping its bounds.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}

// StretchContrast maps the darkest pixel to 0 and the brightest to 255 in place.
func StretchContrast(g *image.Gray) {
	b := g.Bounds()
	lo, hi := uint8(255), uint8(0)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[g.PixOffset(b.Min.X, y) : g.PixOffset(b.Min.X, y)+b.Dx()]
		for _, v := range row {
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}
	if hi <= lo || (lo == 0 && hi == 255) {
		return
	}

	span := int(hi - lo)
	var lut [256]uint8
	for v := int(lo); v <= int(hi); v++ {
		lut[v] = uint8((v - int(lo)) * 255 / span)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[g.PixOffset(b.Min.X, y) : g.PixOffset(b.Min.X, y)+b.Dx()]
		for i, v := range row {
			row[i] = lut[v]
		}
	}
}

// Histogram counts pixel intensities.
func Histogram(g *image.Gray) (hist [256]int, total int) {
	b := g.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[g.PixOffset(b.Min.X, y) : g.PixOffset(b.Min.X, y)+b.Dx()]
		for _, v := range row {
			hist[v]++
		}
		total += b.Dx()
	}
	return hist, total
}

// OtsuThreshold returns the intensity t that best separates pixels <= t from pixels > t.
func OtsuThreshold(g *image.Gray) uint8 {
	hist, total := Histogram(g)
	if total == 0 {
		return 0
	}

	var sum float64
	for i, c := range hist {
		sum += float64(i * c)
	}

	var sumB, wB, best float64
	threshold := 0
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = t
		}
	}
	return uint8(threshold)
}

// Binarize returns a 0/255 copy of g split at threshold t.
func Binarize(g *image.Gray, t uint8) *image.Gray {
	b := g.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if g.GrayAt(x, y).Y > t {
				out.Pix[out.PixOffset(x, y)] = 255
			}
		}
	}
	return out
}
