// Package glyph is a template-matching recognizer for the fixed bitmap font
// used by the mission summary screen.
package glyph

import (
	"context"
	"image"
	"math"
	"strings"

	"github.com/kirillkom/mission-stats/internal/core/domain"
	"github.com/kirillkom/mission-stats/internal/infrastructure/imaging"
)

const (
	DefaultMinContrast = 96.0

	// gap, in glyph units, at which two ink runs are read as separate words
	spaceGapUnits = 5.0
)

type Engine struct {
	minContrast float64
}

func New() *Engine {
	return &Engine{minContrast: DefaultMinContrast}
}

// NewWithContrast sets the foreground/background difference that earns full confidence.
func NewWithContrast(minContrast float64) *Engine {
	if minContrast <= 0 {
		minContrast = DefaultMinContrast
	}
	return &Engine{minContrast: minContrast}
}

func (e *Engine) Recognize(ctx context.Context, img image.Image, hints domain.OCRHints) (domain.OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OCRResult{}, err
	}
	if img == nil || img.Bounds().Empty() {
		return domain.OCRResult{}, nil
	}
	text, conf := e.read(imaging.ToGray(img), candidates(hints.Charset))
	return domain.OCRResult{Text: text, Confidence: conf}, nil
}

func (e *Engine) read(g *image.Gray, allowed []shape) (string, float64) {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()

	t := imaging.OtsuThreshold(g)
	hist, total := imaging.Histogram(g)
	var above, aboveSum, belowSum int
	for v, c := range hist {
		if v > int(t) {
			above += c
			aboveSum += v * c
		} else {
			belowSum += v * c
		}
	}
	below := total - above
	if above == 0 || below == 0 {
		return "", 0
	}

	// ink is the minority class
	brightInk := above <= below
	aboveMean := float64(aboveSum) / float64(above)
	belowMean := float64(belowSum) / float64(below)
	contrast := math.Min(1, math.Abs(aboveMean-belowMean)/e.minContrast)

	mask := make([]bool, w*h)
	top, bottom := -1, -1
	for y := 0; y < h; y++ {
		row := g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < w; x++ {
			if (row[x] > t) == brightInk {
				mask[y*w+x] = true
				if top < 0 {
					top = y
				}
				bottom = y
			}
		}
	}
	if top < 0 {
		return "", 0
	}
	s := max(1, int(math.Round(float64(bottom-top+1)/cellH)))

	runs := columnRuns(mask, w, top, bottom)
	var sb strings.Builder
	var scoreSum float64
	prevEnd := -1
	for _, run := range runs {
		if prevEnd >= 0 && float64(run[0]-prevEnd-1)/float64(s) >= spaceGapUnits {
			sb.WriteByte(' ')
		}
		prevEnd = run[1]
		r, score := classify(mask, w, h, run, top, s, allowed)
		sb.WriteRune(r)
		scoreSum += score
	}
	return strings.TrimSpace(sb.String()), scoreSum / float64(len(runs)) * contrast
}

// columnRuns returns [first, last] spans of columns holding ink between rows top and bottom.
func columnRuns(mask []bool, w, top, bottom int) [][2]int {
	var runs [][2]int
	start := -1
	for x := 0; x <= w; x++ {
		inked := false
		if x < w {
			for y := top; y <= bottom; y++ {
				if mask[y*w+x] {
					inked = true
					break
				}
			}
		}
		switch {
		case inked && start < 0:
			start = x
		case !inked && start >= 0:
			runs = append(runs, [2]int{start, x - 1})
			start = -1
		}
	}
	return runs
}

func classify(mask []bool, w, h int, run [2]int, top, s int, allowed []shape) (rune, float64) {
	width := int(math.Round(float64(run[1]-run[0]+1) / float64(s)))
	best, bestScore := '?', 0.0
	for _, sh := range allowed {
		if sh.width != width {
			continue
		}
		matches := 0
		for r := 0; r < cellH; r++ {
			y := top + r*s + s/2
			for c := 0; c < width; c++ {
				x := run[0] + c*s + s/2
				on := x < w && y < h && mask[y*w+x]
				if on == sh.cells[r][c] {
					matches++
				}
			}
		}
		score := float64(matches) / float64(cellH*width)
		if score > bestScore {
			best, bestScore = sh.r, score
		}
	}
	return best, bestScore
}

func candidates(charset string) []shape {
	if charset == "" {
		return shapes
	}
	out := make([]shape, 0, len(shapes))
	for _, sh := range shapes {
		if strings.ContainsRune(charset, sh.r) {
			out = append(out, sh)
		}
	}
	return out
}
