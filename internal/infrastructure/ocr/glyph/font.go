package glyph

import (
	"image"
	"image/color"
	"sort"
	"strings"

	"golang.org/x/image/draw"
)

const (
	cellW   = 5
	cellH   = 7
	advance = cellW + 1
)

// bitmap rows, 'X' is ink.
var fontRows = map[rune][cellH]string{
	'0': {".XXX.", "X...X", "X..XX", "X.X.X", "XX..X", "X...X", ".XXX."},
	'1': {"..X..", ".XX..", "..X..", "..X..", "..X..", "..X..", ".XXX."},
	'2': {".XXX.", "X...X", "....X", "...X.", "..X..", ".X...", "XXXXX"},
	'3': {"XXXXX", "...X.", "..X..", "...X.", "....X", "X...X", ".XXX."},
	'4': {"...X.", "..XX.", ".X.X.", "X..X.", "XXXXX", "...X.", "...X."},
	'5': {"XXXXX", "X....", "XXXX.", "....X", "....X", "X...X", ".XXX."},
	'6': {"..XX.", ".X...", "X....", "XXXX.", "X...X", "X...X", ".XXX."},
	'7': {"XXXXX", "....X", "...X.", "..X..", ".X...", ".X...", ".X..."},
	'8': {".XXX.", "X...X", "X...X", ".XXX.", "X...X", "X...X", ".XXX."},
	'9': {".XXX.", "X...X", "X...X", ".XXXX", "....X", "...X.", ".XX.."},

	'A': {".XXX.", "X...X", "X...X", "XXXXX", "X...X", "X...X", "X...X"},
	'B': {"XXXX.", "X...X", "X...X", "XXXX.", "X...X", "X...X", "XXXX."},
	'C': {".XXX.", "X...X", "X....", "X....", "X....", "X...X", ".XXX."},
	'D': {"XXX..", "X..X.", "X...X", "X...X", "X...X", "X..X.", "XXX.."},
	'E': {"XXXXX", "X....", "X....", "XXXX.", "X....", "X....", "XXXXX"},
	'F': {"XXXXX", "X....", "X....", "XXXX.", "X....", "X....", "X...."},
	'G': {".XXX.", "X...X", "X....", "X.XXX", "X...X", "X...X", ".XXXX"},
	'H': {"X...X", "X...X", "X...X", "XXXXX", "X...X", "X...X", "X...X"},
	'I': {".XXX.", "..X..", "..X..", "..X..", "..X..", "..X..", ".XXX."},
	'J': {"..XXX", "...X.", "...X.", "...X.", "...X.", "X..X.", ".XX.."},
	'K': {"X...X", "X..X.", "X.X..", "XX...", "X.X..", "X..X.", "X...X"},
	'L': {"X....", "X....", "X....", "X....", "X....", "X....", "XXXXX"},
	'M': {"X...X", "XX.XX", "X.X.X", "X.X.X", "X...X", "X...X", "X...X"},
	'N': {"X...X", "X...X", "XX..X", "X.X.X", "X..XX", "X...X", "X...X"},
	'O': {".XXX.", "X...X", "X...X", "X...X", "X...X", "X...X", ".XXX."},
	'P': {"XXXX.", "X...X", "X...X", "XXXX.", "X....", "X....", "X...."},
	'Q': {".XXX.", "X...X", "X...X", "X...X", "X.X.X", "X..X.", ".XX.X"},
	'R': {"XXXX.", "X...X", "X...X", "XXXX.", "X.X..", "X..X.", "X...X"},
	'S': {".XXXX", "X....", "X....", ".XXX.", "....X", "....X", "XXXX."},
	'T': {"XXXXX", "..X..", "..X..", "..X..", "..X..", "..X..", "..X.."},
	'U': {"X...X", "X...X", "X...X", "X...X", "X...X", "X...X", ".XXX."},
	'V': {"X...X", "X...X", "X...X", "X...X", "X...X", ".X.X.", "..X.."},
	'W': {"X...X", "X...X", "X...X", "X.X.X", "X.X.X", "X.X.X", ".X.X."},
	'X': {"X...X", "X...X", ".X.X.", "..X..", ".X.X.", "X...X", "X...X"},
	'Y': {"X...X", "X...X", ".X.X.", "..X..", "..X..", "..X..", "..X.."},
	'Z': {"XXXXX", "....X", "...X.", "..X..", ".X...", "X....", "XXXXX"},

	'.': {".....", ".....", ".....", ".....", ".....", ".XX..", ".XX.."},
	':': {".....", ".XX..", ".XX..", ".....", ".XX..", ".XX..", "....."},
	'%': {"XX...", "XX..X", "...X.", "..X..", ".X...", "X..XX", "...XX"},
	'-': {".....", ".....", ".....", "XXXXX", ".....", ".....", "....."},
	'#': {".X.X.", ".X.X.", "XXXXX", ".X.X.", "XXXXX", ".X.X.", ".X.X."},
	'<': {"...X.", "..X..", ".X...", "X....", ".X...", "..X..", "...X."},
	'>': {".X...", "..X..", "...X.", "....X", "...X.", "..X..", ".X..."},
	'_': {".....", ".....", ".....", ".....", ".....", ".....", "XXXXX"},
}

// shape is a glyph trimmed to its ink columns.
type shape struct {
	r     rune
	width int
	cells [cellH][cellW]bool
}

var shapes = buildShapes()

func buildShapes() []shape {
	out := make([]shape, 0, len(fontRows))
	for r, rows := range fontRows {
		var s shape
		s.r = r
		first, last := cellW, -1
		for y := 0; y < cellH; y++ {
			for x := 0; x < cellW; x++ {
				if rows[y][x] == 'X' {
					first = min(first, x)
					last = max(last, x)
				}
			}
		}
		s.width = last - first + 1
		for y := 0; y < cellH; y++ {
			for x := 0; x < s.width; x++ {
				s.cells[y][x] = rows[y][first+x] == 'X'
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].r < out[j].r })
	return out
}

// Supported reports whether the font can render r. Space is always supported.
func Supported(r rune) bool {
	if r == ' ' {
		return true
	}
	_, ok := fontRows[r]
	return ok
}

// Measure returns the pixel size of text rendered at scale.
func Measure(text string, scale int) (int, int) {
	n := len([]rune(text))
	if n == 0 || scale < 1 {
		return 0, 0
	}
	return (n*advance - 1) * scale, cellH * scale
}

// FitScale returns the largest scale at which text fits into w x h, or 0.
func FitScale(text string, w, h int) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return max(0, min(h/cellH, w/(n*advance-1)))
}

// Draw renders text onto dst with its top-left corner at (x, y).
func Draw(dst draw.Image, x, y int, text string, scale int, c color.Color) {
	if scale < 1 {
		return
	}
	src := image.NewUniform(c)
	for i, r := range []rune(strings.ToUpper(text)) {
		rows, ok := fontRows[r]
		if !ok {
			continue
		}
		ox := x + i*advance*scale
		for gy := 0; gy < cellH; gy++ {
			for gx := 0; gx < cellW; gx++ {
				if rows[gy][gx] != 'X' {
					continue
				}
				block := image.Rect(ox+gx*scale, y+gy*scale, ox+(gx+1)*scale, y+(gy+1)*scale)
				draw.Draw(dst, block, src, image.Point{}, draw.Src)
			}
		}
	}
}
