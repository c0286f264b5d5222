package pdfdate

import (
	"math"
	"sort"
	"strings"

	"github.com/bill-scraper/config"
)

const (
	xTolerance = 3.0
	yTolerance = 3.0
)

// Word is a run of glyphs on one line without a horizontal gap
type Word struct {
	Text   string
	X0     float64
	Top    float64
	X1     float64
	Bottom float64
}

var monthNames = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// Words groups glyphs into words sorted top to bottom, then left to right
func Words(glyphs []Glyph) []Word {
	var words []Word
	for _, line := range lines(glyphs) {
		var cur *Word
		for _, g := range line {
			if g.Text == " " {
				cur = nil
				continue
			}
			if cur != nil && g.X0-cur.X1 <= xTolerance {
				cur.Text += g.Text
				cur.X1 = math.Max(cur.X1, g.X1)
				cur.Top = math.Min(cur.Top, g.Top)
				cur.Bottom = math.Max(cur.Bottom, g.Bottom)
				continue
			}
			words = append(words, Word{Text: g.Text, X0: g.X0, Top: g.Top, X1: g.X1, Bottom: g.Bottom})
			cur = &words[len(words)-1]
		}
	}
	return words
}

// RegionText returns the text of glyphs whose centre lies inside region,
// one line per row with words separated by single spaces.
func RegionText(glyphs []Glyph, region config.Region) string {
	var inside []Glyph
	for _, g := range glyphs {
		cx := (g.X0 + g.X1) / 2
		cy := (g.Top + g.Bottom) / 2
		if cx >= region.X0 && cx <= region.X1 && cy >= region.Y0 && cy <= region.Y1 {
			inside = append(inside, g)
		}
	}

	words := Words(inside)
	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			if math.Abs(w.Top-words[i-1].Top) > yTolerance {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(w.Text)
	}
	return strings.TrimSpace(b.String())
}

// SuggestRegion proposes a date region around the first word that names a
// month, padded to cover the day and year that usually follow it.
func SuggestRegion(words []Word) (config.Region, Word, bool) {
	for _, w := range words {
		for _, m := range monthNames {
			if strings.Contains(w.Text, m) || strings.Contains(w.Text, strings.ToUpper(m)) {
				return config.Region{
					X0: math.Round(w.X0 - 5),
					Y0: math.Round(w.Top - 2),
					X1: math.Round(w.X1 + 60),
					Y1: math.Round(w.Bottom + 2),
				}, w, true
			}
		}
	}
	return config.Region{}, Word{}, false
}

// lines buckets glyphs into rows by their top coordinate
func lines(glyphs []Glyph) [][]Glyph {
	sorted := make([]Glyph, len(glyphs))
	copy(sorted, glyphs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Top < sorted[j].Top })

	var rows [][]Glyph
	for _, g := range sorted {
		n := len(rows)
		if n > 0 && math.Abs(rows[n-1][0].Top-g.Top) <= yTolerance {
			rows[n-1] = append(rows[n-1], g)
			continue
		}
		rows = append(rows, []Glyph{g})
	}
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].X0 < row[j].X0 })
	}
	return rows
}
