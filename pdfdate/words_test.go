package pdfdate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bill-scraper/config"
)

func TestLayout(t *testing.T) {
	tests := []struct {
		format  string
		want    string
		wantErr bool
	}{
		{format: "%b %d, %Y", want: "Jan 2, 2006"},
		{format: "%d %b %Y", want: "2 Jan 2006"},
		{format: "%-d-%b-%Y", want: "2-Jan-2006"},
		{format: "%Y/%m/%d", want: "2006/1/2"},
		{format: "%B %d %Y %H:%M", want: "January 2 2006 15:4"},
		{format: "100%% %d", wantErr: true},
		{format: "%d %Q", wantErr: true},
		{format: "%d %", wantErr: true},
		{format: "Mon %d", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			got, err := Layout(tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLayout_LenientDay(t *testing.T) {
	layout, err := Layout("%b %d, %Y")
	require.NoError(t, err)

	for _, s := range []string{"Dec 2, 2025", "Dec 02, 2025"} {
		d, err := time.Parse(layout, s)
		require.NoError(t, err, s)
		assert.Equal(t, 2, d.Day())
	}
}

func TestWords(t *testing.T) {
	glyphs := append(line("Bill date", 10, 20), line("Dec 2, 2025", 10, 40)...)
	words := Words(glyphs)

	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Text
	}
	assert.Equal(t, []string{"Bill", "date", "Dec", "2,", "2025"}, texts)
	assert.Equal(t, 10.0, words[0].X0)
	assert.Equal(t, 30.0, words[0].X1)
}

func TestRegionText_MultipleLines(t *testing.T) {
	glyphs := append(line("Statement", 0, 0), line("Dec 2, 2025", 0, 20)...)
	text := RegionText(glyphs, config.Region{X0: 0, Y0: 0, X1: 100, Y1: 40})
	assert.Equal(t, "Statement\nDec 2, 2025", text)
}

func TestSuggestRegion(t *testing.T) {
	words := Words(append(line("Invoice", 10, 10), line("Nov 12, 2025", 120, 46)...))

	region, word, ok := SuggestRegion(words)
	require.True(t, ok)
	assert.Equal(t, "Nov", word.Text)
	assert.Equal(t, config.Region{X0: 115, Y0: 44, X1: 195, Y1: 58}, region)

	_, _, ok = SuggestRegion(Words(line("Invoice", 10, 10)))
	assert.False(t, ok)
}
