package pdfdate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// defaultPageHeight is US Letter, used when a page carries no MediaBox
const defaultPageHeight = 792.0

// ErrNoPages is returned for documents without a first page
var ErrNoPages = errors.New("pdf has no pages")

// Glyph is one positioned piece of text with the origin at the top-left
// corner of the page.
type Glyph struct {
	Text   string
	X0     float64
	Top    float64
	X1     float64
	Bottom float64
}

// Document gives access to the positioned text of a PDF.
// Pages are numbered from 1.
type Document interface {
	NumPages() int
	Glyphs(page int) ([]Glyph, error)
}

// File is a Document backed by a PDF file on disk
type File struct {
	closer interface{ Close() error }
	reader *pdf.Reader
}

// Open opens the PDF at path. The caller must Close it.
func Open(path string) (*File, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf %s: %w", path, err)
	}
	return &File{closer: f, reader: r}, nil
}

// NumPages returns the page count
func (f *File) NumPages() int {
	return f.reader.NumPage()
}

// Glyphs returns the text of page n converted to top-left coordinates
func (f *File) Glyphs(n int) (glyphs []Glyph, err error) {
	if n < 1 || n > f.reader.NumPage() {
		return nil, ErrNoPages
	}

	page := f.reader.Page(n)
	if page.V.IsNull() {
		return nil, ErrNoPages
	}

	// the content parser panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			glyphs = nil
			err = fmt.Errorf("failed to read page %d: %v", n, r)
		}
	}()

	height := pageHeight(page)
	for _, t := range page.Content().Text {
		if strings.TrimSpace(t.S) == "" && t.S != " " {
			continue
		}
		size := t.FontSize
		if size <= 0 {
			size = 1
		}
		glyphs = append(glyphs, Glyph{
			Text:   t.S,
			X0:     t.X,
			X1:     t.X + t.W,
			Top:    height - t.Y - size,
			Bottom: height - t.Y,
		})
	}
	return glyphs, nil
}

// Close releases the underlying file
func (f *File) Close() error {
	return f.closer.Close()
}

func pageHeight(page pdf.Page) float64 {
	box := page.V.Key("MediaBox")
	if box.IsNull() {
		box = page.V.Key("Parent").Key("MediaBox")
	}
	if box.Len() != 4 {
		return defaultPageHeight
	}
	h := box.Index(3).Float64() - box.Index(1).Float64()
	if h <= 0 {
		return defaultPageHeight
	}
	return h
}
