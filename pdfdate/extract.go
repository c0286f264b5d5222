// Package pdfdate reads the invoice date printed inside a fixed region of
// the first page of a bill.
package pdfdate

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/bill-scraper/config"
)

// Cleanup is a vendor override: Transform rewrites the region text, which is
// then parsed against Format instead of the vendor's primary format.
type Cleanup struct {
	Name      string
	Transform func(string) string
	Format    string
}

var monthToken = regexp.MustCompile(`^[A-Z]{3}$`)

// StripMonthToken drops whitespace-bounded three-letter upper-case tokens,
// such as the duplicate month abbreviation on bilingual invoices.
func StripMonthToken(s string) string {
	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		if !monthToken.MatchString(f) {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

var cleanups = map[string]Cleanup{
	"strip-month-token": {
		Name:      "strip-month-token",
		Transform: StripMonthToken,
		Format:    "%d %Y",
	},
}

// LookupCleanup returns the named override. The empty name means none.
func LookupCleanup(name string) (*Cleanup, error) {
	if name == "" {
		return nil, nil
	}
	c, ok := cleanups[name]
	if !ok {
		return nil, fmt.Errorf("unknown date cleanup %q", name)
	}
	return &c, nil
}

// Extractor parses dates out of bill documents
type Extractor struct {
	logger  *slog.Logger
	cleanup *Cleanup
}

// NewExtractor creates an extractor with no vendor override
func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// WithCleanup returns a copy of e that applies c before parsing
func (e *Extractor) WithCleanup(c *Cleanup) *Extractor {
	cp := *e
	cp.cleanup = c
	return &cp
}

// Extract crops page 1 of doc to region and parses the trimmed text against
// the strftime pattern format. It never fails: anything that does not parse
// yields false and the literal text is logged.
func (e *Extractor) Extract(doc Document, region config.Region, format string) (time.Time, bool) {
	if doc == nil || doc.NumPages() < 1 {
		e.logger.Warn("no pages to extract a date from")
		return time.Time{}, false
	}

	glyphs, err := doc.Glyphs(1)
	if err != nil {
		e.logger.Warn("failed to read first page", "error", err)
		return time.Time{}, false
	}

	text := RegionText(glyphs, region)
	if text == "" {
		e.logger.Warn("no text in date region", "region", region)
		return time.Time{}, false
	}

	candidate := text
	if e.cleanup != nil {
		candidate = e.cleanup.Transform(text)
		format = e.cleanup.Format
	}

	layout, err := Layout(format)
	if err != nil {
		e.logger.Warn("invalid date format", "format", format, "error", err)
		return time.Time{}, false
	}

	date, err := time.Parse(layout, candidate)
	if err != nil {
		e.logger.Warn("date text did not match format",
			"text", text,
			"candidate", candidate,
			"format", format,
		)
		return time.Time{}, false
	}

	e.logger.Debug("extracted invoice date", "text", text, "date", date.Format(time.DateOnly))
	return date, true
}

// ExtractFile opens path and extracts the date using the profile's region,
// format and cleanup.
func (e *Extractor) ExtractFile(path string, profile *config.VendorProfile) (time.Time, bool) {
	cleanup, err := LookupCleanup(profile.DateCleanup)
	if err != nil {
		e.logger.Warn("ignoring date cleanup", "vendor", profile.Name, "error", err)
	}

	f, err := Open(path)
	if err != nil {
		e.logger.Warn("failed to open bill", "path", path, "error", err)
		return time.Time{}, false
	}
	defer f.Close()

	return e.WithCleanup(cleanup).Extract(f, profile.DateRegion, profile.DateFormat)
}
