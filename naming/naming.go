// Package naming builds and parses the deterministic bill filenames.
//
// Final names look like ROGE04_3509_2-Dec-2025_68050-YYT-11-410.pdf: vendor
// code, account number, invoice date (day without leading zero, abbreviated
// month, four-digit year) and GL account, joined by underscores.
package naming

import (
	"fmt"
	"strings"
	"time"

	"github.com/bill-scraper/config"
)

const (
	// DateLayout renders the day without a leading zero on every platform
	DateLayout = "2-Jan-2006"

	// TempPrefix starts every in-flight download name
	TempPrefix = "temp_"

	tempStampLayout = "20060102150405"
	extension       = ".pdf"
)

// Parsed is the information recovered from a final filename
type Parsed struct {
	VendorCode    string
	AccountNumber string
	GLAccount     string
	Date          time.Time
}

// Build returns the final filename for an account and invoice date
func Build(meta config.AccountMetadata, date time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s%s",
		meta.VendorCode,
		meta.AccountNumber,
		date.Format(DateLayout),
		meta.GLAccount,
		extension,
	)
}

// Parse is the inverse of Build
func Parse(name string) (Parsed, error) {
	base, ok := strings.CutSuffix(name, extension)
	if !ok {
		return Parsed{}, fmt.Errorf("not a pdf filename: %q", name)
	}
	if strings.HasPrefix(base, TempPrefix) {
		return Parsed{}, fmt.Errorf("temporary filename: %q", name)
	}

	parts := strings.SplitN(base, "_", 4)
	if len(parts) != 4 {
		return Parsed{}, fmt.Errorf("filename %q does not have 4 fields", name)
	}
	for _, p := range parts {
		if p == "" {
			return Parsed{}, fmt.Errorf("filename %q has an empty field", name)
		}
	}

	date, err := time.Parse(DateLayout, parts[2])
	if err != nil {
		return Parsed{}, fmt.Errorf("filename %q has an invalid date: %w", name, err)
	}

	return Parsed{
		VendorCode:    parts[0],
		AccountNumber: parts[1],
		GLAccount:     parts[3],
		Date:          date,
	}, nil
}

// Metadata returns the account triple recovered by Parse
func (p Parsed) Metadata() config.AccountMetadata {
	return config.AccountMetadata{
		VendorCode:    p.VendorCode,
		AccountNumber: p.AccountNumber,
		GLAccount:     p.GLAccount,
	}
}

// TempName returns the in-flight download name for a unit
func TempName(vendor string, accountIndex int, now time.Time) string {
	return fmt.Sprintf("%s%s_%d_%s%s", TempPrefix, vendor, accountIndex, now.Format(tempStampLayout), extension)
}

// IsTemp reports whether name is an in-flight download name
func IsTemp(name string) bool {
	return strings.HasPrefix(name, TempPrefix)
}

// ValidateMetadata rejects metadata Build could not round-trip: empty fields,
// underscores in the leading fields, or a vendor code that collides with TempPrefix.
func ValidateMetadata(meta config.AccountMetadata) error {
	if meta.VendorCode == "" || meta.AccountNumber == "" || meta.GLAccount == "" {
		return fmt.Errorf("vendor code, account number and gl account are required")
	}
	if strings.Contains(meta.VendorCode, "_") || strings.Contains(meta.AccountNumber, "_") {
		return fmt.Errorf("vendor code %q and account number %q must not contain '_'", meta.VendorCode, meta.AccountNumber)
	}
	if strings.EqualFold(meta.VendorCode+"_", TempPrefix) {
		return fmt.Errorf("vendor code %q is reserved", meta.VendorCode)
	}
	return nil
}
