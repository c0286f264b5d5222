package pdfdate

import (
	"fmt"
	"strings"
	"unicode"
)

// strftime directives mapped to lenient Go reference-time elements.
// Numeric fields use the unpadded forms so "2" and "02" both parse.
var directives = map[byte]string{
	'd': "2",
	'e': "_2",
	'b': "Jan",
	'h': "Jan",
	'B': "January",
	'm': "1",
	'y': "06",
	'Y': "2006",
	'H': "15",
	'I': "3",
	'M': "4",
	'S': "5",
	'p': "PM",
	'a': "Mon",
	'A': "Monday",
}

// literal text that time.Parse would read as a layout element
var layoutTokens = []string{"Jan", "Mon", "MST", "PM", "pm", "Z07"}

// Layout converts a strftime pattern such as "%b %d, %Y" into a Go time layout.
func Layout(format string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(format) {
			return "", fmt.Errorf("date format %q ends with a bare %%", format)
		}
		i++
		next := format[i]
		// %-d and %-m are the platform-specific unpadded variants
		if next == '-' && i+1 < len(format) {
			i++
			next = format[i]
		}
		if next == '%' {
			b.WriteByte('%')
			continue
		}
		elem, ok := directives[next]
		if !ok {
			return "", fmt.Errorf("date format %q: unsupported directive %%%c", format, next)
		}
		b.WriteString(elem)
	}

	if err := checkLiterals(format); err != nil {
		return "", err
	}
	return b.String(), nil
}

func checkLiterals(format string) error {
	var lit strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] == '%' {
			i++
			if i < len(format) && format[i] == '-' {
				i++
			}
			lit.WriteByte(' ')
			continue
		}
		lit.WriteByte(format[i])
	}

	s := lit.String()
	if strings.IndexFunc(s, unicode.IsDigit) >= 0 {
		return fmt.Errorf("date format %q: literal digits are not supported", format)
	}
	for _, tok := range layoutTokens {
		if strings.Contains(s, tok) {
			return fmt.Errorf("date format %q: literal %q is ambiguous", format, tok)
		}
	}
	return nil
}
