// Package normalize provides the two canonical string forms used by the catalogue.
//
// Display form is what records and responses carry: trimmed, single internal
// spaces, no space before punctuation. Canonical form is what matching and
// indexing operate on: Unicode-normalized, lowercase, no whitespace at all.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// isSpecial reports whether a rune must not be preceded by a space in
// display form.
func isSpecial(r rune) bool {
	return r == ':' || r == ',' || r == '.' || r == ';' || r == '!'
}

// Canonical returns the matching form of s: NFC-normalized, lowercase,
// with every whitespace rune removed.
func Canonical(s string) string {
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Display returns the presentation form of s: NFC-normalized, trimmed,
// with runs of whitespace collapsed to a single space and spaces dropped
// before the punctuation runes ":,.;!".
func Display(s string) string {
	s = strings.TrimSpace(norm.NFC.String(s))

	runes := []rune(s)
	out := make([]rune, 0, len(runes))
	spacePending := false
	for _, r := range runes {
		if unicode.IsSpace(r) {
			spacePending = true
			continue
		}
		if spacePending {
			if !isSpecial(r) {
				out = append(out, ' ')
			}
			spacePending = false
		}
		out = append(out, r)
	}
	return string(out)
}
