package domain

import (
	"time"

	"github.com/bibliofed/bibliofed/internal/errors"
)

// Loan timestamp layouts. Canonicalized values have all whitespace removed,
// so the compact layout is what record loading actually sees; the spaced
// layout is what the formatter emits and what callers with display-form
// values parse.
const (
	loanDateSpaced  = "02-01-2006 15:04:05"
	loanDateCompact = "02-01-200615:04:05"
)

// ParseLoanDate parses a loan timestamp in either layout and validates the
// year floor. The remaining range checks (month, day, clock fields) are
// enforced by the layout parse itself.
func ParseLoanDate(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range []string{loanDateCompact, loanDateSpaced} {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if t.Year() < 2000 {
			return time.Time{}, errors.BadDatef("loan year %d predates 2000", t.Year())
		}
		return t, nil
	}
	return time.Time{}, errors.Wrap(firstErr, errors.CodeBadDate, "unparseable loan timestamp")
}

// FormatLoanDate renders a loan timestamp in the spaced layout used on disk
// and in responses.
func FormatLoanDate(t time.Time) string {
	return t.Format(loanDateSpaced)
}
