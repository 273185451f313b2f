// Package domain contains the core entities of the lending catalogue: books,
// field/value pairs, and the loan timestamp format.
package domain

import (
	"strings"
	"time"

	"github.com/bibliofed/bibliofed/internal/errors"
	"github.com/bibliofed/bibliofed/internal/normalize"
)

// LoanWindow is how long a granted loan lasts before any read of the book
// expires it.
const LoanWindow = 30 * time.Second

// LoanField is the reserved field name carrying the loan timestamp in a
// record line. It never appears in a book's description.
const LoanField = "loan"

// Book represents one bibliographic record.
//
// Desc is the display-form description with the loan pair stripped.
// InUse is the per-book busy flag; it is guarded by the catalogue lock and
// never touched by Book methods themselves.
type Book struct {
	Desc     string
	Loaned   bool
	LoanedAt time.Time
	InUse    bool
}

// NewBook builds a book from one record-file line. The line is brought to
// display form and, if it carries a loan pair, the pair is extracted into
// the loan state and removed from the description.
func NewBook(line string) (*Book, error) {
	line = strings.TrimSuffix(line, "\n")
	b := &Book{Desc: normalize.Display(line)}

	marker := LoanField + ":"
	start := strings.Index(b.Desc, marker)
	if start < 0 {
		return b, nil
	}
	semi := strings.IndexByte(b.Desc[start:], ';')
	if semi < 0 {
		return nil, errors.BadFormatRecord("loan pair is not terminated")
	}
	semi += start

	value := normalize.Canonical(b.Desc[start+len(marker) : semi])
	at, err := ParseLoanDate(value)
	if err != nil {
		return nil, err
	}
	b.Loaned = true
	b.LoanedAt = at
	b.Desc = strings.TrimRight(b.Desc[:start]+b.Desc[semi+1:], " ")
	return b, nil
}

// refreshLoan clears an expired loan. Any inspection of the book goes
// through here first; there is no background sweeper.
func (b *Book) refreshLoan(now time.Time) {
	if b.Loaned && now.Sub(b.LoanedAt) > LoanWindow {
		b.Loaned = false
	}
}

// Render returns the record line for the book: the description followed by
// the loan pair when the loan is still live, and a terminating newline.
func (b *Book) Render(now time.Time) string {
	b.refreshLoan(now)
	if b.Loaned {
		return b.Desc + " " + LoanField + ": " + FormatLoanDate(b.LoanedAt) + ";\n"
	}
	return b.Desc + "\n"
}

// Grant attempts the AVAILABLE -> LOANED transition. It returns false
// without side effects when the book is already on a live loan.
func (b *Book) Grant(now time.Time) bool {
	b.refreshLoan(now)
	if b.Loaned {
		return false
	}
	b.Loaned = true
	b.LoanedAt = now
	return true
}

// Matches reports whether the book satisfies every pair of the request:
// for each (field, value) there must be an occurrence of field in the
// rendered record followed by value before the next ';'. The rendered
// record includes the loan pair when the loan is live.
func (b *Book) Matches(pairs []Pair, now time.Time) bool {
	record := normalize.Canonical(b.Render(now))

	for _, p := range pairs {
		if !matchPair(record, p) {
			return false
		}
	}
	return true
}

// matchPair scans every occurrence of p.Field in record, looking for one
// that has p.Value between it and the following ';'.
func matchPair(record string, p Pair) bool {
	for pos := 0; ; pos++ {
		i := strings.Index(record[pos:], p.Field)
		if i < 0 {
			return false
		}
		pos += i

		rest := record[pos:]
		vi := strings.Index(rest, p.Value)
		semi := strings.IndexByte(rest, ';')
		if vi >= 0 && semi >= 0 && vi < semi {
			return true
		}
	}
}
