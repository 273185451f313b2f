package domain

import (
	"strings"

	"github.com/bibliofed/bibliofed/internal/normalize"
)

// Pair is one canonical field/value unit extracted from a book description
// or a request, split on ':' and terminated by ';'.
type Pair struct {
	Field string
	Value string
}

// ExtractPairs walks s and returns every field:value; pair in canonical
// form. Text after the last terminated pair is ignored.
func ExtractPairs(s string) []Pair {
	var pairs []Pair
	rest := s
	for {
		colon := strings.IndexByte(rest, ':')
		if colon < 0 {
			return pairs
		}
		field := rest[:colon]
		rest = rest[colon+1:]

		semi := strings.IndexByte(rest, ';')
		if semi < 0 {
			return pairs
		}
		value := rest[:semi]
		rest = rest[semi+1:]

		pairs = append(pairs, Pair{
			Field: normalize.Canonical(field),
			Value: normalize.Canonical(value),
		})
	}
}

// CheckFormat reports whether s is a well-formed pair sequence: at least
// one ':' with a ';' after it, and no trailing ':' left without its ';'.
func CheckFormat(s string) bool {
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return false
	}
	rest := s[colon:]
	semi := strings.IndexByte(rest, ';')
	if semi < 0 {
		return false
	}
	rest = rest[semi:]

	for {
		colon = strings.IndexByte(rest, ':')
		if colon < 0 {
			return true
		}
		rest = rest[colon:]
		semi = strings.IndexByte(rest, ';')
		if semi < 0 {
			return false
		}
		rest = rest[semi:]
	}
}
