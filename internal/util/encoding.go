package util

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName trims surrounding whitespace and converts s to Unicode NFC,
// so canonically equivalent spellings of a name compare equal byte-for-byte.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// CharCount returns the number of Unicode code points in s.
func CharCount(s string) int {
	return utf8.RuneCountInString(s)
}
