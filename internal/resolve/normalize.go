package resolve

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize maps a raw district or state name onto its comparison form:
// diacritics stripped, case folded, apostrophes and periods dropped, other
// punctuation turned into spaces, and whitespace collapsed.
//
//	"  Pune "            -> "pune"
//	"Ahmadnagar."        -> "ahmadnagar"
//	"Bengaluru-Urban"    -> "bengaluru urban"
//	"Belagavi (Belgaum)" -> "belagavi belgaum"
func Normalize(s string) string {
	// transform.Chain keeps per-call state, so it is never shared.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		switch {
		case r == '\'' || r == '’' || r == '.' || r == '`':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
