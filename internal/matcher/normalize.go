package matcher

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Government facility names are noisy: abbreviations, subsidiaries,
// punctuation. Both sides of a comparison go through the same
// normalization so "Tesla, Inc." and "TESLA INC" produce the same tokens.

var entitySuffixes = regexp.MustCompile(
	`(?i)\s*,?\s*\b(LLC|L\.?L\.?C\.?|INC\.?|INCORPORATED|CORP\.?|CORPORATION|` +
		`CO\.?|COMPANY|LTD\.?|LIMITED|L\.?P\.?|LLP|L\.?L\.?P\.?|` +
		`PLC|GMBH|S\.?A\.?|HOLDINGS?|GROUP)\b\.?\s*$`)

var punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

var multiSpace = regexp.MustCompile(`\s{2,}`)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize uppercases, folds diacritics, strips punctuation and common
// corporate suffixes, and collapses whitespace.
func Normalize(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	if folded, _, err := transform.String(stripMarks, n); err == nil {
		n = folded
	}
	// Strip suffixes repeatedly: "ACME HOLDINGS LLC" sheds both.
	for {
		stripped := entitySuffixes.ReplaceAllString(n, "")
		if stripped == n {
			break
		}
		n = stripped
	}
	n = punctuation.ReplaceAllString(n, " ")
	n = multiSpace.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}

// Tokens returns the normalized name's unique tokens.
func Tokens(name string) map[string]struct{} {
	fields := strings.Fields(Normalize(name))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
