// Package normalize canonicalizes company names into registry lookup keys.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// legalSuffixes are stripped when they appear as whole words, case-insensitively.
var legalSuffixes = map[string]struct{}{
	"co":      {},
	"ltd":     {},
	"corp":    {},
	"llc":     {},
	"company": {},
	"inc":     {},
}

// maxPasses bounds the fixed-point loop; two passes settle every real input.
const maxPasses = 8

// Name returns the lookup key for a raw company name:
//  1. NFKC-folds compatibility characters
//  2. Drops whole-word legal suffixes (Co, Ltd, Corp, LLC, Company, Inc)
//  3. Removes every character that is neither a word character nor whitespace
//  4. Collapses whitespace runs and trims
//
// The steps repeat until the output stops changing, so Name is idempotent.
// An empty result means the name cannot be looked up.
func Name(raw string) string {
	s := raw
	for i := 0; i < maxPasses; i++ {
		next := pass(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func pass(s string) string {
	s = norm.NFKC.String(s)
	s = stripSuffixes(s)
	s = stripPunctuation(s)
	return strings.Join(strings.Fields(s), " ")
}

// stripSuffixes removes word runs that match a legal suffix. A word run is a
// maximal sequence of word characters, so "Acme-Co" and "Acme Co." both lose "Co".
func stripSuffixes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	runes := []rune(s)
	for i := 0; i < len(runes); {
		if !isWord(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}
		j := i
		for j < len(runes) && isWord(runes[j]) {
			j++
		}
		word := string(runes[i:j])
		if _, ok := legalSuffixes[strings.ToLower(word)]; !ok {
			b.WriteString(word)
		}
		i = j
	}
	return b.String()
}

func stripPunctuation(s string) string {
	return strings.Map(func(r rune) rune {
		if isWord(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.M, r)
}
