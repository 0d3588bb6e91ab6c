// Package textnorm folds free-form chat text into a comparable form.
// This is part of the platform layer and contains no business logic.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips diacritics ("São Paulo" -> "sao paulo").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// Key folds s and trims surrounding space, for equality comparisons.
func Key(s string) string {
	return strings.TrimSpace(Fold(s))
}

// isInvisible covers zero-width characters that chat clients inject.
func isInvisible(r rune) bool {
	return (r >= '\u200b' && r <= '\u200d') || r == '\ufeff'
}

// Loose lowercases s, drops invisible and punctuation characters and
// collapses whitespace. Letters keep their accents.
func Loose(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case isInvisible(r):
			continue
		case unicode.IsSpace(r):
			space = true
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
