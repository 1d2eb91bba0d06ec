package text

import (
	"strings"
	"unicode"
)

// Normalize lowercases text, deletes every rune that is neither a word rune
// nor whitespace, drops English stopwords and rejoins the surviving tokens
// with single spaces. Punctuation is removed without leaving a separator, so
// "don't" becomes "dont".
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	lower := strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch {
		case isWordRune(r):
			b.WriteRune(r)
		case isSpace(r):
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	kept := fields[:0]
	for _, f := range fields {
		if !IsStopword(f) {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

// NormalizeAll normalizes every document, preserving order.
func NormalizeAll(docs []string) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = Normalize(d)
	}
	return out
}

// IsStopword reports whether token is in the English stopword set.
func IsStopword(token string) bool {
	return stopwords[token]
}

// isWordRune matches the \w class: letters, numbers of any kind and
// underscore.
func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// isSpace also counts the ASCII separators U+001C..U+001F as whitespace.
func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}
