package search

import (
	"strings"
	"unicode/utf8"
)

// NGramRange selects which term shapes the analyzer emits.
type NGramRange int

const (
	// Unigram emits single tokens.
	Unigram NGramRange = iota + 1
	// UnigramBigram emits single tokens plus adjacent token pairs.
	UnigramBigram
)

func (n NGramRange) String() string {
	switch n {
	case Unigram:
		return "(1,1)"
	case UnigramBigram:
		return "(1,2)"
	}
	return "invalid"
}

// Tokenize splits normalized text into tokens, skipping single-rune tokens.
func Tokenize(text string) []string {
	fields := strings.Fields(text)
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// Analyze turns normalized text into the terms counted by the vectorizer.
// Bigrams are space-joined neighbours from the token list.
func Analyze(text string, ngram NGramRange) []string {
	tokens := Tokenize(text)
	if ngram != UnigramBigram || len(tokens) < 2 {
		return tokens
	}
	terms := make([]string, 0, 2*len(tokens)-1)
	terms = append(terms, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		terms = append(terms, tokens[i]+" "+tokens[i+1])
	}
	return terms
}
