package search

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/poiesic/qarchive/core"
)

const minTokenLength = 2

// Stop words dropped from both documents and queries.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "can": {}, "do": {}, "each": {},
	"for": {}, "from": {}, "had": {}, "has": {}, "have": {}, "he": {},
	"if": {}, "in": {}, "is": {}, "it": {}, "its": {}, "no": {},
	"not": {}, "of": {}, "on": {}, "or": {}, "so": {}, "that": {},
	"the": {}, "their": {}, "they": {}, "this": {}, "to": {}, "was": {},
	"were": {}, "what": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"will": {}, "with": {}, "you": {},
}

func isStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

// tokenize lowercases text, splits it on anything that is not a letter or
// digit, and drops short tokens and stop words.
func tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := words[:0]
	for _, word := range words {
		if utf8.RuneCountInString(word) < minTokenLength || isStopWord(word) {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// wholeTerm returns word as a single unsplit token when it carries more than
// its tokenized form does, as in "c++" or "ruby-on-rails".
func wholeTerm(word string) (string, bool) {
	word = strings.ToLower(strings.TrimSpace(word))
	if utf8.RuneCountInString(word) < minTokenLength || isStopWord(word) {
		return "", false
	}
	if parts := tokenize(word); len(parts) == 1 && parts[0] == word {
		return "", false
	}
	return word, true
}

// tagTerms returns the tokens a tag contributes: its tokenized form plus the
// whole tag when that differs.
func tagTerms(tag string) []string {
	terms := tokenize(tag)
	if whole, ok := wholeTerm(tag); ok {
		terms = append(terms, whole)
	}
	return terms
}

// queryTerms returns the distinct terms of a query in order of first
// appearance. Whitespace-separated words also match whole tags.
func queryTerms(query string) []string {
	var terms []string
	seen := make(map[string]struct{})
	add := func(term string) {
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}

	for _, word := range strings.Fields(query) {
		for _, token := range tokenize(word) {
			add(token)
		}
		if whole, ok := wholeTerm(strings.Trim(word, ".,!?;:'\"()[]{}")); ok {
			add(whole)
		}
	}
	return terms
}

// termFrequencies counts the tokens a record contributes to its question's
// document.
func termFrequencies(record core.Record) map[string]int {
	freqs := make(map[string]int)
	count := func(tokens []string) {
		for _, token := range tokens {
			freqs[token]++
		}
	}

	switch r := record.(type) {
	case *core.Question:
		count(tokenize(r.Title))
		count(tokenize(r.Body))
		tags := slices.Clone(r.Tags)
		for i := range tags {
			tags[i] = strings.ToLower(strings.TrimSpace(tags[i]))
		}
		slices.Sort(tags)
		for _, tag := range slices.Compact(tags) {
			count(tagTerms(tag))
		}
	case *core.Answer:
		count(tokenize(r.Body))
	}
	return freqs
}
