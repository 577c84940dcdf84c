package engine

import (
	"strings"
	"unicode"
)

// Keywords returns up to max distinct lowercase words from text in order of
// first appearance, skipping stop words and words shorter than three runes.
// max <= 0 means no limit.
func Keywords(text string, max int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range tokenize(text) {
		if seen[w] || stopWords[w] || len([]rune(w)) < 3 {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// tokenize splits text into lowercase letter/digit runs.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
			continue
		}
		if current.Len() > 1 { // skip single-char tokens
			tokens = append(tokens, current.String())
		}
		current.Reset()
	}
	if current.Len() > 1 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

var stopWords = map[string]bool{
	"the": true, "be": true, "to": true, "of": true, "and": true,
	"a": true, "in": true, "that": true, "have": true, "i": true,
	"it": true, "for": true, "not": true, "on": true, "with": true,
	"he": true, "as": true, "you": true, "do": true, "at": true,
	"this": true, "but": true, "his": true, "by": true, "from": true,
	"they": true, "we": true, "say": true, "her": true, "she": true,
	"or": true, "an": true, "will": true, "my": true, "one": true,
	"all": true, "would": true, "there": true, "their": true, "what": true,
	"so": true, "up": true, "out": true, "if": true, "about": true,
	"who": true, "get": true, "which": true, "go": true, "me": true,
	"when": true, "make": true, "can": true, "like": true, "time": true,
	"no": true, "just": true, "him": true, "know": true, "take": true,
	"into": true, "your": true, "some": true, "could": true, "them": true,
	"see": true, "other": true, "than": true, "then": true, "now": true,
	"only": true, "its": true, "over": true, "also": true, "after": true,
	"how": true, "our": true, "well": true, "way": true, "even": true,
	"want": true, "because": true, "any": true, "these": true, "most": true,
	"us": true, "is": true, "was": true, "are": true, "been": true,
	"has": true, "had": true, "were": true, "said": true, "did": true,
	"may": true, "am": true, "should": true, "too": true, "very": true,
	"does": true, "here": true, "where": true, "why": true, "yes": true,
}
