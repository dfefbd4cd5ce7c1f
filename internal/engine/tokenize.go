package engine

import (
	"strings"
	"unicode"
)

// stopWords are dropped before keyword signals are built.
var stopWords = map[string]struct{}{
	"a": {}, "about": {}, "all": {}, "also": {}, "am": {}, "an": {}, "and": {},
	"any": {}, "are": {}, "as": {}, "at": {}, "be": {}, "been": {}, "but": {},
	"by": {}, "can": {}, "could": {}, "did": {}, "do": {}, "does": {}, "doing": {},
	"for": {}, "from": {}, "get": {}, "got": {}, "had": {}, "has": {}, "have": {},
	"how": {}, "i": {}, "if": {}, "in": {}, "into": {}, "is": {}, "it": {},
	"its": {}, "just": {}, "me": {}, "my": {}, "no": {}, "not": {}, "of": {},
	"on": {}, "or": {}, "our": {}, "should": {}, "so": {}, "some": {}, "than": {},
	"that": {}, "the": {}, "their": {}, "them": {}, "then": {}, "there": {},
	"these": {}, "they": {}, "this": {}, "those": {}, "to": {}, "too": {},
	"up": {}, "us": {}, "use": {}, "using": {}, "very": {}, "was": {}, "we": {},
	"were": {}, "what": {}, "when": {}, "where": {}, "which": {}, "while": {},
	"who": {}, "why": {}, "will": {}, "with": {}, "would": {}, "you": {},
	"your": {},
}

// isStopWord reports whether the lowercased word is in the stop-word set.
func isStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// tokenize lowercases text and returns its stemmed, non-stop-word tokens in
// order of appearance. Duplicates are kept.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || isStopWord(f) {
			continue
		}
		out = append(out, stem(f))
	}
	return out
}

// stem strips a plural suffix so "threads" and "thread" meet.
func stem(w string) string {
	if len(w) <= 3 {
		return w
	}
	switch {
	case strings.HasSuffix(w, "sses"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ss"), strings.HasSuffix(w, "us"), strings.HasSuffix(w, "is"):
		return w
	case strings.HasSuffix(w, "s"):
		return w[:len(w)-1]
	}
	return w
}

// normalizeKeyword reduces a rule keyword to the single token the extractor
// would produce for it. ok is false when the keyword is empty, a stop word,
// or splits into more than one token.
func normalizeKeyword(k string) (string, bool) {
	toks := tokenize(k)
	if len(toks) != 1 {
		return "", false
	}
	return toks[0], true
}

// normalizeSettingKey is the canonical form of a settings key.
func normalizeSettingKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}
