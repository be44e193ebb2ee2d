package textclean

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

// Tokenizer splits prose into stemmed, stopword-filtered terms for
// corpus-wide term weighting.
type Tokenizer struct {
	stopwords map[string]struct{}
	ignore    map[string]struct{}
	stem      bool
}

// NewTokenizer creates a tokenizer that drops the given stopwords.
// Stemming is on by default.
func NewTokenizer(stopwords []string) *Tokenizer {
	stops := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		stops[strings.ToLower(w)] = struct{}{}
	}
	return &Tokenizer{stopwords: stops, ignore: map[string]struct{}{}, stem: true}
}

// SetStemming turns suffix stripping on or off.
func (t *Tokenizer) SetStemming(on bool) {
	t.stem = on
}

// Tokenize splits text into lowercase letter-only words, removes stopwords
// and the extra ignore words, and stems what is left. Digits and
// punctuation act as separators.
func (t *Tokenizer) Tokenize(text string, ignore ...string) []string {
	extra := make(map[string]struct{}, 2*len(ignore))
	for _, w := range ignore {
		addForms(extra, w)
	}

	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		if word := t.processToken(current.String(), extra); word != "" {
			tokens = append(tokens, word)
		}
		current.Reset()
	}

	for _, r := range quoteReplacer.Replace(text) {
		if unicode.IsLetter(r) || r == '\'' {
			current.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

// Document returns the tokens of the stripped HTML joined by spaces.
func (t *Tokenizer) Document(htmlText string, ignore ...string) string {
	return strings.Join(t.Tokenize(StripHTML(htmlText), ignore...), " ")
}

func (t *Tokenizer) processToken(token string, extra map[string]struct{}) string {
	word := strings.Trim(token, "'")
	if i := strings.Index(word, "'"); i >= 0 {
		word = word[:i]
	}
	if len(word) <= 1 {
		return ""
	}
	if t.isStopword(word, extra) {
		return ""
	}
	if t.stem {
		word = english.Stem(word, false)
		if t.isStopword(word, extra) {
			return ""
		}
	}
	return word
}

func (t *Tokenizer) isStopword(word string, extra map[string]struct{}) bool {
	if _, ok := t.stopwords[word]; ok {
		return true
	}
	if _, ok := t.ignore[word]; ok {
		return true
	}
	_, ok := extra[word]
	return ok
}

// Ignore adds words that are dropped from every document, such as terms
// generic to the whole forum.
func (t *Tokenizer) Ignore(words ...string) {
	for _, w := range words {
		addForms(t.ignore, w)
	}
}

// addForms adds a word and its stem, so inflections of an ignored word are
// ignored as well.
func addForms(set map[string]struct{}, word string) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return
	}
	set[word] = struct{}{}
	set[english.Stem(word, false)] = struct{}{}
}
