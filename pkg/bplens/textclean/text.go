package textclean

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// apostrophe variants seen in scraped posts, including UTF-8 read as cp1252
var quoteReplacer = strings.NewReplacer(
	"â€™", "'",
	"’", "'",
	"‘", "'",
	"ʼ", "'",
)

// Fold applies NFKC normalization and lowercasing.
func Fold(s string) string {
	// Casers are stateful and not shared between goroutines.
	return cases.Lower(language.Und).String(norm.NFKC.String(s))
}

// ForExtractive prepares post HTML for phrase extraction: HTML stripped,
// lowercased, apostrophes unified and every rune that is not a letter,
// digit, underscore, apostrophe or whitespace removed.
func ForExtractive(s string) string {
	text := quoteReplacer.Replace(StripHTML(s))
	text = Fold(text)
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '\'' || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, text)
}

// JoinSentences joins non-empty parts with ". " so each part reads as its
// own sentence.
func JoinSentences(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ". ")
}
