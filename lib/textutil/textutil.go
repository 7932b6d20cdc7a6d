package textutil

import (
	"regexp"
	"strings"
)

var (
	punctRegex      = regexp.MustCompile(`[^\w\s]`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// Normalize lowercases text and strips everything that is neither a word
// character nor whitespace. Both search keywords and product titles go
// through this before any comparison.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = punctRegex.ReplaceAllString(text, "")
	return text
}

// Tokenize splits normalized text on runs of whitespace, dropping empty
// tokens.
func Tokenize(text string) []string {
	return strings.Fields(text)
}

// CollapseWhitespace replaces every run of whitespace with a single space
// and trims the ends.
func CollapseWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(text, " "))
}

// FilterKeywords drops keywords that are empty or pure whitespace,
// preserving the order of the rest. User input routinely contains blank
// spreadsheet cells.
func FilterKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if strings.TrimSpace(kw) == "" {
			continue
		}
		out = append(out, kw)
	}
	return out
}
