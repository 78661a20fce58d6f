package verify

import (
	"regexp"
	"strings"
)

var (
	blockComments = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComments  = regexp.MustCompile(`(//|#).*`)
	whitespace    = regexp.MustCompile(`\s+`)
	punctSpacing  = regexp.MustCompile(`\s*([(){}\[\];,.=<>+\-*/%!&|:?])\s*`)
)

// Normalize reduces source text to a comparison form: comments stripped,
// whitespace runs collapsed, whitespace around structural punctuation dropped,
// everything lowercased. Two snippets that differ only in comments, spacing and
// letter case normalize to the same string.
//
// Comment stripping is lexical, not parsed; a comment marker inside a string
// literal will be treated as a comment. That matches how the answers are
// authored and keeps the comparison language-agnostic.
func Normalize(src string) string {
	s := blockComments.ReplaceAllString(src, " ")
	s = lineComments.ReplaceAllString(s, " ")
	s = strings.ToLower(s)
	s = whitespace.ReplaceAllString(s, " ")
	s = punctSpacing.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}
