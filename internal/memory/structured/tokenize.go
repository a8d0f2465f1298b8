package structured

import (
	"strings"
)

// tokenize lowercases text and splits on whitespace and on - _ . / ,
// matching the field tokenization used to build and query the index.
func tokenize(text string) []string {
	lowered := strings.ToLower(text)
	fields := strings.FieldsFunc(lowered, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', '-', '_', '.', '/':
			return true
		default:
			return false
		}
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
