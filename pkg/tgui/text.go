package tgui

import "unicode/utf8"

const ellipsis = "…"

// TruncRunes keeps the first n runes of s and marks a cut with an ellipsis.
func TruncRunes(s string, n int) string {
	switch {
	case n <= 0:
		return ""
	case utf8.RuneCountInString(s) <= n:
		return s
	}
	end := 0
	for ; n > 0; n-- {
		_, size := utf8.DecodeRuneInString(s[end:])
		end += size
	}
	return s[:end] + ellipsis
}
