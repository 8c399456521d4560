package refine

import (
	"strings"
	"unicode"
)

// Truncate shortens text to at most max runes, cutting at the last word
// boundary that fits. A single word longer than max is cut hard. No ellipsis
// is added. The second result reports whether text was shortened.
func Truncate(text string, max int) (string, bool) {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text, false
	}

	cut := runes[:max]
	if !unicode.IsSpace(runes[max]) {
		// Back off to the last whitespace so no word is split.
		i := len(cut) - 1
		for i > 0 && !unicode.IsSpace(cut[i]) {
			i--
		}
		if i > 0 {
			cut = cut[:i]
		}
	}
	return strings.TrimRightFunc(string(cut), unicode.IsSpace), true
}
