package suggest

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxSuggestions caps ranked candidates when no limit is configured.
const DefaultMaxSuggestions = 5

// Rank trims candidates, drops empty ones, removes duplicates by trimmed
// value and caps the list at max, keeping upstream order otherwise.
// The result is never nil.
func Rank(candidates []string, max int) []string {
	if max <= 0 {
		max = DefaultMaxSuggestions
	}
	out := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if len(out) >= max {
			break
		}
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

var (
	reSuggestion = regexp.MustCompile(`(?s)<suggestion[^>]*>(.*?)</suggestion>`)
	reListMarker = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+`)
)

// parseContinuations extracts continuations from model output. It accepts a
// JSON array of strings, <suggestion> tags, or one continuation per line.
func parseContinuations(output string) []string {
	output = stripFences(strings.TrimSpace(output))
	if output == "" {
		return nil
	}

	if list, ok := parseJSONList(output); ok {
		return cleanAll(list)
	}

	if matches := reSuggestion.FindAllStringSubmatch(output, -1); len(matches) > 0 {
		list := make([]string, 0, len(matches))
		for _, m := range matches {
			list = append(list, m[1])
		}
		return cleanAll(list)
	}

	var list []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "<") {
			continue
		}
		line = reListMarker.ReplaceAllString(line, "")
		list = append(list, line)
	}
	return cleanAll(list)
}

// parseJSONList decodes the first JSON array of strings found in s.
func parseJSONList(s string) ([]string, bool) {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end <= start {
		return nil, false
	}
	var list []string
	if err := json.Unmarshal([]byte(s[start:end+1]), &list); err != nil {
		return nil, false
	}
	return list, true
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:] // language tag
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func cleanAll(list []string) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		c = collapseSpaces(strings.Trim(strings.TrimSpace(c), "`\"'"))
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// collapseSpaces replaces runs of whitespace, including newlines, with one space.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// joinContinuation appends a continuation to the text before the cursor and
// re-attaches the text after it. A continuation that already repeats the
// typed text is treated as full text: when the repeat ends at a word
// boundary the typed text is kept and the rest appended, and when it runs on
// into the last typed word (cool, cooler shadows) the continuation replaces
// the typed text.
func joinContinuation(before, after, cont string) string {
	trimmed := strings.TrimSpace(before)
	if trimmed != "" && len(cont) >= len(trimmed) && strings.EqualFold(cont[:len(trimmed)], trimmed) {
		rest := cont[len(trimmed):]
		if rest != "" && !startsWithSpaceOrPunct(rest) {
			return attachAfter(cont, after)
		}
		cont = strings.TrimSpace(rest)
		if cont == "" {
			return ""
		}
	}

	var full string
	switch {
	case before == "":
		full = cont
	case endsWithSpace(before):
		full = before + cont
	case startsWithPunct(cont):
		full = before + cont
	default:
		full = before + " " + cont
	}
	return attachAfter(full, after)
}

// attachAfter appends the text that followed the cursor, separated by a
// space unless one side already provides it.
func attachAfter(full, after string) string {
	if after != "" {
		if !endsWithSpace(full) && !startsWithSpaceOrPunct(after) {
			full += " "
		}
		full += after
	}
	return strings.TrimSpace(full)
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return unicode.IsSpace(r)
}

func startsWithPunct(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return strings.ContainsRune(",.;:!?)", r)
}

func startsWithSpaceOrPunct(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsSpace(r) || startsWithPunct(s)
}
